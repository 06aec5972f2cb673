package models

import (
	"time"

	"github.com/google/uuid"
)

// Session tracks an access/refresh token pair for a (user, org) pair.
// A session is active while ExpiresAt is in the future.
type Session struct {
	ID           int64     `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	OrgID        uuid.UUID `json:"org_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsActive returns true if the session has not expired as of now.
func (s *Session) IsActive() bool {
	return s.ExpiresAt.After(time.Now())
}

// Setting is a single user-preference key-value pair.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
