package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UserRole represents a user's role within an organization.
type UserRole string

const (
	// UserRoleOwner has full control over the organization.
	UserRoleOwner UserRole = "owner"
	// UserRoleAdmin can manage users and devices.
	UserRoleAdmin UserRole = "admin"
	// UserRoleAnalyst can view and triage incidents.
	UserRoleAnalyst UserRole = "analyst"
	// UserRoleViewer has read-only access.
	UserRoleViewer UserRole = "viewer"
)

// User represents a member of an organization.
type User struct {
	ID          uuid.UUID       `json:"id"`
	OrgID       uuid.UUID       `json:"org_id"`
	Email       string          `json:"email"`
	FirstName   string          `json:"first_name"`
	LastName    string          `json:"last_name"`
	Role        UserRole        `json:"role"`
	Permissions json.RawMessage `json:"permissions,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// FullName returns the user's display name.
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Email
	}
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// CachedUser is the locally cached copy of a User.
type CachedUser struct {
	User
	LastSyncedAt time.Time `json:"last_synced_at"`
}
