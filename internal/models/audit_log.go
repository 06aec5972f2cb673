package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action that was audited.
type AuditAction string

const (
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
	AuditActionDelete AuditAction = "delete"
	AuditActionLogin  AuditAction = "login"
	AuditActionLogout AuditAction = "logout"
	AuditActionSync   AuditAction = "sync"
)

// AuditLog represents a cloud-side audit log entry.
type AuditLog struct {
	ID           uuid.UUID       `json:"id"`
	OrgID        uuid.UUID       `json:"org_id"`
	UserID       *uuid.UUID      `json:"user_id,omitempty"`
	APIKeyID     *uuid.UUID      `json:"api_key_id,omitempty"`
	Action       AuditAction     `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	OldValues    json.RawMessage `json:"old_values,omitempty"`
	NewValues    json.RawMessage `json:"new_values,omitempty"`
	IPAddress    string          `json:"ip_address,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LocalAuditLog represents a locally recorded mutation awaiting upload.
// Entries are never deleted by the push cycle, only marked synced.
type LocalAuditLog struct {
	ID           int64           `json:"id"`
	Action       AuditAction     `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	OldValues    json.RawMessage `json:"old_values,omitempty"`
	NewValues    json.RawMessage `json:"new_values,omitempty"`
	Synced       bool            `json:"synced"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ActorContext carries the identity attached to replayed audit entries.
// The sync layer cannot reconstruct it; the embedding application must
// supply it explicitly. Empty fields are recorded as "unknown".
type ActorContext struct {
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	IPAddress string     `json:"ip_address,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
}

// IPAddressOrUnknown returns the IP address, or "unknown" when absent.
func (a ActorContext) IPAddressOrUnknown() string {
	if a.IPAddress == "" {
		return "unknown"
	}
	return a.IPAddress
}

// UserAgentOrUnknown returns the user agent, or "unknown" when absent.
func (a ActorContext) UserAgentOrUnknown() string {
	if a.UserAgent == "" {
		return "unknown"
	}
	return a.UserAgent
}
