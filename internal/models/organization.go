// Package models defines the domain models for Odin Sync.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Plan represents an organization's subscription plan.
type Plan string

const (
	// PlanFree is the starter plan.
	PlanFree Plan = "free"
	// PlanTeam is the standard paid plan.
	PlanTeam Plan = "team"
	// PlanEnterprise is the contract plan.
	PlanEnterprise Plan = "enterprise"
)

// Organization represents a tenant. Every synced entity belongs to exactly one.
type Organization struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	Plan      Plan            `json:"plan"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewOrganization creates a new Organization with the given name and slug.
func NewOrganization(name, slug string) *Organization {
	now := time.Now()
	return &Organization{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		Plan:      PlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CachedOrganization is the locally cached copy of an Organization.
type CachedOrganization struct {
	Organization
	LastSyncedAt time.Time `json:"last_synced_at"`
}
