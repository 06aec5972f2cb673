package models

import (
	"time"

	"github.com/google/uuid"
)

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusMitigated     IncidentStatus = "mitigated"
	IncidentStatusClosed        IncidentStatus = "closed"
	// IncidentStatusUnknown is the bucket for unrecognized values.
	IncidentStatusUnknown IncidentStatus = "unknown"
)

// ParseIncidentStatus maps a raw status string onto the closed status set.
func ParseIncidentStatus(s string) IncidentStatus {
	switch IncidentStatus(s) {
	case IncidentStatusOpen, IncidentStatusInvestigating, IncidentStatusMitigated, IncidentStatusClosed:
		return IncidentStatus(s)
	default:
		return IncidentStatusUnknown
	}
}

// IsActive returns true if the incident still needs attention.
func (s IncidentStatus) IsActive() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusInvestigating, IncidentStatusMitigated:
		return true
	default:
		return false
	}
}

// ActiveIncidentStatuses lists the states considered active, in lifecycle order.
func ActiveIncidentStatuses() []IncidentStatus {
	return []IncidentStatus{IncidentStatusOpen, IncidentStatusInvestigating, IncidentStatusMitigated}
}

// Incident represents a tracked security or operational incident.
type Incident struct {
	ID                uuid.UUID      `json:"id"`
	OrgID             uuid.UUID      `json:"org_id"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	Severity          Severity       `json:"severity"`
	Status            IncidentStatus `json:"status"`
	AssignedTo        *uuid.UUID     `json:"assigned_to,omitempty"`
	SourceEventIDs    []uuid.UUID    `json:"source_event_ids,omitempty"`
	AffectedDeviceIDs []uuid.UUID    `json:"affected_device_ids,omitempty"`
	ResolutionNotes   string         `json:"resolution_notes,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewIncident creates a new open Incident.
func NewIncident(orgID uuid.UUID, title string, severity Severity) *Incident {
	now := time.Now()
	return &Incident{
		ID:        uuid.New(),
		OrgID:     orgID,
		Title:     title,
		Severity:  severity,
		Status:    IncidentStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CachedIncident is the locally cached copy of an Incident.
type CachedIncident struct {
	Incident
	LastSyncedAt time.Time `json:"last_synced_at"`
}
