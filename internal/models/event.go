package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity represents the ordered severity of an event or incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	// SeverityUnknown is the bucket for unrecognized values.
	SeverityUnknown Severity = "unknown"
)

// ParseSeverity maps a raw severity string onto the closed severity set.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	default:
		return SeverityUnknown
	}
}

// Rank returns the ordering of a severity, higher is more severe.
// Unknown ranks below low so it never outranks a recognized severity.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Event represents a single append-only telemetry event.
// Events are time-windowed for sync; the default pull window is the last 7 days.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	OrgID     uuid.UUID       `json:"org_id"`
	DeviceID  *uuid.UUID      `json:"device_id,omitempty"`
	EventType string          `json:"event_type"`
	Severity  Severity        `json:"severity"`
	Source    string          `json:"source"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent creates a new Event for the given organization.
func NewEvent(orgID uuid.UUID, eventType string, severity Severity, source, message string) *Event {
	return &Event{
		ID:        uuid.New(),
		OrgID:     orgID,
		EventType: eventType,
		Severity:  severity,
		Source:    source,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// WithDevice associates the event with a device.
func (e *Event) WithDevice(deviceID uuid.UUID) *Event {
	e.DeviceID = &deviceID
	return e
}

// CachedEvent is the locally cached copy of an Event.
type CachedEvent struct {
	Event
	LastSyncedAt time.Time `json:"last_synced_at"`
}
