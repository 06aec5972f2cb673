package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeviceStatus represents the last known connectivity state of a device.
type DeviceStatus string

const (
	// DeviceStatusOnline indicates the device checked in recently.
	DeviceStatusOnline DeviceStatus = "online"
	// DeviceStatusOffline indicates the device has stopped checking in.
	DeviceStatusOffline DeviceStatus = "offline"
	// DeviceStatusUnknown is the bucket for unrecognized or missing states.
	DeviceStatusUnknown DeviceStatus = "unknown"
)

// ParseDeviceStatus maps a raw status string onto the closed status set.
// Unrecognized values land in DeviceStatusUnknown rather than being coerced.
func ParseDeviceStatus(s string) DeviceStatus {
	switch DeviceStatus(s) {
	case DeviceStatusOnline, DeviceStatusOffline:
		return DeviceStatus(s)
	default:
		return DeviceStatusUnknown
	}
}

// Device represents a managed endpoint belonging to an organization.
type Device struct {
	ID         uuid.UUID       `json:"id"`
	OrgID      uuid.UUID       `json:"org_id"`
	Name       string          `json:"name"`
	DeviceType string          `json:"device_type"`
	OS         string          `json:"os"`
	IPAddress  string          `json:"ip_address,omitempty"`
	MACAddress string          `json:"mac_address,omitempty"`
	Location   json.RawMessage `json:"location,omitempty"`
	Status     DeviceStatus    `json:"status"`
	LastSeenAt *time.Time      `json:"last_seen_at,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewDevice creates a new Device for the given organization.
func NewDevice(orgID uuid.UUID, name, deviceType, os string) *Device {
	now := time.Now()
	return &Device{
		ID:         uuid.New(),
		OrgID:      orgID,
		Name:       name,
		DeviceType: deviceType,
		OS:         os,
		Status:     DeviceStatusUnknown,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CachedDevice is the locally cached copy of a Device.
type CachedDevice struct {
	Device
	LastSyncedAt time.Time `json:"last_synced_at"`
}
