package cloud

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odin-security/odin-sync/internal/models"
)

// CreateDevice inserts a new device for an organization.
func (s *Store) CreateDevice(ctx context.Context, device *models.Device) error {
	err := s.withOrg(ctx, device.OrgID, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO devices (id, org_id, name, device_type, os, ip_address, mac_address,
			                     location, status, last_seen_at, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, '{}'::jsonb), $12, $13)
		`, device.ID, device.OrgID, device.Name, device.DeviceType, device.OS,
			nullIfEmpty(device.IPAddress), nullIfEmpty(device.MACAddress), device.Location,
			string(device.Status), device.LastSeenAt, device.Metadata, device.CreatedAt, device.UpdatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// GetDevicesByOrg returns devices for an organization ordered by last check-in.
func (s *Store) GetDevicesByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.Device, error) {
	if limit <= 0 {
		limit = 100
	}

	var devices []*models.Device
	err := s.withOrg(ctx, orgID, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, org_id, name, device_type, os, ip_address, mac_address,
			       location, status, last_seen_at, metadata, created_at, updated_at
			FROM devices
			WHERE org_id = $1 AND deleted_at IS NULL
			ORDER BY last_seen_at DESC NULLS LAST
			LIMIT $2 OFFSET $3
		`, orgID, limit, offset)
		if err != nil {
			return fmt.Errorf("get devices: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var d models.Device
			var ipAddr, macAddr *string
			var status string
			if err := rows.Scan(&d.ID, &d.OrgID, &d.Name, &d.DeviceType, &d.OS, &ipAddr, &macAddr,
				&d.Location, &status, &d.LastSeenAt, &d.Metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
				return fmt.Errorf("scan device: %w", err)
			}
			if ipAddr != nil {
				d.IPAddress = *ipAddr
			}
			if macAddr != nil {
				d.MACAddress = *macAddr
			}
			d.Status = models.ParseDeviceStatus(status)
			devices = append(devices, &d)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate devices: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// nullIfEmpty converts an empty string to a NULL-able pointer for insert params.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
