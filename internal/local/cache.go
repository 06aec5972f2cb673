package local

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odin-security/odin-sync/internal/models"
)

// CacheOrganization upserts a cached organization row, stamping last_synced_at.
func (s *Store) CacheOrganization(org *models.Organization) error {
	_, err := s.db.Exec(`
		INSERT INTO cached_organizations (id, name, slug, plan, settings, created_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			plan = excluded.plan,
			settings = excluded.settings,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at
	`, org.ID.String(), org.Name, org.Slug, string(org.Plan), rawJSON(org.Settings),
		formatTime(org.CreatedAt), formatTime(org.UpdatedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("cache organization: %w", err)
	}
	return nil
}

// GetCachedOrganization returns a cached organization by id, or nil if absent.
func (s *Store) GetCachedOrganization(id uuid.UUID) (*models.CachedOrganization, error) {
	row := s.db.QueryRow(`
		SELECT id, name, slug, plan, settings, created_at, updated_at, last_synced_at
		FROM cached_organizations
		WHERE id = ?
	`, id.String())

	var (
		idStr, name, slug, plan, createdAt, updatedAt, syncedAt string
		settings                                                sql.NullString
	)
	if err := row.Scan(&idStr, &name, &slug, &plan, &settings, &createdAt, &updatedAt, &syncedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached organization: %w", err)
	}

	org := &models.CachedOrganization{}
	var err error
	if org.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse organization id: %w", err)
	}
	org.Name = name
	org.Slug = slug
	org.Plan = models.Plan(plan)
	org.Settings = rawFromNull(settings)
	if org.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if org.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if org.LastSyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, err
	}
	return org, nil
}

// CacheUser upserts a cached user row, stamping last_synced_at.
func (s *Store) CacheUser(user *models.User) error {
	_, err := s.db.Exec(`
		INSERT INTO cached_users (id, org_id, email, first_name, last_name, role, permissions, created_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			role = excluded.role,
			permissions = excluded.permissions,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at
	`, user.ID.String(), user.OrgID.String(), user.Email, user.FirstName, user.LastName,
		string(user.Role), rawJSON(user.Permissions),
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("cache user: %w", err)
	}
	return nil
}

// GetCachedUsersByOrg returns cached users for an organization, most recently
// synced first.
func (s *Store) GetCachedUsersByOrg(orgID uuid.UUID) ([]*models.CachedUser, error) {
	rows, err := s.db.Query(`
		SELECT id, org_id, email, first_name, last_name, role, permissions, created_at, updated_at, last_synced_at
		FROM cached_users
		WHERE org_id = ?
		ORDER BY last_synced_at DESC
	`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("get cached users: %w", err)
	}
	defer rows.Close()

	var users []*models.CachedUser
	for rows.Next() {
		var (
			idStr, orgStr, email, firstName, lastName, role, createdAt, updatedAt, syncedAt string
			permissions                                                                    sql.NullString
		)
		if err := rows.Scan(&idStr, &orgStr, &email, &firstName, &lastName, &role,
			&permissions, &createdAt, &updatedAt, &syncedAt); err != nil {
			return nil, fmt.Errorf("scan cached user: %w", err)
		}

		u := &models.CachedUser{}
		if u.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse user id: %w", err)
		}
		if u.OrgID, err = uuid.Parse(orgStr); err != nil {
			return nil, fmt.Errorf("parse user org id: %w", err)
		}
		u.Email = email
		u.FirstName = firstName
		u.LastName = lastName
		u.Role = models.UserRole(role)
		u.Permissions = rawFromNull(permissions)
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if u.LastSyncedAt, err = parseTime(syncedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached users: %w", err)
	}
	return users, nil
}

// CacheDevice upserts a cached device row, stamping last_synced_at.
func (s *Store) CacheDevice(device *models.Device) error {
	_, err := s.db.Exec(`
		INSERT INTO cached_devices (id, org_id, name, device_type, os, ip_address, mac_address,
		                            location, status, last_seen_at, metadata, created_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			name = excluded.name,
			device_type = excluded.device_type,
			os = excluded.os,
			ip_address = excluded.ip_address,
			mac_address = excluded.mac_address,
			location = excluded.location,
			status = excluded.status,
			last_seen_at = excluded.last_seen_at,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at
	`, device.ID.String(), device.OrgID.String(), device.Name, device.DeviceType, device.OS,
		nullString(device.IPAddress), nullString(device.MACAddress), rawJSON(device.Location),
		string(device.Status), nullTime(device.LastSeenAt), rawJSON(device.Metadata),
		formatTime(device.CreatedAt), formatTime(device.UpdatedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("cache device: %w", err)
	}
	return nil
}

// GetCachedDevicesByOrg returns up to limit cached devices for an
// organization ordered by last check-in.
func (s *Store) GetCachedDevicesByOrg(orgID uuid.UUID, limit int) ([]*models.CachedDevice, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, org_id, name, device_type, os, ip_address, mac_address,
		       location, status, last_seen_at, metadata, created_at, updated_at, last_synced_at
		FROM cached_devices
		WHERE org_id = ?
		ORDER BY last_seen_at DESC
		LIMIT ?
	`, orgID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("get cached devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.CachedDevice
	for rows.Next() {
		d, err := scanCachedDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached devices: %w", err)
	}
	return devices, nil
}

// scanCachedDevice scans one cached device row.
func scanCachedDevice(rows *sql.Rows) (*models.CachedDevice, error) {
	var (
		idStr, orgStr, name, deviceType, osName, status, createdAt, updatedAt, syncedAt string
		ipAddr, macAddr, location, lastSeenAt, metadata                                 sql.NullString
	)
	if err := rows.Scan(&idStr, &orgStr, &name, &deviceType, &osName, &ipAddr, &macAddr,
		&location, &status, &lastSeenAt, &metadata, &createdAt, &updatedAt, &syncedAt); err != nil {
		return nil, fmt.Errorf("scan cached device: %w", err)
	}

	d := &models.CachedDevice{}
	var err error
	if d.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse device id: %w", err)
	}
	if d.OrgID, err = uuid.Parse(orgStr); err != nil {
		return nil, fmt.Errorf("parse device org id: %w", err)
	}
	d.Name = name
	d.DeviceType = deviceType
	d.OS = osName
	d.IPAddress = ipAddr.String
	d.MACAddress = macAddr.String
	d.Location = rawFromNull(location)
	d.Status = models.ParseDeviceStatus(status)
	if d.LastSeenAt, err = parseNullTime(lastSeenAt); err != nil {
		return nil, err
	}
	d.Metadata = rawFromNull(metadata)
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if d.LastSyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, err
	}
	return d, nil
}

// CacheEvent upserts a cached event row, stamping last_synced_at.
func (s *Store) CacheEvent(event *models.Event) error {
	tags, err := encodeTags(event.Tags)
	if err != nil {
		return err
	}

	var deviceID sql.NullString
	if event.DeviceID != nil {
		deviceID = sql.NullString{String: event.DeviceID.String(), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO cached_events (id, org_id, device_id, event_type, severity, source, message, data, tags, created_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			device_id = excluded.device_id,
			event_type = excluded.event_type,
			severity = excluded.severity,
			source = excluded.source,
			message = excluded.message,
			data = excluded.data,
			tags = excluded.tags,
			created_at = excluded.created_at,
			last_synced_at = excluded.last_synced_at
	`, event.ID.String(), event.OrgID.String(), deviceID, event.EventType, string(event.Severity),
		event.Source, event.Message, rawJSON(event.Data), tags,
		formatTime(event.CreatedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("cache event: %w", err)
	}
	return nil
}

// GetRecentEvents returns cached events for an organization within the given
// day window, newest first.
func (s *Store) GetRecentEvents(orgID uuid.UUID, days, limit int) ([]*models.CachedEvent, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 1000
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	rows, err := s.db.Query(`
		SELECT id, org_id, device_id, event_type, severity, source, message, data, tags, created_at, last_synced_at
		FROM cached_events
		WHERE org_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`, orgID.String(), formatTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("get recent events: %w", err)
	}
	defer rows.Close()

	var events []*models.CachedEvent
	for rows.Next() {
		var (
			idStr, orgStr, eventType, severity, source, message, createdAt, syncedAt string
			deviceID, data, tags                                                    sql.NullString
		)
		if err := rows.Scan(&idStr, &orgStr, &deviceID, &eventType, &severity, &source,
			&message, &data, &tags, &createdAt, &syncedAt); err != nil {
			return nil, fmt.Errorf("scan cached event: %w", err)
		}

		e := &models.CachedEvent{}
		if e.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		if e.OrgID, err = uuid.Parse(orgStr); err != nil {
			return nil, fmt.Errorf("parse event org id: %w", err)
		}
		if deviceID.Valid {
			id, err := uuid.Parse(deviceID.String)
			if err != nil {
				return nil, fmt.Errorf("parse event device id: %w", err)
			}
			e.DeviceID = &id
		}
		e.EventType = eventType
		e.Severity = models.ParseSeverity(severity)
		e.Source = source
		e.Message = message
		e.Data = rawFromNull(data)
		if e.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if e.LastSyncedAt, err = parseTime(syncedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached events: %w", err)
	}
	return events, nil
}

// CacheIncident upserts a cached incident row, stamping last_synced_at.
func (s *Store) CacheIncident(incident *models.Incident) error {
	sourceIDs, err := encodeUUIDs(incident.SourceEventIDs)
	if err != nil {
		return err
	}
	deviceIDs, err := encodeUUIDs(incident.AffectedDeviceIDs)
	if err != nil {
		return err
	}

	var assignedTo sql.NullString
	if incident.AssignedTo != nil {
		assignedTo = sql.NullString{String: incident.AssignedTo.String(), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO cached_incidents (id, org_id, title, description, severity, status, assigned_to,
		                              source_event_ids, affected_device_ids, resolution_notes,
		                              resolved_at, created_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			title = excluded.title,
			description = excluded.description,
			severity = excluded.severity,
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			source_event_ids = excluded.source_event_ids,
			affected_device_ids = excluded.affected_device_ids,
			resolution_notes = excluded.resolution_notes,
			resolved_at = excluded.resolved_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at
	`, incident.ID.String(), incident.OrgID.String(), incident.Title, incident.Description,
		string(incident.Severity), string(incident.Status), assignedTo, sourceIDs, deviceIDs,
		incident.ResolutionNotes, nullTime(incident.ResolvedAt),
		formatTime(incident.CreatedAt), formatTime(incident.UpdatedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("cache incident: %w", err)
	}
	return nil
}

// GetActiveIncidents returns cached incidents in an active status for an
// organization, ordered by severity rank then recency.
func (s *Store) GetActiveIncidents(orgID uuid.UUID) ([]*models.CachedIncident, error) {
	rows, err := s.db.Query(`
		SELECT id, org_id, title, description, severity, status, assigned_to,
		       source_event_ids, affected_device_ids, resolution_notes,
		       resolved_at, created_at, updated_at, last_synced_at
		FROM cached_incidents
		WHERE org_id = ? AND status IN ('open', 'investigating', 'mitigated')
		ORDER BY
			CASE severity
				WHEN 'critical' THEN 1
				WHEN 'high' THEN 2
				WHEN 'medium' THEN 3
				WHEN 'low' THEN 4
				ELSE 5
			END,
			created_at DESC
	`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("get active incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*models.CachedIncident
	for rows.Next() {
		var (
			idStr, orgStr, title, description, severity, status, resolutionNotes string
			createdAt, updatedAt, syncedAt                                       string
			assignedTo, sourceIDs, deviceIDs, resolvedAt                         sql.NullString
		)
		if err := rows.Scan(&idStr, &orgStr, &title, &description, &severity, &status,
			&assignedTo, &sourceIDs, &deviceIDs, &resolutionNotes,
			&resolvedAt, &createdAt, &updatedAt, &syncedAt); err != nil {
			return nil, fmt.Errorf("scan cached incident: %w", err)
		}

		in := &models.CachedIncident{}
		if in.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse incident id: %w", err)
		}
		if in.OrgID, err = uuid.Parse(orgStr); err != nil {
			return nil, fmt.Errorf("parse incident org id: %w", err)
		}
		in.Title = title
		in.Description = description
		in.Severity = models.ParseSeverity(severity)
		in.Status = models.ParseIncidentStatus(status)
		if assignedTo.Valid {
			id, err := uuid.Parse(assignedTo.String)
			if err != nil {
				return nil, fmt.Errorf("parse incident assignee: %w", err)
			}
			in.AssignedTo = &id
		}
		if in.SourceEventIDs, err = decodeUUIDs(sourceIDs); err != nil {
			return nil, err
		}
		if in.AffectedDeviceIDs, err = decodeUUIDs(deviceIDs); err != nil {
			return nil, err
		}
		in.ResolutionNotes = resolutionNotes
		if in.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
			return nil, err
		}
		if in.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if in.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if in.LastSyncedAt, err = parseTime(syncedAt); err != nil {
			return nil, err
		}
		incidents = append(incidents, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached incidents: %w", err)
	}
	return incidents, nil
}

// rawJSON converts an opaque JSON value to a NULL-able text column value.
func rawJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// rawFromNull converts a stored text column back to an opaque JSON value.
func rawFromNull(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

// encodeTags serializes a tag set for storage.
func encodeTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode tags: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeTags deserializes a stored tag set.
func decodeTags(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(ns.String), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

// encodeUUIDs serializes an id list for storage.
func encodeUUIDs(ids []uuid.UUID) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode id list: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeUUIDs deserializes a stored id list.
func decodeUUIDs(ns sql.NullString) ([]uuid.UUID, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal([]byte(ns.String), &ids); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}
	return ids, nil
}
