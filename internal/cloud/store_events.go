package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odin-security/odin-sync/internal/models"
)

// EventFilter defines filters for querying events.
type EventFilter struct {
	DeviceID  *uuid.UUID
	EventType string
	Severity  models.Severity
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// CreateEvent inserts a new event for an organization.
func (s *Store) CreateEvent(ctx context.Context, event *models.Event) error {
	err := s.withOrg(ctx, event.OrgID, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO events (id, org_id, device_id, event_type, severity, source, message, data, tags, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, '{}'::jsonb), COALESCE($9, '{}'::text[]), $10)
		`, event.ID, event.OrgID, event.DeviceID, event.EventType, string(event.Severity),
			event.Source, event.Message, event.Data, event.Tags, event.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// GetEventsByOrg returns events for an organization with optional filtering,
// newest first.
func (s *Store) GetEventsByOrg(ctx context.Context, orgID uuid.UUID, filter EventFilter) ([]*models.Event, error) {
	query := `
		SELECT id, org_id, device_id, event_type, severity, source, message, data, tags, created_at
		FROM events
		WHERE org_id = $1
	`
	args := []any{orgID}
	argIdx := 2

	if filter.DeviceID != nil {
		query += fmt.Sprintf(" AND device_id = $%d", argIdx)
		args = append(args, *filter.DeviceID)
		argIdx++
	}

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}

	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argIdx)
		args = append(args, string(filter.Severity))
		argIdx++
	}

	if filter.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filter.StartDate)
		argIdx++
	}

	if filter.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *filter.EndDate)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	var events []*models.Event
	err := s.withOrg(ctx, orgID, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("get events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e models.Event
			var severity string
			if err := rows.Scan(&e.ID, &e.OrgID, &e.DeviceID, &e.EventType, &severity,
				&e.Source, &e.Message, &e.Data, &e.Tags, &e.CreatedAt); err != nil {
				return fmt.Errorf("scan event: %w", err)
			}
			e.Severity = models.ParseSeverity(severity)
			events = append(events, &e)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
