package cloud

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odin-security/odin-sync/internal/models"
)

// CreateIncident inserts a new incident for an organization.
func (s *Store) CreateIncident(ctx context.Context, incident *models.Incident) error {
	err := s.withOrg(ctx, incident.OrgID, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO incidents (id, org_id, title, description, severity, status, assigned_to,
			                       source_event_ids, affected_device_ids, resolution_notes,
			                       resolved_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, '{}'::uuid[]), COALESCE($9, '{}'::uuid[]), $10, $11, $12, $13)
		`, incident.ID, incident.OrgID, incident.Title, incident.Description,
			string(incident.Severity), string(incident.Status), incident.AssignedTo,
			incident.SourceEventIDs, incident.AffectedDeviceIDs, incident.ResolutionNotes,
			incident.ResolvedAt, incident.CreatedAt, incident.UpdatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetIncidentsByOrg returns incidents for an organization, optionally filtered
// by status, newest first.
func (s *Store) GetIncidentsByOrg(ctx context.Context, orgID uuid.UUID, status models.IncidentStatus) ([]*models.Incident, error) {
	query := `
		SELECT id, org_id, title, description, severity, status, assigned_to,
		       source_event_ids, affected_device_ids, resolution_notes,
		       resolved_at, created_at, updated_at
		FROM incidents
		WHERE org_id = $1
	`
	args := []any{orgID}

	if status != "" {
		query += " AND status = $2"
		args = append(args, string(status))
	}

	query += " ORDER BY created_at DESC"

	var incidents []*models.Incident
	err := s.withOrg(ctx, orgID, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("get incidents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var in models.Incident
			var severity, statusStr string
			if err := rows.Scan(&in.ID, &in.OrgID, &in.Title, &in.Description, &severity, &statusStr,
				&in.AssignedTo, &in.SourceEventIDs, &in.AffectedDeviceIDs, &in.ResolutionNotes,
				&in.ResolvedAt, &in.CreatedAt, &in.UpdatedAt); err != nil {
				return fmt.Errorf("scan incident: %w", err)
			}
			in.Severity = models.ParseSeverity(severity)
			in.Status = models.ParseIncidentStatus(statusStr)
			incidents = append(incidents, &in)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate incidents: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}
