package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odin-security/odin-sync/internal/models"
)

// AuditLogFilter defines filters for querying audit logs.
type AuditLogFilter struct {
	Action       models.AuditAction
	ResourceType string
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
	Offset       int
}

// CreateAuditLog inserts a new audit log entry.
func (s *Store) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	err := s.withOrg(ctx, log.OrgID, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO audit_logs (id, org_id, user_id, api_key_id, action, resource_type,
			                        resource_id, old_values, new_values, ip_address, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, log.ID, log.OrgID, log.UserID, log.APIKeyID, string(log.Action), log.ResourceType,
			nullIfEmpty(log.ResourceID), log.OldValues, log.NewValues,
			nullIfEmpty(log.IPAddress), nullIfEmpty(log.UserAgent), log.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// GetAuditLogsByOrg returns audit logs for an organization with optional filtering.
func (s *Store) GetAuditLogsByOrg(ctx context.Context, orgID uuid.UUID, filter AuditLogFilter) ([]*models.AuditLog, error) {
	query := `
		SELECT id, org_id, user_id, api_key_id, action, resource_type,
		       resource_id, old_values, new_values, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE org_id = $1
	`
	args := []any{orgID}
	argIdx := 2

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, string(filter.Action))
		argIdx++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argIdx)
		args = append(args, filter.ResourceType)
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

	var logs []*models.AuditLog
	err := s.withOrg(ctx, orgID, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("get audit logs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var l models.AuditLog
			var action string
			var resourceID, ipAddress, userAgent *string
			if err := rows.Scan(&l.ID, &l.OrgID, &l.UserID, &l.APIKeyID, &action, &l.ResourceType,
				&resourceID, &l.OldValues, &l.NewValues, &ipAddress, &userAgent, &l.CreatedAt); err != nil {
				return fmt.Errorf("scan audit log: %w", err)
			}
			l.Action = models.AuditAction(action)
			if resourceID != nil {
				l.ResourceID = *resourceID
			}
			if ipAddress != nil {
				l.IPAddress = *ipAddress
			}
			if userAgent != nil {
				l.UserAgent = *userAgent
			}
			logs = append(logs, &l)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate audit logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}
