package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odin-security/odin-sync/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateOrganization inserts a new organization.
func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name, slug, plan, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, '{}'::jsonb), $6, $7)
	`, org.ID, org.Name, org.Slug, string(org.Plan), org.Settings, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// GetOrganization returns an organization by id, excluding soft-deleted rows.
func (s *Store) GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	var plan string
	err := s.withOrg(ctx, orgID, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT id, name, slug, plan, settings, created_at, updated_at
			FROM organizations
			WHERE id = $1 AND deleted_at IS NULL
		`, orgID).Scan(&org.ID, &org.Name, &org.Slug, &plan, &org.Settings, &org.CreatedAt, &org.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	org.Plan = models.Plan(plan)
	return &org, nil
}
