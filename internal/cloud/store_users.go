package cloud

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odin-security/odin-sync/internal/models"
)

// GetUsersByOrg returns all users of an organization, newest first.
func (s *Store) GetUsersByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.User, error) {
	var users []*models.User
	err := s.withOrg(ctx, orgID, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, org_id, email, first_name, last_name, role, permissions, created_at, updated_at
			FROM users
			WHERE org_id = $1 AND deleted_at IS NULL
			ORDER BY created_at DESC
		`, orgID)
		if err != nil {
			return fmt.Errorf("get users: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var u models.User
			var role string
			if err := rows.Scan(&u.ID, &u.OrgID, &u.Email, &u.FirstName, &u.LastName,
				&role, &u.Permissions, &u.CreatedAt, &u.UpdatedAt); err != nil {
				return fmt.Errorf("scan user: %w", err)
			}
			u.Role = models.UserRole(role)
			users = append(users, &u)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate users: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}
