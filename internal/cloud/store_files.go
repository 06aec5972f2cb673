package cloud

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odin-security/odin-sync/internal/models"
)

// CreateFile inserts a new file metadata row for an organization.
func (s *Store) CreateFile(ctx context.Context, file *models.File) error {
	err := s.withOrg(ctx, file.OrgID, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO files (id, org_id, filename, content_type, size_bytes, storage_path,
			                   storage_provider, checksum, encrypted, encryption_key_id,
			                   metadata, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, '{}'::jsonb), $12, $13)
		`, file.ID, file.OrgID, file.Filename, file.ContentType, file.SizeBytes,
			file.StoragePath, file.StorageProvider, nullIfEmpty(file.Checksum),
			file.Encrypted, file.EncryptionKeyID, file.Metadata, file.ExpiresAt, file.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

// GetFilesByOrg returns file metadata rows for an organization, newest first.
func (s *Store) GetFilesByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.File, error) {
	if limit <= 0 {
		limit = 100
	}

	var files []*models.File
	err := s.withOrg(ctx, orgID, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, org_id, filename, content_type, size_bytes, storage_path,
			       storage_provider, checksum, encrypted, encryption_key_id,
			       metadata, expires_at, created_at
			FROM files
			WHERE org_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, orgID, limit)
		if err != nil {
			return fmt.Errorf("get files: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var f models.File
			var checksum *string
			if err := rows.Scan(&f.ID, &f.OrgID, &f.Filename, &f.ContentType, &f.SizeBytes,
				&f.StoragePath, &f.StorageProvider, &checksum, &f.Encrypted, &f.EncryptionKeyID,
				&f.Metadata, &f.ExpiresAt, &f.CreatedAt); err != nil {
				return fmt.Errorf("scan file: %w", err)
			}
			if checksum != nil {
				f.Checksum = *checksum
			}
			files = append(files, &f)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate files: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
