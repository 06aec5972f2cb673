package local

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odin-security/odin-sync/internal/models"
)

// CacheLocalFile records a downloaded copy of a cloud file. Re-recording the
// same cloud file replaces the previous path and size.
func (s *Store) CacheLocalFile(file *models.LocalFile) error {
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT INTO local_files (cloud_file_id, local_path, size_bytes, downloaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cloud_file_id) DO UPDATE SET
			local_path = excluded.local_path,
			size_bytes = excluded.size_bytes,
			downloaded_at = excluded.downloaded_at
	`, file.CloudFileID.String(), file.LocalPath, file.SizeBytes, formatTime(now))
	if err != nil {
		return fmt.Errorf("cache local file: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil && id > 0 {
		file.ID = id
	}
	file.DownloadedAt = now
	return nil
}

// GetLocalFileByCloudID returns the local copy of a cloud file. Returns
// ErrLocalFileNotFound if the file was never downloaded.
func (s *Store) GetLocalFileByCloudID(cloudFileID uuid.UUID) (*models.LocalFile, error) {
	row := s.db.QueryRow(`
		SELECT id, cloud_file_id, local_path, size_bytes, downloaded_at, last_accessed_at
		FROM local_files
		WHERE cloud_file_id = ?
	`, cloudFileID.String())

	var (
		file           models.LocalFile
		cloudStr       string
		downloadedAt   string
		lastAccessedAt sql.NullString
	)
	err := row.Scan(&file.ID, &cloudStr, &file.LocalPath, &file.SizeBytes, &downloadedAt, &lastAccessedAt)
	if err == sql.ErrNoRows {
		return nil, ErrLocalFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get local file: %w", err)
	}

	if file.CloudFileID, err = uuid.Parse(cloudStr); err != nil {
		return nil, fmt.Errorf("parse cloud file id: %w", err)
	}
	if file.DownloadedAt, err = parseTime(downloadedAt); err != nil {
		return nil, err
	}
	if file.LastAccessedAt, err = parseNullTime(lastAccessedAt); err != nil {
		return nil, err
	}
	return &file, nil
}

// TouchLocalFile updates the last-accessed timestamp of a local file.
func (s *Store) TouchLocalFile(cloudFileID uuid.UUID) error {
	res, err := s.db.Exec(`
		UPDATE local_files SET last_accessed_at = ? WHERE cloud_file_id = ?
	`, formatTime(time.Now()), cloudFileID.String())
	if err != nil {
		return fmt.Errorf("touch local file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch local file: %w", err)
	}
	if affected == 0 {
		return ErrLocalFileNotFound
	}
	return nil
}
