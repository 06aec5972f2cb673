package local

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/odin-security/odin-sync/internal/models"
)

// UpdateSyncStatus records a successful pull for a table: it advances the
// cursor to syncedAt and clears any stored error. It is never called on a
// failed pull; RecordSyncError handles that path without touching the cursor.
func (s *Store) UpdateSyncStatus(table models.Table, syncedAt time.Time, syncToken string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_status (table_name, last_sync_at, sync_token, error_message)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT(table_name) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			sync_token = excluded.sync_token,
			error_message = NULL
	`, string(table), formatTime(syncedAt), nullString(syncToken))
	if err != nil {
		return fmt.Errorf("update sync status for %s: %w", table, err)
	}
	return nil
}

// RecordSyncError stores the failure message for a table while preserving
// the existing cursor and token.
func (s *Store) RecordSyncError(table models.Table, errMsg string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_status (table_name, error_message)
		VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			error_message = excluded.error_message
	`, string(table), errMsg)
	if err != nil {
		return fmt.Errorf("record sync error for %s: %w", table, err)
	}
	return nil
}

// GetSyncStatus returns the cursor row for one table, or nil if the table
// has never synced.
func (s *Store) GetSyncStatus(table models.Table) (*models.SyncStatus, error) {
	row := s.db.QueryRow(`
		SELECT table_name, last_sync_at, sync_token, error_message
		FROM sync_status
		WHERE table_name = ?
	`, string(table))

	status, err := scanSyncStatus(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync status for %s: %w", table, err)
	}
	return status, nil
}

// GetAllSyncStatus returns the cursor rows for every table that has a record.
func (s *Store) GetAllSyncStatus() (map[models.Table]*models.SyncStatus, error) {
	rows, err := s.db.Query(`
		SELECT table_name, last_sync_at, sync_token, error_message
		FROM sync_status
	`)
	if err != nil {
		return nil, fmt.Errorf("get sync status: %w", err)
	}
	defer rows.Close()

	statuses := make(map[models.Table]*models.SyncStatus)
	for rows.Next() {
		status, err := scanSyncStatus(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan sync status: %w", err)
		}
		statuses[status.Table] = status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync status: %w", err)
	}
	return statuses, nil
}

func scanSyncStatus(scan func(...any) error) (*models.SyncStatus, error) {
	var (
		tableName                       string
		lastSyncAt, syncToken, errorMsg sql.NullString
	)
	if err := scan(&tableName, &lastSyncAt, &syncToken, &errorMsg); err != nil {
		return nil, err
	}

	status := &models.SyncStatus{
		Table:        models.Table(tableName),
		SyncToken:    syncToken.String,
		ErrorMessage: errorMsg.String,
	}
	var err error
	if status.LastSyncAt, err = parseNullTime(lastSyncAt); err != nil {
		return nil, err
	}
	return status, nil
}
