package local

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/odin-security/odin-sync/internal/models"
)

// CreateLocalAuditLog records a local mutation for later upload.
func (s *Store) CreateLocalAuditLog(entry *models.LocalAuditLog) error {
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT INTO local_audit_logs (action, resource_type, resource_id, old_values, new_values, synced, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, string(entry.Action), entry.ResourceType, nullString(entry.ResourceID),
		rawJSON(entry.OldValues), rawJSON(entry.NewValues), formatTime(now))
	if err != nil {
		return fmt.Errorf("create local audit log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create local audit log id: %w", err)
	}
	entry.ID = id
	entry.Synced = false
	entry.CreatedAt = now
	return nil
}

// GetUnsyncedAuditLogs returns entries not yet uploaded, oldest first.
func (s *Store) GetUnsyncedAuditLogs(limit int) ([]*models.LocalAuditLog, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.Query(`
		SELECT id, action, resource_type, resource_id, old_values, new_values, synced, created_at
		FROM local_audit_logs
		WHERE synced = 0
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get unsynced audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.LocalAuditLog
	for rows.Next() {
		entry, err := scanLocalAuditLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsynced audit logs: %w", err)
	}
	return entries, nil
}

// MarkAuditLogsAsSynced flags the given entries as uploaded in one
// transaction. Entries stay in the table for local history; CleanupOldData
// removes synced entries past the retention window.
func (s *Store) MarkAuditLogsAsSynced(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("mark audit logs synced: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`UPDATE local_audit_logs SET synced = 1 WHERE id IN (%s)`,
		strings.Join(placeholders, ", "))
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("mark audit logs synced: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark audit logs synced: %w", err)
	}
	return nil
}

func scanLocalAuditLog(scan func(...any) error) (*models.LocalAuditLog, error) {
	var (
		entry                            models.LocalAuditLog
		action, createdAt                string
		resourceID, oldValues, newValues sql.NullString
		synced                           int
	)
	if err := scan(&entry.ID, &action, &entry.ResourceType, &resourceID,
		&oldValues, &newValues, &synced, &createdAt); err != nil {
		return nil, fmt.Errorf("scan local audit log: %w", err)
	}

	entry.Action = models.AuditAction(action)
	entry.ResourceID = resourceID.String
	entry.OldValues = rawFromNull(oldValues)
	entry.NewValues = rawFromNull(newValues)
	entry.Synced = synced != 0
	var err error
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &entry, nil
}
