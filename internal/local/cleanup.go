package local

import (
	"fmt"
	"time"
)

// CleanupResult reports the rows removed by one CleanupOldData call.
type CleanupResult struct {
	EventsDeleted    int64
	FilesDeleted     int64
	AuditLogsDeleted int64
	SessionsDeleted  int64
}

// CleanupOldData removes cached rows older than the retention window.
// Audit log entries are only removed once synced; an unsynced entry is
// retained regardless of age so no local mutation is lost before upload.
func (s *Store) CleanupOldData(retentionDays int) (*CleanupResult, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := formatTime(time.Now().AddDate(0, 0, -retentionDays))
	result := &CleanupResult{}

	res, err := s.db.Exec(`DELETE FROM cached_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("cleanup cached events: %w", err)
	}
	result.EventsDeleted, _ = res.RowsAffected()

	res, err = s.db.Exec(`DELETE FROM local_files WHERE downloaded_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("cleanup local files: %w", err)
	}
	result.FilesDeleted, _ = res.RowsAffected()

	res, err = s.db.Exec(`DELETE FROM local_audit_logs WHERE synced = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("cleanup audit logs: %w", err)
	}
	result.AuditLogsDeleted, _ = res.RowsAffected()

	res, err = s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("cleanup sessions: %w", err)
	}
	result.SessionsDeleted, _ = res.RowsAffected()

	s.logger.Info().
		Int("retention_days", retentionDays).
		Int64("events_deleted", result.EventsDeleted).
		Int64("files_deleted", result.FilesDeleted).
		Int64("audit_logs_deleted", result.AuditLogsDeleted).
		Int64("sessions_deleted", result.SessionsDeleted).
		Msg("Local data cleanup complete")

	return result, nil
}
