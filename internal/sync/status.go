package sync

import (
	"fmt"
	"time"

	"github.com/odin-security/odin-sync/internal/local"
	"github.com/odin-security/odin-sync/internal/models"
)

// DefaultMaxSyncAge is the staleness threshold used when NeedsSync is called
// with a non-positive value.
const DefaultMaxSyncAge = 5 * time.Minute

// GetSyncStatus returns the cursor row for every syncable table. Tables that
// have never synced are present with a nil LastSyncAt.
func (s *Syncer) GetSyncStatus() (map[models.Table]*models.SyncStatus, error) {
	statuses, err := s.local.GetAllSyncStatus()
	if err != nil {
		return nil, fmt.Errorf("read sync status: %w", err)
	}

	for _, table := range models.DefaultTables() {
		if _, ok := statuses[table]; !ok {
			statuses[table] = &models.SyncStatus{Table: table}
		}
	}
	return statuses, nil
}

// NeedsSync reports whether any pullable table has no cursor or a cursor
// older than maxAge. Tables whose pull is not implemented are ignored.
// Cursors are keyed by table, not by organization: the local cache serves a
// single deployment, so staleness is evaluated for the deployment as a
// whole and no org id is taken here.
func (s *Syncer) NeedsSync(maxAge time.Duration) (bool, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxSyncAge
	}
	cutoff := time.Now().Add(-maxAge)

	statuses, err := s.GetSyncStatus()
	if err != nil {
		return false, err
	}

	for _, table := range models.DefaultTables() {
		if table == models.TableFiles {
			continue
		}
		status := statuses[table]
		if status.LastSyncAt == nil || status.LastSyncAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// Cleanup removes local data older than the retention window. See
// local.CleanupOldData for what is exempt.
func (s *Syncer) Cleanup(retentionDays int) (*local.CleanupResult, error) {
	return s.local.CleanupOldData(retentionDays)
}

// DeadLetter returns queue items that exhausted their retries.
func (s *Syncer) DeadLetter(limit int) ([]*models.DeadLetterItem, error) {
	return s.local.ListDeadLetter(limit)
}
