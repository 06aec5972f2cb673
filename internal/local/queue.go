package local

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/odin-security/odin-sync/internal/models"
)

// DefaultMaxRetries is the retry ceiling applied by MoveToDeadLetterIfExhausted.
const DefaultMaxRetries = 3

// AddToOfflineQueue enqueues a locally-originated mutation for replay.
func (s *Store) AddToOfflineQueue(item *models.OfflineQueueItem) error {
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT INTO offline_queue (action, table_name, record_id, payload, priority, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, string(item.Action), string(item.Table), nullString(item.RecordID),
		rawJSON(item.Payload), item.Priority, formatTime(now))
	if err != nil {
		return fmt.Errorf("add to offline queue: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("add to offline queue id: %w", err)
	}
	item.ID = id
	item.RetryCount = 0
	item.CreatedAt = now
	return nil
}

// GetOfflineQueueItems returns pending items ordered by priority then age.
func (s *Store) GetOfflineQueueItems(limit int) ([]*models.OfflineQueueItem, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, action, table_name, record_id, payload, priority, retry_count, created_at
		FROM offline_queue
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get offline queue items: %w", err)
	}
	defer rows.Close()

	var items []*models.OfflineQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offline queue items: %w", err)
	}
	return items, nil
}

// RemoveOfflineQueueItem deletes an item after a successful replay.
func (s *Store) RemoveOfflineQueueItem(id int64) error {
	res, err := s.db.Exec(`DELETE FROM offline_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove offline queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove offline queue item: %w", err)
	}
	if affected == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

// IncrementRetry bumps the retry counter for a failed replay and returns the
// new count.
func (s *Store) IncrementRetry(id int64) (int, error) {
	res, err := s.db.Exec(`UPDATE offline_queue SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	if affected == 0 {
		return 0, ErrQueueItemNotFound
	}

	var count int
	if err := s.db.QueryRow(`SELECT retry_count FROM offline_queue WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("read retry count: %w", err)
	}
	return count, nil
}

// MoveToDeadLetter moves a queue item into the dead-letter set with its final
// error, removing it from the live queue in the same transaction.
func (s *Store) MoveToDeadLetter(id int64, lastError string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("move to dead letter: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO offline_queue_dead (queue_id, action, table_name, record_id, payload, priority, retry_count, last_error, created_at, failed_at)
		SELECT id, action, table_name, record_id, payload, priority, retry_count, ?, created_at, ?
		FROM offline_queue
		WHERE id = ?
	`, lastError, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("move to dead letter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("move to dead letter: %w", err)
	}
	if affected == 0 {
		return ErrQueueItemNotFound
	}

	if _, err := tx.Exec(`DELETE FROM offline_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("move to dead letter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("move to dead letter: %w", err)
	}
	return nil
}

// ListDeadLetter returns dead-lettered items, most recently failed first.
func (s *Store) ListDeadLetter(limit int) ([]*models.DeadLetterItem, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT queue_id, action, table_name, record_id, payload, priority, retry_count, created_at, last_error, failed_at
		FROM offline_queue_dead
		ORDER BY failed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letter: %w", err)
	}
	defer rows.Close()

	var items []*models.DeadLetterItem
	for rows.Next() {
		var (
			item                models.DeadLetterItem
			action, tableName   string
			recordID, payload   sql.NullString
			createdAt, failedAt string
		)
		if err := rows.Scan(&item.ID, &action, &tableName, &recordID, &payload,
			&item.Priority, &item.RetryCount, &createdAt, &item.LastError, &failedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter item: %w", err)
		}

		item.Action = models.QueueAction(action)
		item.Table = models.Table(tableName)
		item.RecordID = recordID.String
		item.Payload = rawFromNull(payload)
		if item.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if item.FailedAt, err = parseTime(failedAt); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letter items: %w", err)
	}
	return items, nil
}

// CountOfflineQueue returns the number of items awaiting replay.
func (s *Store) CountOfflineQueue() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM offline_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count offline queue: %w", err)
	}
	return count, nil
}

func scanQueueItem(scan func(...any) error) (*models.OfflineQueueItem, error) {
	var (
		item              models.OfflineQueueItem
		action, tableName string
		recordID, payload sql.NullString
		createdAt         string
	)
	if err := scan(&item.ID, &action, &tableName, &recordID, &payload,
		&item.Priority, &item.RetryCount, &createdAt); err != nil {
		return nil, fmt.Errorf("scan offline queue item: %w", err)
	}

	item.Action = models.QueueAction(action)
	item.Table = models.Table(tableName)
	item.RecordID = recordID.String
	item.Payload = rawFromNull(payload)
	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &item, nil
}
