package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueAction represents the kind of mutation held in the offline queue.
type QueueAction string

const (
	QueueActionCreate QueueAction = "create"
	QueueActionUpdate QueueAction = "update"
	QueueActionDelete QueueAction = "delete"
)

// ParseQueueAction validates a raw action string against the closed action set.
func ParseQueueAction(s string) (QueueAction, error) {
	switch QueueAction(s) {
	case QueueActionCreate, QueueActionUpdate, QueueActionDelete:
		return QueueAction(s), nil
	default:
		return "", fmt.Errorf("unknown queue action %q", s)
	}
}

// OfflineQueueItem represents a locally-originated mutation awaiting replay
// against the cloud store. Items are removed only after a successful replay;
// a failed replay increments RetryCount and leaves the item queued until the
// retry limit moves it to the dead-letter set.
type OfflineQueueItem struct {
	ID         int64           `json:"id"`
	Action     QueueAction     `json:"action"`
	Table      Table           `json:"table_name"`
	RecordID   string          `json:"record_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   int             `json:"priority"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DeadLetterItem is an offline queue item that exhausted its retries.
type DeadLetterItem struct {
	OfflineQueueItem
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}
