package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// File represents cloud-side file metadata. Content never moves through
// the sync layer; only the metadata row is tracked.
type File struct {
	ID              uuid.UUID       `json:"id"`
	OrgID           uuid.UUID       `json:"org_id"`
	Filename        string          `json:"filename"`
	ContentType     string          `json:"content_type"`
	SizeBytes       int64           `json:"size_bytes"`
	StoragePath     string          `json:"storage_path"`
	StorageProvider string          `json:"storage_provider"`
	Checksum        string          `json:"checksum,omitempty"`
	Encrypted       bool            `json:"encrypted"`
	EncryptionKeyID *uuid.UUID      `json:"encryption_key_id,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LocalFile maps a cloud file id to a downloaded copy on disk.
// The downloaded/last-accessed lifecycle is advisory; the store does not
// enforce it.
type LocalFile struct {
	ID             int64      `json:"id"`
	CloudFileID    uuid.UUID  `json:"cloud_file_id"`
	LocalPath      string     `json:"local_path"`
	SizeBytes      int64      `json:"size_bytes"`
	DownloadedAt   time.Time  `json:"downloaded_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}
