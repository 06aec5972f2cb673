// Package local provides the on-device SQLite cache and local mutation
// bookkeeping: cached copies of cloud entities, per-table sync cursors, the
// pre-sync audit log, and the offline mutation queue.
package local

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Errors returned by the local store.
var (
	// ErrSessionNotFound is returned when no matching session exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQueueItemNotFound is returned when an offline queue item does not exist.
	ErrQueueItemNotFound = errors.New("offline queue item not found")
	// ErrLocalFileNotFound is returned when no local copy is tracked for a cloud file.
	ErrLocalFileNotFound = errors.New("local file not found")
)

// Config holds local database configuration. WAL mode and foreign key
// enforcement both default to on.
type Config struct {
	Path              string `yaml:"path"`
	DisableWAL        bool   `yaml:"disable_wal,omitempty"`
	DisableForeignKey bool   `yaml:"disable_foreign_keys,omitempty"`
	BusyTimeoutMillis int    `yaml:"busy_timeout_ms,omitempty"`
}

// Store is the embedded local cache backed by SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (creating if needed) the local database at cfg.Path and applies
// the schema.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("local database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	busyTimeout := cfg.BusyTimeoutMillis
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	params := url.Values{}
	params.Add("_busy_timeout", fmt.Sprint(busyTimeout))
	if !cfg.DisableWAL {
		params.Add("_journal_mode", "WAL")
	}
	if !cfg.DisableForeignKey {
		params.Add("_foreign_keys", "on")
	}

	db, err := sql.Open("sqlite", cfg.Path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "local_store").Logger(),
	}

	if !cfg.DisableWAL {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if !cfg.DisableForeignKey {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("local database initialized")

	return s, nil
}

// migrate creates the necessary tables.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cached_organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			plan TEXT NOT NULL DEFAULT 'free',
			settings TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_synced_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cached_users (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			email TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'viewer',
			permissions TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_synced_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cached_users_org ON cached_users(org_id);

		CREATE TABLE IF NOT EXISTS cached_devices (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT NOT NULL,
			device_type TEXT NOT NULL DEFAULT '',
			os TEXT NOT NULL DEFAULT '',
			ip_address TEXT,
			mac_address TEXT,
			location TEXT,
			status TEXT NOT NULL DEFAULT 'unknown',
			last_seen_at TEXT,
			metadata TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_synced_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cached_devices_org ON cached_devices(org_id);
		CREATE INDEX IF NOT EXISTS idx_cached_devices_last_seen ON cached_devices(last_seen_at);

		CREATE TABLE IF NOT EXISTS cached_events (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			device_id TEXT,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'low',
			source TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			data TEXT,
			tags TEXT,
			created_at TEXT NOT NULL,
			last_synced_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cached_events_org_created ON cached_events(org_id, created_at);

		CREATE TABLE IF NOT EXISTS cached_incidents (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT 'low',
			status TEXT NOT NULL DEFAULT 'open',
			assigned_to TEXT,
			source_event_ids TEXT,
			affected_device_ids TEXT,
			resolution_notes TEXT NOT NULL DEFAULT '',
			resolved_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_synced_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cached_incidents_org_status ON cached_incidents(org_id, status);

		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			org_id TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user_org ON sessions(user_id, org_id);

		CREATE TABLE IF NOT EXISTS user_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS local_files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cloud_file_id TEXT NOT NULL UNIQUE,
			local_path TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			downloaded_at TEXT NOT NULL DEFAULT (datetime('now')),
			last_accessed_at TEXT
		);

		CREATE TABLE IF NOT EXISTS sync_status (
			table_name TEXT PRIMARY KEY,
			last_sync_at TEXT,
			sync_token TEXT,
			error_message TEXT
		);

		CREATE TABLE IF NOT EXISTS local_audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT,
			old_values TEXT,
			new_values TEXT,
			synced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_local_audit_logs_synced ON local_audit_logs(synced);

		CREATE TABLE IF NOT EXISTS offline_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			table_name TEXT NOT NULL,
			record_id TEXT,
			payload TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_offline_queue_priority ON offline_queue(priority DESC, created_at ASC);

		CREATE TABLE IF NOT EXISTS offline_queue_dead (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			table_name TEXT NOT NULL,
			record_id TEXT,
			payload TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			failed_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// HealthCheck executes a trivial query and reports liveness. It never
// returns an error; failures are logged and reported as false.
func (s *Store) HealthCheck() bool {
	var one int
	if err := s.db.QueryRow("SELECT 1").Scan(&one); err != nil {
		s.logger.Error().Err(err).Msg("local health check failed")
		return false
	}
	return true
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullString converts a string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts an optional time to a NULL-able RFC3339 string.
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// formatTime renders a time for storage.
func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// parseTime parses a stored RFC3339 timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Rows written by SQLite defaults use datetime('now') format.
		t, err = time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t = t.UTC()
	}
	return t, nil
}

// parseNullTime parses an optional stored timestamp.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
