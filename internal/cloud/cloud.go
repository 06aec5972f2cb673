// Package cloud provides access to the authoritative PostgreSQL store using pgx.
//
// Every org-scoped accessor takes the organization id explicitly and runs on a
// dedicated pooled connection with the tenancy variable app.current_org_id set
// for the duration of the operation. There is no ambient "current org" state on
// the store, so concurrent callers cannot race on tenancy context.
package cloud

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds cloud database connection configuration.
type Config struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	TLS             bool
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible pool defaults.
func DefaultConfig(host string, port int, database, username, password string) Config {
	return Config{
		Host:            host,
		Port:            port,
		Database:        database,
		Username:        username,
		Password:        password,
		MaxConns:        20,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// ConnString renders the configuration as a pgx connection string.
func (c Config) ConnString() string {
	sslMode := "disable"
	if c.TLS {
		sslMode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, sslMode)
}

// Store wraps a pgxpool.Pool with org-scoped helpers.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New creates a new cloud store connection pool and verifies connectivity.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	s := &Store{
		pool:   pool,
		logger: logger.With().Str("component", "cloud").Logger(),
	}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s.logger.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("cloud connection pool established")
	return s, nil
}

// NewFromPool wraps an existing pool. Used by tests that manage their own
// container lifecycle.
func NewFromPool(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "cloud").Logger(),
	}
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
	s.logger.Info().Msg("cloud connection pool closed")
}

// Health returns basic health information about the connection pool.
func (s *Store) Health() map[string]any {
	stats := s.pool.Stat()
	return map[string]any{
		"total_conns":    stats.TotalConns(),
		"acquired_conns": stats.AcquiredConns(),
		"idle_conns":     stats.IdleConns(),
		"max_conns":      stats.MaxConns(),
	}
}

// HealthCheck executes a trivial query and reports liveness. It never
// returns an error; failures are logged and reported as false.
func (s *Store) HealthCheck(ctx context.Context) bool {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		s.logger.Error().Err(err).Msg("cloud health check failed")
		return false
	}
	return true
}

// withOrg acquires a dedicated connection, sets the tenancy variable for the
// given organization, and runs fn on that connection. The variable is reset
// and the connection released on every path.
func (s *Store) withOrg(ctx context.Context, orgID uuid.UUID, fn func(conn *pgxpool.Conn) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_org_id', $1, false)", orgID.String()); err != nil {
		return fmt.Errorf("set org context: %w", err)
	}
	defer func() {
		// Reset must run even when ctx is already canceled, otherwise the
		// context would leak into the next borrower of this connection.
		resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(resetCtx, "RESET app.current_org_id"); err != nil {
			s.logger.Warn().Err(err).Msg("failed to reset org context")
		}
	}()

	return fn(conn)
}

// ExecTx executes a function within a database transaction.
func (s *Store) ExecTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// GetMigrations returns all embedded migrations sorted by version.
func GetMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%d_%s", &version, &name); err != nil {
			return nil, fmt.Errorf("parse migration filename %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(entry.Name(), ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// Migrate runs all pending database migrations.
func (s *Store) Migrate(ctx context.Context) error {
	// Advisory lock prevents concurrent migrations from multiple processes.
	const migrationLockID int64 = 4178232209
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for migration lock: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	migrations, err := GetMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var exists bool
		err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		if exists {
			s.logger.Debug().Int("version", m.Version).Str("name", m.Name).Msg("migration already applied")
			continue
		}

		s.logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		err = s.ExecTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("execute migration SQL: %w", err)
			}

			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
				m.Version, m.Name,
			); err != nil {
				return fmt.Errorf("record migration: %w", err)
			}

			return nil
		})
		if err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// CurrentVersion returns the current schema version.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations",
	).Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return 0, nil
		}
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}
