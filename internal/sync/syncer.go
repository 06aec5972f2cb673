// Package sync implements the pull/push pipeline between the cloud store
// and the local cache: sequential per-table pulls with abort-on-failure,
// success-only cursor advancement, and best-effort offline queue replay.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odin-security/odin-sync/internal/cloud"
	"github.com/odin-security/odin-sync/internal/local"
	"github.com/odin-security/odin-sync/internal/metrics"
	"github.com/odin-security/odin-sync/internal/models"
)

const (
	// DefaultEventLookbackDays bounds the first events pull when no cursor exists.
	DefaultEventLookbackDays = 7
	// DefaultBatchSize is the page size for paginated pulls.
	DefaultBatchSize = 1000
)

// CloudStore is the cloud-side surface the syncer consumes.
type CloudStore interface {
	GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)
	GetUsersByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.User, error)
	GetDevicesByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.Device, error)
	GetEventsByOrg(ctx context.Context, orgID uuid.UUID, filter cloud.EventFilter) ([]*models.Event, error)
	GetIncidentsByOrg(ctx context.Context, orgID uuid.UUID, status models.IncidentStatus) ([]*models.Incident, error)
	CreateDevice(ctx context.Context, device *models.Device) error
	CreateIncident(ctx context.Context, incident *models.Incident) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Options tunes one sync run. Zero values select the defaults.
type Options struct {
	// Tables restricts the run to a subset, in the given order. Empty means
	// the full default order.
	Tables []models.Table
	// EventLookbackDays bounds the first events pull when the table has
	// never synced.
	EventLookbackDays int
	// Since forces the events pull to start from this timestamp, taking
	// precedence over the stored cursor. Nil means incremental.
	Since *time.Time
	// BatchSize is the page size for paginated pulls.
	BatchSize int
}

// Syncer drives pull and push cycles for organizations.
type Syncer struct {
	cloud   CloudStore
	local   *local.Store
	locker  OrgLocker
	metrics *metrics.Metrics
	logger  zerolog.Logger

	maxRetries int
}

// New creates a Syncer. locker and m may be nil; a nil locker falls back to
// an in-process MutexLocker and a nil m disables instrumentation.
func New(cloudStore CloudStore, localStore *local.Store, locker OrgLocker, m *metrics.Metrics, logger zerolog.Logger) *Syncer {
	if locker == nil {
		locker = NewMutexLocker()
	}
	return &Syncer{
		cloud:      cloudStore,
		local:      localStore,
		locker:     locker,
		metrics:    m,
		logger:     logger.With().Str("component", "syncer").Logger(),
		maxRetries: local.DefaultMaxRetries,
	}
}

// SyncOrganization pulls cloud data for one organization into the local
// cache, table by table in dependency order. The first failing table aborts
// the remaining pulls; their cursors do not move. Per-table outcomes are in
// the returned report; a non-nil error means the run could not start or was
// cancelled mid-flight.
func (s *Syncer) SyncOrganization(ctx context.Context, orgID uuid.UUID, opts Options) (*models.SyncReport, error) {
	release, err := s.locker.TryLock(ctx, orgID)
	if err != nil {
		return nil, err
	}
	defer release()

	tables := opts.Tables
	if len(tables) == 0 {
		tables = models.DefaultTables()
	}

	report := &models.SyncReport{
		OrgID:     orgID.String(),
		StartedAt: time.Now(),
	}
	log := s.logger.With().Str("org_id", orgID.String()).Logger()
	log.Info().Int("tables", len(tables)).Msg("starting sync")

	var abort bool
	var runErr error
	for i, table := range tables {
		if abort {
			report.Tables = append(report.Tables, models.TableResult{
				Table:   table,
				Outcome: models.TableOutcomeAborted,
			})
			s.countTable(table, models.TableOutcomeAborted)
			continue
		}

		if err := ctx.Err(); err != nil {
			for _, rest := range tables[i:] {
				report.Tables = append(report.Tables, models.TableResult{
					Table:   rest,
					Outcome: models.TableOutcomeAborted,
				})
				s.countTable(rest, models.TableOutcomeAborted)
			}
			runErr = err
			break
		}

		result := s.pullTable(ctx, orgID, table, opts)
		report.Tables = append(report.Tables, result)
		s.countTable(table, result.Outcome)

		if result.Outcome == models.TableOutcomeFailed {
			log.Error().Str("table", string(table)).Str("error", result.Error).
				Msg("table pull failed, aborting remaining tables")
			abort = true
		}
	}

	report.FinishedAt = time.Now()

	if s.metrics != nil {
		s.metrics.SyncDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
		switch {
		case runErr != nil:
			s.metrics.SyncRuns.WithLabelValues("cancelled").Inc()
		case report.Failed():
			s.metrics.SyncRuns.WithLabelValues("failed").Inc()
		default:
			s.metrics.SyncRuns.WithLabelValues("ok").Inc()
		}
	}

	log.Info().
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Bool("failed", report.Failed()).
		Msg("sync finished")
	return report, runErr
}

// pullTable runs one table's pull and records the cursor outcome. The cursor
// timestamp is captured before the pull so rows written during the pull are
// re-read next time rather than missed.
func (s *Syncer) pullTable(ctx context.Context, orgID uuid.UUID, table models.Table, opts Options) models.TableResult {
	result := models.TableResult{Table: table}
	pullStart := time.Now()

	var pulled, skipped int
	var err error
	switch table {
	case models.TableOrganizations:
		pulled, skipped, err = s.pullOrganization(ctx, orgID)
	case models.TableUsers:
		pulled, skipped, err = s.pullUsers(ctx, orgID)
	case models.TableDevices:
		pulled, skipped, err = s.pullDevices(ctx, orgID, opts)
	case models.TableEvents:
		pulled, skipped, err = s.pullEvents(ctx, orgID, opts)
	case models.TableIncidents:
		pulled, skipped, err = s.pullIncidents(ctx, orgID)
	case models.TableFiles:
		// File metadata pull is not implemented: content lives in object
		// storage and the metadata rows have no local consumer yet. The
		// outcome is reported distinctly so a no-op cannot read as a sync.
		s.logger.Warn().Str("table", string(table)).Msg("table pull not implemented, skipping")
		result.Outcome = models.TableOutcomeSkipped
		return result
	default:
		err = fmt.Errorf("unknown table %q", table)
	}

	result.RowsPulled = pulled
	result.RowsSkipped = skipped

	if err != nil {
		result.Outcome = models.TableOutcomeFailed
		result.Error = err.Error()
		if recErr := s.local.RecordSyncError(table, err.Error()); recErr != nil {
			s.logger.Error().Err(recErr).Str("table", string(table)).
				Msg("failed to record sync error")
		}
		return result
	}

	if err := s.local.UpdateSyncStatus(table, pullStart, ""); err != nil {
		result.Outcome = models.TableOutcomeFailed
		result.Error = fmt.Sprintf("advance sync cursor: %v", err)
		return result
	}

	result.Outcome = models.TableOutcomeSynced
	if s.metrics != nil {
		s.metrics.RowsPulled.WithLabelValues(string(table)).Add(float64(pulled))
		s.metrics.RowsSkipped.WithLabelValues(string(table)).Add(float64(skipped))
	}
	return result
}

func (s *Syncer) pullOrganization(ctx context.Context, orgID uuid.UUID) (pulled, skipped int, err error) {
	org, err := s.cloud.GetOrganization(ctx, orgID)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch organization: %w", err)
	}
	if err := s.local.CacheOrganization(org); err != nil {
		return 0, 0, fmt.Errorf("cache organization: %w", err)
	}
	return 1, 0, nil
}

func (s *Syncer) pullUsers(ctx context.Context, orgID uuid.UUID) (pulled, skipped int, err error) {
	users, err := s.cloud.GetUsersByOrg(ctx, orgID)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch users: %w", err)
	}
	for _, user := range users {
		if err := s.local.CacheUser(user); err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID.String()).
				Msg("skipping user that failed to cache")
			skipped++
			continue
		}
		pulled++
	}
	return pulled, skipped, nil
}

func (s *Syncer) pullDevices(ctx context.Context, orgID uuid.UUID, opts Options) (pulled, skipped int, err error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	for offset := 0; ; offset += batch {
		devices, err := s.cloud.GetDevicesByOrg(ctx, orgID, batch, offset)
		if err != nil {
			return pulled, skipped, fmt.Errorf("fetch devices: %w", err)
		}
		for _, device := range devices {
			if err := s.local.CacheDevice(device); err != nil {
				s.logger.Warn().Err(err).Str("device_id", device.ID.String()).
					Msg("skipping device that failed to cache")
				skipped++
				continue
			}
			pulled++
		}
		if len(devices) < batch {
			return pulled, skipped, nil
		}
	}
}

func (s *Syncer) pullEvents(ctx context.Context, orgID uuid.UUID, opts Options) (pulled, skipped int, err error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	lookback := opts.EventLookbackDays
	if lookback <= 0 {
		lookback = DefaultEventLookbackDays
	}

	// Explicit override first, then the table cursor, then the lookback
	// window for a first pull.
	since := time.Now().AddDate(0, 0, -lookback)
	if opts.Since != nil {
		since = *opts.Since
	} else {
		status, err := s.local.GetSyncStatus(models.TableEvents)
		if err != nil {
			return 0, 0, fmt.Errorf("read events cursor: %w", err)
		}
		if status != nil && status.LastSyncAt != nil {
			since = *status.LastSyncAt
		}
	}

	for offset := 0; ; offset += batch {
		events, err := s.cloud.GetEventsByOrg(ctx, orgID, cloud.EventFilter{
			StartDate: &since,
			Limit:     batch,
			Offset:    offset,
		})
		if err != nil {
			return pulled, skipped, fmt.Errorf("fetch events: %w", err)
		}
		for _, event := range events {
			if err := s.local.CacheEvent(event); err != nil {
				s.logger.Warn().Err(err).Str("event_id", event.ID.String()).
					Msg("skipping event that failed to cache")
				skipped++
				continue
			}
			pulled++
		}
		if len(events) < batch {
			return pulled, skipped, nil
		}
	}
}

func (s *Syncer) pullIncidents(ctx context.Context, orgID uuid.UUID) (pulled, skipped int, err error) {
	incidents, err := s.cloud.GetIncidentsByOrg(ctx, orgID, "")
	if err != nil {
		return 0, 0, fmt.Errorf("fetch incidents: %w", err)
	}
	for _, incident := range incidents {
		if err := s.local.CacheIncident(incident); err != nil {
			s.logger.Warn().Err(err).Str("incident_id", incident.ID.String()).
				Msg("skipping incident that failed to cache")
			skipped++
			continue
		}
		pulled++
	}
	return pulled, skipped, nil
}

func (s *Syncer) countTable(table models.Table, outcome models.TableOutcome) {
	if s.metrics != nil {
		s.metrics.TablesSynced.WithLabelValues(string(table), string(outcome)).Inc()
	}
}
