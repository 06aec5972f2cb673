package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odin-security/odin-sync/internal/models"
)

// UploadOfflineChanges pushes locally recorded changes to the cloud store:
// the full unsynced audit backlog first, then the offline mutation queue
// until it is drained or only retryable items remain. Replay
// is best-effort per item; one failure never blocks the rest. The caller
// supplies the actor identity stamped onto replayed audit entries; the sync
// layer cannot reconstruct it.
func (s *Syncer) UploadOfflineChanges(ctx context.Context, orgID uuid.UUID, actor models.ActorContext) (*models.UploadReport, error) {
	release, err := s.locker.TryLock(ctx, orgID)
	if err != nil {
		return nil, err
	}
	defer release()

	report := &models.UploadReport{}
	log := s.logger.With().Str("org_id", orgID.String()).Logger()

	if err := s.replayAuditLogs(ctx, orgID, actor, report); err != nil {
		return report, err
	}
	if err := s.drainQueue(ctx, orgID, report); err != nil {
		return report, err
	}

	if s.metrics != nil {
		if depth, err := s.local.CountOfflineQueue(); err == nil {
			s.metrics.QueueDepth.Set(float64(depth))
		}
	}

	log.Info().
		Int("audit_logs", report.AuditLogsUploaded).
		Int("uploaded", report.ItemsUploaded).
		Int("skipped", report.ItemsSkipped).
		Int("failed", report.ItemsFailed).
		Int("dead_lettered", report.ItemsDeadLettered).
		Msg("offline upload finished")
	return report, nil
}

const (
	// auditReplayPage is the per-page fetch size while replaying the audit
	// backlog.
	auditReplayPage = 500
	// queueDrainPage is the per-page fetch size while draining the offline
	// queue.
	queueDrainPage = 100
)

// replayAuditLogs uploads unsynced audit entries page by page until the
// backlog is exhausted, marking each uploaded page in a single batch. Entries
// are never deleted here; retention cleanup removes synced entries later.
func (s *Syncer) replayAuditLogs(ctx context.Context, orgID uuid.UUID, actor models.ActorContext, report *models.UploadReport) error {
	// Failed entries stay unsynced and would clog the head of the next page,
	// so the fetch window grows to reach past them.
	failed := make(map[int64]bool)
	for {
		limit := auditReplayPage + len(failed)
		entries, err := s.local.GetUnsyncedAuditLogs(limit)
		if err != nil {
			return fmt.Errorf("load unsynced audit logs: %w", err)
		}

		var uploaded []int64
		fresh := 0
		for _, entry := range entries {
			if failed[entry.ID] {
				continue
			}
			if err := ctx.Err(); err != nil {
				break
			}
			fresh++

			cloudEntry := &models.AuditLog{
				ID:           uuid.New(),
				OrgID:        orgID,
				UserID:       actor.UserID,
				Action:       entry.Action,
				ResourceType: entry.ResourceType,
				ResourceID:   entry.ResourceID,
				OldValues:    entry.OldValues,
				NewValues:    entry.NewValues,
				IPAddress:    actor.IPAddressOrUnknown(),
				UserAgent:    actor.UserAgentOrUnknown(),
				CreatedAt:    entry.CreatedAt,
			}
			if err := s.cloud.CreateAuditLog(ctx, cloudEntry); err != nil {
				s.logger.Warn().Err(err).Int64("audit_log_id", entry.ID).
					Msg("audit log upload failed, will retry next cycle")
				failed[entry.ID] = true
				continue
			}
			uploaded = append(uploaded, entry.ID)
		}

		if len(uploaded) > 0 {
			if err := s.local.MarkAuditLogsAsSynced(uploaded); err != nil {
				return fmt.Errorf("mark audit logs synced: %w", err)
			}
		}
		report.AuditLogsUploaded += len(uploaded)

		if ctx.Err() != nil || fresh == 0 || len(entries) < limit {
			return nil
		}
	}
}

// drainQueue replays the offline mutation queue page by page until it is
// empty or only retained items remain. Successful items are removed;
// unsupported operations are logged and stay queued without a retry penalty;
// genuine failures increment the retry count and dead-letter at the limit.
func (s *Syncer) drainQueue(ctx context.Context, orgID uuid.UUID, report *models.UploadReport) error {
	// Items that stay queued (unsupported ops, failures below the retry
	// limit) clog the head of the queue, so the fetch window grows to reach
	// past them.
	retained := make(map[int64]bool)
	for {
		limit := queueDrainPage + len(retained)
		items, err := s.local.GetOfflineQueueItems(limit)
		if err != nil {
			return fmt.Errorf("load offline queue: %w", err)
		}

		fresh := 0
		for _, item := range items {
			if retained[item.ID] {
				continue
			}
			if err := ctx.Err(); err != nil {
				break
			}
			fresh++

			supported, err := s.replayQueueItem(ctx, orgID, item)
			switch {
			case !supported:
				s.logger.Warn().Int64("queue_id", item.ID).
					Str("action", string(item.Action)).
					Str("table", string(item.Table)).
					Msg("queue operation not implemented, item stays queued")
				report.ItemsSkipped++
				s.countUpload("skipped")
				retained[item.ID] = true

			case err != nil:
				if !s.failQueueItem(item, err, report) {
					retained[item.ID] = true
				}

			default:
				if err := s.local.RemoveOfflineQueueItem(item.ID); err != nil {
					s.logger.Error().Err(err).Int64("queue_id", item.ID).
						Msg("failed to remove replayed queue item")
					retained[item.ID] = true
				}
				report.ItemsUploaded++
				s.countUpload("uploaded")
			}
		}

		if ctx.Err() != nil || fresh == 0 || len(items) < limit {
			return nil
		}
	}
}

// replayQueueItem applies one queued mutation to the cloud store. The first
// return value reports whether the (action, table) pair is implemented at
// all; unsupported pairs are not failures.
func (s *Syncer) replayQueueItem(ctx context.Context, orgID uuid.UUID, item *models.OfflineQueueItem) (supported bool, err error) {
	if _, err := models.ParseTable(string(item.Table)); err != nil {
		return false, nil
	}
	if item.Action != models.QueueActionCreate {
		return false, nil
	}

	switch item.Table {
	case models.TableDevices:
		var device models.Device
		if err := json.Unmarshal(item.Payload, &device); err != nil {
			return true, fmt.Errorf("decode device payload: %w", err)
		}
		device.OrgID = orgID
		if device.ID == uuid.Nil {
			device.ID = uuid.New()
		}
		if device.CreatedAt.IsZero() {
			device.CreatedAt = item.CreatedAt
		}
		if device.UpdatedAt.IsZero() {
			device.UpdatedAt = time.Now()
		}
		return true, s.cloud.CreateDevice(ctx, &device)

	case models.TableIncidents:
		var incident models.Incident
		if err := json.Unmarshal(item.Payload, &incident); err != nil {
			return true, fmt.Errorf("decode incident payload: %w", err)
		}
		incident.OrgID = orgID
		if incident.ID == uuid.Nil {
			incident.ID = uuid.New()
		}
		if incident.Status == "" {
			incident.Status = models.IncidentStatusOpen
		}
		if incident.CreatedAt.IsZero() {
			incident.CreatedAt = item.CreatedAt
		}
		if incident.UpdatedAt.IsZero() {
			incident.UpdatedAt = time.Now()
		}
		return true, s.cloud.CreateIncident(ctx, &incident)

	default:
		return false, nil
	}
}

// failQueueItem records a genuine replay failure: retry counter, then the
// dead-letter set once the limit is reached. It reports whether the item
// left the live queue.
func (s *Syncer) failQueueItem(item *models.OfflineQueueItem, replayErr error, report *models.UploadReport) bool {
	count, err := s.local.IncrementRetry(item.ID)
	if err != nil {
		s.logger.Error().Err(err).Int64("queue_id", item.ID).
			Msg("failed to increment queue retry count")
		report.ItemsFailed++
		s.countUpload("failed")
		return false
	}

	if count >= s.maxRetries {
		if err := s.local.MoveToDeadLetter(item.ID, replayErr.Error()); err != nil {
			s.logger.Error().Err(err).Int64("queue_id", item.ID).
				Msg("failed to dead-letter exhausted queue item")
			report.ItemsFailed++
			s.countUpload("failed")
			return false
		}
		s.logger.Error().Err(replayErr).Int64("queue_id", item.ID).
			Int("retries", count).
			Msg("queue item exhausted retries, moved to dead letter")
		report.ItemsDeadLettered++
		s.countUpload("dead_lettered")
		if s.metrics != nil {
			s.metrics.DeadLetters.Inc()
		}
		return true
	}

	s.logger.Warn().Err(replayErr).Int64("queue_id", item.ID).
		Int("retries", count).
		Msg("queue item replay failed, will retry")
	report.ItemsFailed++
	s.countUpload("failed")
	return false
}

func (s *Syncer) countUpload(outcome string) {
	if s.metrics != nil {
		s.metrics.UploadItems.WithLabelValues(outcome).Inc()
	}
}
