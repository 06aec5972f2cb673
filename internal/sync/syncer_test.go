package sync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-security/odin-sync/internal/cloud"
	"github.com/odin-security/odin-sync/internal/local"
	"github.com/odin-security/odin-sync/internal/models"
)

// fakeCloud is an in-memory CloudStore for exercising the pipeline without
// PostgreSQL.
type fakeCloud struct {
	org       *models.Organization
	users     []*models.User
	devices   []*models.Device
	events    []*models.Event
	incidents []*models.Incident

	failTables map[models.Table]error

	eventFilters     []cloud.EventFilter
	createdDevices   []*models.Device
	createdIncidents []*models.Incident
	createdAuditLogs []*models.AuditLog

	createDeviceErr   error
	createAuditLogErr error
}

func (f *fakeCloud) failure(table models.Table) error {
	if f.failTables == nil {
		return nil
	}
	return f.failTables[table]
}

func (f *fakeCloud) GetOrganization(_ context.Context, orgID uuid.UUID) (*models.Organization, error) {
	if err := f.failure(models.TableOrganizations); err != nil {
		return nil, err
	}
	if f.org == nil || f.org.ID != orgID {
		return nil, cloud.ErrNotFound
	}
	return f.org, nil
}

func (f *fakeCloud) GetUsersByOrg(_ context.Context, _ uuid.UUID) ([]*models.User, error) {
	if err := f.failure(models.TableUsers); err != nil {
		return nil, err
	}
	return f.users, nil
}

func (f *fakeCloud) GetDevicesByOrg(_ context.Context, _ uuid.UUID, limit, offset int) ([]*models.Device, error) {
	if err := f.failure(models.TableDevices); err != nil {
		return nil, err
	}
	return page(f.devices, limit, offset), nil
}

func (f *fakeCloud) GetEventsByOrg(_ context.Context, _ uuid.UUID, filter cloud.EventFilter) ([]*models.Event, error) {
	if err := f.failure(models.TableEvents); err != nil {
		return nil, err
	}
	f.eventFilters = append(f.eventFilters, filter)
	return page(f.events, filter.Limit, filter.Offset), nil
}

func (f *fakeCloud) GetIncidentsByOrg(_ context.Context, _ uuid.UUID, _ models.IncidentStatus) ([]*models.Incident, error) {
	if err := f.failure(models.TableIncidents); err != nil {
		return nil, err
	}
	return f.incidents, nil
}

func (f *fakeCloud) CreateDevice(_ context.Context, device *models.Device) error {
	if f.createDeviceErr != nil {
		return f.createDeviceErr
	}
	f.createdDevices = append(f.createdDevices, device)
	return nil
}

func (f *fakeCloud) CreateIncident(_ context.Context, incident *models.Incident) error {
	f.createdIncidents = append(f.createdIncidents, incident)
	return nil
}

func (f *fakeCloud) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	if f.createAuditLogErr != nil {
		return f.createAuditLogErr
	}
	f.createdAuditLogs = append(f.createdAuditLogs, log)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func newTestSyncer(t *testing.T, fake *fakeCloud) (*Syncer, *local.Store) {
	t.Helper()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	localStore, err := local.New(local.Config{Path: filepath.Join(t.TempDir(), "cache.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { localStore.Close() })

	return New(fake, localStore, nil, nil, logger), localStore
}

func testOrgData() (*fakeCloud, uuid.UUID) {
	org := models.NewOrganization("Acme", "acme")
	device := models.NewDevice(org.ID, "edge-01", "gateway", "linux")
	fake := &fakeCloud{
		org: org,
		users: []*models.User{{
			ID:        uuid.New(),
			OrgID:     org.ID,
			Email:     "ops@acme.example",
			Role:      models.UserRoleAdmin,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}},
		devices: []*models.Device{device},
		events: []*models.Event{
			models.NewEvent(org.ID, "login", models.SeverityLow, "auth", "ok"),
			models.NewEvent(org.ID, "malware_detected", models.SeverityCritical, "edr", "quarantined"),
		},
		incidents: []*models.Incident{
			models.NewIncident(org.ID, "elevated errors", models.SeverityHigh),
		},
	}
	return fake, org.ID
}

func TestSyncOrganizationFullPull(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	report, err := syncer.SyncOrganization(context.Background(), orgID, Options{})
	require.NoError(t, err)
	require.Len(t, report.Tables, 6)
	assert.False(t, report.Failed())

	outcomes := map[models.Table]models.TableOutcome{}
	for _, result := range report.Tables {
		outcomes[result.Table] = result.Outcome
	}
	for _, table := range []models.Table{models.TableOrganizations, models.TableUsers,
		models.TableDevices, models.TableEvents, models.TableIncidents} {
		assert.Equal(t, models.TableOutcomeSynced, outcomes[table], string(table))
	}
	assert.Equal(t, models.TableOutcomeSkipped, outcomes[models.TableFiles])

	// The cache is populated.
	cachedOrg, err := localStore.GetCachedOrganization(orgID)
	require.NoError(t, err)
	require.NotNil(t, cachedOrg)

	devices, err := localStore.GetCachedDevicesByOrg(orgID, 10)
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	events, err := localStore.GetRecentEvents(orgID, 7, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Synced tables have cursors; the skipped table does not.
	status, err := localStore.GetSyncStatus(models.TableEvents)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.NotNil(t, status.LastSyncAt)

	status, err = localStore.GetSyncStatus(models.TableFiles)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestSyncAbortsRemainingTablesOnFailure(t *testing.T) {
	fake, orgID := testOrgData()
	fake.failTables = map[models.Table]error{
		models.TableEvents: errors.New("connection refused"),
	}
	syncer, localStore := newTestSyncer(t, fake)

	report, err := syncer.SyncOrganization(context.Background(), orgID, Options{})
	require.NoError(t, err)
	assert.True(t, report.Failed())

	outcomes := map[models.Table]models.TableOutcome{}
	for _, result := range report.Tables {
		outcomes[result.Table] = result.Outcome
	}
	assert.Equal(t, models.TableOutcomeSynced, outcomes[models.TableDevices])
	assert.Equal(t, models.TableOutcomeFailed, outcomes[models.TableEvents])
	assert.Equal(t, models.TableOutcomeAborted, outcomes[models.TableIncidents])
	assert.Equal(t, models.TableOutcomeAborted, outcomes[models.TableFiles])

	// The failed table keeps its error and no cursor; aborted tables were
	// never touched.
	status, err := localStore.GetSyncStatus(models.TableEvents)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Nil(t, status.LastSyncAt)
	assert.Contains(t, status.ErrorMessage, "connection refused")

	status, err = localStore.GetSyncStatus(models.TableIncidents)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestSyncFailureDoesNotRewindCursor(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	_, err := syncer.SyncOrganization(context.Background(), orgID, Options{})
	require.NoError(t, err)

	before, err := localStore.GetSyncStatus(models.TableEvents)
	require.NoError(t, err)
	require.NotNil(t, before.LastSyncAt)

	fake.failTables = map[models.Table]error{
		models.TableEvents: errors.New("timeout"),
	}
	report, err := syncer.SyncOrganization(context.Background(), orgID, Options{})
	require.NoError(t, err)
	assert.True(t, report.Failed())

	after, err := localStore.GetSyncStatus(models.TableEvents)
	require.NoError(t, err)
	require.NotNil(t, after.LastSyncAt)
	assert.Equal(t, before.LastSyncAt.Unix(), after.LastSyncAt.Unix())
	assert.Contains(t, after.ErrorMessage, "timeout")
}

func TestSyncEventsIncrementalFromCursor(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	cursor := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	require.NoError(t, localStore.UpdateSyncStatus(models.TableEvents, cursor, ""))

	_, err := syncer.SyncOrganization(context.Background(), orgID, Options{
		Tables: []models.Table{models.TableEvents},
	})
	require.NoError(t, err)

	require.NotEmpty(t, fake.eventFilters)
	require.NotNil(t, fake.eventFilters[0].StartDate)
	assert.WithinDuration(t, cursor, *fake.eventFilters[0].StartDate, time.Second)
}

func TestSyncEventsSinceOverridesCursor(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	cursor := time.Now().Add(-time.Hour)
	require.NoError(t, localStore.UpdateSyncStatus(models.TableEvents, cursor, ""))

	since := time.Now().AddDate(0, 0, -30).Truncate(time.Second)
	_, err := syncer.SyncOrganization(context.Background(), orgID, Options{
		Tables: []models.Table{models.TableEvents},
		Since:  &since,
	})
	require.NoError(t, err)

	// The explicit override wins over the stored cursor.
	require.NotEmpty(t, fake.eventFilters)
	require.NotNil(t, fake.eventFilters[0].StartDate)
	assert.WithinDuration(t, since, *fake.eventFilters[0].StartDate, time.Second)
}

func TestSyncEventsFirstPullUsesLookback(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, _ := newTestSyncer(t, fake)

	_, err := syncer.SyncOrganization(context.Background(), orgID, Options{
		Tables:            []models.Table{models.TableEvents},
		EventLookbackDays: 3,
	})
	require.NoError(t, err)

	require.NotEmpty(t, fake.eventFilters)
	require.NotNil(t, fake.eventFilters[0].StartDate)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -3), *fake.eventFilters[0].StartDate, time.Minute)
}

func TestSyncLockConflict(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, _ := newTestSyncer(t, fake)

	release, err := syncer.locker.TryLock(context.Background(), orgID)
	require.NoError(t, err)
	defer release()

	_, err = syncer.SyncOrganization(context.Background(), orgID, Options{})
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSyncCancelledContext(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, _ := newTestSyncer(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := syncer.SyncOrganization(ctx, orgID, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	for _, result := range report.Tables {
		assert.Equal(t, models.TableOutcomeAborted, result.Outcome)
	}
}

func TestUploadReplaysAuditLogs(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	entry := &models.LocalAuditLog{
		Action:       models.AuditActionCreate,
		ResourceType: "device",
		ResourceID:   "edge-01",
		NewValues:    json.RawMessage(`{"name":"edge-01"}`),
	}
	require.NoError(t, localStore.CreateLocalAuditLog(entry))

	userID := uuid.New()
	report, err := syncer.UploadOfflineChanges(context.Background(), orgID, models.ActorContext{
		UserID: &userID,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.AuditLogsUploaded)

	require.Len(t, fake.createdAuditLogs, 1)
	uploaded := fake.createdAuditLogs[0]
	assert.Equal(t, orgID, uploaded.OrgID)
	assert.Equal(t, models.AuditActionCreate, uploaded.Action)
	require.NotNil(t, uploaded.UserID)
	assert.Equal(t, userID, *uploaded.UserID)
	// Absent actor fields are recorded explicitly, not left empty.
	assert.Equal(t, "unknown", uploaded.IPAddress)
	assert.Equal(t, "unknown", uploaded.UserAgent)

	unsynced, err := localStore.GetUnsyncedAuditLogs(100)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestUploadAuditFailureLeavesEntryUnsynced(t *testing.T) {
	fake, orgID := testOrgData()
	fake.createAuditLogErr = errors.New("unavailable")
	syncer, localStore := newTestSyncer(t, fake)

	require.NoError(t, localStore.CreateLocalAuditLog(&models.LocalAuditLog{
		Action:       models.AuditActionUpdate,
		ResourceType: "incident",
	}))

	report, err := syncer.UploadOfflineChanges(context.Background(), orgID, models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.AuditLogsUploaded)

	unsynced, err := localStore.GetUnsyncedAuditLogs(100)
	require.NoError(t, err)
	assert.Len(t, unsynced, 1)
}

func TestUploadQueueCreateDevice(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	payload, err := json.Marshal(models.Device{Name: "edge-09", DeviceType: "sensor", OS: "linux"})
	require.NoError(t, err)
	require.NoError(t, localStore.AddToOfflineQueue(&models.OfflineQueueItem{
		Action:  models.QueueActionCreate,
		Table:   models.TableDevices,
		Payload: payload,
	}))

	report, err := syncer.UploadOfflineChanges(context.Background(), orgID, models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsUploaded)
	assert.Zero(t, report.ItemsFailed)

	require.Len(t, fake.createdDevices, 1)
	created := fake.createdDevices[0]
	assert.Equal(t, "edge-09", created.Name)
	assert.Equal(t, orgID, created.OrgID)
	assert.NotEqual(t, uuid.Nil, created.ID)

	items, err := localStore.GetOfflineQueueItems(10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUploadQueueUnsupportedOperationStaysQueued(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	require.NoError(t, localStore.AddToOfflineQueue(&models.OfflineQueueItem{
		Action:   models.QueueActionUpdate,
		Table:    models.TableDevices,
		RecordID: uuid.NewString(),
		Payload:  json.RawMessage(`{"name":"edge-01"}`),
	}))
	require.NoError(t, localStore.AddToOfflineQueue(&models.OfflineQueueItem{
		Action:  models.QueueActionCreate,
		Table:   models.Table("widgets"),
		Payload: json.RawMessage(`{}`),
	}))

	report, err := syncer.UploadOfflineChanges(context.Background(), orgID, models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ItemsSkipped)
	assert.Zero(t, report.ItemsUploaded)
	assert.Zero(t, report.ItemsFailed)

	// Skipped items stay queued with no retry penalty.
	items, err := localStore.GetOfflineQueueItems(10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Zero(t, item.RetryCount)
	}
}

func TestUploadQueueDeadLettersAfterRetries(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	require.NoError(t, localStore.AddToOfflineQueue(&models.OfflineQueueItem{
		Action:  models.QueueActionCreate,
		Table:   models.TableDevices,
		Payload: json.RawMessage(`{not valid json`),
	}))

	for i := 0; i < local.DefaultMaxRetries-1; i++ {
		report, err := syncer.UploadOfflineChanges(context.Background(), orgID, models.ActorContext{})
		require.NoError(t, err)
		assert.Equal(t, 1, report.ItemsFailed)
		assert.Zero(t, report.ItemsDeadLettered)
	}

	report, err := syncer.UploadOfflineChanges(context.Background(), orgID, models.ActorContext{})
	require.NoError(t, err)
	assert.Zero(t, report.ItemsFailed)
	assert.Equal(t, 1, report.ItemsDeadLettered)

	items, err := localStore.GetOfflineQueueItems(10)
	require.NoError(t, err)
	assert.Empty(t, items)

	dead, err := localStore.ListDeadLetter(10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].LastError, "decode device payload")
}

func TestUploadQueueCreateDeviceCloudError(t *testing.T) {
	fake, orgID := testOrgData()
	fake.createDeviceErr = errors.New("unique violation")
	syncer, localStore := newTestSyncer(t, fake)

	require.NoError(t, localStore.AddToOfflineQueue(&models.OfflineQueueItem{
		Action:  models.QueueActionCreate,
		Table:   models.TableDevices,
		Payload: json.RawMessage(`{"name":"dup"}`),
	}))

	report, err := syncer.UploadOfflineChanges(context.Background(), orgID, models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsFailed)

	items, err := localStore.GetOfflineQueueItems(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
}

func TestUploadDrainsBacklogBeyondOnePage(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	const auditEntries = auditReplayPage + 25
	for i := 0; i < auditEntries; i++ {
		require.NoError(t, localStore.CreateLocalAuditLog(&models.LocalAuditLog{
			Action:       models.AuditActionCreate,
			ResourceType: "device",
		}))
	}

	// Unsupported items at the head of the queue must not stall the drain
	// or be counted more than once.
	for i := 0; i < 3; i++ {
		require.NoError(t, localStore.AddToOfflineQueue(&models.OfflineQueueItem{
			Action:   models.QueueActionUpdate,
			Table:    models.TableDevices,
			RecordID: uuid.NewString(),
			Payload:  json.RawMessage(`{}`),
			Priority: 5,
		}))
	}

	const creates = queueDrainPage + 10
	payload, err := json.Marshal(models.Device{Name: "edge", DeviceType: "sensor", OS: "linux"})
	require.NoError(t, err)
	for i := 0; i < creates; i++ {
		require.NoError(t, localStore.AddToOfflineQueue(&models.OfflineQueueItem{
			Action:  models.QueueActionCreate,
			Table:   models.TableDevices,
			Payload: payload,
		}))
	}

	report, err := syncer.UploadOfflineChanges(context.Background(), orgID, models.ActorContext{})
	require.NoError(t, err)
	assert.Equal(t, auditEntries, report.AuditLogsUploaded)
	assert.Equal(t, creates, report.ItemsUploaded)
	assert.Equal(t, 3, report.ItemsSkipped)
	assert.Zero(t, report.ItemsFailed)

	unsynced, err := localStore.GetUnsyncedAuditLogs(auditEntries)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	// Only the unsupported items remain queued.
	remaining, err := localStore.CountOfflineQueue()
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestNeedsSync(t *testing.T) {
	fake, orgID := testOrgData()
	syncer, localStore := newTestSyncer(t, fake)

	// Never synced.
	needs, err := syncer.NeedsSync(0)
	require.NoError(t, err)
	assert.True(t, needs)

	_, err = syncer.SyncOrganization(context.Background(), orgID, Options{})
	require.NoError(t, err)

	needs, err = syncer.NeedsSync(0)
	require.NoError(t, err)
	assert.False(t, needs)

	// A stale cursor on one table flips it back.
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, localStore.UpdateSyncStatus(models.TableDevices, stale, ""))
	needs, err = syncer.NeedsSync(5*time.Minute)
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestGetSyncStatusIncludesAllTables(t *testing.T) {
	fake, _ := testOrgData()
	syncer, _ := newTestSyncer(t, fake)

	statuses, err := syncer.GetSyncStatus()
	require.NoError(t, err)
	assert.Len(t, statuses, len(models.DefaultTables()))
	for _, table := range models.DefaultTables() {
		require.NotNil(t, statuses[table])
		assert.Nil(t, statuses[table].LastSyncAt)
	}
}

func TestMutexLocker(t *testing.T) {
	locker := NewMutexLocker()
	orgA, orgB := uuid.New(), uuid.New()

	releaseA, err := locker.TryLock(context.Background(), orgA)
	require.NoError(t, err)

	// Same org conflicts, a different org does not.
	_, err = locker.TryLock(context.Background(), orgA)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	releaseB, err := locker.TryLock(context.Background(), orgB)
	require.NoError(t, err)
	releaseB()

	releaseA()
	releaseA2, err := locker.TryLock(context.Background(), orgA)
	require.NoError(t, err)
	releaseA2()
}
