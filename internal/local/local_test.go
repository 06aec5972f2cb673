package local

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-security/odin-sync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	store, err := New(Config{Path: filepath.Join(t.TempDir(), "cache.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestCacheOrganizationRoundTrip(t *testing.T) {
	store := newTestStore(t)

	org := models.NewOrganization("Acme Corp", "acme-corp")
	org.Settings = json.RawMessage(`{"theme":"dark"}`)
	require.NoError(t, store.CacheOrganization(org))

	cached, err := store.GetCachedOrganization(org.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, org.ID, cached.ID)
	assert.Equal(t, "Acme Corp", cached.Name)
	assert.Equal(t, "acme-corp", cached.Slug)
	assert.JSONEq(t, `{"theme":"dark"}`, string(cached.Settings))
	assert.False(t, cached.LastSyncedAt.IsZero())

	// Re-caching updates in place rather than duplicating.
	org.Name = "Acme Corporation"
	require.NoError(t, store.CacheOrganization(org))
	cached, err = store.GetCachedOrganization(org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", cached.Name)
}

func TestGetCachedOrganizationMissing(t *testing.T) {
	store := newTestStore(t)

	cached, err := store.GetCachedOrganization(uuid.New())
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestCacheUsersByOrg(t *testing.T) {
	store := newTestStore(t)
	orgID := uuid.New()

	for i, email := range []string{"a@example.com", "b@example.com"} {
		user := &models.User{
			ID:        uuid.New(),
			OrgID:     orgID,
			Email:     email,
			FirstName: "User",
			Role:      models.UserRoleViewer,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
			UpdatedAt: time.Now(),
		}
		require.NoError(t, store.CacheUser(user))
	}

	// A user in another org must not leak in.
	other := &models.User{
		ID:        uuid.New(),
		OrgID:     uuid.New(),
		Email:     "other@example.com",
		Role:      models.UserRoleAdmin,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CacheUser(other))

	users, err := store.GetCachedUsersByOrg(orgID)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	for _, u := range users {
		assert.Equal(t, orgID, u.OrgID)
	}
}

func TestCacheDeviceRoundTrip(t *testing.T) {
	store := newTestStore(t)
	orgID := uuid.New()

	device := models.NewDevice(orgID, "edge-01", "gateway", "linux")
	device.IPAddress = "10.0.0.5"
	device.Status = models.DeviceStatusOnline
	now := time.Now().Truncate(time.Second)
	device.LastSeenAt = &now
	device.Metadata = json.RawMessage(`{"rack":"b2"}`)
	require.NoError(t, store.CacheDevice(device))

	devices, err := store.GetCachedDevicesByOrg(orgID, 10)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	got := devices[0]
	assert.Equal(t, device.ID, got.ID)
	assert.Equal(t, "10.0.0.5", got.IPAddress)
	assert.Equal(t, models.DeviceStatusOnline, got.Status)
	require.NotNil(t, got.LastSeenAt)
	assert.WithinDuration(t, now, *got.LastSeenAt, time.Second)
	assert.JSONEq(t, `{"rack":"b2"}`, string(got.Metadata))
}

func TestCacheDeviceUnknownStatusBucket(t *testing.T) {
	store := newTestStore(t)
	orgID := uuid.New()

	device := models.NewDevice(orgID, "edge-02", "sensor", "linux")
	device.Status = models.DeviceStatus("rebooting")
	require.NoError(t, store.CacheDevice(device))

	devices, err := store.GetCachedDevicesByOrg(orgID, 10)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, models.DeviceStatusUnknown, devices[0].Status)
}

func TestGetRecentEventsWindow(t *testing.T) {
	store := newTestStore(t)
	orgID := uuid.New()

	recent := models.NewEvent(orgID, "login_failure", models.SeverityMedium, "auth", "bad password")
	recent.Tags = []string{"auth", "brute-force"}
	require.NoError(t, store.CacheEvent(recent))

	old := models.NewEvent(orgID, "disk_full", models.SeverityLow, "system", "disk at 95%")
	old.CreatedAt = time.Now().AddDate(0, 0, -30)
	require.NoError(t, store.CacheEvent(old))

	events, err := store.GetRecentEvents(orgID, 7, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, recent.ID, events[0].ID)
	assert.Equal(t, []string{"auth", "brute-force"}, events[0].Tags)

	// A wider window finds both.
	events, err = store.GetRecentEvents(orgID, 60, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestGetActiveIncidentsSeverityOrder(t *testing.T) {
	store := newTestStore(t)
	orgID := uuid.New()

	low := models.NewIncident(orgID, "slow dashboard", models.SeverityLow)
	critical := models.NewIncident(orgID, "data exfiltration", models.SeverityCritical)
	critical.SourceEventIDs = []uuid.UUID{uuid.New(), uuid.New()}
	closed := models.NewIncident(orgID, "resolved outage", models.SeverityHigh)
	closed.Status = models.IncidentStatusClosed

	for _, in := range []*models.Incident{low, critical, closed} {
		require.NoError(t, store.CacheIncident(in))
	}

	incidents, err := store.GetActiveIncidents(orgID)
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, critical.ID, incidents[0].ID)
	assert.Equal(t, low.ID, incidents[1].ID)
	assert.Len(t, incidents[0].SourceEventIDs, 2)
}

func TestSyncStatusCursorSemantics(t *testing.T) {
	store := newTestStore(t)

	status, err := store.GetSyncStatus(models.TableEvents)
	require.NoError(t, err)
	assert.Nil(t, status)

	syncedAt := time.Now().Truncate(time.Second)
	require.NoError(t, store.UpdateSyncStatus(models.TableEvents, syncedAt, "tok-1"))

	status, err = store.GetSyncStatus(models.TableEvents)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.NotNil(t, status.LastSyncAt)
	assert.WithinDuration(t, syncedAt, *status.LastSyncAt, time.Second)
	assert.Equal(t, "tok-1", status.SyncToken)
	assert.Empty(t, status.ErrorMessage)

	// A failure records the error but leaves the cursor where it was.
	require.NoError(t, store.RecordSyncError(models.TableEvents, "connection refused"))
	status, err = store.GetSyncStatus(models.TableEvents)
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncAt)
	assert.WithinDuration(t, syncedAt, *status.LastSyncAt, time.Second)
	assert.Equal(t, "connection refused", status.ErrorMessage)

	// The next success clears the error and advances the cursor.
	later := syncedAt.Add(time.Minute)
	require.NoError(t, store.UpdateSyncStatus(models.TableEvents, later, ""))
	status, err = store.GetSyncStatus(models.TableEvents)
	require.NoError(t, err)
	assert.WithinDuration(t, later, *status.LastSyncAt, time.Second)
	assert.Empty(t, status.ErrorMessage)
}

func TestRecordSyncErrorOnFreshTable(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.RecordSyncError(models.TableUsers, "boom"))

	status, err := store.GetSyncStatus(models.TableUsers)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Nil(t, status.LastSyncAt)
	assert.Equal(t, "boom", status.ErrorMessage)
}

func TestOfflineQueueOrdering(t *testing.T) {
	store := newTestStore(t)

	normal := &models.OfflineQueueItem{
		Action:  models.QueueActionCreate,
		Table:   models.TableDevices,
		Payload: json.RawMessage(`{"name":"edge-03"}`),
	}
	urgent := &models.OfflineQueueItem{
		Action:   models.QueueActionCreate,
		Table:    models.TableIncidents,
		Payload:  json.RawMessage(`{"title":"breach"}`),
		Priority: 10,
	}
	require.NoError(t, store.AddToOfflineQueue(normal))
	require.NoError(t, store.AddToOfflineQueue(urgent))

	items, err := store.GetOfflineQueueItems(10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, urgent.ID, items[0].ID)
	assert.Equal(t, normal.ID, items[1].ID)
	assert.Equal(t, 0, items[0].RetryCount)
}

func TestOfflineQueueRetryAndDeadLetter(t *testing.T) {
	store := newTestStore(t)

	item := &models.OfflineQueueItem{
		Action:  models.QueueActionCreate,
		Table:   models.TableDevices,
		Payload: json.RawMessage(`{not json`),
	}
	require.NoError(t, store.AddToOfflineQueue(item))

	count, err := store.IncrementRetry(item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = store.IncrementRetry(item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.MoveToDeadLetter(item.ID, "decode device payload: invalid JSON"))

	// The live queue no longer holds it.
	items, err := store.GetOfflineQueueItems(10)
	require.NoError(t, err)
	assert.Empty(t, items)

	dead, err := store.ListDeadLetter(10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, item.ID, dead[0].ID)
	assert.Equal(t, 2, dead[0].RetryCount)
	assert.Contains(t, dead[0].LastError, "decode device payload")

	err = store.RemoveOfflineQueueItem(item.ID)
	assert.ErrorIs(t, err, ErrQueueItemNotFound)
}

func TestMoveToDeadLetterMissingItem(t *testing.T) {
	store := newTestStore(t)
	err := store.MoveToDeadLetter(12345, "whatever")
	assert.ErrorIs(t, err, ErrQueueItemNotFound)
}

func TestCountOfflineQueue(t *testing.T) {
	store := newTestStore(t)

	count, err := store.CountOfflineQueue()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, store.AddToOfflineQueue(&models.OfflineQueueItem{
		Action: models.QueueActionCreate,
		Table:  models.TableDevices,
	}))

	count, err = store.CountOfflineQueue()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLocalAuditLogLifecycle(t *testing.T) {
	store := newTestStore(t)

	first := &models.LocalAuditLog{
		Action:       models.AuditActionCreate,
		ResourceType: "device",
		ResourceID:   "edge-01",
		NewValues:    json.RawMessage(`{"name":"edge-01"}`),
	}
	second := &models.LocalAuditLog{
		Action:       models.AuditActionDelete,
		ResourceType: "incident",
	}
	require.NoError(t, store.CreateLocalAuditLog(first))
	require.NoError(t, store.CreateLocalAuditLog(second))

	unsynced, err := store.GetUnsyncedAuditLogs(100)
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	assert.Equal(t, first.ID, unsynced[0].ID)
	assert.False(t, unsynced[0].Synced)

	// Marking as synced keeps the rows but drops them from the unsynced set.
	require.NoError(t, store.MarkAuditLogsAsSynced([]int64{first.ID}))
	unsynced, err = store.GetUnsyncedAuditLogs(100)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, second.ID, unsynced[0].ID)
}

func TestMarkAuditLogsAsSyncedEmpty(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.MarkAuditLogsAsSynced(nil))
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	userID, orgID := uuid.New(), uuid.New()

	session := &models.Session{
		UserID:      userID,
		OrgID:       orgID,
		AccessToken: "tok-access",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(session))
	assert.NotZero(t, session.ID)

	active, err := store.GetActiveSession(userID, orgID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, active.ID)
	assert.Equal(t, "tok-access", active.AccessToken)

	require.NoError(t, store.UpdateSession(session.ID, "tok-2", "refresh-2", time.Now().Add(2*time.Hour)))
	active, err = store.GetActiveSession(userID, orgID)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", active.AccessToken)
	assert.Equal(t, "refresh-2", active.RefreshToken)

	// An expired session is not returned as active.
	require.NoError(t, store.UpdateSession(session.ID, "tok-2", "refresh-2", time.Now().Add(-time.Minute)))
	_, err = store.GetActiveSession(userID, orgID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUpdateSessionMissing(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateSession(999, "tok", "", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSettings(t *testing.T) {
	store := newTestStore(t)

	value, err := store.GetSetting("theme")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.SetSetting("theme", "dark"))
	require.NoError(t, store.SetSetting("locale", "en-GB"))
	require.NoError(t, store.SetSetting("theme", "light"))

	value, err = store.GetSetting("theme")
	require.NoError(t, err)
	assert.Equal(t, "light", value)

	all, err := store.GetAllSettings()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "light", "locale": "en-GB"}, all)
}

func TestLocalFiles(t *testing.T) {
	store := newTestStore(t)
	cloudID := uuid.New()

	file := &models.LocalFile{
		CloudFileID: cloudID,
		LocalPath:   "/var/cache/odin/report.pdf",
		SizeBytes:   2048,
	}
	require.NoError(t, store.CacheLocalFile(file))

	got, err := store.GetLocalFileByCloudID(cloudID)
	require.NoError(t, err)
	assert.Equal(t, file.LocalPath, got.LocalPath)
	assert.Equal(t, int64(2048), got.SizeBytes)
	assert.Nil(t, got.LastAccessedAt)

	require.NoError(t, store.TouchLocalFile(cloudID))
	got, err = store.GetLocalFileByCloudID(cloudID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastAccessedAt)

	_, err = store.GetLocalFileByCloudID(uuid.New())
	assert.ErrorIs(t, err, ErrLocalFileNotFound)
}

func TestCleanupOldData(t *testing.T) {
	store := newTestStore(t)
	orgID := uuid.New()

	oldEvent := models.NewEvent(orgID, "disk_full", models.SeverityLow, "system", "old")
	oldEvent.CreatedAt = time.Now().AddDate(0, 0, -60)
	newEvent := models.NewEvent(orgID, "login", models.SeverityLow, "auth", "new")
	require.NoError(t, store.CacheEvent(oldEvent))
	require.NoError(t, store.CacheEvent(newEvent))

	// Old but unsynced audit entries must survive; old synced ones go.
	syncedEntry := &models.LocalAuditLog{Action: models.AuditActionCreate, ResourceType: "device"}
	unsyncedEntry := &models.LocalAuditLog{Action: models.AuditActionDelete, ResourceType: "device"}
	require.NoError(t, store.CreateLocalAuditLog(syncedEntry))
	require.NoError(t, store.CreateLocalAuditLog(unsyncedEntry))

	past := formatTime(time.Now().AddDate(0, 0, -60))
	_, err := store.db.Exec(`UPDATE local_audit_logs SET created_at = ?`, past)
	require.NoError(t, err)
	require.NoError(t, store.MarkAuditLogsAsSynced([]int64{syncedEntry.ID}))

	result, err := store.CleanupOldData(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.EventsDeleted)
	assert.Equal(t, int64(1), result.AuditLogsDeleted)

	events, err := store.GetRecentEvents(orgID, 90, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, newEvent.ID, events[0].ID)

	unsynced, err := store.GetUnsyncedAuditLogs(100)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, unsyncedEntry.ID, unsynced[0].ID)
}
