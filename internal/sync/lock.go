package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSyncInProgress is returned when another sync already holds the
// organization's lock.
var ErrSyncInProgress = errors.New("sync already in progress for organization")

// OrgLocker serializes sync runs per organization. TryLock returns a release
// function on success and ErrSyncInProgress when the lock is held.
type OrgLocker interface {
	TryLock(ctx context.Context, orgID uuid.UUID) (func(), error)
}

// MutexLocker is an in-process OrgLocker for single-instance deployments.
type MutexLocker struct {
	mu   stdsync.Mutex
	held map[uuid.UUID]bool
}

// NewMutexLocker creates an in-process per-org locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{held: make(map[uuid.UUID]bool)}
}

// TryLock acquires the in-process lock for an organization.
func (l *MutexLocker) TryLock(_ context.Context, orgID uuid.UUID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[orgID] {
		return nil, ErrSyncInProgress
	}
	l.held[orgID] = true

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, orgID)
	}, nil
}

// releaseScript deletes the lock key only if this holder still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker is a distributed OrgLocker for deployments where multiple
// instances may sync the same organization.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a Redis-backed per-org locker. The TTL bounds how
// long a crashed holder can block other instances; it should comfortably
// exceed the longest expected sync run.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// TryLock acquires the distributed lock for an organization.
func (l *RedisLocker) TryLock(ctx context.Context, orgID uuid.UUID) (func(), error) {
	key := "odin-sync:lock:" + orgID.String()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		// The TTL reclaims the lock if the release is lost.
		_, _ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Result()
	}, nil
}
