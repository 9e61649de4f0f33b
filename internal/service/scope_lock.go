package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/logger"
)

const (
	defaultLockTTL     = 30 * time.Second
	defaultLockTimeout = 15 * time.Second
	lockPollInterval   = 25 * time.Millisecond
)

// ScopeLocker serializes the duplicate check and the embedding insert of one
// (owner, kind) scope, so two concurrent uploads of the same photo by one
// user cannot both pass the check.
type ScopeLocker interface {
	// Lock blocks until the scope is held or ctx is done. The returned
	// function releases the lock and is safe to call once.
	Lock(ctx context.Context, ownerID string, kind domain.EmbeddingKind) (func(), error)
}

func scopeKey(ownerID string, kind domain.EmbeddingKind) string {
	return fmt.Sprintf("ecosync:dupscope:%s:%s", kind, ownerID)
}

// NopScopeLocker never blocks.
type NopScopeLocker struct{}

// Lock returns immediately.
func (NopScopeLocker) Lock(context.Context, string, domain.EmbeddingKind) (func(), error) {
	return func() {}, nil
}

// LocalScopeLocker is an in-process keyed mutex. Entries are dropped when
// no goroutine holds or waits for them.
type LocalScopeLocker struct {
	mu    sync.Mutex
	slots map[string]*scopeSlot
}

type scopeSlot struct {
	sem  chan struct{}
	refs int
}

// NewLocalScopeLocker creates an empty LocalScopeLocker.
func NewLocalScopeLocker() *LocalScopeLocker {
	return &LocalScopeLocker{slots: make(map[string]*scopeSlot)}
}

// Lock acquires the scope's slot.
func (l *LocalScopeLocker) Lock(ctx context.Context, ownerID string, kind domain.EmbeddingKind) (func(), error) {
	key := scopeKey(ownerID, kind)

	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &scopeSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot, false)
		return nil, fmt.Errorf("timed out waiting for scope %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, slot, true) })
	}, nil
}

func (l *LocalScopeLocker) release(key string, slot *scopeSlot, held bool) {
	if held {
		<-slot.sem
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisScopeLocker holds scopes across API replicas with SET NX PX.
// The TTL bounds how long a crashed holder blocks its scope.
type RedisScopeLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisScopeLocker creates a locker on rdb.
func NewRedisScopeLocker(rdb *redis.Client, ttl time.Duration) *RedisScopeLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisScopeLocker{rdb: rdb, ttl: ttl}
}

// Lock polls SET NX until it succeeds or ctx is done.
func (r *RedisScopeLocker) Lock(ctx context.Context, ownerID string, kind domain.EmbeddingKind) (func(), error) {
	key := scopeKey(ownerID, kind)
	token := uuid.New().String()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire scope %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for scope %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release on a fresh context: the request context may already be done.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
				logger.GetDefault().WithError(err).WithField("key", key).Warn("Failed to release scope lock")
			}
		})
	}, nil
}

// NewScopeLocker connects to Redis when redisURL is set and reachable,
// otherwise it falls back to in-process locking.
func NewScopeLocker(redisURL string, ttl time.Duration) (ScopeLocker, *redis.Client) {
	log := logger.GetDefault().WithField(logger.FieldComponent, "scope_lock")
	if redisURL == "" {
		log.Info("redis: no URL configured, using in-process scope locks")
		return NewLocalScopeLocker(), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.WithError(err).Warn("redis: invalid URL, using in-process scope locks")
		return NewLocalScopeLocker(), nil
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis: connection failed, using in-process scope locks")
		_ = rdb.Close()
		return NewLocalScopeLocker(), nil
	}

	log.Info("redis: connected, using distributed scope locks")
	return NewRedisScopeLocker(rdb, ttl), rdb
}
