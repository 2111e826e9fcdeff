package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	userLockKeyPattern = "user:lock:%s"
	defaultLockTTL     = 5 * time.Second
	defaultLockWait    = 3 * time.Second
	lockRetryInterval  = 25 * time.Millisecond
)

// releaseScript deletes the lock only when it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker provides mutual exclusion per user.
type Locker interface {
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

// LocalLocker is a keyed mutex for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLocker returns an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

// Acquire blocks until the user's lock is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, userID string) (func(), error) {
	for {
		l.mu.Lock()
		waitCh, busy := l.held[userID]
		if !busy {
			done := make(chan struct{})
			l.held[userID] = done
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, userID)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCh:
		}
	}
}

// RedisLocker holds per-user locks in Redis so that several instances exclude each other.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	log    *slog.Logger
}

// NewRedisLocker creates a Redis-backed locker. ttl bounds how long a crashed holder keeps the
// lock and wait bounds how long Acquire retries.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, log *slog.Logger) *RedisLocker {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}

	return &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		log:    log,
	}
}

// Acquire retries SETNX until it succeeds, the wait limit passes, or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, userID string) (func(), error) {
	key := fmt.Sprintf(userLockKeyPattern, userID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if l.log != nil {
				l.log.Error("failed to acquire user lock", "user_id", userID, "error", err)
			}
			return nil, err
		}

		if acquired {
			return func() { l.release(key, token, userID) }, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrUserLocked
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (l *RedisLocker) release(key, token, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && l.log != nil {
		l.log.Error("failed to release user lock", "user_id", userID, "error", err)
	}
}
