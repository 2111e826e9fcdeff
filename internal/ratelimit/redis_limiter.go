package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, then adds the hit only when there is room. Rejected
// hits are not recorded so a flood does not extend the lockout.
//
// KEYS[1] key; ARGV: now (ms), window (ms), limit, member.
// Returns {allowed, count, oldest (ms)}.
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. (now - window))
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < limit then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call("PEXPIRE", KEYS[1], window)
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local first = now
if oldest[2] then
  first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// RedisLimiter shares sliding windows between instances through Redis sorted sets.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
	log    *slog.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed Limiter.
func NewRedisLimiter(client *redis.Client, log *slog.Logger) Limiter {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLimiter{
		client: client,
		now:    time.Now,
		log:    log,
	}
}

// Check reports whether key has room in window. A full window is returned as a result
// with Allowed false and a nil error; errors mean Redis could not answer.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("redis client is not configured for rate limiting")
	}

	now := l.now()
	if limit <= 0 {
		return &Result{ResetAt: now.Add(window)}, nil
	}

	raw, err := slidingWindow.Run(ctx, l.client, []string{"ratelimit:" + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		l.log.Error("rate limiter script failed", slog.String("key", key), slog.Any("error", err))
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit %s: unexpected reply %v", key, raw)
	}

	remaining := limit - int(raw[1])
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   raw[0] == 1,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(raw[2]).Add(window),
	}, nil
}
