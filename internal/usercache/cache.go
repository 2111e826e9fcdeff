// Package usercache caches user records in Redis as JSON.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/reflect-bot/internal/domain"
)

// KV is the subset of the Redis client used by the cache. pkg/redis.Client and
// pkg/redis.MetricsClient both satisfy it.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
}

// generationTTL bounds how long a generation counter outlives its last invalidation. It only
// has to exceed the longest backing-store read.
const generationTTL = 24 * time.Hour

// fillScript writes the record only if the generation read before the backing-store read is
// still current, so a write that invalidated in between is never overwritten by stale data.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

// Cache provides Redis-backed caching for user records.
type Cache struct {
	client KV
	ttl    time.Duration
}

// NewCache constructs a record cache backed by the provided client.
func NewCache(client KV, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get fetches a cached record. A miss returns nil, nil.
func (c *Cache) Get(ctx context.Context, id string) (*domain.UserRecord, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, cacheKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached record: %w", err)
	}

	var rec domain.UserRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode cached record: %w", err)
	}

	return &rec, nil
}

// Generation returns the record's invalidation counter. Read it before loading the record
// from the backing store and pass it to SetIfGeneration.
func (c *Cache) Generation(ctx context.Context, id string) (string, error) {
	if c == nil || c.client == nil {
		return "", nil
	}

	gen, err := c.client.Get(ctx, generationKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "0", nil
		}
		return "", fmt.Errorf("get record generation: %w", err)
	}
	return gen, nil
}

// SetIfGeneration caches rec unless the record was invalidated after gen was read. It
// reports whether the record was stored.
func (c *Cache) SetIfGeneration(ctx context.Context, rec *domain.UserRecord, gen string) (bool, error) {
	if c == nil || c.client == nil || rec == nil {
		return false, nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record for cache: %w", err)
	}

	res, err := c.client.RunScript(ctx, fillScript,
		[]string{generationKey(rec.ID), cacheKey(rec.ID)},
		gen, string(payload), strconv.FormatInt(c.ttl.Milliseconds(), 10),
	)
	if err != nil {
		return false, fmt.Errorf("fill cached record: %w", err)
	}

	stored, _ := res.(int64)
	return stored == 1, nil
}

// Invalidate removes the cached record and bumps its generation so in-flight fills started
// before the write are discarded.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	if c == nil || c.client == nil {
		return nil
	}

	_, err := c.client.RunScript(ctx, invalidateScript,
		[]string{generationKey(id), cacheKey(id)},
		strconv.FormatInt(generationTTL.Milliseconds(), 10),
	)
	if err != nil {
		return fmt.Errorf("invalidate cached record: %w", err)
	}

	return nil
}

func cacheKey(id string) string {
	return fmt.Sprintf("user:record:%s", id)
}

func generationKey(id string) string {
	return fmt.Sprintf("user:record:gen:%s", id)
}
