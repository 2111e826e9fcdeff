package prompts

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Proton-105/reflect-bot/internal/domain"
)

const recentKeyPattern = "prompts:recent:%s"

// RecentTracker remembers which prompts of a category were issued since the last reset.
type RecentTracker interface {
	Issued(ctx context.Context, category domain.Category) (map[string]struct{}, error)
	Mark(ctx context.Context, category domain.Category, text string) error
	Reset(ctx context.Context, category domain.Category) error
}

// MemoryTracker keeps recently issued prompts in process memory.
type MemoryTracker struct {
	mu     sync.Mutex
	issued map[domain.Category]map[string]struct{}
}

// NewMemoryTracker returns an empty in-process tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{issued: make(map[domain.Category]map[string]struct{})}
}

// Issued returns a copy of the issued set for category.
func (t *MemoryTracker) Issued(_ context.Context, category domain.Category) (map[string]struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]struct{}, len(t.issued[category]))
	for text := range t.issued[category] {
		out[text] = struct{}{}
	}
	return out, nil
}

// Mark records text as issued.
func (t *MemoryTracker) Mark(_ context.Context, category domain.Category, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.issued[category]
	if !ok {
		set = make(map[string]struct{})
		t.issued[category] = set
	}
	set[text] = struct{}{}
	return nil
}

// Reset clears the issued set for category.
func (t *MemoryTracker) Reset(_ context.Context, category domain.Category) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.issued, category)
	return nil
}

// RedisTracker shares recently issued prompts across instances using Redis sets.
type RedisTracker struct {
	client *redis.Client
}

// NewRedisTracker constructs a Redis-backed tracker.
func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

// Issued loads the issued set for category.
func (t *RedisTracker) Issued(ctx context.Context, category domain.Category) (map[string]struct{}, error) {
	members, err := t.client.SMembers(ctx, recentKey(category)).Result()
	if err != nil {
		return nil, fmt.Errorf("load recent prompts: %w", err)
	}

	out := make(map[string]struct{}, len(members))
	for _, text := range members {
		out[text] = struct{}{}
	}
	return out, nil
}

// Mark adds text to the issued set.
func (t *RedisTracker) Mark(ctx context.Context, category domain.Category, text string) error {
	if err := t.client.SAdd(ctx, recentKey(category), text).Err(); err != nil {
		return fmt.Errorf("mark recent prompt: %w", err)
	}
	return nil
}

// Reset drops the issued set.
func (t *RedisTracker) Reset(ctx context.Context, category domain.Category) error {
	if err := t.client.Del(ctx, recentKey(category)).Err(); err != nil {
		return fmt.Errorf("reset recent prompts: %w", err)
	}
	return nil
}

func recentKey(category domain.Category) string {
	return fmt.Sprintf(recentKeyPattern, category)
}
