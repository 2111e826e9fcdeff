package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryLimiter keeps a sliding window of hit times per key in process. It backs
// single-instance deployments and stands in for Redis when Redis is unavailable.
type MemoryLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
	log  *slog.Logger
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an empty MemoryLimiter.
func NewMemoryLimiter(log *slog.Logger) *MemoryLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &MemoryLimiter{
		hits: make(map[string][]time.Time),
		log:  log,
	}
}

// Check records a hit for key unless limit hits already fall inside window.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	hits := trimBefore(m.hits[key], now.Add(-window))

	res := &Result{ResetAt: now.Add(window)}
	if len(hits) > 0 {
		res.ResetAt = hits[0].Add(window)
	}

	if len(hits) >= limit {
		m.hits[key] = hits
		return res, ErrLimitExceeded
	}

	hits = append(hits, now)
	m.hits[key] = hits
	res.Allowed = true
	res.Remaining = limit - len(hits)

	return res, nil
}

// Cleanup forgets keys whose latest hit is older than maxAge.
func (m *MemoryLimiter) Cleanup(maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	cutoff := m.clock().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, hits := range m.hits {
		if len(hits) == 0 || hits[len(hits)-1].Before(cutoff) {
			delete(m.hits, key)
		}
	}
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

func (m *MemoryLimiter) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// trimBefore drops hits older than start, reusing the backing array.
func trimBefore(hits []time.Time, start time.Time) []time.Time {
	i := 0
	for i < len(hits) && hits[i].Before(start) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
