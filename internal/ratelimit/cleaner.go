package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper drops idle state older than maxAge.
type Sweeper interface {
	Cleanup(maxAge time.Duration)
}

// Cleaner periodically sweeps in-memory limiter buckets. Redis keys expire on their own.
type Cleaner struct {
	target   Sweeper
	log      *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(target Sweeper, interval, maxAge time.Duration, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		target:   target,
		log:      log,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Run starts the cleaner loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.target == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("rate limit cleaner stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			c.target.Cleanup(c.maxAge)
		}
	}
}
