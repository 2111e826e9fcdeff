package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_checks_total",
		Help: "Rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	backendErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_redis_errors_total",
		Help: "Redis failures that sent a check to the in-memory fallback.",
	})
)

func init() {
	prometheus.MustRegister(checksTotal, backendErrorsTotal)
}

// AdaptiveLimiter asks the shared Redis limiter first. While Redis fails, each instance
// limits on its own with half the budget, since several instances may be answering.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *slog.Logger
}

// NewAdaptiveLimiter wraps primary with an in-process fallback.
func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) Limiter {
	if log == nil {
		log = slog.Default()
	}

	return &AdaptiveLimiter{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Check returns ErrLimitExceeded with the result when key is over its limit.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	res, err := a.primary.Check(ctx, key, limit, window)
	if err == nil || isExceeded(res, err) {
		return observe("redis", res, err)
	}

	backendErrorsTotal.Inc()
	a.log.Warn("redis limiter unavailable, using in-memory fallback", slog.String("key", key), slog.Any("error", err))

	res, err = a.fallback.Check(ctx, key, max(limit/2, 1), window)
	return observe("memory", res, err)
}

func isExceeded(res *Result, err error) bool {
	return errors.Is(err, ErrLimitExceeded) && res != nil
}

// observe normalizes a full window to ErrLimitExceeded and counts the outcome.
func observe(backend string, res *Result, err error) (*Result, error) {
	if err != nil && !isExceeded(res, err) {
		return res, err
	}
	if res == nil || !res.Allowed {
		checksTotal.WithLabelValues(backend, "rejected").Inc()
		return res, ErrLimitExceeded
	}
	checksTotal.WithLabelValues(backend, "allowed").Inc()
	return res, nil
}
