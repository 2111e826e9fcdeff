package redis

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

// Request results. A missing key is a miss, not an error.
const (
	resultOK    = "ok"
	resultMiss  = "miss"
	resultError = "error"
)

var (
	redisRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_requests_total",
			Help: "Redis requests by method and result.",
		},
		[]string{"method", "result"},
	)
	redisRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_request_duration_seconds",
			Help:    "Redis request latency by method.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(redisRequestsTotal, redisRequestDuration)
}

// MetricsClient records request counts and latency for the cache operations.
type MetricsClient struct {
	next *Client
}

// NewMetricsClient wraps next.
func NewMetricsClient(next *Client) *MetricsClient {
	return &MetricsClient{next: next}
}

// Get returns goredis.Nil for a missing key.
func (m *MetricsClient) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := observe("get", func() error {
		var err error
		value, err = m.next.Get(ctx, key)
		return err
	})
	return value, err
}

func (m *MetricsClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return observe("set", func() error { return m.next.Set(ctx, key, value, ttl) })
}

func (m *MetricsClient) Delete(ctx context.Context, key string) error {
	return observe("delete", func() error { return m.next.Delete(ctx, key) })
}

func (m *MetricsClient) RunScript(ctx context.Context, script *goredis.Script, keys []string, args ...interface{}) (interface{}, error) {
	var out interface{}
	err := observe("script", func() error {
		var err error
		out, err = m.next.RunScript(ctx, script, keys, args...)
		return err
	})
	return out, err
}

func (m *MetricsClient) Close() error {
	return m.next.Close()
}

// Raw returns the underlying client for commands the wrapper does not instrument.
func (m *MetricsClient) Raw() *Client {
	return m.next
}

func observe(method string, fn func() error) error {
	start := time.Now()
	err := fn()
	redisRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	result := resultOK
	switch {
	case errors.Is(err, goredis.Nil):
		result = resultMiss
	case err != nil:
		result = resultError
	}
	redisRequestsTotal.WithLabelValues(method, result).Inc()

	return err
}
