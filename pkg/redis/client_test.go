package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/reflect-bot/pkg/config"
)

func TestMetricsClient_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := New(ctx, ConfigFrom(config.RedisConfig{Addr: mr.Addr()}))
	require.NoError(t, err)
	m := NewMetricsClient(client)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.True(t, errors.Is(err, goredis.Nil))
	assert.Same(t, client, m.Raw())
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Config{Addr: addr, MaxRetries: -1})
	assert.Error(t, err)
}

func TestMetricsClient_MissIsNotAnError(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := New(ctx, Config{Addr: mr.Addr()})
	require.NoError(t, err)
	m := NewMetricsClient(client)
	t.Cleanup(func() { _ = m.Close() })

	before := testutil.ToFloat64(redisRequestsTotal.WithLabelValues("get", resultMiss))
	_, err = m.Get(ctx, "absent")
	assert.ErrorIs(t, err, goredis.Nil)

	assert.Equal(t, before+1, testutil.ToFloat64(redisRequestsTotal.WithLabelValues("get", resultMiss)))
	assert.Zero(t, testutil.ToFloat64(redisRequestsTotal.WithLabelValues("get", resultError)))
}
