package health

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type fakeTicks struct {
	last     time.Time
	interval time.Duration
}

func (f fakeTicks) LastTick() time.Time         { return f.last }
func (f fakeTicks) TickInterval() time.Duration { return f.interval }

func TestChecker_Aggregates(t *testing.T) {
	c := NewChecker(nil)
	c.AddCheck("db", CheckFunc(func(context.Context) error { return nil }))
	c.AddCheck("redis", CheckFunc(func(context.Context) error { return errors.New("down") }))

	results := c.Check(context.Background())
	assert.Equal(t, StatusOK, results["db"])
	assert.Equal(t, "down", results["redis"])
	assert.False(t, Healthy(results))
	assert.Equal(t, []string{"db", "redis"}, c.Names())
}

func TestChecker_TimesOutSlowCheck(t *testing.T) {
	c := NewChecker(nil)
	c.timeout = 20 * time.Millisecond
	c.AddCheck("slow", CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	results := c.Check(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), results["slow"])
}

func TestSchedulerChecker(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		last    time.Time
		started time.Time
		wantErr bool
	}{
		{name: "fresh", last: now.Add(-90 * time.Second)},
		{name: "stale", last: now.Add(-4 * time.Minute), wantErr: true},
		{name: "exactly three intervals", last: now.Add(-3 * time.Minute)},
		{name: "no tick yet within grace", started: now.Add(-time.Minute)},
		{name: "no tick after grace", started: now.Add(-10 * time.Minute), wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			c := NewSchedulerChecker(fakeTicks{last: tc.last, interval: time.Minute})
			c.now = func() time.Time { return now }
			if !tc.started.IsZero() {
				c.startedAt = tc.started
			}

			err := c.HealthCheck(context.Background())
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisChecker(client)
	require.NoError(t, c.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestDBChecker(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.NoError(t, NewDBChecker(db).HealthCheck(context.Background()))
	assert.Error(t, NewDBChecker(nil).HealthCheck(context.Background()))
}

func TestTelegramChecker_Uninitialized(t *testing.T) {
	assert.Error(t, NewTelegramChecker(nil).HealthCheck(context.Background()))
}
