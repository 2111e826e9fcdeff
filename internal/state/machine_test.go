package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/reflect-bot/internal/domain"
)

func TestOf(t *testing.T) {
	rec := domain.NewUserRecord("1", 0, 9, time.Now())
	assert.Equal(t, StateIdle, Of(rec))
	assert.Equal(t, StateIdle, Of(nil))

	rec.PendingPrompt = &domain.PendingPrompt{Text: "P1"}
	assert.Equal(t, StateAwaitingResponse, Of(rec))
}

func TestMachine_Transition(t *testing.T) {
	var recorded []string
	RegisterTransitionRecorder(func(from, to string) {
		recorded = append(recorded, from+">"+to)
	})
	t.Cleanup(func() { RegisterTransitionRecorder(nil) })

	m := NewMachine(nil, testLogger())

	require.NoError(t, m.Transition("1", StateIdle, StateAwaitingResponse))
	require.NoError(t, m.Transition("1", StateAwaitingResponse, StateIdle))

	err := m.Transition("1", State("unknown"), StateAwaitingResponse)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, []string{"idle>awaiting_response", "awaiting_response>idle"}, recorded)
}

func TestMachine_WithUserSerializes(t *testing.T) {
	m := NewMachine(NewLocalLocker(), testLogger())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		active  int32
		overlap int32
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithUser(ctx, "42", func(context.Context) error {
				if atomic.AddInt32(&active, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestMachine_WithUserPropagatesError(t *testing.T) {
	m := NewMachine(nil, testLogger())
	errBoom := errors.New("boom")

	err := m.WithUser(context.Background(), "7", func(context.Context) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)

	err = m.WithUser(context.Background(), "7", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, "1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locker.Acquire(context.Background(), "2")
	require.NoError(t, err)
	other()
}

func TestRedisLocker_Lock(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	locker := NewRedisLocker(client, time.Second, 50*time.Millisecond, testLogger())
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "77")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "77")
	assert.ErrorIs(t, err, ErrUserLocked)

	release()

	again, err := locker.Acquire(ctx, "77")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	locker := NewRedisLocker(client, time.Second, 10*time.Millisecond, testLogger())
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "5")
	require.NoError(t, err)

	require.NoError(t, client.Set(ctx, "user:lock:5", "someone-else", time.Second).Err())
	release()

	value, err := client.Get(ctx, "user:lock:5").Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}

	return client, cleanup
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
