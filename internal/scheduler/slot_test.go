package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotKeyAndDue(t *testing.T) {
	sgt, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	// 01:30 UTC Monday is 09:30 in Singapore.
	at := time.Date(2024, 3, 4, 1, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-04T09", SlotKey(at, sgt))
	assert.True(t, IsDue(at, sgt, 0, 9))
	assert.False(t, IsDue(at, sgt, 0, 10))
	assert.False(t, IsDue(at, sgt, 1, 9))
	assert.False(t, IsDue(at, time.UTC, 0, 9))
	assert.True(t, time.Date(2024, 3, 4, 9, 0, 0, 0, sgt).Equal(SlotStart(at, sgt)))
}

func TestNextOccurrence(t *testing.T) {
	testCases := []struct {
		name string
		now  time.Time
		day  int
		hour int
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2024, 3, 4, 8, 59, 0, 0, time.UTC),
			day:  0, hour: 9,
			want: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "inside the slot moves to next week",
			now:  time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
			day:  0, hour: 9,
			want: time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "later this week",
			now:  time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC),
			day:  4, hour: 18,
			want: time.Date(2024, 3, 8, 18, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday wraps",
			now:  time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC),
			day:  6, hour: 22,
			want: time.Date(2024, 3, 17, 22, 0, 0, 0, time.UTC),
		},
		{
			name: "monday from sunday",
			now:  time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC),
			day:  0, hour: 0,
			want: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := NextOccurrence(tc.now, time.UTC, tc.day, tc.hour)
			assert.True(t, tc.want.Equal(got), "got %s want %s", got, tc.want)
		})
	}
}

func TestJobRegistry_ReplaceInvalidatesOldJob(t *testing.T) {
	r := NewJobRegistry()
	t.Cleanup(r.Stop)

	var oldFired, newFired atomic.Int32
	r.Replace("1", time.Now().Add(time.Hour), 20*time.Millisecond, func() { oldFired.Add(1) })
	r.Replace("1", time.Now(), 10*time.Millisecond, func() { newFired.Add(1) })

	assert.Equal(t, 1, r.Len())
	assert.Eventually(t, func() bool { return newFired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, oldFired.Load())
	assert.Zero(t, r.Len())
}

func TestJobRegistry_CancelAndStop(t *testing.T) {
	r := NewJobRegistry()

	var fired atomic.Int32
	r.Replace("1", time.Now(), 10*time.Millisecond, func() { fired.Add(1) })
	r.Replace("2", time.Now(), 10*time.Millisecond, func() { fired.Add(1) })
	r.Cancel("1")

	_, ok := r.Next("1")
	assert.False(t, ok)
	_, ok = r.Next("2")
	assert.True(t, ok)

	r.Stop()
	r.Replace("3", time.Now(), 0, func() { fired.Add(1) })
	time.Sleep(30 * time.Millisecond)

	assert.Zero(t, fired.Load())
	assert.Zero(t, r.Len())
}
