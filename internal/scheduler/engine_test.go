package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/prompts"
	"github.com/Proton-105/reflect-bot/internal/repository"
	"github.com/Proton-105/reflect-bot/internal/state"
)

// Monday 2024-03-04 09:00 UTC.
var monday9 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

var errDeliveryFailure = errors.New("forbidden: bot was blocked by the user")

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendPrompt(ctx context.Context, userID string, p domain.PendingPrompt) error {
	args := m.Called(ctx, userID, p)
	return args.Error(0)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	engine *Engine
	store  *repository.MemoryStore
	sender *mockSender
	clock  *fixedClock
}

func newHarness(t *testing.T, exact bool) *harness {
	t.Helper()

	store := repository.NewMemoryStore()
	sender := &mockSender{}
	clock := &fixedClock{now: monday9}
	selector := prompts.NewSelector(prompts.DefaultCatalog(), nil, rand.New(rand.NewPCG(1, 2)), testLogger())

	engine := NewEngine(store, selector, sender, state.NewMachine(nil, testLogger()), Options{
		Location:     time.UTC,
		TickInterval: time.Minute,
		ExactJobs:    exact,
		Now:          clock.Now,
	}, testLogger())
	t.Cleanup(engine.Stop)

	return &harness{engine: engine, store: store, sender: sender, clock: clock}
}

func (h *harness) addUser(t *testing.T, id string, day, hour int) {
	t.Helper()
	_, err := h.store.Create(context.Background(), domain.NewUserRecord(id, day, hour, monday9.Add(-time.Hour)))
	require.NoError(t, err)
}

func (h *harness) record(t *testing.T, id string) *domain.UserRecord {
	t.Helper()
	rec, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestEngine_TickDebouncesWithinSlot(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(nil).Once()

	ctx := context.Background()
	for _, at := range []time.Time{monday9, monday9.Add(time.Minute), monday9.Add(59 * time.Minute)} {
		_, err := h.engine.Tick(ctx, at)
		require.NoError(t, err)
	}

	h.sender.AssertNumberOfCalls(t, "SendPrompt", 1)

	rec := h.record(t, "1")
	assert.Equal(t, 1, rec.PromptCount)
	assert.Equal(t, "2024-03-04T09", rec.LastSentSlot)
	require.NotNil(t, rec.PendingPrompt)
	assert.Equal(t, domain.CategorySelfAwareness, rec.PendingPrompt.Category)
	assert.True(t, monday9.Equal(rec.PendingPrompt.IssuedAt))
	assert.Equal(t, state.StateAwaitingResponse, state.Of(rec))
}

func TestEngine_TickReport(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "due", 0, 9)
	h.addUser(t, "later", 0, 10)
	h.addUser(t, "off", 0, 9)
	_, err := h.engine.Reschedule(context.Background(), "off", domain.Preferences{Day: 0, Hour: 9, Subscribed: false})
	require.NoError(t, err)
	h.sender.On("SendPrompt", mock.Anything, "due", mock.Anything).Return(nil).Once()

	report, err := h.engine.Tick(context.Background(), monday9)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Users)
	assert.Equal(t, 1, report.Issued())
	assert.Equal(t, 1, report.Results[ResultNotDue])
	assert.Equal(t, 1, report.Results[ResultUnsubscribed])
	assert.False(t, h.engine.LastTick().IsZero())
}

func TestEngine_AlternatesCategoriesWeekly(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(nil)

	want := []domain.Category{
		domain.CategorySelfAwareness,
		domain.CategoryConnections,
		domain.CategorySelfAwareness,
		domain.CategoryConnections,
	}

	for week, category := range want {
		at := monday9.AddDate(0, 0, 7*week)
		report, err := h.engine.Tick(context.Background(), at)
		require.NoError(t, err)
		require.Equal(t, 1, report.Issued(), "week %d", week)

		rec := h.record(t, "1")
		assert.Equal(t, week+1, rec.PromptCount)
		assert.Equal(t, category, rec.PendingPrompt.Category)
	}
}

func TestEngine_SendFailureConsumesSlot(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(errDeliveryFailure).Once()

	report, err := h.engine.Tick(context.Background(), monday9)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Issued())

	report, err = h.engine.Tick(context.Background(), monday9.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Results[ResultDebounced])

	h.sender.AssertNumberOfCalls(t, "SendPrompt", 1)
	rec := h.record(t, "1")
	assert.Equal(t, 1, rec.PromptCount)
	assert.NotNil(t, rec.PendingPrompt)
}

func TestEngine_NewSlotReplacesPendingPrompt(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(nil)

	_, err := h.engine.Tick(context.Background(), monday9)
	require.NoError(t, err)
	first := h.record(t, "1").PendingPrompt

	_, err = h.engine.Tick(context.Background(), monday9.AddDate(0, 0, 7))
	require.NoError(t, err)

	rec := h.record(t, "1")
	require.NotNil(t, rec.PendingPrompt)
	assert.False(t, first.IssuedAt.Equal(rec.PendingPrompt.IssuedAt))
	assert.Equal(t, 2, rec.PromptCount)
}

func TestEngine_PreferenceChangeKeepsStateAndSendsNothing(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(nil).Once()

	_, err := h.engine.Tick(context.Background(), monday9)
	require.NoError(t, err)

	rec, err := h.engine.Reschedule(context.Background(), "1", domain.Preferences{Day: 0, Hour: 10, Subscribed: true})
	require.NoError(t, err)
	assert.Equal(t, 10, rec.PreferredHour)
	assert.NotNil(t, rec.PendingPrompt)
	assert.Equal(t, 1, rec.PromptCount)

	h.sender.AssertNumberOfCalls(t, "SendPrompt", 1)
}

func TestEngine_RescheduleMissingUser(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.engine.Reschedule(context.Background(), "ghost", domain.Preferences{Day: 1, Hour: 1, Subscribed: true})
	assert.ErrorIs(t, err, repository.ErrRecordNotFound)
	_, ok := h.engine.NextJob("ghost")
	assert.False(t, ok)
}

func TestEngine_UserTimezoneOverride(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)
	_, err = h.engine.Reschedule(context.Background(), "1", domain.Preferences{Day: 0, Hour: 9, Timezone: "Asia/Tokyo", Subscribed: true})
	require.NoError(t, err)
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(nil).Once()

	// 09:00 UTC is 18:00 in Tokyo.
	report, err := h.engine.Tick(context.Background(), monday9)
	require.NoError(t, err)
	assert.Zero(t, report.Issued())

	at := time.Date(2024, 3, 4, 9, 15, 0, 0, tokyo)
	report, err = h.engine.Tick(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Issued())
	assert.Equal(t, "2024-03-04T09", h.record(t, "1").LastSentSlot)
}

func TestEngine_InvalidTimezoneFallsBack(t *testing.T) {
	h := newHarness(t, false)
	rec := domain.NewUserRecord("1", 0, 9, monday9)
	rec.Timezone = "Mars/Olympus"
	require.NoError(t, h.store.Upsert(context.Background(), rec))
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(nil).Once()

	report, err := h.engine.Tick(context.Background(), monday9)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Issued())
}

func TestEngine_LostRaceSkips(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(nil).Once()

	stale := h.record(t, "1")

	_, err := h.engine.Tick(context.Background(), monday9)
	require.NoError(t, err)

	other := NewEngine(h.store, h.engine.selector, h.sender, state.NewMachine(nil, testLogger()), Options{Location: time.UTC}, testLogger())
	_, result, err := other.issue(context.Background(), stale, SlotKey(monday9, time.UTC), monday9, TriggerTick)
	require.NoError(t, err)
	assert.Equal(t, ResultLostRace, result)

	h.sender.AssertNumberOfCalls(t, "SendPrompt", 1)
	assert.Equal(t, 1, h.record(t, "1").PromptCount)
}

type flakyStore struct {
	*repository.MemoryStore
	failID string
	panic  bool
}

func (s *flakyStore) Get(ctx context.Context, id string) (*domain.UserRecord, error) {
	if id == s.failID {
		if s.panic {
			panic("corrupt record")
		}
		return nil, errors.New("connection reset")
	}
	return s.MemoryStore.Get(ctx, id)
}

func TestEngine_TickIsolatesUserFailures(t *testing.T) {
	for _, panics := range []bool{false, true} {
		store := &flakyStore{MemoryStore: repository.NewMemoryStore(), failID: "a", panic: panics}
		for _, id := range []string{"a", "b"} {
			_, err := store.Create(context.Background(), domain.NewUserRecord(id, 0, 9, monday9))
			require.NoError(t, err)
		}
		sender := &mockSender{}
		sender.On("SendPrompt", mock.Anything, "b", mock.Anything).Return(nil).Once()

		selector := prompts.NewSelector(prompts.DefaultCatalog(), nil, nil, testLogger())
		engine := NewEngine(store, selector, sender, nil, Options{Location: time.UTC}, testLogger())

		report, err := engine.Tick(context.Background(), monday9)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Results[ResultError])
		assert.Equal(t, 1, report.Issued())
		sender.AssertExpectations(t)
	}
}

func TestEngine_TickStopsOnCancel(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.engine.Tick(ctx, monday9)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Zero(t, report.Users)
	h.sender.AssertNotCalled(t, "SendPrompt", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_IssueNowKeepsSlot(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(nil)
	h.clock.Set(monday9.Add(-2 * time.Hour))

	pending, err := h.engine.IssueNow(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, domain.CategorySelfAwareness, pending.Category)

	rec := h.record(t, "1")
	assert.Equal(t, 1, rec.PromptCount)
	assert.Empty(t, rec.LastSentSlot)

	report, err := h.engine.Tick(context.Background(), monday9)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Issued())
	assert.Equal(t, domain.CategoryConnections, h.record(t, "1").PendingPrompt.Category)
}

func TestEngine_IssueNowEmptyCatalog(t *testing.T) {
	store := repository.NewMemoryStore()
	_, err := store.Create(context.Background(), domain.NewUserRecord("1", 0, 9, monday9))
	require.NoError(t, err)

	selector := prompts.NewSelector(prompts.NewCatalog(nil, nil), nil, nil, testLogger())
	engine := NewEngine(store, selector, &mockSender{}, nil, Options{}, testLogger())

	_, err = engine.IssueNow(context.Background(), "1")
	assert.ErrorIs(t, err, prompts.ErrEmptyCatalog)

	rec, err := store.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Zero(t, rec.PromptCount)
}

func TestEngine_DueListsWithoutIssuing(t *testing.T) {
	h := newHarness(t, false)
	h.addUser(t, "1", 0, 9)
	h.addUser(t, "2", 3, 9)

	due, err := h.engine.Due(context.Background(), monday9)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "1", due[0].ID)
	assert.Zero(t, h.record(t, "1").PromptCount)
}

func TestEngine_ExactJobs(t *testing.T) {
	h := newHarness(t, true)
	h.addUser(t, "1", 0, 9)
	h.clock.Set(monday9.Add(-time.Hour))

	require.NoError(t, h.engine.Start(context.Background()))
	next, ok := h.engine.NextJob("1")
	require.True(t, ok)
	assert.True(t, monday9.Equal(next))

	_, err := h.engine.Reschedule(context.Background(), "1", domain.Preferences{Day: 2, Hour: 20, Subscribed: true})
	require.NoError(t, err)
	next, ok = h.engine.NextJob("1")
	require.True(t, ok)
	assert.True(t, time.Date(2024, 3, 6, 20, 0, 0, 0, time.UTC).Equal(next))

	_, err = h.engine.Reschedule(context.Background(), "1", domain.Preferences{Day: 2, Hour: 20, Subscribed: false})
	require.NoError(t, err)
	_, ok = h.engine.NextJob("1")
	assert.False(t, ok)
}

func TestEngine_ExactJobFiresAndRearms(t *testing.T) {
	h := newHarness(t, true)
	h.addUser(t, "1", 0, 9)
	h.sender.On("SendPrompt", mock.Anything, "1", mock.Anything).Return(nil).Once()
	require.NoError(t, h.engine.Start(context.Background()))

	h.clock.Set(monday9)
	h.engine.fire("1")

	rec := h.record(t, "1")
	assert.Equal(t, 1, rec.PromptCount)

	next, ok := h.engine.NextJob("1")
	require.True(t, ok)
	assert.True(t, monday9.AddDate(0, 0, 7).Equal(next))

	// the polling tick for the same slot is debounced
	report, err := h.engine.Tick(context.Background(), monday9.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Results[ResultDebounced])
	h.sender.AssertNumberOfCalls(t, "SendPrompt", 1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// losingStore always loses the slot claim, as if another instance got there first.
type losingStore struct {
	*repository.MemoryStore
}

func (losingStore) ClaimSlot(context.Context, string, repository.SlotClaim) (bool, error) {
	return false, nil
}

func TestEngine_LostClaimLeavesPromptUnmarked(t *testing.T) {
	ctx := context.Background()
	store := losingStore{MemoryStore: repository.NewMemoryStore()}
	_, err := store.Create(ctx, domain.NewUserRecord("1", 0, 9, monday9.Add(-time.Hour)))
	require.NoError(t, err)

	tracker := prompts.NewMemoryTracker()
	selector := prompts.NewSelector(prompts.DefaultCatalog(), tracker, rand.New(rand.NewPCG(1, 2)), testLogger())
	sender := &mockSender{}
	engine := NewEngine(store, selector, sender, state.NewMachine(nil, testLogger()), Options{
		Location:     time.UTC,
		TickInterval: time.Minute,
		Now:          func() time.Time { return monday9 },
	}, testLogger())
	t.Cleanup(engine.Stop)

	report, err := engine.Tick(ctx, monday9)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Results[ResultLostRace])

	issued, err := tracker.Issued(ctx, domain.CategorySelfAwareness)
	require.NoError(t, err)
	assert.Empty(t, issued)
	sender.AssertNotCalled(t, "SendPrompt", mock.Anything, mock.Anything, mock.Anything)
}
