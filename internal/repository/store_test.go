package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/reflect-bot/internal/database"
	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/usercache"
	"github.com/Proton-105/reflect-bot/pkg/config"
	appredis "github.com/Proton-105/reflect-bot/pkg/redis"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) RecordStore

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) RecordStore { return NewMemoryStore() },
		"sqlite": newSQLiteStore,
		"cached": func(t *testing.T) RecordStore {
			mr := miniredis.RunT(t)
			client, err := appredis.New(context.Background(), appredis.Config{Addr: mr.Addr()})
			require.NoError(t, err)
			kv := appredis.NewMetricsClient(client)
			t.Cleanup(func() { _ = kv.Close() })
			return NewCachedStore(NewMemoryStore(), usercache.NewCache(kv, time.Minute), testLogger())
		},
	}
}

func newSQLiteStore(t *testing.T) RecordStore {
	t.Helper()
	ctx := context.Background()

	db, dialect, err := database.Open(ctx, config.StorageConfig{Driver: "sqlite", SQLitePath: ":memory:"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, dialect, testLogger()).Apply(ctx)
	require.NoError(t, err)

	return NewSQLStore(db, dialect, testLogger())
}

func forEachStore(t *testing.T, fn func(t *testing.T, s RecordStore)) {
	for name, factory := range factories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStore_CreateIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()

		created, err := s.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
		require.NoError(t, err)
		assert.True(t, created)

		again, err := s.Create(ctx, domain.NewUserRecord("1", 3, 20, base))
		require.NoError(t, err)
		assert.False(t, again)

		rec, err := s.Get(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, 0, rec.PreferredDay)
		assert.Equal(t, 9, rec.PreferredHour)
		assert.True(t, rec.Subscribed)
		assert.Nil(t, rec.PendingPrompt)
		assert.True(t, base.Equal(rec.CreatedAt))
	})
}

func TestStore_GetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		_, err := s.Get(context.Background(), "nobody")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestStore_UpsertRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()

		rec := domain.NewUserRecord("7", 2, 18, base)
		rec.Timezone = "Europe/Berlin"
		rec.PromptCount = 3
		rec.LastSentSlot = "2024-03-06T18"
		rec.PendingPrompt = &domain.PendingPrompt{Text: "P", Category: domain.CategorySelfAwareness, IssuedAt: base.Add(time.Hour)}
		rec.History = []domain.JournalEntry{
			{ID: "e1", UserID: "7", PromptText: "Q", ResponseText: "A", Category: domain.CategoryConnections, CreatedAt: base},
		}
		require.NoError(t, s.Upsert(ctx, rec))

		rec.PreferredHour = 19
		require.NoError(t, s.Upsert(ctx, rec))

		got, err := s.Get(ctx, "7")
		require.NoError(t, err)
		assert.Equal(t, 19, got.PreferredHour)
		assert.Equal(t, "Europe/Berlin", got.Timezone)
		assert.Equal(t, 3, got.PromptCount)
		assert.Equal(t, "2024-03-06T18", got.LastSentSlot)
		require.NotNil(t, got.PendingPrompt)
		assert.Equal(t, "P", got.PendingPrompt.Text)
		assert.True(t, base.Add(time.Hour).Equal(got.PendingPrompt.IssuedAt))
		require.Len(t, got.History, 1)
		assert.Equal(t, "A", got.History[0].ResponseText)
	})
}

func TestStore_ListAllOmitsHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()

		for _, id := range []string{"b", "a", "c"} {
			_, err := s.Create(ctx, domain.NewUserRecord(id, 0, 9, base))
			require.NoError(t, err)
		}
		issued := base.Add(time.Minute)
		ok, err := s.ClaimSlot(ctx, "a", SlotClaim{Slot: "s", Pending: domain.PendingPrompt{Text: "P", Category: domain.CategorySelfAwareness, IssuedAt: issued}})
		require.NoError(t, err)
		require.True(t, ok)
		_, err = s.ResolvePending(ctx, "a", issued, &domain.JournalEntry{ID: "x", UserID: "a", PromptText: "P", ResponseText: "R", CreatedAt: issued})
		require.NoError(t, err)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "a", all[0].ID)
		assert.Equal(t, "b", all[1].ID)
		assert.Equal(t, "c", all[2].ID)
		assert.Empty(t, all[0].History)
	})
}

func TestStore_RecentEntriesNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		_, err := s.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
		require.NoError(t, err)

		for i := 0; i < 12; i++ {
			issued := base.Add(time.Duration(i) * time.Hour)
			ok, err := s.ClaimSlot(ctx, "1", SlotClaim{
				ExpectedSlot:  slotName(i - 1),
				ExpectedCount: i,
				Slot:          slotName(i),
				Pending:       domain.PendingPrompt{Text: fmt.Sprintf("P%d", i), Category: domain.CategorySelfAwareness, IssuedAt: issued},
			})
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = s.ResolvePending(ctx, "1", issued, &domain.JournalEntry{
				ID: fmt.Sprintf("e%d", i), UserID: "1", PromptText: fmt.Sprintf("P%d", i),
				ResponseText: fmt.Sprintf("R%d", i), Category: domain.CategorySelfAwareness,
				CreatedAt: issued.Add(time.Minute),
			})
			require.NoError(t, err)
			require.True(t, ok)
		}

		recent, err := s.GetRecentEntries(ctx, "1", 5)
		require.NoError(t, err)
		require.Len(t, recent, 5)
		for i, e := range recent {
			assert.Equal(t, fmt.Sprintf("R%d", 11-i), e.ResponseText)
		}

		none, err := s.GetRecentEntries(ctx, "1", 0)
		require.NoError(t, err)
		assert.Empty(t, none)

		rec, err := s.Get(ctx, "1")
		require.NoError(t, err)
		assert.Len(t, rec.History, 12)
		assert.Equal(t, "R0", rec.History[0].ResponseText)
		assert.Equal(t, 12, rec.PromptCount)
	})
}

func TestStore_CategoryCounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		_, err := s.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
		require.NoError(t, err)

		counts, err := s.CategoryCounts(ctx, "1")
		require.NoError(t, err)
		assert.Empty(t, counts)

		categories := []domain.Category{
			domain.CategorySelfAwareness, domain.CategoryConnections, domain.CategorySelfAwareness,
		}
		for i, category := range categories {
			issued := base.Add(time.Duration(i) * time.Hour)
			ok, err := s.ClaimSlot(ctx, "1", SlotClaim{
				ExpectedSlot:  slotName(i - 1),
				ExpectedCount: i,
				Slot:          slotName(i),
				Pending:       domain.PendingPrompt{Text: fmt.Sprintf("P%d", i), Category: category, IssuedAt: issued},
			})
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = s.ResolvePending(ctx, "1", issued, &domain.JournalEntry{
				ID: fmt.Sprintf("e%d", i), UserID: "1", PromptText: fmt.Sprintf("P%d", i),
				ResponseText: "R", Category: category, CreatedAt: issued,
			})
			require.NoError(t, err)
			require.True(t, ok)
		}

		counts, err = s.CategoryCounts(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, map[domain.Category]int{
			domain.CategorySelfAwareness: 2,
			domain.CategoryConnections:   1,
		}, counts)

		_, err = s.CategoryCounts(ctx, "ghost")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestStore_ClaimSlotCompareAndSet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		_, err := s.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
		require.NoError(t, err)

		claim := SlotClaim{
			ExpectedSlot:  "",
			ExpectedCount: 0,
			Slot:          "2024-03-04T09",
			Pending:       domain.PendingPrompt{Text: "P", Category: domain.CategorySelfAwareness, IssuedAt: base},
		}

		ok, err := s.ClaimSlot(ctx, "1", claim)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ClaimSlot(ctx, "1", claim)
		require.NoError(t, err)
		assert.False(t, ok, "second claim for the same slot must lose")

		rec, err := s.Get(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, 1, rec.PromptCount)
		assert.Equal(t, "2024-03-04T09", rec.LastSentSlot)

		_, err = s.ClaimSlot(ctx, "ghost", claim)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestStore_ResolvePendingOnlyOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		_, err := s.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
		require.NoError(t, err)

		ok, err := s.ClaimSlot(ctx, "1", SlotClaim{Slot: "s1", Pending: domain.PendingPrompt{Text: "P", IssuedAt: base}})
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.ResolvePending(ctx, "1", base.Add(time.Second), nil)
		require.NoError(t, err)
		assert.False(t, ok, "different issuance must not be cleared")

		ok, err = s.ResolvePending(ctx, "1", base, &domain.JournalEntry{ID: "e1", UserID: "1", PromptText: "P", ResponseText: "R", CreatedAt: base})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ResolvePending(ctx, "1", base, &domain.JournalEntry{ID: "e2", UserID: "1", PromptText: "P", ResponseText: "R2", CreatedAt: base})
		require.NoError(t, err)
		assert.False(t, ok)

		rec, err := s.Get(ctx, "1")
		require.NoError(t, err)
		assert.Nil(t, rec.PendingPrompt)
		assert.Len(t, rec.History, 1)
	})
}

func TestStore_SetPreferencesKeepsPending(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		_, err := s.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
		require.NoError(t, err)
		_, err = s.ClaimSlot(ctx, "1", SlotClaim{Slot: "s1", Pending: domain.PendingPrompt{Text: "P", IssuedAt: base}})
		require.NoError(t, err)

		err = s.SetPreferences(ctx, "1", domain.Preferences{Day: 4, Hour: 21, Subscribed: false}, base.Add(time.Hour))
		require.NoError(t, err)

		rec, err := s.Get(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, 4, rec.PreferredDay)
		assert.Equal(t, 21, rec.PreferredHour)
		assert.False(t, rec.Subscribed)
		require.NotNil(t, rec.PendingPrompt)
		assert.Equal(t, 1, rec.PromptCount)

		err = s.SetPreferences(ctx, "ghost", domain.Preferences{}, base)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestStore_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RecordStore) {
		ctx := context.Background()
		rec := domain.NewUserRecord("1", 0, 9, base)
		rec.History = []domain.JournalEntry{{ID: "e1", UserID: "1", PromptText: "P", ResponseText: "R", CreatedAt: base}}
		require.NoError(t, s.Upsert(ctx, rec))

		require.NoError(t, s.Delete(ctx, "1"))
		_, err := s.Get(ctx, "1")
		assert.ErrorIs(t, err, ErrRecordNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "1"), ErrRecordNotFound)

		created, err := s.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
		require.NoError(t, err)
		assert.True(t, created)
		recent, err := s.GetRecentEntries(ctx, "1", 5)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})
}

func TestCachedStore_ServesFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := appredis.New(context.Background(), appredis.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	inner := NewMemoryStore()
	s := NewCachedStore(inner, usercache.NewCache(client, time.Minute), testLogger())
	ctx := context.Background()

	_, err = s.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
	require.NoError(t, err)

	_, err = s.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("user:record:1"))

	require.NoError(t, s.SetPreferences(ctx, "1", domain.Preferences{Day: 2, Hour: 7, Subscribed: true}, base))
	assert.False(t, mr.Exists("user:record:1"))

	rec, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PreferredDay)
}

// gatedStore pauses Get after the backing read until release is closed.
type gatedStore struct {
	*MemoryStore
	read    chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, id string) (*domain.UserRecord, error) {
	rec, err := g.MemoryStore.Get(ctx, id)
	close(g.read)
	<-g.release
	return rec, err
}

func TestCachedStore_StaleFillAfterClaimIsDiscarded(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := appredis.New(context.Background(), appredis.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	inner := NewMemoryStore()
	_, err = inner.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
	require.NoError(t, err)

	gated := &gatedStore{MemoryStore: inner, read: make(chan struct{}), release: make(chan struct{})}
	s := NewCachedStore(gated, usercache.NewCache(client, time.Minute), testLogger())

	done := make(chan *domain.UserRecord)
	go func() {
		rec, err := s.Get(ctx, "1")
		assert.NoError(t, err)
		done <- rec
	}()

	<-gated.read
	ok, err := s.ClaimSlot(ctx, "1", SlotClaim{Slot: "2024-03-04T09", Pending: domain.PendingPrompt{Text: "P", Category: domain.CategorySelfAwareness, IssuedAt: base}})
	require.NoError(t, err)
	require.True(t, ok)
	close(gated.release)

	stale := <-done
	assert.Nil(t, stale.PendingPrompt)
	assert.False(t, mr.Exists("user:record:1"), "stale read must not be cached")

	s.next = inner
	rec, err := s.Get(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, rec.PendingPrompt)
	assert.Equal(t, "P", rec.PendingPrompt.Text)
	assert.Equal(t, 1, rec.PromptCount)

	cached, err := s.Get(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, cached.PendingPrompt)
	assert.True(t, mr.Exists("user:record:1"))
}

func TestCachedStore_RedisDownFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := appredis.New(context.Background(), appredis.Config{Addr: mr.Addr(), MaxRetries: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := NewCachedStore(NewMemoryStore(), usercache.NewCache(client, time.Minute), testLogger())
	ctx := context.Background()
	mr.Close()

	created, err := s.Create(ctx, domain.NewUserRecord("1", 0, 9, base))
	require.NoError(t, err)
	assert.True(t, created)

	rec, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "1", rec.ID)
}

func slotName(i int) string {
	if i < 0 {
		return ""
	}
	return fmt.Sprintf("slot-%d", i)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen(t *testing.T) {
	testCases := []struct {
		name   string
		cfg    config.StorageConfig
		wantDB bool
	}{
		{name: "memory", cfg: config.StorageConfig{Driver: "memory"}},
		{name: "sqlite", cfg: config.StorageConfig{Driver: "sqlite", SQLitePath: ":memory:"}, wantDB: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			backend, err := Open(ctx, tc.cfg, nil, testLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = backend.Close() })

			assert.Equal(t, tc.wantDB, backend.DB != nil)

			created, err := backend.Store.Create(ctx, domain.NewUserRecord("7", 1, 8, base))
			require.NoError(t, err)
			assert.True(t, created)
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: "mongo"}, nil, testLogger())
	assert.Error(t, err)
}
