package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/usercache"
)

// CachedStore serves Get from a Redis cache and invalidates it on every write. A miss fills
// the cache only if no write invalidated the record during the backing read. Cache failures
// are logged and fall through to the wrapped store.
type CachedStore struct {
	next  RecordStore
	cache *usercache.Cache
	log   *slog.Logger
}

// NewCachedStore decorates next with cache.
func NewCachedStore(next RecordStore, cache *usercache.Cache, log *slog.Logger) *CachedStore {
	if log == nil {
		log = slog.Default()
	}
	return &CachedStore{next: next, cache: cache, log: log}
}

func (s *CachedStore) Get(ctx context.Context, id string) (*domain.UserRecord, error) {
	if rec, err := s.cache.Get(ctx, id); err != nil {
		s.log.Warn("record cache read failed", slog.String("user_id", id), slog.Any("error", err))
	} else if rec != nil {
		return rec, nil
	}

	gen, err := s.cache.Generation(ctx, id)
	if err != nil {
		s.log.Warn("record cache generation read failed", slog.String("user_id", id), slog.Any("error", err))
	}

	rec, readErr := s.next.Get(ctx, id)
	if readErr != nil {
		return nil, readErr
	}

	if err != nil {
		return rec, nil
	}
	if _, err := s.cache.SetIfGeneration(ctx, rec, gen); err != nil {
		s.log.Warn("record cache write failed", slog.String("user_id", id), slog.Any("error", err))
	}
	return rec, nil
}

func (s *CachedStore) Create(ctx context.Context, rec *domain.UserRecord) (bool, error) {
	created, err := s.next.Create(ctx, rec)
	s.invalidate(ctx, rec.ID)
	return created, err
}

func (s *CachedStore) Upsert(ctx context.Context, rec *domain.UserRecord) error {
	err := s.next.Upsert(ctx, rec)
	s.invalidate(ctx, rec.ID)
	return err
}

func (s *CachedStore) ListAll(ctx context.Context) ([]*domain.UserRecord, error) {
	return s.next.ListAll(ctx)
}

func (s *CachedStore) GetRecentEntries(ctx context.Context, id string, limit int) ([]domain.JournalEntry, error) {
	return s.next.GetRecentEntries(ctx, id, limit)
}

func (s *CachedStore) CategoryCounts(ctx context.Context, id string) (map[domain.Category]int, error) {
	return s.next.CategoryCounts(ctx, id)
}

func (s *CachedStore) SetPreferences(ctx context.Context, id string, prefs domain.Preferences, now time.Time) error {
	err := s.next.SetPreferences(ctx, id, prefs, now)
	s.invalidate(ctx, id)
	return err
}

func (s *CachedStore) ClaimSlot(ctx context.Context, id string, claim SlotClaim) (bool, error) {
	ok, err := s.next.ClaimSlot(ctx, id, claim)
	s.invalidate(ctx, id)
	return ok, err
}

func (s *CachedStore) ResolvePending(ctx context.Context, id string, issuedAt time.Time, entry *domain.JournalEntry) (bool, error) {
	ok, err := s.next.ResolvePending(ctx, id, issuedAt, entry)
	s.invalidate(ctx, id)
	return ok, err
}

func (s *CachedStore) Delete(ctx context.Context, id string) error {
	err := s.next.Delete(ctx, id)
	s.invalidate(ctx, id)
	return err
}

func (s *CachedStore) invalidate(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warn("record cache invalidation failed", slog.String("user_id", id), slog.Any("error", err))
	}
}
