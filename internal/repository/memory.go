package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Proton-105/reflect-bot/internal/domain"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.UserRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.UserRecord)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, rec *domain.UserRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return false, nil
	}
	cp := rec.Clone()
	cp.History = nil
	s.records[rec.ID] = cp
	return true, nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec *domain.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := rec.Clone()
	if existing, ok := s.records[rec.ID]; ok {
		cp.History = mergeHistory(existing.History, rec.History)
	}
	s.records[rec.ID] = cp
	return nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]*domain.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.UserRecord, 0, len(s.records))
	for _, rec := range s.records {
		cp := rec.Clone()
		cp.History = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetRecentEntries(_ context.Context, id string, limit int) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return recentEntries(rec.History, limit), nil
}

func (s *MemoryStore) CategoryCounts(_ context.Context, id string) (map[domain.Category]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	counts := make(map[domain.Category]int)
	for _, e := range rec.History {
		counts[e.Category]++
	}
	return counts, nil
}

func (s *MemoryStore) SetPreferences(_ context.Context, id string, prefs domain.Preferences, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.ApplyPreferences(prefs)
	rec.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ClaimSlot(_ context.Context, id string, claim SlotClaim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if rec.LastSentSlot != claim.ExpectedSlot || rec.PromptCount != claim.ExpectedCount {
		return false, nil
	}

	pending := claim.Pending
	rec.PendingPrompt = &pending
	rec.PromptCount = claim.ExpectedCount + 1
	rec.LastSentSlot = claim.Slot
	rec.UpdatedAt = claim.Pending.IssuedAt
	return true, nil
}

func (s *MemoryStore) ResolvePending(_ context.Context, id string, issuedAt time.Time, entry *domain.JournalEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if rec.PendingPrompt == nil || !rec.PendingPrompt.IssuedAt.Equal(issuedAt) {
		return false, nil
	}

	rec.PendingPrompt = nil
	if entry != nil {
		rec.History = append(rec.History, *entry)
		rec.UpdatedAt = entry.CreatedAt
	}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

func mergeHistory(stored, incoming []domain.JournalEntry) []domain.JournalEntry {
	seen := make(map[string]struct{}, len(stored))
	out := make([]domain.JournalEntry, 0, len(stored)+len(incoming))
	for _, e := range stored {
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	for _, e := range incoming {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		out = append(out, e)
	}
	return out
}

// recentEntries returns up to limit entries newest first; ties keep later insertions first.
func recentEntries(history []domain.JournalEntry, limit int) []domain.JournalEntry {
	if limit <= 0 || len(history) == 0 {
		return []domain.JournalEntry{}
	}

	out := make([]domain.JournalEntry, len(history))
	for i := range history {
		out[i] = history[len(history)-1-i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
