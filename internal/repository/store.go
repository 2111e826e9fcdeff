// Package repository persists user records and their journal entries.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/reflect-bot/internal/domain"
)

// ErrRecordNotFound is returned when no record exists for the requested id.
var ErrRecordNotFound = errors.New("user record not found")

// SlotClaim describes a prompt issuance guarded by compare-and-set on the record's
// last_sent_slot and prompt_count.
type SlotClaim struct {
	ExpectedSlot  string
	ExpectedCount int
	// Slot is written as the new last_sent_slot. On-demand prompts pass ExpectedSlot.
	Slot    string
	Pending domain.PendingPrompt
}

// RecordStore is the durable mapping from user id to UserRecord. Every method persists
// before returning.
type RecordStore interface {
	// Get returns the record with its full history in insertion order.
	Get(ctx context.Context, id string) (*domain.UserRecord, error)
	// Create inserts rec unless a record with the same id exists. It reports whether a
	// row was written.
	Create(ctx context.Context, rec *domain.UserRecord) (bool, error)
	// Upsert writes every field of rec and appends history entries not yet stored.
	Upsert(ctx context.Context, rec *domain.UserRecord) error
	// ListAll returns every record without history, ordered by id.
	ListAll(ctx context.Context) ([]*domain.UserRecord, error)
	// GetRecentEntries returns at most limit entries, newest first.
	GetRecentEntries(ctx context.Context, id string, limit int) ([]domain.JournalEntry, error)
	// CategoryCounts returns the number of journal entries per category. Categories without
	// entries are absent.
	CategoryCounts(ctx context.Context, id string) (map[domain.Category]int, error)
	// SetPreferences updates only the preference fields.
	SetPreferences(ctx context.Context, id string, prefs domain.Preferences, now time.Time) error
	// ClaimSlot sets the pending prompt, increments prompt_count and stores claim.Slot if
	// the record still matches the expected slot and count.
	ClaimSlot(ctx context.Context, id string, claim SlotClaim) (bool, error)
	// ResolvePending clears the pending prompt issued at issuedAt and, when entry is not
	// nil, appends it to the journal. It reports false when that prompt is no longer pending.
	ResolvePending(ctx context.Context, id string, issuedAt time.Time, entry *domain.JournalEntry) (bool, error)
	// Delete removes the record and its journal.
	Delete(ctx context.Context, id string) error
}
