// Package journal binds inbound replies to the user's pending prompt.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/repository"
	"github.com/Proton-105/reflect-bot/internal/state"
	"github.com/Proton-105/reflect-bot/pkg/metrics"
)

// DefaultExpiry is how long a pending prompt accepts a reply.
const DefaultExpiry = 24 * time.Hour

// Capture outcomes.
const (
	OutcomeCaptured  = "captured"
	OutcomeStale     = "stale"
	OutcomeNoPending = "no_pending"
	OutcomeEmpty     = "empty"
)

// Result describes what Capture did with a message.
type Result struct {
	Outcome string
	Entry   *domain.JournalEntry
}

// Capturer records replies to pending prompts.
type Capturer struct {
	store   repository.RecordStore
	machine *state.Machine
	expiry  time.Duration
	newID   func() string
	log     *slog.Logger
}

// NewCapturer creates a Capturer. A non-positive expiry uses DefaultExpiry.
func NewCapturer(store repository.RecordStore, machine *state.Machine, expiry time.Duration, log *slog.Logger) *Capturer {
	if log == nil {
		log = slog.Default()
	}
	if machine == nil {
		machine = state.NewMachine(nil, log)
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	return &Capturer{
		store:   store,
		machine: machine,
		expiry:  expiry,
		newID:   uuid.NewString,
		log:     log,
	}
}

// Capture returns the journal entry created for text, or nil when the user has no pending
// prompt, the pending prompt expired, or text is blank.
func (c *Capturer) Capture(ctx context.Context, userID, text string, receivedAt time.Time) (*domain.JournalEntry, error) {
	res, err := c.CaptureResult(ctx, userID, text, receivedAt)
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

// CaptureResult is Capture with the outcome exposed.
func (c *Capturer) CaptureResult(ctx context.Context, userID, text string, receivedAt time.Time) (Result, error) {
	var res Result

	err := c.machine.WithUser(ctx, userID, func(ctx context.Context) error {
		rec, err := c.store.Get(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrRecordNotFound) {
				res.Outcome = OutcomeNoPending
				return nil
			}
			return err
		}

		pending := rec.PendingPrompt
		if pending == nil {
			res.Outcome = OutcomeNoPending
			return nil
		}

		if pending.Age(receivedAt) > c.expiry {
			if _, err := c.store.ResolvePending(ctx, userID, pending.IssuedAt, nil); err != nil {
				return fmt.Errorf("discard stale prompt: %w", err)
			}
			c.transitionIdle(userID)
			c.log.Info("stale reply discarded",
				slog.String("user_id", userID),
				slog.Duration("age", pending.Age(receivedAt)),
			)
			res.Outcome = OutcomeStale
			return nil
		}

		if strings.TrimSpace(text) == "" {
			res.Outcome = OutcomeEmpty
			return nil
		}

		entry := &domain.JournalEntry{
			ID:           c.newID(),
			UserID:       userID,
			PromptText:   pending.Text,
			ResponseText: text,
			Category:     pending.Category,
			CreatedAt:    receivedAt,
		}

		ok, err := c.store.ResolvePending(ctx, userID, pending.IssuedAt, entry)
		if err != nil {
			return fmt.Errorf("store journal entry: %w", err)
		}
		if !ok {
			res.Outcome = OutcomeNoPending
			return nil
		}

		c.transitionIdle(userID)
		c.log.Info("reply captured",
			slog.String("user_id", userID),
			slog.String("category", string(entry.Category)),
			slog.String("response_text", text),
		)
		res.Outcome = OutcomeCaptured
		res.Entry = entry
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordResponse(res.Outcome)
	return res, nil
}

// History returns the user's most recent entries, newest first.
func (c *Capturer) History(ctx context.Context, userID string, limit int) ([]domain.JournalEntry, error) {
	entries, err := c.store.GetRecentEntries(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent entries: %w", err)
	}
	return entries, nil
}

// CategoryCounts returns how many entries the user has journaled per category.
func (c *Capturer) CategoryCounts(ctx context.Context, userID string) (map[domain.Category]int, error) {
	counts, err := c.store.CategoryCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("category counts: %w", err)
	}
	return counts, nil
}

func (c *Capturer) transitionIdle(userID string) {
	if err := c.machine.Transition(userID, state.StateAwaitingResponse, state.StateIdle); err != nil {
		c.log.Warn("unexpected transition", slog.String("user_id", userID), slog.Any("error", err))
	}
}
