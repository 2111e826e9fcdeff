// Package scheduler decides which users are due a prompt and issues it at most once per
// due slot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/prompts"
	"github.com/Proton-105/reflect-bot/internal/repository"
	"github.com/Proton-105/reflect-bot/internal/state"
	"github.com/Proton-105/reflect-bot/pkg/logger"
	"github.com/Proton-105/reflect-bot/pkg/metrics"
)

// Per-user outcomes of a tick.
const (
	ResultIssued       = "issued"
	ResultNotDue       = "not_due"
	ResultDebounced    = "debounced"
	ResultUnsubscribed = "unsubscribed"
	ResultLostRace     = "lost_race"
	ResultNoPrompt     = "no_prompt"
	ResultError        = "error"
)

// Issue triggers.
const (
	TriggerTick     = "tick"
	TriggerJob      = "job"
	TriggerOnDemand = "on_demand"
)

// ErrIssueConflict is returned by IssueNow when the record changed underneath it.
var ErrIssueConflict = errors.New("record changed while issuing prompt")

// Sender delivers an issued prompt. Implementations record their own delivery metrics.
type Sender interface {
	SendPrompt(ctx context.Context, userID string, prompt domain.PendingPrompt) error
}

// Options configures an Engine.
type Options struct {
	// Location is used for users without a timezone override.
	Location     *time.Location
	TickInterval time.Duration
	// ExactJobs arms a one-shot timer per user at the start of their next slot.
	ExactJobs bool
	// Now overrides the clock.
	Now func() time.Time
}

// Report summarizes one tick.
type Report struct {
	At        time.Time
	Users     int
	Results   map[string]int
	Cancelled bool
}

// Issued returns how many prompts the tick issued.
func (r Report) Issued() int {
	return r.Results[ResultIssued]
}

func (r *Report) add(result string) {
	if r.Results == nil {
		r.Results = make(map[string]int)
	}
	r.Results[result]++
}

// Engine runs the per-user IDLE/AWAITING_RESPONSE schedule.
type Engine struct {
	store    repository.RecordStore
	selector *prompts.Selector
	sender   Sender
	machine  *state.Machine
	opts     Options
	jobs     *JobRegistry
	zones    sync.Map
	lastTick atomic.Int64
	log      *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context
}

// NewEngine wires an Engine. A nil machine serializes users in process only.
func NewEngine(
	store repository.RecordStore,
	selector *prompts.Selector,
	sender Sender,
	machine *state.Machine,
	opts Options,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if machine == nil {
		machine = state.NewMachine(nil, log)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		store:    store,
		selector: selector,
		sender:   sender,
		machine:  machine,
		opts:     opts,
		jobs:     NewJobRegistry(),
		log:      log.With(slog.String("component", "scheduler")),
		baseCtx:  context.Background(),
	}
}

// Start records ctx for job callbacks and arms exact jobs for every subscribed user.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	if !e.opts.ExactJobs {
		return nil
	}

	recs, err := e.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("install jobs: %w", err)
	}
	for _, rec := range recs {
		e.arm(rec)
	}
	e.log.Info("exact jobs installed", slog.Int("jobs", e.jobs.Len()))

	return nil
}

// Run ticks every TickInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.jobs.Stop()

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	e.TickNow(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			e.TickNow(ctx)
		}
	}
}

// Stop cancels all exact jobs.
func (e *Engine) Stop() {
	e.jobs.Stop()
}

// TickNow runs a tick at the current time and logs its outcome.
func (e *Engine) TickNow(ctx context.Context) {
	report, err := e.Tick(ctx, e.opts.Now())
	if err != nil {
		e.log.Error("tick failed", slog.Any("error", err))
		return
	}
	if report.Issued() > 0 || report.Results[ResultError] > 0 {
		e.log.Info("tick completed",
			slog.Int("users", report.Users),
			slog.Int("issued", report.Issued()),
			slog.Int("errors", report.Results[ResultError]),
		)
	}
}

// Tick evaluates every user at now. Each user is processed in isolation; only a failure to
// list users fails the tick.
func (e *Engine) Tick(ctx context.Context, now time.Time) (Report, error) {
	started := time.Now()
	ctx = logger.WithCorrelationID(ctx, "")

	report := Report{At: now, Results: make(map[string]int)}

	recs, err := e.store.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("list users: %w", err)
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		report.Users++
		report.add(e.process(ctx, rec, now, TriggerTick))

		runtime.Gosched()
	}

	e.lastTick.Store(e.opts.Now().UnixNano())
	metrics.ObserveTick(time.Since(started))
	for result, n := range report.Results {
		metrics.AddTickUsers(result, n)
	}

	return report, nil
}

// Due lists the users that a tick at now would issue a prompt to.
func (e *Engine) Due(ctx context.Context, now time.Time) ([]*domain.UserRecord, error) {
	recs, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var due []*domain.UserRecord
	for _, rec := range recs {
		if e.precheck(rec, now) == "" {
			due = append(due, rec)
		}
	}
	return due, nil
}

// LastTick returns when the last tick completed.
func (e *Engine) LastTick() time.Time {
	n := e.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// TickInterval returns the configured polling cadence.
func (e *Engine) TickInterval() time.Duration {
	return e.opts.TickInterval
}

// NextJob returns when the user's exact job fires.
func (e *Engine) NextJob(userID string) (time.Time, bool) {
	return e.jobs.Next(userID)
}

// IssueNow issues a prompt outside the schedule. The scheduled slot is left untouched.
func (e *Engine) IssueNow(ctx context.Context, userID string) (*domain.PendingPrompt, error) {
	var issued *domain.PendingPrompt

	err := e.machine.WithUser(ctx, userID, func(ctx context.Context) error {
		rec, err := e.store.Get(ctx, userID)
		if err != nil {
			return err
		}

		now := e.opts.Now()
		pending, result, err := e.issue(ctx, rec, rec.LastSentSlot, now, TriggerOnDemand)
		if err != nil {
			return err
		}
		switch result {
		case ResultLostRace:
			return ErrIssueConflict
		case ResultNoPrompt:
			return prompts.ErrEmptyCatalog
		}
		issued = pending
		return nil
	})
	if err != nil {
		return nil, err
	}

	return issued, nil
}

// Reschedule persists new preferences and replaces the user's exact job. State and any
// pending prompt are left as they are.
func (e *Engine) Reschedule(ctx context.Context, userID string, prefs domain.Preferences) (*domain.UserRecord, error) {
	return e.UpdatePreferences(ctx, userID, func(p *domain.Preferences) error {
		*p = prefs
		return nil
	})
}

// UpdatePreferences reads the stored preferences, applies mutate and writes the result under
// the user's lock, then replaces the exact job. A mutate error aborts without writing. A nil
// mutate only re-arms the job.
func (e *Engine) UpdatePreferences(
	ctx context.Context,
	userID string,
	mutate func(p *domain.Preferences) error,
) (*domain.UserRecord, error) {
	var updated *domain.UserRecord

	err := e.machine.WithUser(ctx, userID, func(ctx context.Context) error {
		rec, err := e.store.Get(ctx, userID)
		if err != nil {
			return err
		}

		prefs := rec.Preferences()
		if mutate != nil {
			if err := mutate(&prefs); err != nil {
				return err
			}
		}
		if prefs == rec.Preferences() {
			updated = rec
			return nil
		}

		if err := e.store.SetPreferences(ctx, userID, prefs, e.opts.Now()); err != nil {
			return err
		}
		updated, err = e.store.Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.arm(updated)

	return updated, nil
}

// Forget cancels the user's exact job.
func (e *Engine) Forget(userID string) {
	e.jobs.Cancel(userID)
}

// LocationFor returns the user's effective location.
func (e *Engine) LocationFor(rec *domain.UserRecord) *time.Location {
	if rec == nil || rec.Timezone == "" {
		return e.opts.Location
	}

	if cached, ok := e.zones.Load(rec.Timezone); ok {
		return cached.(*time.Location)
	}

	loc, err := time.LoadLocation(rec.Timezone)
	if err != nil {
		e.log.Warn("invalid user timezone, using default",
			slog.String("user_id", rec.ID),
			slog.String("timezone", rec.Timezone),
			slog.Any("error", err),
		)
		metrics.RecordDataQualityIssue("invalid_timezone")
		return e.opts.Location
	}

	e.zones.Store(rec.Timezone, loc)
	return loc
}

// precheck returns the skip result for rec at now, or "" when the user is due.
func (e *Engine) precheck(rec *domain.UserRecord, now time.Time) string {
	if !rec.Subscribed {
		return ResultUnsubscribed
	}

	loc := e.LocationFor(rec)
	if !IsDue(now, loc, rec.PreferredDay, rec.PreferredHour) {
		return ResultNotDue
	}
	if rec.LastSentSlot == SlotKey(now, loc) {
		return ResultDebounced
	}
	return ""
}

// process evaluates one user and never panics.
func (e *Engine) process(ctx context.Context, rec *domain.UserRecord, now time.Time, trigger string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic while scheduling user", slog.String("user_id", rec.ID), slog.Any("panic", r))
			result = ResultError
		}
	}()

	if skip := e.precheck(rec, now); skip != "" {
		return skip
	}

	result = ResultError
	err := e.machine.WithUser(ctx, rec.ID, func(ctx context.Context) error {
		fresh, err := e.store.Get(ctx, rec.ID)
		if err != nil {
			return err
		}
		if skip := e.precheck(fresh, now); skip != "" {
			result = skip
			return nil
		}

		_, result, err = e.issue(ctx, fresh, SlotKey(now, e.LocationFor(fresh)), now, trigger)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return ResultNotDue
		}
		e.log.Error("failed to schedule user", slog.String("user_id", rec.ID), slog.Any("error", err))
		return ResultError
	}

	return result
}

// issue moves rec to AWAITING_RESPONSE and sends the prompt. A failed send still consumes
// the slot. The caller holds the user's lock.
func (e *Engine) issue(
	ctx context.Context,
	rec *domain.UserRecord,
	slot string,
	now time.Time,
	trigger string,
) (*domain.PendingPrompt, string, error) {
	count := rec.PromptCount + 1

	prompt, err := e.selector.Draw(ctx, count)
	if err != nil {
		e.log.Error("no prompt available", slog.String("user_id", rec.ID), slog.Any("error", err))
		metrics.RecordDataQualityIssue("empty_catalog")
		return nil, ResultNoPrompt, nil
	}

	pending := domain.PendingPrompt{Text: prompt.Text, Category: prompt.Category, IssuedAt: now}

	ok, err := e.store.ClaimSlot(ctx, rec.ID, repository.SlotClaim{
		ExpectedSlot:  rec.LastSentSlot,
		ExpectedCount: rec.PromptCount,
		Slot:          slot,
		Pending:       pending,
	})
	if err != nil {
		return nil, ResultError, fmt.Errorf("claim slot: %w", err)
	}
	if !ok {
		e.log.Info("slot claimed elsewhere", slog.String("user_id", rec.ID), slog.String("slot", slot))
		return nil, ResultLostRace, nil
	}
	e.selector.MarkIssued(ctx, prompt)

	from := state.Of(rec)
	if err := e.machine.Transition(rec.ID, from, state.StateAwaitingResponse); err != nil {
		e.log.Warn("unexpected transition", slog.String("user_id", rec.ID), slog.Any("error", err))
	}
	if rec.PendingPrompt != nil {
		e.log.Info("unanswered prompt replaced", slog.String("user_id", rec.ID))
	}

	metrics.RecordPromptIssued(string(pending.Category), trigger)
	e.log.Info("prompt issued",
		slog.String("user_id", rec.ID),
		slog.String("slot", slot),
		slog.String("category", string(pending.Category)),
		slog.Int("prompt_count", count),
		slog.String("trigger", trigger),
	)

	if e.sender != nil {
		if err := e.sender.SendPrompt(ctx, rec.ID, pending); err != nil {
			e.log.Warn("prompt delivery failed, slot consumed",
				slog.String("user_id", rec.ID),
				slog.String("slot", slot),
				slog.Any("error", err),
			)
		}
	}

	return &pending, ResultIssued, nil
}

// arm installs or cancels the user's exact job to match rec.
func (e *Engine) arm(rec *domain.UserRecord) {
	if !e.opts.ExactJobs || rec == nil {
		return
	}
	if !rec.Subscribed {
		e.jobs.Cancel(rec.ID)
		return
	}

	loc := e.LocationFor(rec)
	now := e.opts.Now()
	at := NextOccurrence(now, loc, rec.PreferredDay, rec.PreferredHour)
	userID := rec.ID
	e.jobs.Replace(userID, at, at.Sub(now), func() { e.fire(userID) })
}

// fire runs an exact job and re-arms it for the following week.
func (e *Engine) fire(userID string) {
	e.mu.Lock()
	base := e.baseCtx
	e.mu.Unlock()
	if base.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(logger.WithCorrelationID(base, ""), time.Minute)
	defer cancel()

	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrRecordNotFound) {
			e.log.Error("exact job failed to load user", slog.String("user_id", userID), slog.Any("error", err))
		}
		return
	}

	result := e.process(ctx, rec, e.opts.Now(), TriggerJob)
	e.log.Debug("exact job fired", slog.String("user_id", userID), slog.String("result", result))

	fresh, err := e.store.Get(ctx, userID)
	if err != nil {
		return
	}
	e.arm(fresh)
}
