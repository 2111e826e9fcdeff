// Package user manages the lifecycle and preferences of user records.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"

	"github.com/Proton-105/reflect-bot/internal/domain"
	apperrors "github.com/Proton-105/reflect-bot/internal/errors"
	"github.com/Proton-105/reflect-bot/internal/repository"
	"github.com/Proton-105/reflect-bot/internal/state"
)

// Rescheduler applies preference changes to the schedule. UpdatePreferences runs the
// read-modify-write under the user's lock so concurrent single-field edits do not overwrite
// each other.
type Rescheduler interface {
	UpdatePreferences(ctx context.Context, userID string, mutate func(p *domain.Preferences) error) (*domain.UserRecord, error)
	Forget(userID string)
}

// Defaults are applied to newly created records.
type Defaults struct {
	Day  int
	Hour int
}

// Service provides business operations over user records.
type Service struct {
	store     repository.RecordStore
	scheduler Rescheduler
	locks     state.Locker
	defaults  Defaults
	validate  *validator.Validate
	now       func() time.Time
	log       *slog.Logger
}

// NewService constructs a new Service instance.
func NewService(store repository.RecordStore, scheduler Rescheduler, defaults Defaults, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:     store,
		scheduler: scheduler,
		locks:     state.NewLocalLocker(),
		defaults:  defaults,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
		log:       log,
	}
}

// GetOrCreate fetches a record or creates one with default preferences. Concurrent calls
// for the same id create a single record.
func (s *Service) GetOrCreate(ctx context.Context, id string) (*domain.UserRecord, bool, error) {
	if strings.TrimSpace(id) == "" {
		return nil, false, apperrors.NewValidationError("user id is empty")
	}

	rec, err := s.store.Get(ctx, id)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, repository.ErrRecordNotFound) {
		s.logError("get_or_create.get", id, err)
		return nil, false, fmt.Errorf("get user: %w", err)
	}

	fresh := domain.NewUserRecord(id, s.defaults.Day, s.defaults.Hour, s.now().UTC())
	created, err := s.store.Create(ctx, fresh)
	if err != nil {
		s.logError("get_or_create.create", id, err)
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	if created {
		s.log.Info("user record created", slog.String("user_id", id))
		if s.scheduler != nil {
			if _, err := s.scheduler.UpdatePreferences(ctx, id, nil); err != nil {
				s.logError("get_or_create.schedule", id, err)
			}
		}
		return fresh, true, nil
	}

	rec, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get user: %w", err)
	}
	return rec, false, nil
}

// Get returns the record for id.
func (s *Service) Get(ctx context.Context, id string) (*domain.UserRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SetDay changes the preferred weekday (Monday=0).
func (s *Service) SetDay(ctx context.Context, id string, day int) (*domain.UserRecord, error) {
	return s.update(ctx, id, "set_day", func(p *domain.Preferences) { p.Day = day })
}

// SetHour changes the preferred local hour.
func (s *Service) SetHour(ctx context.Context, id string, hour int) (*domain.UserRecord, error) {
	return s.update(ctx, id, "set_hour", func(p *domain.Preferences) { p.Hour = hour })
}

// SetTimezone sets a per-user IANA zone. An empty name restores the default zone.
func (s *Service) SetTimezone(ctx context.Context, id, name string) (*domain.UserRecord, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil || strings.EqualFold(name, "local") {
			return nil, apperrors.NewValidationError(fmt.Sprintf("Unknown timezone %q. Use an IANA name like Europe/Berlin.", name))
		}
		name = loc.String()
	}
	return s.update(ctx, id, "set_timezone", func(p *domain.Preferences) { p.Timezone = name })
}

// SetSubscribed pauses or resumes scheduled prompts.
func (s *Service) SetSubscribed(ctx context.Context, id string, subscribed bool) (*domain.UserRecord, error) {
	return s.update(ctx, id, "set_subscribed", func(p *domain.Preferences) { p.Subscribed = subscribed })
}

// Delete removes the record and its journal and cancels its job.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		if !errors.Is(err, repository.ErrRecordNotFound) {
			s.logError("delete", id, err)
		}
		return err
	}
	if s.scheduler != nil {
		s.scheduler.Forget(id)
	}
	s.log.Info("user record deleted", slog.String("user_id", id))
	return nil
}

func (s *Service) update(ctx context.Context, id, op string, mutate func(p *domain.Preferences)) (*domain.UserRecord, error) {
	if _, _, err := s.GetOrCreate(ctx, id); err != nil {
		return nil, err
	}

	apply := func(p *domain.Preferences) error {
		mutate(p)
		if err := s.validate.Struct(*p); err != nil {
			return apperrors.NewValidationError(describeValidation(err))
		}
		return nil
	}

	var (
		updated *domain.UserRecord
		err     error
	)
	if s.scheduler == nil {
		updated, err = s.updateLocked(ctx, id, apply)
	} else {
		updated, err = s.scheduler.UpdatePreferences(ctx, id, apply)
	}
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeValidation {
			return nil, err
		}
		s.logError(op, id, err)
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	return updated, nil
}

// updateLocked is the read-modify-write used when no scheduler owns the user lock.
func (s *Service) updateLocked(ctx context.Context, id string, apply func(p *domain.Preferences) error) (*domain.UserRecord, error) {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prefs := rec.Preferences()
	if err := apply(&prefs); err != nil {
		return nil, err
	}
	if err := s.store.SetPreferences(ctx, id, prefs, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid preferences."
	}

	switch verrs[0].Field() {
	case "Day":
		return "Day must be between 0 (Monday) and 6 (Sunday)."
	case "Hour":
		return "Hour must be between 0 and 23."
	default:
		return fmt.Sprintf("Invalid %s.", strings.ToLower(verrs[0].Field()))
	}
}

func (s *Service) logError(operation, id string, err error) {
	if s == nil || s.log == nil || err == nil {
		return
	}

	s.log.Error("user service operation failed",
		slog.String("operation", operation),
		slog.String("user_id", id),
		slog.Any("error", err),
	)
}
