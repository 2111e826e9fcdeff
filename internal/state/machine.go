package state

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrInvalidTransition indicates that a requested FSM transition is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUserLocked indicates that another actor kept the user's lock past the wait limit.
	ErrUserLocked = errors.New("user is locked, try again later")
)

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe FSM transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// Machine serializes work on a single user and validates journaling transitions.
type Machine struct {
	locker Locker
	log    *slog.Logger
}

// NewMachine creates a Machine. A nil locker falls back to an in-process keyed lock.
func NewMachine(locker Locker, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}

	return &Machine{
		locker: locker,
		log:    log,
	}
}

// WithUser runs fn while holding the user's lock.
func (m *Machine) WithUser(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	release, err := m.locker.Acquire(ctx, userID)
	if err != nil {
		if m.log != nil {
			m.log.Warn("failed to acquire user lock", slog.String("user_id", userID), slog.Any("error", err))
		}
		return err
	}
	defer release()

	return fn(ctx)
}

// Transition validates a state change and reports it to the registered recorder.
func (m *Machine) Transition(userID string, from, to State) error {
	if !IsTransitionAllowed(from, to) {
		if m.log != nil {
			m.log.Warn("invalid state transition", "user_id", userID, "from", from, "to", to)
		}
		return ErrInvalidTransition
	}

	transitionRecorder(string(from), string(to))
	return nil
}
