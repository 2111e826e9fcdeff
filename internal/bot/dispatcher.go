package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/bot/handlers"
	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/repository"
	"github.com/Proton-105/reflect-bot/internal/state"
)

// RecordSource loads the record whose pending prompt determines the user's state.
type RecordSource interface {
	Get(ctx context.Context, id string) (*domain.UserRecord, error)
}

// Dispatcher routes free text to the handler registered for the user's current state.
type Dispatcher struct {
	records       RecordSource
	stateHandlers map[state.State]handlers.Handler
	log           *slog.Logger
	mu            sync.RWMutex
}

// NewDispatcher creates a Dispatcher with an empty handlers registry.
func NewDispatcher(records RecordSource, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		records:       records,
		stateHandlers: make(map[state.State]handlers.Handler),
		log:           log,
	}
}

// RegisterStateHandler registers a handler for the provided state.
func (d *Dispatcher) RegisterStateHandler(s state.State, h handlers.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateHandlers[s] = h
}

// Dispatch routes the update based on the user's current state. Users without a record are idle.
func (d *Dispatcher) Dispatch(c telebot.Context) error {
	id, ok := handlers.UserID(c)
	if !ok {
		d.log.Warn("cannot dispatch without sender information")
		return nil
	}

	current := state.StateIdle
	rec, err := d.records.Get(handlers.RequestContext(c), id)
	switch {
	case err == nil:
		current = state.Of(rec)
	case errors.Is(err, repository.ErrRecordNotFound):
	default:
		return err
	}

	handler := d.getHandler(current)
	if handler == nil {
		d.log.Info("no handler registered for state", "state", current, "user_id", id)
		return nil
	}

	return handler(c)
}

func (d *Dispatcher) getHandler(s state.State) handlers.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stateHandlers[s]
}
