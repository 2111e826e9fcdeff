// Package idempotency suppresses duplicate deliveries of the same inbound update.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrEmptyKey is returned for an empty de-duplication key.
var ErrEmptyKey = errors.New("idempotency key is empty")

// Manager reports whether a key is seen for the first time within ttl.
type Manager interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type manager struct {
	primary  Store
	fallback Store
	log      *slog.Logger
}

// NewManager builds a Manager over primary. When primary fails, fallback answers instead;
// a nil fallback lets the update through.
func NewManager(primary, fallback Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

func (m *manager) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	if m.primary != nil {
		first, err := m.primary.Claim(ctx, key, ttl)
		if err == nil {
			return first, nil
		}
		m.log.WarnContext(ctx, "idempotency store failed, using fallback", slog.String("key", key), slog.Any("error", err))
	}

	if m.fallback == nil {
		return true, nil
	}
	return m.fallback.Claim(ctx, key, ttl)
}
