package middleware

import (
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/bot/handlers"
	"github.com/Proton-105/reflect-bot/internal/idempotency"
)

// DefaultDedupeTTL bounds how long an update ID is remembered.
const DefaultDedupeTTL = 24 * time.Hour

// Idempotency drops updates that were already handled, so a redelivered reply is not
// journaled twice. Store failures let the update through.
func Idempotency(manager idempotency.Manager, ttl time.Duration, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler { return next }
	}
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			parts := updateKey(c)
			if parts == nil {
				return next(c)
			}

			ctx := handlers.RequestContext(c)
			key := idempotency.GenerateKey(parts...)
			first, err := manager.FirstSeen(ctx, key, ttl)
			switch {
			case err != nil:
				log.WarnContext(ctx, "dedupe lookup failed", slog.Any("error", err))
			case !first:
				log.InfoContext(ctx, "duplicate update dropped", slog.Any("update", parts))
				return nil
			}
			return next(c)
		}
	}
}

// updateKey identifies an update by callback ID or by chat and message ID. Nil means the
// update cannot be deduplicated.
func updateKey(c telebot.Context) []interface{} {
	if cb := c.Callback(); cb != nil && cb.ID != "" {
		return []interface{}{"cb", cb.ID}
	}

	msg := c.Message()
	if msg == nil || msg.ID == 0 {
		return nil
	}
	var chatID int64
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}
	return []interface{}{"msg", chatID, msg.ID}
}
