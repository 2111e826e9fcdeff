package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/reflect-bot/internal/errors"
	"github.com/Proton-105/reflect-bot/internal/ratelimit"
)

// RateLimitMiddleware limits updates per user and selected commands per user. Limiter
// failures and bad rules let the update through.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	log     *slog.Logger
}

func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		log:     log,
	}
}

// PerUser applies the per-user rule to every update.
func (m *RateLimitMiddleware) PerUser() handlers.Middleware {
	return m.guard("update", func() (ratelimit.Rule, error) { return m.rules.PerUser() })
}

// ForCommand applies the rule configured for command, e.g. on-demand prompts.
func (m *RateLimitMiddleware) ForCommand(command string) handlers.Middleware {
	return m.guard(command, func() (ratelimit.Rule, error) { return m.rules.Command(command) })
}

// guard rejects over-limit updates with a rate limit error so the error middleware can
// tell the user when to retry.
func (m *RateLimitMiddleware) guard(scope string, rule func() (ratelimit.Rule, error)) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			sender := c.Sender()
			if !m.active() || sender == nil || m.rules.Exempt(sender.ID) {
				return next(c)
			}

			ctx := handlers.RequestContext(c)
			r, err := rule()
			if err != nil {
				m.log.ErrorContext(ctx, "rate limit rule unusable", slog.String("scope", scope), slog.Any("error", err))
				return next(c)
			}

			key := fmt.Sprintf("user:%d:%s", sender.ID, scope)
			res, err := m.limiter.Check(ctx, key, r.Limit, r.Window)
			if err != nil && !errors.Is(err, ratelimit.ErrLimitExceeded) {
				m.log.WarnContext(ctx, "rate limiter unavailable", slog.String("key", key), slog.Any("error", err))
				return next(c)
			}
			if (res != nil && !res.Allowed) || (res == nil && err != nil) {
				m.log.WarnContext(ctx, "rate limited", slog.Int64("user_id", sender.ID), slog.String("scope", scope))
				var resetAt time.Time
				if res != nil {
					resetAt = res.ResetAt
				}
				return apperrors.NewRateLimitError(retryAfter(resetAt))
			}
			return next(c)
		}
	}
}

func (m *RateLimitMiddleware) active() bool {
	return m != nil && m.limiter != nil && m.rules != nil && m.rules.Enabled()
}

// retryAfter rounds the wait up to whole seconds, defaulting to a minute.
func retryAfter(resetAt time.Time) int {
	if resetAt.IsZero() {
		return 60
	}
	return int(math.Max(1, math.Ceil(time.Until(resetAt).Seconds())))
}
