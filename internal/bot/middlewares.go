package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/bot/handlers"
	"github.com/Proton-105/reflect-bot/internal/bot/keyboard"
	errors "github.com/Proton-105/reflect-bot/internal/errors"
	"github.com/Proton-105/reflect-bot/internal/i18n"
	"github.com/Proton-105/reflect-bot/pkg/logger"
)

const fallbackErrorMessage = "Something went wrong. Please try again later."

// RecoveryMiddleware turns a handler panic into a state error reported like any other.
func RecoveryMiddleware(log *slog.Logger, errHandler *errors.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				log.Error("handler panicked",
					slog.String("action", updateAction(c)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				notify(c, errHandler, errors.NewStateError(fmt.Sprintf("panic: %v", r)), log)
				err = nil
			}()

			return next(c)
		}
	}
}

// LocaleMiddleware attaches a translator for the sender's Telegram language. Languages
// without a catalog use the manager's default.
func LocaleMiddleware(locales *i18n.Manager) handlers.Middleware {
	if locales == nil {
		locales = i18n.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			var lang string
			if sender := c.Sender(); sender != nil {
				lang = sender.LanguageCode
			}
			c.Set(handlers.KeyTranslator, locales.Translator(lang))
			return next(c)
		}
	}
}

// ContextMiddleware gives every update its own context and correlation ID.
func ContextMiddleware(base context.Context) handlers.Middleware {
	if base == nil {
		base = context.Background()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			c.Set(handlers.KeyContext, logger.WithCorrelationID(base, ""))
			return next(c)
		}
	}
}

// ErrorHandlingMiddleware reports handler errors and tells the user. The update itself
// always counts as handled.
func ErrorHandlingMiddleware(errHandler *errors.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			if err := next(c); err != nil {
				notify(c, errHandler, err, nil)
			}
			return nil
		}
	}
}

// LoggingMiddleware logs each update's action and latency. Free text is never logged.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			start := time.Now()
			ctx := handlers.RequestContext(c)
			userID, _ := handlers.UserID(c)
			attrs := []any{slog.String("user_id", userID), slog.String("action", updateAction(c))}

			err := next(c)

			attrs = append(attrs, slog.Duration("duration", time.Since(start)))
			if err != nil {
				log.WarnContext(ctx, "update failed", append(attrs, slog.Any("error", err))...)
			} else {
				log.InfoContext(ctx, "update handled", attrs...)
			}
			return err
		}
	}
}

// AuthMiddleware loads or creates the sender's record and stores it on the context.
func AuthMiddleware(users handlers.Users, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			id, ok := handlers.UserID(c)
			if users == nil || !ok {
				return next(c)
			}

			rec, created, err := users.GetOrCreate(handlers.RequestContext(c), id)
			if err != nil {
				return fmt.Errorf("load user %s: %w", id, err)
			}
			if created {
				log.Info("user registered", slog.String("user_id", id))
			}

			c.Set(handlers.KeyRecord, rec)
			c.Set(handlers.KeyCreated, created)
			return next(c)
		}
	}
}

// notify reports err and sends the resulting message, as an alert for callbacks. An
// empty message from the handler means the user is not told.
func notify(c telebot.Context, errHandler *errors.Handler, err error, log *slog.Logger) {
	msg := fallbackErrorMessage
	if errHandler != nil {
		msg, _ = errHandler.Handle(handlers.RequestContext(c), err)
	}
	if msg == "" {
		return
	}
	msg = localizeError(c, err, msg)

	var sendErr error
	if c.Callback() != nil {
		sendErr = c.Respond(&telebot.CallbackResponse{Text: msg, ShowAlert: true})
	} else {
		sendErr = c.Send(msg)
	}
	if sendErr != nil && log != nil {
		log.Error("notify user", slog.Any("error", sendErr))
	}
}

// localizeError replaces the fixed English text of server-side failures with the sender's
// language. Validation and rate-limit messages are already request specific.
func localizeError(c telebot.Context, err error, msg string) string {
	key := "errors.generic"
	switch errors.CodeOf(err) {
	case errors.CodeValidation, errors.CodeRateLimit:
		return msg
	case errors.CodePersistence:
		key = "errors.persistence"
	case errors.CodeTransport:
		key = "errors.transport"
	case errors.CodeState:
		key = "errors.state"
	}

	if text := handlers.Translator(c).T(key); text != key {
		return text
	}
	return msg
}

// updateAction labels an update for logs: the callback unique, the command or "text".
func updateAction(c telebot.Context) string {
	if cb := c.Callback(); cb != nil {
		if parsed, err := keyboard.ParseCallback(cb.Data); err == nil {
			return "callback:" + parsed.Unique
		}
		return "callback"
	}
	if cmd, ok := commandName(c.Text()); ok {
		return cmd
	}
	return "text"
}
