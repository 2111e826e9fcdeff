package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/reflect-bot/pkg/logger"
	"github.com/Proton-105/reflect-bot/pkg/metrics"
)

// CodeUnknown labels errors outside the AppError taxonomy.
const CodeUnknown = "unknown"

// Handler logs errors, forwards severe ones to Sentry and picks the text shown to the user.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		log:           log,
		sentryEnabled: sentryEnabled,
	}
}

// Handle reports err and returns the user-facing message and whether retrying may help.
// A cancelled context yields no message: the update was abandoned, not failed.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if errors.Is(err, context.Canceled) {
		h.log.DebugContext(ctx, "update abandoned", slog.Any("error", err))
		return "", false
	}

	appErr := classify(err)

	attrs := []slog.Attr{
		slog.String("code", appErr.Code),
		slog.String("severity", string(appErr.Severity)),
		slog.Bool("retryable", appErr.Retryable),
		slog.Any("error", err),
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}

	level := slog.LevelError
	if appErr.Severity == SeverityLow {
		level = slog.LevelWarn
	}
	h.log.LogAttrs(ctx, level, "request failed", attrs...)
	metrics.RecordError(appErr.Code, string(appErr.Severity))

	if h.sentryEnabled && appErr.reportable() {
		capture(ctx, appErr, err)
	}

	msg := appErr.UserMessage
	if msg == "" {
		msg = defaultUserMessage
	}
	return msg, appErr.Retryable
}

// classify returns the AppError in err's chain or a high-severity stand-in.
func classify(err error) *AppError {
	if appErr, ok := As(err); ok {
		return appErr
	}
	return &AppError{
		Code:        CodeUnknown,
		Message:     err.Error(),
		UserMessage: defaultUserMessage,
		Severity:    SeverityHigh,
		cause:       err,
	}
}

func capture(ctx context.Context, appErr *AppError, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("code", appErr.Code)
		scope.SetTag("severity", string(appErr.Severity))
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			scope.SetTag("correlation_id", id)
		}
		hub.CaptureException(err)
	})
}
