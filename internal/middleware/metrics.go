package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/bot/handlers"
	"github.com/Proton-105/reflect-bot/internal/bot/keyboard"
	"github.com/Proton-105/reflect-bot/pkg/metrics"
)

// Metrics measures execution time and status for bot handlers, reporting them to Prometheus.
func Metrics(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		command := extractCommandName(c)
		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordCommand(command, status, time.Since(start))

		return err
	}
}

// extractCommandName keeps label cardinality bounded: callback uniques, command words, or "text".
func extractCommandName(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil && cb.Data != "" {
		parsed, err := keyboard.ParseCallback(cb.Data)
		if err != nil {
			return "callback"
		}
		return "cb:" + parsed.Unique
	}

	text := strings.TrimSpace(c.Text())
	if text == "" {
		return "unknown"
	}
	if !strings.HasPrefix(text, "/") {
		return "text"
	}

	cmd := strings.Fields(text)[0]
	if idx := strings.Index(cmd, "@"); idx >= 0 {
		cmd = cmd[:idx]
	}
	return strings.ToLower(cmd)
}
