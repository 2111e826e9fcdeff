package handlers

import (
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/journal"
)

// NewReplyHandler journals free text sent while a prompt is pending.
func NewReplyHandler(j Journal, now func() time.Time, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}

	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return nil
		}

		receivedAt := now()
		if msg := c.Message(); msg != nil && msg.Unixtime > 0 {
			receivedAt = msg.Time()
		}

		res, err := j.CaptureResult(RequestContext(c), id, c.Text(), receivedAt)
		if err != nil {
			return fmt.Errorf("capture reply: %w", err)
		}

		switch res.Outcome {
		case journal.OutcomeCaptured:
			return c.Send(text(c, "reply.saved"))
		case journal.OutcomeStale:
			return c.Send(text(c, "reply.stale"))
		case journal.OutcomeEmpty:
			return nil
		default:
			return sendIdleHint(c)
		}
	}
}

// NewIdleHandler answers free text when no prompt is pending.
func NewIdleHandler() Handler {
	return sendIdleHint
}

func sendIdleHint(c telebot.Context) error {
	return c.Send(text(c, "reply.idle"))
}
