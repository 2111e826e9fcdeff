package handlers

import (
	"errors"
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"
)

var errNoSender = errors.New("update has no sender")

// NewStartHandler creates the user's record on first contact and greets them.
func NewStartHandler(users Users, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		if c == nil || c.Sender() == nil {
			log.Warn("start handler invoked without sender")
			return nil
		}

		rec, created, err := loadRecord(c, users)
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}

		schedule := scheduleVars(c, rec)
		if !created {
			return c.Send(textf(c, "start.welcome_back", schedule))
		}

		log.Info("user registered", slog.String("user_id", rec.ID), slog.String("lang", Translator(c).Lang()))

		return c.Send(textf(c, "start.welcome", schedule))
	}
}

// NewHelpHandler lists the available commands.
func NewHelpHandler() Handler {
	return func(c telebot.Context) error {
		return c.Send(text(c, "help.text"))
	}
}
