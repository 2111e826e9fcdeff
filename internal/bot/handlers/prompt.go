package handlers

import (
	"errors"
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/reflect-bot/internal/errors"
	"github.com/Proton-105/reflect-bot/internal/prompts"
	"github.com/Proton-105/reflect-bot/internal/scheduler"
)

// NewPromptHandler issues a prompt immediately. The prompt itself is delivered by the
// engine's sender, so a successful call sends nothing extra.
func NewPromptHandler(prompter Prompter, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return nil
		}

		pending, err := prompter.IssueNow(RequestContext(c), id)
		switch {
		case err == nil:
			log.Info("on-demand prompt issued", slog.String("user_id", id), slog.String("category", string(pending.Category)))
			return nil
		case errors.Is(err, prompts.ErrEmptyCatalog):
			return apperrors.NewDataQualityError("prompt catalog is empty")
		case errors.Is(err, scheduler.ErrIssueConflict):
			return c.Send(text(c, "prompt.conflict"))
		default:
			return fmt.Errorf("issue prompt: %w", err)
		}
	}
}
