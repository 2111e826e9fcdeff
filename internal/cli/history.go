package cli

import (
	"errors"
	"fmt"

	"github.com/Proton-105/reflect-bot/internal/repository"
)

// HistoryCmd prints a user's most recent journal entries.
type HistoryCmd struct {
	ID    string `arg:"" help:"User id."`
	Limit int    `help:"Maximum entries to show." default:"5"`
}

func (c *HistoryCmd) Run(ctx *Context) error {
	if c.Limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	rt, err := ctx.runtime()
	if err != nil {
		return err
	}

	entries, err := rt.Store.GetRecentEntries(ctx.Ctx, c.ID, c.Limit)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return fmt.Errorf("user %s not found", c.ID)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ctx.printf("No journal entries for %s\n", c.ID)
		return nil
	}

	for _, e := range entries {
		ctx.printf("%s [%s]\n  Q: %s\n  A: %s\n", formatTime(e.CreatedAt), e.Category, e.PromptText, e.ResponseText)
	}

	return nil
}
