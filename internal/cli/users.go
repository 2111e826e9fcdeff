package cli

import (
	"errors"
	"fmt"

	"github.com/Proton-105/reflect-bot/internal/repository"
	"github.com/Proton-105/reflect-bot/internal/scheduler"
)

// UsersListCmd prints every user record.
type UsersListCmd struct {
	Subscribed bool `help:"Show only subscribed users."`
}

func (c *UsersListCmd) Run(ctx *Context) error {
	rt, err := ctx.runtime()
	if err != nil {
		return err
	}

	recs, err := rt.Store.ListAll(ctx.Ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		ctx.printf("No users found\n")
		return nil
	}

	shown := 0
	for _, rec := range recs {
		if c.Subscribed && !rec.Subscribed {
			continue
		}
		status := "subscribed"
		if !rec.Subscribed {
			status = "stopped"
		}
		pending := ""
		if rec.PendingPrompt != nil {
			pending = " awaiting reply"
		}
		ctx.printf("%s\t%s\t%s\tprompts=%d%s\n", rec.ID, scheduleLabel(rec), status, rec.PromptCount, pending)
		shown++
	}
	ctx.printf("%d user(s)\n", shown)

	return nil
}

// UsersShowCmd prints one record in detail.
type UsersShowCmd struct {
	ID string `arg:"" help:"User id."`
}

func (c *UsersShowCmd) Run(ctx *Context) error {
	rt, err := ctx.runtime()
	if err != nil {
		return err
	}

	rec, err := rt.Store.Get(ctx.Ctx, c.ID)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return fmt.Errorf("user %s not found", c.ID)
	}
	if err != nil {
		return err
	}

	tz := rec.Timezone
	if tz == "" {
		tz = "(default)"
	}

	ctx.printf("User:           %s\n", rec.ID)
	ctx.printf("Schedule:       %s\n", scheduleLabel(rec))
	ctx.printf("Timezone:       %s\n", tz)
	ctx.printf("Subscribed:     %t\n", rec.Subscribed)
	ctx.printf("Prompt count:   %d\n", rec.PromptCount)
	ctx.printf("Last slot:      %s\n", orDash(rec.LastSentSlot))
	ctx.printf("Journal:        %d entries\n", len(rec.History))
	if rt.Engine != nil && rec.Subscribed {
		loc := rt.Engine.LocationFor(rec)
		next := scheduler.NextOccurrence(now(), loc, rec.PreferredDay, rec.PreferredHour)
		ctx.printf("Next prompt:    %s\n", formatTime(next))
	}
	if p := rec.PendingPrompt; p != nil {
		ctx.printf("Pending:        [%s] %s (issued %s)\n", p.Category, p.Text, formatTime(p.IssuedAt))
	}
	ctx.printf("Created:        %s\n", formatTime(rec.CreatedAt))

	return nil
}

// UsersDeleteCmd removes a record and its journal.
type UsersDeleteCmd struct {
	ID string `arg:"" help:"User id."`
}

func (c *UsersDeleteCmd) Run(ctx *Context) error {
	rt, err := ctx.runtime()
	if err != nil {
		return err
	}

	if err := rt.Users.Delete(ctx.Ctx, c.ID); err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return fmt.Errorf("user %s not found", c.ID)
		}
		return err
	}
	ctx.printf("Deleted user %s\n", c.ID)

	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
