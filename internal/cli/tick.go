package cli

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var now = time.Now

// TickCmd runs one scheduling pass, or lists the users it would prompt.
type TickCmd struct {
	At     string `help:"Evaluate at this RFC3339 time instead of now."`
	DryRun bool   `help:"List due users without issuing prompts." name:"dry-run"`
}

func (c *TickCmd) Run(ctx *Context) error {
	at := now()
	if c.At != "" {
		parsed, err := time.Parse(time.RFC3339, c.At)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		at = parsed
	}

	rt, err := ctx.runtime()
	if err != nil {
		return err
	}
	if rt.Engine == nil {
		return errors.New("scheduler is not configured")
	}

	if c.DryRun {
		due, err := rt.Engine.Due(ctx.Ctx, at)
		if err != nil {
			return err
		}
		ctx.printf("%d user(s) due at %s\n", len(due), at.Format(time.RFC3339))
		for _, rec := range due {
			ctx.printf("  %s\t%s\n", rec.ID, scheduleLabel(rec))
		}
		return nil
	}

	if !rt.CanSend {
		return errors.New("no transport configured; set BOT_TOKEN or use --dry-run")
	}

	report, err := rt.Engine.Tick(ctx.Ctx, at)
	if err != nil {
		return err
	}

	ctx.printf("Tick at %s: %d user(s), %d issued\n", at.Format(time.RFC3339), report.Users, report.Issued())
	results := make([]string, 0, len(report.Results))
	for result := range report.Results {
		results = append(results, result)
	}
	sort.Strings(results)
	for _, result := range results {
		ctx.printf("  %-14s %d\n", result, report.Results[result])
	}

	return nil
}
