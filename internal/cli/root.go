// Package cli implements the reflectctl administrative commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Proton-105/reflect-bot/internal/database"
	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/repository"
	"github.com/Proton-105/reflect-bot/internal/scheduler"
	"github.com/Proton-105/reflect-bot/internal/user"
)

// Runtime is the set of services a command operates on.
type Runtime struct {
	Store    repository.RecordStore
	Users    *user.Service
	Engine   *scheduler.Engine
	Migrator *database.Migrator
	// CanSend is false when no transport is configured, e.g. without a bot token.
	CanSend bool
	Close   func() error
}

// Context is passed to every command's Run method.
type Context struct {
	Ctx context.Context
	Out io.Writer
	Log *slog.Logger
	// Open builds the runtime on first use so commands that need no storage stay cheap.
	Open func(ctx context.Context) (*Runtime, error)

	rt *Runtime
}

func (c *Context) runtime() (*Runtime, error) {
	if c.rt != nil {
		return c.rt, nil
	}
	if c.Open == nil {
		return nil, fmt.Errorf("no runtime configured")
	}

	rt, err := c.Open(c.Ctx)
	if err != nil {
		return nil, err
	}
	c.rt = rt
	return rt, nil
}

// Close releases the runtime if one was opened.
func (c *Context) Close() error {
	if c.rt == nil || c.rt.Close == nil {
		return nil
	}
	return c.rt.Close()
}

func (c *Context) printf(format string, args ...any) {
	fmt.Fprintf(c.Out, format, args...)
}

func scheduleLabel(rec *domain.UserRecord) string {
	return fmt.Sprintf("%s %02d:00", domain.WeekdayName(rec.PreferredDay), rec.PreferredHour)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
