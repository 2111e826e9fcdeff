package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
	"github.com/hibiken/asynq"

	"github.com/Proton-105/reflect-bot/internal/bot"
	"github.com/Proton-105/reflect-bot/internal/cli"
	"github.com/Proton-105/reflect-bot/internal/database"
	"github.com/Proton-105/reflect-bot/internal/jobs"
	"github.com/Proton-105/reflect-bot/internal/prompts"
	"github.com/Proton-105/reflect-bot/internal/repository"
	"github.com/Proton-105/reflect-bot/internal/scheduler"
	"github.com/Proton-105/reflect-bot/internal/user"
	"github.com/Proton-105/reflect-bot/pkg/config"
	"github.com/Proton-105/reflect-bot/pkg/logger"
)

var CLI struct {
	Version kong.VersionFlag

	Users struct {
		List   cli.UsersListCmd   `cmd:"" help:"List user records."`
		Show   cli.UsersShowCmd   `cmd:"" help:"Show one user record."`
		Delete cli.UsersDeleteCmd `cmd:"" help:"Delete a user record and its journal."`
	} `cmd:"" help:"Manage user records."`
	History cli.HistoryCmd `cmd:"" help:"Show a user's journal."`
	Tick    cli.TickCmd    `cmd:"" help:"Run one scheduling pass."`
	Migrate cli.MigrateCmd `cmd:"" help:"Apply database migrations."`
	Catalog struct {
		Check cli.CatalogCheckCmd `cmd:"" help:"Validate a prompt catalog file."`
	} `cmd:"" help:"Inspect prompt catalogs."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("reflectctl"),
		kong.Description("Administration for the reflection prompt bot"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg.Logger.Output = "stdout"
	log := logger.New(*cfg)

	appCtx := &cli.Context{
		Ctx:  ctx,
		Out:  os.Stdout,
		Log:  log,
		Open: func(ctx context.Context) (*cli.Runtime, error) { return openRuntime(ctx, cfg, log) },
	}

	err = kctx.Run(appCtx)
	if cerr := appCtx.Close(); cerr != nil {
		log.Warn("close runtime", slog.Any("error", cerr))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openRuntime opens storage without migrating it; `reflectctl migrate` owns the schema.
func openRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*cli.Runtime, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load schedule timezone: %w", err)
	}

	rt := &cli.Runtime{Close: func() error { return nil }}
	if cfg.Storage.Driver == "memory" {
		rt.Store = repository.NewMemoryStore()
	} else {
		db, dialect, err := database.Open(ctx, cfg.Storage, log)
		if err != nil {
			return nil, err
		}
		rt.Store = repository.NewSQLStore(db, dialect, log)
		rt.Migrator = database.NewMigrator(db, dialect, log)
		rt.Close = db.Close
	}

	catalog, err := prompts.Load(cfg.Prompts.CatalogPath, log)
	if err != nil {
		return nil, fmt.Errorf("load prompt catalog: %w", err)
	}
	selector := prompts.NewSelector(catalog, nil, nil, log)

	var sender scheduler.Sender
	switch {
	case cfg.Jobs.Enabled:
		manager := jobs.NewManager(asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, log)
		closeStore := rt.Close
		rt.Close = func() error {
			_ = manager.Close()
			return closeStore()
		}
		sender = jobs.NewQueuedSender(manager, log)
		rt.CanSend = true
	case cfg.Bot.Token != "":
		tb, err := bot.NewTelebot(cfg.Bot, true)
		if err != nil {
			return nil, err
		}
		sender = bot.NewTelegramSender(tb, bot.NewTelegramBreaker(log), log)
		rt.CanSend = true
	}

	rt.Engine = scheduler.NewEngine(rt.Store, selector, sender, nil, scheduler.Options{
		Location:     loc,
		TickInterval: cfg.Schedule.TickInterval,
	}, log)
	rt.Users = user.NewService(rt.Store, rt.Engine, user.Defaults{
		Day:  cfg.Schedule.DefaultDay,
		Hour: cfg.Schedule.DefaultHour,
	}, log)

	return rt, nil
}
