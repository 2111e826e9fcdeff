package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"

	"github.com/Proton-105/reflect-bot/internal/bot"
	apperrors "github.com/Proton-105/reflect-bot/internal/errors"
	"github.com/Proton-105/reflect-bot/internal/health"
	"github.com/Proton-105/reflect-bot/internal/i18n"
	"github.com/Proton-105/reflect-bot/internal/idempotency"
	"github.com/Proton-105/reflect-bot/internal/jobs"
	jobhandlers "github.com/Proton-105/reflect-bot/internal/jobs/handlers"
	"github.com/Proton-105/reflect-bot/internal/journal"
	"github.com/Proton-105/reflect-bot/internal/lifecycle"
	"github.com/Proton-105/reflect-bot/internal/middleware"
	"github.com/Proton-105/reflect-bot/internal/prompts"
	"github.com/Proton-105/reflect-bot/internal/ratelimit"
	"github.com/Proton-105/reflect-bot/internal/repository"
	"github.com/Proton-105/reflect-bot/internal/scheduler"
	"github.com/Proton-105/reflect-bot/internal/state"
	"github.com/Proton-105/reflect-bot/internal/user"
	"github.com/Proton-105/reflect-bot/internal/usercache"
	"github.com/Proton-105/reflect-bot/pkg/config"
	"github.com/Proton-105/reflect-bot/pkg/logger"
	"github.com/Proton-105/reflect-bot/pkg/metrics"
	appredis "github.com/Proton-105/reflect-bot/pkg/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		slog.Error("reflect bot stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	log.Info("starting reflect bot",
		slog.String("bot_mode", cfg.Bot.Mode),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("schedule_driver", cfg.Schedule.Driver),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("jobs", cfg.Jobs.Enabled),
	)

	if cfg.Bot.Token == "" {
		return errors.New("bot.token is required (set BOT_TOKEN)")
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("load schedule timezone: %w", err)
	}

	shutdown := lifecycle.NewShutdown(log)
	checker := health.NewChecker(log)

	var rdb *appredis.Client
	var cache *usercache.Cache
	if cfg.Redis.Enabled {
		rdb, err = appredis.New(ctx, appredis.ConfigFrom(cfg.Redis))
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
		checker.AddCheck("redis", health.NewRedisChecker(rdb))
		if cfg.Storage.CacheTTL > 0 {
			cache = usercache.NewCache(appredis.NewMetricsClient(rdb), cfg.Storage.CacheTTL)
		}
	}

	backend, err := repository.Open(ctx, cfg.Storage, cache, log)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	shutdown.Register("database", func(context.Context) error { return backend.Close() })
	if backend.DB != nil {
		checker.AddCheck("database", health.NewDBChecker(backend.DB))
	}

	state.RegisterTransitionRecorder(metrics.RecordStateTransition)
	var locker state.Locker = state.NewLocalLocker()
	var recent prompts.RecentTracker = prompts.NewMemoryTracker()
	if rdb != nil {
		locker = state.NewRedisLocker(rdb.Client, cfg.Schedule.LockTTL, cfg.Schedule.LockWait, log)
		recent = prompts.NewRedisTracker(rdb.Client)
	}
	machine := state.NewMachine(locker, log)

	catalog, err := prompts.Load(cfg.Prompts.CatalogPath, log)
	if err != nil {
		return fmt.Errorf("load prompt catalog: %w", err)
	}
	selector := prompts.NewSelector(catalog, recent, nil, log)

	tb, err := bot.NewTelebot(cfg.Bot, false)
	if err != nil {
		return err
	}
	checker.AddCheck("telegram", health.NewTelegramChecker(tb))
	telegramSender := bot.NewTelegramSender(tb, bot.NewTelegramBreaker(log), log)

	var (
		sender   scheduler.Sender = telegramSender
		redisOpt asynq.RedisConnOpt
		useAsynq = cfg.Jobs.Enabled || cfg.Schedule.Driver == "asynq"
	)
	if useAsynq {
		redisOpt = asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	}
	if cfg.Jobs.Enabled {
		manager := jobs.NewManager(redisOpt, log)
		shutdown.Register("jobs-client", func(context.Context) error { return manager.Close() })
		sender = jobs.NewQueuedSender(manager, log)
	}

	engine := scheduler.NewEngine(backend.Store, selector, sender, machine, scheduler.Options{
		Location:     loc,
		TickInterval: cfg.Schedule.TickInterval,
		ExactJobs:    cfg.Schedule.ExactJobs,
	}, log)
	shutdown.Register("scheduler", func(context.Context) error {
		engine.Stop()
		return nil
	})

	capturer := journal.NewCapturer(backend.Store, machine, cfg.Schedule.PendingExpiry, log)
	users := user.NewService(backend.Store, engine, user.Defaults{
		Day:  cfg.Schedule.DefaultDay,
		Hour: cfg.Schedule.DefaultHour,
	}, log)

	limiter, memLimiter := buildLimiter(rdb, log)
	idem := buildIdempotency(rdb, log)

	locales, err := i18n.LoadFromDir(cfg.Bot.LocalesDir, cfg.Bot.Language)
	if err != nil {
		return fmt.Errorf("load locales: %w", err)
	}
	log.Info("locales loaded", slog.Any("languages", locales.Languages()), slog.String("default", cfg.Bot.Language))

	b := bot.New(ctx, tb, bot.Deps{
		Users:        users,
		Records:      backend.Store,
		Prompter:     engine,
		Journal:      capturer,
		Stats:        capturer,
		Locator:      engine,
		Locales:      locales,
		Idempotency:  idem,
		RateLimit:    middleware.NewRateLimitMiddleware(limiter, ratelimit.NewRules(cfg.RateLimit), log),
		ErrHandler:   apperrors.NewHandler(log, cfg.Sentry.Enabled),
		HistoryLimit: cfg.Prompts.HistoryLimit,
	}, log)
	shutdown.Register("telegram", func(context.Context) error {
		b.Stop()
		return nil
	})

	var wg sync.WaitGroup
	goRun := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			log.Debug("background task finished", slog.String("task", name))
		}()
	}

	if useAsynq {
		worker := jobs.NewWorker(redisOpt, cfg.Jobs.Queues, cfg.Jobs.Concurrency, log)
		worker.RegisterHandler(jobs.TaskTypeDeliverPrompt, jobhandlers.NewDeliverHandler(telegramSender, log))
		worker.RegisterHandler(jobs.TaskTypeScheduleTick, jobhandlers.NewTickHandler(engine, log))
		goRun("jobs-worker", func() {
			if err := worker.Run(); err != nil {
				log.Error("jobs worker stopped", slog.Any("error", err))
			}
		})
		shutdown.Register("jobs-worker", func(context.Context) error {
			worker.Shutdown()
			return nil
		})
	}

	if cfg.Schedule.Driver == "asynq" {
		if err := engine.Start(ctx); err != nil {
			return err
		}
		tickScheduler := jobs.NewScheduler(redisOpt, cfg.Schedule.TickInterval, loc, log)
		if err := tickScheduler.RegisterTasks(); err != nil {
			return err
		}
		tickScheduler.Run()
		shutdown.Register("tick-scheduler", func(context.Context) error {
			tickScheduler.Shutdown()
			return nil
		})
	} else {
		checker.AddCheck("scheduler", health.NewSchedulerChecker(engine))
		goRun("scheduler", func() {
			if err := engine.Run(ctx); err != nil {
				log.Error("scheduler stopped", slog.Any("error", err))
			}
		})
	}

	if cfg.Prompts.Watch && cfg.Prompts.CatalogPath != "" {
		watcher := prompts.NewWatcher(cfg.Prompts.CatalogPath, selector, log)
		goRun("catalog-watcher", func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error("catalog watcher stopped", slog.Any("error", err))
			}
		})
	}

	if memLimiter != nil {
		goRun("ratelimit-cleaner", func() {
			ratelimit.NewCleaner(memLimiter, time.Minute, time.Hour, log).Run(ctx)
		})
	}

	if cfg.Metrics.Enabled {
		collector := metrics.NewStateCollector(backend.Store, cfg.Metrics.CollectInterval, log)
		goRun("state-collector", func() { collector.Run(ctx) })
	}

	goRun("http", func() {
		if err := newHTTPServer(cfg, checker, log).ListenAndServe(ctx); err != nil {
			log.Error("http server stopped", slog.Any("error", err))
		}
	})

	goRun("telegram", b.Start)
	log.Info("reflect bot is running")

	<-ctx.Done()
	log.Info("reflect bot shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = shutdown.Execute(shutdownCtx)
	wg.Wait()

	return err
}

// buildLimiter returns the inbound limiter and, when state is kept in process, the memory
// limiter that needs periodic sweeping.
func buildLimiter(rdb *appredis.Client, log *slog.Logger) (ratelimit.Limiter, *ratelimit.MemoryLimiter) {
	mem := ratelimit.NewMemoryLimiter(log)
	if rdb == nil {
		return mem, mem
	}
	return ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb.Client, log), mem, log), mem
}

func buildIdempotency(rdb *appredis.Client, log *slog.Logger) idempotency.Manager {
	mem := idempotency.NewMemoryStore()
	if rdb == nil {
		return idempotency.NewManager(mem, nil, log)
	}
	return idempotency.NewManager(idempotency.NewRedisStore(rdb.Client, log), mem, log)
}
