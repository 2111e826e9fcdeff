package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/bot/handlers"
	"github.com/Proton-105/reflect-bot/internal/bot/keyboard"
	errors "github.com/Proton-105/reflect-bot/internal/errors"
	"github.com/Proton-105/reflect-bot/internal/i18n"
	"github.com/Proton-105/reflect-bot/internal/idempotency"
	"github.com/Proton-105/reflect-bot/internal/middleware"
	"github.com/Proton-105/reflect-bot/internal/ratelimit"
	"github.com/Proton-105/reflect-bot/internal/state"
	"github.com/Proton-105/reflect-bot/pkg/config"
)

// Deps are the application services the transport calls into.
type Deps struct {
	Users        handlers.Users
	Records      RecordSource
	Prompter     handlers.Prompter
	Journal      handlers.Journal
	Stats        handlers.Stats
	Locator      handlers.Locator
	Locales      *i18n.Manager
	Idempotency  idempotency.Manager
	RateLimit    *middleware.RateLimitMiddleware
	ErrHandler   *errors.Handler
	HistoryLimit int
	Now          func() time.Time
}

// Bot wraps telebot.Bot with the router that serves reflection commands.
type Bot struct {
	telebot    *telebot.Bot
	log        *slog.Logger
	router     *Router
	dispatcher *Dispatcher
	keyboard   *keyboard.Builder
	deps       Deps
}

// NewTelebot creates the Telegram client configured for polling or webhook mode. With
// offline set no request is made to Telegram at construction.
func NewTelebot(cfg config.BotConfig, offline bool) (*telebot.Bot, error) {
	settings := telebot.Settings{
		Token:   cfg.Token,
		Offline: offline,
	}

	if cfg.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen:   cfg.Listen,
			Endpoint: &telebot.WebhookEndpoint{PublicURL: cfg.WebhookURL},
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return tb, nil
}

// New registers the reflection handlers on tb. base is the parent of every update context.
func New(base context.Context, tb *telebot.Bot, deps Deps, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.Default()
	}
	if deps.ErrHandler == nil {
		deps.ErrHandler = errors.NewHandler(log, false)
	}
	if deps.Locales == nil {
		deps.Locales = i18n.Default()
	}

	dispatcher := NewDispatcher(deps.Records, log)
	b := &Bot{
		telebot:    tb,
		log:        log,
		router:     NewRouter(dispatcher, log),
		dispatcher: dispatcher,
		keyboard:   keyboard.NewBuilder(log),
		deps:       deps,
	}

	b.setupRouter(base)

	if tb != nil {
		if deps.RateLimit != nil {
			tb.Use(deps.RateLimit.Handle)
		}
		tb.Handle(telebot.OnText, b.router.Route)
		tb.Handle(telebot.OnCallback, b.router.Route)
	}

	return b
}

// Start runs the telegram bot event loop.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.telebot.Start()
	}
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// Router exposes the update router.
func (b *Bot) Router() *Router {
	return b.router
}

func (b *Bot) setupRouter(base context.Context) {
	d := b.deps

	b.router.Use(RecoveryMiddleware(b.log, d.ErrHandler))
	b.router.Use(ContextMiddleware(base))
	b.router.Use(LocaleMiddleware(d.Locales))
	b.router.Use(middleware.Idempotency(d.Idempotency, middleware.DefaultDedupeTTL, b.log))
	b.router.Use(ErrorHandlingMiddleware(d.ErrHandler))
	b.router.Use(LoggingMiddleware(b.log))
	if d.RateLimit != nil {
		b.router.Use(d.RateLimit.PerUser())
	}
	b.router.Use(AuthMiddleware(d.Users, b.log))
	b.router.Use(middleware.Metrics)

	settings := handlers.NewSettings(d.Users, d.Locator, b.keyboard, d.Now, b.log)

	promptHandler := handlers.NewPromptHandler(d.Prompter, b.log)
	if d.RateLimit != nil {
		promptHandler = d.RateLimit.ForCommand(ratelimit.CommandPrompt)(promptHandler)
	}

	historyHandler := handlers.NewHistoryHandler(d.Journal, d.HistoryLimit, b.log)
	statsHandler := handlers.NewStatsHandler(d.Stats)
	helpHandler := handlers.NewHelpHandler()

	b.router.RegisterCommand(CommandStart, b.withMenu(handlers.NewStartHandler(d.Users, b.log)))
	b.router.RegisterCommand(CommandPrompt, promptHandler)
	b.router.RegisterCommand(CommandHistory, historyHandler)
	b.router.RegisterCommand(CommandStats, statsHandler)
	b.router.RegisterCommand(CommandSettings, settings.Command())
	b.router.RegisterCommand(CommandSetDay, handlers.NewSetDayHandler(d.Users))
	b.router.RegisterCommand(CommandSetHour, handlers.NewSetHourHandler(d.Users))
	b.router.RegisterCommand(CommandTimezone, handlers.NewTimezoneHandler(d.Users))
	b.router.RegisterCommand(CommandStop, handlers.NewSubscriptionHandler(d.Users, false))
	b.router.RegisterCommand(CommandResume, handlers.NewSubscriptionHandler(d.Users, true))
	b.router.RegisterCommand(CommandHelp, helpHandler)
	b.router.SetDefault(helpHandler)

	menu := map[string]handlers.Handler{
		keyboard.MenuPrompt:   promptHandler,
		keyboard.MenuHistory:  historyHandler,
		keyboard.MenuStats:    statsHandler,
		keyboard.MenuSettings: settings.Command(),
		keyboard.MenuHelp:     helpHandler,
	}
	for _, lang := range d.Locales.Languages() {
		t := d.Locales.Translator(lang)
		for key, h := range menu {
			b.router.RegisterText(t.T(key), h)
		}
	}

	b.router.RegisterCallback(CallbackSettings, settings.Menu())
	b.router.RegisterCallback(CallbackDay, settings.PickDay())
	b.router.RegisterCallback(CallbackHour, settings.PickHour())

	b.dispatcher.RegisterStateHandler(state.StateAwaitingResponse, handlers.NewReplyHandler(d.Journal, d.Now, b.log))
	b.dispatcher.RegisterStateHandler(state.StateIdle, handlers.NewIdleHandler())
}

// withMenu sends the main reply keyboard after h succeeds.
func (b *Bot) withMenu(h handlers.Handler) handlers.Handler {
	return func(c telebot.Context) error {
		if err := h(c); err != nil {
			return err
		}
		t := handlers.Translator(c)
		return c.Send(t.T("menu.intro"), keyboard.MainMenu(t))
	}
}
