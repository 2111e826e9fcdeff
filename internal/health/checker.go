package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/telebot.v3"
)

// Checkable represents a component that can report its health status.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checkable.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// StatusOK is the result reported for a passing check.
const StatusOK = "OK"

// DefaultCheckTimeout bounds a single component check.
const DefaultCheckTimeout = 2 * time.Second

// Checker runs named component checks in parallel.
type Checker struct {
	log     *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Checkable
}

func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		log:     log,
		timeout: DefaultCheckTimeout,
		checks:  make(map[string]Checkable),
	}
}

// AddCheck registers check under name, replacing any previous one.
func (c *Checker) AddCheck(name string, check Checkable) {
	if name == "" || check == nil {
		return
	}
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// Check runs every registered check and maps each name to StatusOK or its error text.
func (c *Checker) Check(ctx context.Context) map[string]string {
	c.mu.RLock()
	checks := make(map[string]Checkable, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Checkable) {
			defer wg.Done()

			status := StatusOK
			if err := c.run(ctx, check); err != nil {
				status = err.Error()
				c.log.Warn("health check failed", slog.String("component", name), slog.Any("error", err))
			}

			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	return results
}

func (c *Checker) run(ctx context.Context, check Checkable) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return check.HealthCheck(ctx)
}

// Names returns the registered component names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Healthy reports whether every result is StatusOK.
func Healthy(results map[string]string) bool {
	for _, status := range results {
		if status != StatusOK {
			return false
		}
	}
	return true
}

// DBChecker pings the record database.
type DBChecker struct {
	db *sql.DB
}

func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

func (c *DBChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.db == nil {
		return sql.ErrConnDone
	}
	return c.db.PingContext(ctx)
}

// Pinger abstracts the subset of redis.Client used for health checks.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker issues PING.
type RedisChecker struct {
	pinger Pinger
}

func NewRedisChecker(pinger Pinger) *RedisChecker {
	return &RedisChecker{pinger: pinger}
}

func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.pinger == nil {
		return redis.ErrClosed
	}
	return c.pinger.Ping(ctx).Err()
}

// TelegramChecker passes once the bot has identified itself with getMe.
type TelegramChecker struct {
	bot *telebot.Bot
}

func NewTelegramChecker(bot *telebot.Bot) *TelegramChecker {
	return &TelegramChecker{bot: bot}
}

func (c *TelegramChecker) HealthCheck(context.Context) error {
	if c == nil || c.bot == nil || c.bot.Me == nil || c.bot.Me.ID == 0 {
		return errors.New("telegram bot has not identified itself")
	}
	return nil
}

// TickSource reports scheduler progress.
type TickSource interface {
	LastTick() time.Time
	TickInterval() time.Duration
}

// SchedulerChecker fails when the last completed tick is older than three tick intervals.
type SchedulerChecker struct {
	source    TickSource
	startedAt time.Time
	now       func() time.Time
}

// NewSchedulerChecker constructs a SchedulerChecker. Until the first tick completes the
// process start time stands in for it.
func NewSchedulerChecker(source TickSource) *SchedulerChecker {
	return &SchedulerChecker{
		source:    source,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// HealthCheck compares the age of the last tick with the allowed staleness.
func (c *SchedulerChecker) HealthCheck(ctx context.Context) error {
	if c == nil || c.source == nil {
		return errors.New("scheduler is not configured")
	}

	last := c.source.LastTick()
	if last.IsZero() {
		last = c.startedAt
	}

	allowed := 3 * c.source.TickInterval()
	if age := c.now().Sub(last); age > allowed {
		return fmt.Errorf("last tick %s ago exceeds %s", age.Truncate(time.Second), allowed)
	}
	return nil
}
