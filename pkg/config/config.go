package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the reflection bot.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Bot       BotConfig       `mapstructure:"bot"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level  string        `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string        `mapstructure:"format" validate:"oneof=text json"`
	Output string        `mapstructure:"output" validate:"oneof=stdout file"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures lumberjack rotation when Output is "file".
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// SentryConfig enables error reporting.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Environment string  `mapstructure:"environment"`
}

// BotConfig configures the Telegram transport.
type BotConfig struct {
	Token      string        `mapstructure:"token"`
	Mode       string        `mapstructure:"mode" validate:"oneof=polling webhook"`
	Timeout    time.Duration `mapstructure:"timeout"`
	WebhookURL string        `mapstructure:"webhook_url" validate:"required_if=Mode webhook"`
	Listen     string        `mapstructure:"listen"`
	// Language is used when the sender's Telegram language has no catalog.
	Language string `mapstructure:"language" validate:"required"`
	// LocalesDir holds extra YAML catalogs merged over the built-in ones. Empty uses only
	// the built-in catalogs.
	LocalesDir string `mapstructure:"locales_dir"`
}

// ServerConfig configures the HTTP probe and metrics server.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig selects the UserRecord store backend.
type StorageConfig struct {
	Driver     string         `mapstructure:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath string         `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	CacheTTL   time.Duration  `mapstructure:"cache_ttl" validate:"gte=0"`
}

// PostgresConfig holds connection parameters for the postgres backend.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// RedisConfig configures the shared Redis connection. Redis is optional; without it locks,
// caches and prompt history stay in process.
type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db" validate:"gte=0"`
	PoolSize        int           `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns    int           `mapstructure:"min_idle_conns" validate:"gte=0"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// ScheduleConfig configures the scheduling engine.
type ScheduleConfig struct {
	Timezone      string        `mapstructure:"timezone" validate:"required"`
	TickInterval  time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	PendingExpiry time.Duration `mapstructure:"pending_expiry" validate:"gt=0"`
	DefaultDay    int           `mapstructure:"default_day" validate:"min=0,max=6"`
	DefaultHour   int           `mapstructure:"default_hour" validate:"min=0,max=23"`
	ExactJobs     bool          `mapstructure:"exact_jobs"`
	Driver        string        `mapstructure:"driver" validate:"oneof=ticker asynq"`
	LockTTL       time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	LockWait      time.Duration `mapstructure:"lock_wait" validate:"gt=0"`
}

// PromptsConfig configures the prompt catalog.
type PromptsConfig struct {
	CatalogPath  string `mapstructure:"catalog_path"`
	Watch        bool   `mapstructure:"watch"`
	HistoryLimit int    `mapstructure:"history_limit" validate:"gt=0"`
}

// JobsConfig configures the asynq delivery queue.
type JobsConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Concurrency int            `mapstructure:"concurrency" validate:"gte=0"`
	Queues      map[string]int `mapstructure:"queues"`
}

// RateLimitRule is a limit per window, e.g. 3 per "1h".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit" validate:"gte=0"`
	Window string `mapstructure:"window"`
}

// CommandLimits holds per-command limits.
type CommandLimits struct {
	Prompt RateLimitRule `mapstructure:"prompt"`
}

// RateLimitConfig configures inbound rate limiting.
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Whitelist []int64       `mapstructure:"whitelist"`
	PerUser   RateLimitRule `mapstructure:"per_user"`
	Commands  CommandLimits `mapstructure:"commands"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Path            string        `mapstructure:"path"`
	CollectInterval time.Duration `mapstructure:"collect_interval"`
}
