// Package config provides configuration loading and validation utilities.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads .env files, ./configs/<APP_ENV>.yaml and environment variables, validates the
// result and returns it.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// env files are optional
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(env, fmt.Sprintf("./configs/%s.yaml", env))
}

// LoadFile loads configuration for env from path. A missing file leaves defaults and
// environment variables in effect.
func LoadFile(env, path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env
	if cfg.Sentry.Environment == "" {
		cfg.Sentry.Environment = env
	}

	if err := Validate(&cfg); err != nil {
		return nil, nil, err
	}

	return &cfg, v, nil
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return fmt.Errorf("validate config: schedule.timezone: %w", err)
	}
	if cfg.Schedule.Driver == "asynq" && !cfg.Redis.Enabled {
		return errors.New("validate config: schedule.driver asynq requires redis.enabled")
	}
	if cfg.Jobs.Enabled && !cfg.Redis.Enabled {
		return errors.New("validate config: jobs.enabled requires redis.enabled")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file.path", "logs/reflect-bot.log")
	v.SetDefault("logger.file.max_size_mb", 50)
	v.SetDefault("logger.file.max_backups", 5)
	v.SetDefault("logger.file.max_age_days", 28)
	v.SetDefault("logger.file.compress", true)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.sample_rate", 1.0)
	v.SetDefault("sentry.environment", "")

	v.SetDefault("bot.token", "")
	v.SetDefault("bot.mode", "polling")
	v.SetDefault("bot.timeout", 10*time.Second)
	v.SetDefault("bot.webhook_url", "")
	v.SetDefault("bot.listen", ":8443")
	v.SetDefault("bot.language", "en")
	v.SetDefault("bot.locales_dir", "")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "data/reflect.db")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.name", "reflect")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.cache_ttl", 10*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.pool_timeout", 4*time.Second)
	v.SetDefault("redis.idle_timeout", 5*time.Minute)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.min_retry_backoff", 8*time.Millisecond)
	v.SetDefault("redis.max_retry_backoff", 512*time.Millisecond)

	v.SetDefault("schedule.timezone", "Asia/Singapore")
	v.SetDefault("schedule.tick_interval", time.Minute)
	v.SetDefault("schedule.pending_expiry", 24*time.Hour)
	v.SetDefault("schedule.default_day", 0)
	v.SetDefault("schedule.default_hour", 9)
	v.SetDefault("schedule.exact_jobs", true)
	v.SetDefault("schedule.driver", "ticker")
	v.SetDefault("schedule.lock_ttl", 5*time.Second)
	v.SetDefault("schedule.lock_wait", 3*time.Second)

	v.SetDefault("prompts.catalog_path", "")
	v.SetDefault("prompts.watch", false)
	v.SetDefault("prompts.history_limit", 5)

	v.SetDefault("jobs.enabled", false)
	v.SetDefault("jobs.concurrency", 10)
	v.SetDefault("jobs.queues", map[string]int{"critical": 6, "default": 3, "low": 1})

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.whitelist", []int64{})
	v.SetDefault("rate_limit.per_user.limit", 30)
	v.SetDefault("rate_limit.per_user.window", "1m")
	v.SetDefault("rate_limit.commands.prompt.limit", 3)
	v.SetDefault("rate_limit.commands.prompt.window", "1h")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.collect_interval", 30*time.Second)
}
