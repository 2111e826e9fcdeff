package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, _, err := LoadFile("test", filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.AppEnv)
	assert.Equal(t, "Asia/Singapore", cfg.Schedule.Timezone)
	assert.Equal(t, time.Minute, cfg.Schedule.TickInterval)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.PendingExpiry)
	assert.Equal(t, 0, cfg.Schedule.DefaultDay)
	assert.Equal(t, 9, cfg.Schedule.DefaultHour)
	assert.Equal(t, 5, cfg.Prompts.HistoryLimit)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.RateLimit.Commands.Prompt.Limit)
	assert.Equal(t, "test", cfg.Sentry.Environment)
}

func TestLoadFile_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staging.yaml")
	content := `
schedule:
  timezone: Europe/Berlin
  tick_interval: 5m
  default_hour: 20
storage:
  driver: memory
prompts:
  history_limit: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("SCHEDULE_DEFAULT_DAY", "4")

	cfg, _, err := LoadFile("staging", path)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.Schedule.Timezone)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.TickInterval)
	assert.Equal(t, 20, cfg.Schedule.DefaultHour)
	assert.Equal(t, 4, cfg.Schedule.DefaultDay)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Prompts.HistoryLimit)
	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, "en", cfg.Bot.Language)
}

func TestLoadFile_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "hour out of range", content: "schedule:\n  default_hour: 24\n"},
		{name: "unknown timezone", content: "schedule:\n  timezone: Mars/Olympus\n"},
		{name: "unknown driver", content: "storage:\n  driver: mongo\n"},
		{name: "asynq without redis", content: "schedule:\n  driver: asynq\n"},
		{name: "sentry without dsn", content: "sentry:\n  enabled: true\n"},
		{name: "empty language", content: "bot:\n  language: \"\"\n"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			_, _, err := LoadFile("test", path)
			assert.Error(t, err)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}.DSN()
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", dsn)
}
