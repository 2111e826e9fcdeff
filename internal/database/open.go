package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"
	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	apperrors "github.com/Proton-105/reflect-bot/internal/errors"
	"github.com/Proton-105/reflect-bot/pkg/config"
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
	"PRAGMA foreign_keys=ON;",
}

// Open connects to the configured SQL backend and verifies the connection. The memory
// driver has no database and is rejected.
func Open(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (*sql.DB, Dialect, error) {
	if log == nil {
		log = slog.Default()
	}

	var (
		dialect Dialect
		dsn     string
	)

	switch cfg.Driver {
	case string(Postgres):
		dialect = Postgres
		dsn = cfg.Postgres.DSN()
	case string(SQLite):
		dialect = SQLite
		dsn = cfg.SQLitePath
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, "", fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	default:
		return nil, "", fmt.Errorf("open database: unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}

	if dialect == SQLite {
		// single-writer engine
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	err = apperrors.WithRetry(ctx, func() error {
		if pingErr := db.PingContext(ctx); pingErr != nil {
			log.Warn("database ping failed", slog.String("driver", cfg.Driver), slog.Any("error", pingErr))
			return apperrors.NewDatabaseError(pingErr)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping database: %w", err)
	}

	if dialect == SQLite {
		for _, p := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				_ = db.Close()
				return nil, "", fmt.Errorf("apply pragma %q: %w", p, err)
			}
		}
	}

	log.Info("database connected", slog.String("driver", cfg.Driver))

	return db, dialect, nil
}
