package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Proton-105/reflect-bot/internal/database"
	"github.com/Proton-105/reflect-bot/internal/usercache"
	"github.com/Proton-105/reflect-bot/pkg/config"
)

// Backend is an opened record store and, for SQL drivers, its database handle.
type Backend struct {
	Store RecordStore
	DB    *sql.DB
}

// Close releases the database handle, if any.
func (b *Backend) Close() error {
	if b == nil || b.DB == nil {
		return nil
	}
	return b.DB.Close()
}

// Open builds the store selected by cfg.Driver. SQL backends are migrated before use. A
// non-nil cache puts a read-through cache in front of the store.
func Open(ctx context.Context, cfg config.StorageConfig, cache *usercache.Cache, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}

	backend := &Backend{}
	if cfg.Driver == "memory" {
		backend.Store = NewMemoryStore()
		log.Warn("using in-memory record store; records are lost on restart")
	} else {
		db, dialect, err := database.Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}

		applied, err := database.NewMigrator(db, dialect, log).Apply(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		if len(applied) > 0 {
			log.Info("database migrations applied", slog.Any("versions", applied))
		}

		backend.DB = db
		backend.Store = NewSQLStore(db, dialect, log)
	}

	if cache != nil {
		backend.Store = NewCachedStore(backend.Store, cache, log)
	}

	return backend, nil
}
