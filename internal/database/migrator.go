// Package database opens the SQL backends and applies their schema migrations.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrator applies embedded .up.sql migrations in lexical order and records each applied
// version in schema_migrations.
type Migrator struct {
	db      *sql.DB
	dialect Dialect
	fsys    fs.FS
	root    string
	log     *slog.Logger
}

// NewMigrator constructs a Migrator for the dialect's embedded migration set.
func NewMigrator(db *sql.DB, dialect Dialect, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.Default()
	}

	return &Migrator{
		db:      db,
		dialect: dialect,
		fsys:    migrationsFS,
		root:    path.Join("migrations", string(dialect)),
		log:     log,
	}
}

// Apply runs every migration not yet recorded. It returns the versions applied.
func (m *Migrator) Apply(ctx context.Context) ([]string, error) {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	files, err := ListMigrations(m.fsys, m.root)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	baseLog := m.log.With(slog.String("dialect", string(m.dialect)))
	if len(files) == 0 {
		baseLog.Info("no .up.sql migrations found")
		return nil, nil
	}

	var done []string
	for _, name := range files {
		version := versionOf(name)
		if _, ok := applied[version]; ok {
			continue
		}
		if err := m.applyFile(ctx, baseLog, name, version); err != nil {
			return done, err
		}
		done = append(done, version)
	}

	return done, nil
}

// Pending returns versions that Apply would run.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	files, err := ListMigrations(m.fsys, m.root)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var pending []string
	for _, name := range files {
		if _, ok := applied[versionOf(name)]; !ok {
			pending = append(pending, versionOf(name))
		}
	}
	return pending, nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		if isMissingTable(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[v] = struct{}{}
	}

	return applied, rows.Err()
}

func (m *Migrator) applyFile(ctx context.Context, baseLog *slog.Logger, name, version string) error {
	scopedLog := baseLog.With(slog.String("file", name))
	scopedLog.Info("applying migration")

	data, err := fs.ReadFile(m.fsys, path.Join(m.root, name))
	if err != nil {
		return fmt.Errorf("read migration %q: %w", name, err)
	}

	statement := strings.TrimSpace(string(data))

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for migration %q: %w", name, err)
	}

	if statement == "" {
		scopedLog.Warn("migration is empty, recording only")
	} else if _, execErr := tx.ExecContext(ctx, statement); execErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			scopedLog.Error("rollback error", "error", rbErr)
		}
		return fmt.Errorf("execute migration %q: %w", name, execErr)
	}

	record := m.dialect.Rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`)
	if _, execErr := tx.ExecContext(ctx, record, version, time.Now().UTC().UnixNano()); execErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			scopedLog.Error("rollback error", "error", rbErr)
		}
		return fmt.Errorf("record migration %q: %w", name, execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit migration %q: %w", name, commitErr)
	}

	return nil
}

func isUpMigration(name string) bool {
	return strings.HasSuffix(name, ".up.sql")
}

func versionOf(name string) string {
	return strings.TrimSuffix(name, ".up.sql")
}

func isMissingTable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "does not exist")
}

// ListMigrations returns all .up.sql files under root in lexical order.
func ListMigrations(dir fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(dir, root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isUpMigration(e.Name()) {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}
