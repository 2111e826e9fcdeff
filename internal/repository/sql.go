package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/reflect-bot/internal/database"
	"github.com/Proton-105/reflect-bot/internal/domain"
	apperrors "github.com/Proton-105/reflect-bot/internal/errors"
)

const recordColumns = `id, timezone, preferred_day, preferred_hour, subscribed, prompt_count,
		pending_text, pending_category, pending_issued_at, last_sent_slot, created_at, updated_at`

// SQLStore is a RecordStore over postgres or sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
	log     *slog.Logger
}

// NewSQLStore creates a store using db with the dialect's placeholders.
func NewSQLStore(db *sql.DB, dialect database.Dialect, log *slog.Logger) *SQLStore {
	if log == nil {
		log = slog.Default()
	}
	return &SQLStore{db: db, dialect: dialect, log: log}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *SQLStore) Get(ctx context.Context, id string) (*domain.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+recordColumns+` FROM user_records WHERE id = ?`), id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		s.log.Error("failed to fetch user record", slog.String("user_id", id), slog.Any("error", err))
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select user record: %w", err))
	}

	history, err := s.entries(ctx, s.q(`SELECT id, user_id, prompt_text, response_text, category, created_at
		FROM journal_entries WHERE user_id = ? ORDER BY seq ASC`), id)
	if err != nil {
		return nil, err
	}
	rec.History = history

	return rec, nil
}

func (s *SQLStore) Create(ctx context.Context, rec *domain.UserRecord) (bool, error) {
	pText, pCat, pAt := pendingColumns(rec.PendingPrompt)

	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO user_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		rec.ID, rec.Timezone, rec.PreferredDay, rec.PreferredHour, boolToInt(rec.Subscribed), rec.PromptCount,
		pText, pCat, pAt, rec.LastSentSlot, toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt),
	)
	if err != nil {
		s.log.Error("failed to create user record", slog.String("user_id", rec.ID), slog.Any("error", err))
		return false, apperrors.NewDatabaseError(fmt.Errorf("insert user record: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError(fmt.Errorf("insert user record: %w", err))
	}
	return n > 0, nil
}

func (s *SQLStore) Upsert(ctx context.Context, rec *domain.UserRecord) error {
	pText, pCat, pAt := pendingColumns(rec.PendingPrompt)

	return s.inTx(ctx, "upsert user record", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO user_records (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				timezone = excluded.timezone,
				preferred_day = excluded.preferred_day,
				preferred_hour = excluded.preferred_hour,
				subscribed = excluded.subscribed,
				prompt_count = excluded.prompt_count,
				pending_text = excluded.pending_text,
				pending_category = excluded.pending_category,
				pending_issued_at = excluded.pending_issued_at,
				last_sent_slot = excluded.last_sent_slot,
				updated_at = excluded.updated_at`),
			rec.ID, rec.Timezone, rec.PreferredDay, rec.PreferredHour, boolToInt(rec.Subscribed), rec.PromptCount,
			pText, pCat, pAt, rec.LastSentSlot, toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt),
		); err != nil {
			return err
		}

		for i := range rec.History {
			if err := s.insertEntry(ctx, tx, rec.ID, &rec.History[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) ListAll(ctx context.Context) ([]*domain.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM user_records ORDER BY id`)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("list user records: %w", err))
	}
	defer rows.Close()

	var out []*domain.UserRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan user record: %w", err))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("list user records: %w", err))
	}

	return out, nil
}

func (s *SQLStore) GetRecentEntries(ctx context.Context, id string, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		return []domain.JournalEntry{}, nil
	}

	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}

	entries, err := s.entries(ctx, s.q(`SELECT id, user_id, prompt_text, response_text, category, created_at
		FROM journal_entries WHERE user_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`), id, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	return entries, nil
}

func (s *SQLStore) CategoryCounts(ctx context.Context, id string) (map[domain.Category]int, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT category, COUNT(*) FROM journal_entries
		WHERE user_id = ? GROUP BY category`), id)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("count journal entries: %w", err))
	}
	defer rows.Close()

	counts := make(map[domain.Category]int)
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan category count: %w", err))
		}
		counts[domain.Category(category)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("count journal entries: %w", err))
	}

	return counts, nil
}

func (s *SQLStore) SetPreferences(ctx context.Context, id string, prefs domain.Preferences, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE user_records
		SET preferred_day = ?, preferred_hour = ?, timezone = ?, subscribed = ?, updated_at = ?
		WHERE id = ?`),
		prefs.Day, prefs.Hour, prefs.Timezone, boolToInt(prefs.Subscribed), toNanos(now), id,
	)
	if err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("update preferences: %w", err))
	}
	return requireRow(res, "update preferences")
}

func (s *SQLStore) ClaimSlot(ctx context.Context, id string, claim SlotClaim) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE user_records
		SET pending_text = ?, pending_category = ?, pending_issued_at = ?,
			prompt_count = ?, last_sent_slot = ?, updated_at = ?
		WHERE id = ? AND last_sent_slot = ? AND prompt_count = ?`),
		claim.Pending.Text, string(claim.Pending.Category), toNanos(claim.Pending.IssuedAt),
		claim.ExpectedCount+1, claim.Slot, toNanos(claim.Pending.IssuedAt),
		id, claim.ExpectedSlot, claim.ExpectedCount,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError(fmt.Errorf("claim slot: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError(fmt.Errorf("claim slot: %w", err))
	}
	if n == 0 {
		if err := s.exists(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLStore) ResolvePending(ctx context.Context, id string, issuedAt time.Time, entry *domain.JournalEntry) (bool, error) {
	resolved := false

	err := s.inTx(ctx, "resolve pending prompt", func(tx *sql.Tx) error {
		updatedAt := toNanos(issuedAt)
		if entry != nil {
			updatedAt = toNanos(entry.CreatedAt)
		}

		res, err := tx.ExecContext(ctx, s.q(`UPDATE user_records
			SET pending_text = NULL, pending_category = NULL, pending_issued_at = NULL, updated_at = ?
			WHERE id = ? AND pending_issued_at = ?`),
			updatedAt, id, toNanos(issuedAt),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		resolved = true
		if entry == nil {
			return nil
		}
		return s.insertEntry(ctx, tx, id, entry)
	})
	if err != nil {
		return false, err
	}

	if !resolved {
		if err := s.exists(ctx, id); err != nil {
			return false, err
		}
	}
	return resolved, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete user record", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM journal_entries WHERE user_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM user_records WHERE id = ?`), id)
		if err != nil {
			return err
		}
		return requireRow(res, "delete user record")
	})
}

func (s *SQLStore) insertEntry(ctx context.Context, tx *sql.Tx, userID string, e *domain.JournalEntry) error {
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO journal_entries (id, user_id, prompt_text, response_text, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		e.ID, userID, e.PromptText, e.ResponseText, string(e.Category), toNanos(e.CreatedAt),
	)
	return err
}

func (s *SQLStore) entries(ctx context.Context, query string, args ...any) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select journal entries: %w", err))
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var (
			e         domain.JournalEntry
			category  string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.PromptText, &e.ResponseText, &category, &createdAt); err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan journal entry: %w", err))
		}
		e.Category = domain.Category(category)
		e.CreatedAt = fromNanos(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select journal entries: %w", err))
	}

	return out, nil
}

func (s *SQLStore) exists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM user_records WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("check user record: %w", err))
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("begin %s: %w", op, err))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("rollback error", slog.String("op", op), slog.Any("error", rbErr))
		}
		if errors.Is(err, ErrRecordNotFound) {
			return err
		}
		return apperrors.NewDatabaseError(fmt.Errorf("%s: %w", op, err))
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("commit %s: %w", op, err))
	}
	return nil
}

func scanRecord(row rowScanner) (*domain.UserRecord, error) {
	var (
		rec        domain.UserRecord
		subscribed int64
		pText      sql.NullString
		pCat       sql.NullString
		pAt        sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Timezone,
		&rec.PreferredDay,
		&rec.PreferredHour,
		&subscribed,
		&rec.PromptCount,
		&pText,
		&pCat,
		&pAt,
		&rec.LastSentSlot,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Subscribed = subscribed != 0
	rec.CreatedAt = fromNanos(createdAt)
	rec.UpdatedAt = fromNanos(updatedAt)
	if pAt.Valid {
		rec.PendingPrompt = &domain.PendingPrompt{
			Text:     pText.String,
			Category: domain.Category(pCat.String),
			IssuedAt: fromNanos(pAt.Int64),
		}
	}

	return &rec, nil
}

func pendingColumns(p *domain.PendingPrompt) (sql.NullString, sql.NullString, sql.NullInt64) {
	if p == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullInt64{}
	}
	return sql.NullString{String: p.Text, Valid: true},
		sql.NullString{String: string(p.Category), Valid: true},
		sql.NullInt64{Int64: toNanos(p.IssuedAt), Valid: true}
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("%s: %w", op, err))
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
