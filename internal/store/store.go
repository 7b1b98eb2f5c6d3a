// Package store persists reminders in a sqlite file.
//
// The table is an append-only historical log: rows are inserted pending,
// flipped to sent exactly once, and never deleted. One writer at a time
// (SetMaxOpenConns(1)) keeps sqlite happy under concurrent timer firings
// and inbound messages.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// fireAtFormat keeps ordervalue text lexicographically ordered by time.
// Values are always stored in UTC, and the fractional second is fixed-width:
// RFC3339Nano drops trailing zeros, which would sort "12:00:00.5Z" before
// "12:00:00Z".
const fireAtFormat = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrEmptyText  = errors.New("reminder text is empty")
	ErrZeroFireAt = errors.New("reminder fire time is zero")
)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the reminder database and applies the
// schema. The returned store is ready for concurrent Insert/MarkSent calls.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert persists a new pending reminder and returns its assigned id.
// The row is durable before Insert returns, so the caller may schedule the
// in-memory timer immediately after.
func (s *Store) Insert(ctx context.Context, chatID int64, fireAt time.Time, text string) (int64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}
	if fireAt.IsZero() {
		return 0, ErrZeroFireAt
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(chat_id, ordervalue, text, sent) VALUES(?,?,?,?)`,
		chatID, fireAt.UTC().Format(fireAtFormat), text, false,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert id: %w", err)
	}
	return id, nil
}

// MarkSent flips a reminder to sent. Idempotent: already-sent and unknown
// ids are silent no-ops.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET sent=? WHERE id=? AND sent=?`, true, id, false)
	if err != nil {
		return fmt.Errorf("store: mark sent id=%d: %w", id, err)
	}
	return nil
}

// LoadPending returns every unsent reminder ordered by fire time, ties by id.
// Called once at startup before concurrent access begins.
func (s *Store) LoadPending(ctx context.Context) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, ordervalue, text FROM messages WHERE sent=? ORDER BY ordervalue ASC, id ASC`, false)
	if err != nil {
		return nil, fmt.Errorf("store: load pending: %w", err)
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		var (
			r   reminder.Reminder
			raw string
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &raw, &r.Text); err != nil {
			return nil, fmt.Errorf("store: scan pending: %w", err)
		}
		at, err := time.Parse(fireAtFormat, raw)
		if err != nil {
			return nil, fmt.Errorf("store: bad ordervalue for id=%d: %w", r.ID, err)
		}
		r.FireAt = at
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load pending: %w", err)
	}
	return out, nil
}

// Checkpoint truncates the WAL. Run from the maintenance schedule; the log
// only ever grows, so the WAL needs an occasional flush on quiet deployments.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("store: checkpoint: %w", err)
	}
	return nil
}

// CountRows reports the total number of rows in the log. Used by tests and
// operational logging only.
func (s *Store) CountRows(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}
