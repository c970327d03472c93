package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every SQL statement of the game. Bound to the pool it runs
// autocommit; bound to a transaction (see Store.WithTx) it shares its atomicity.
type Queries struct {
	q querier
}

// Store owns the SQLite connection pool
type Store struct {
	*Queries
	db *sql.DB
}

// Open opens (and migrates) the SQLite database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	return OpenWithTimeout(path, 5*time.Second)
}

// OpenWithTimeout is Open with an explicit SQLite busy timeout.
func OpenWithTimeout(path string, busyTimeout time.Duration) (*Store, error) {
	dsn := path
	memory := path == ":memory:"
	if !memory {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		// Ensure the directory exists
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_txlock=immediate",
			absPath, busyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if memory {
		// Every connection to ":memory:" is a separate database
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		// Enable WAL mode for better concurrency
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &Store{Queries: &Queries{q: db}, db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// DB returns the database connection
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn inside one transaction. fn's error, or a panic, rolls back everything.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		uid TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		points INTEGER NOT NULL DEFAULT 1000,
		is_ai INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		telegram_id INTEGER UNIQUE,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS game_rounds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_at INTEGER NOT NULL UNIQUE,
		closed_at INTEGER NOT NULL,
		target_at INTEGER NOT NULL,
		base_price TEXT NOT NULL,
		result_price TEXT,
		winning_choice INTEGER,
		chart_data TEXT NOT NULL DEFAULT '{"before":[],"after":[]}',
		created_at INTEGER NOT NULL,
		settled_at INTEGER,
		CHECK (start_at < closed_at AND closed_at <= target_at),
		CHECK ((result_price IS NULL) = (winning_choice IS NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS predictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_uid TEXT NOT NULL REFERENCES users(uid),
		game_round_id INTEGER NOT NULL REFERENCES game_rounds(id),
		choice INTEGER NOT NULL CHECK (choice IN (1, 2, 3)),
		is_won INTEGER,
		earned_points INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (user_uid, game_round_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_uid TEXT NOT NULL REFERENCES users(uid),
		amount INTEGER NOT NULL,
		source_type TEXT NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_game_rounds_unsettled ON game_rounds(target_at) WHERE result_price IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_round ON predictions(game_round_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_uid ON transactions(user_uid)`,
}

// runMigrations creates the necessary tables
func (s *Store) runMigrations() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// IsUniqueViolation reports whether err comes from a UNIQUE or PRIMARY KEY constraint.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}
