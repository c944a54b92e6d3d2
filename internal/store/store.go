package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS = 2000
	maxOpenConns  = 1
	maxIdleConns  = 1

	// Fixed width so stored timestamps compare correctly as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrNotFound is returned when a pending operation no longer exists.
var ErrNotFound = errors.New("operation not found")

// Store wraps the SQLite queue database. The single pooled connection holds
// an exclusive file lock for the lifetime of the Store, so a second process
// cannot open the same queue.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database, takes the exclusive lock and bootstraps the schema.
func Open(path string) (*Store, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := claim(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection and releases the lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configureDB(db *sql.DB) error {
	// The connection must never be recycled: closing it drops the lock
	// and a fresh connection would come up without these pragmas.
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	// locking_mode must precede the first WAL access.
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
		"PRAGMA locking_mode = EXCLUSIVE;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("configure queue db (%s): %w", stmt, err)
		}
	}
	return nil
}

// claim writes once so the exclusive lock is taken now rather than on the first enqueue.
func claim(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(),
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		metaOpenedAt, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("acquire queue lock (is another fieldsync instance running?): %w", err)
	}
	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
