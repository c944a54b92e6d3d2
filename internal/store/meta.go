package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	metaLastSync = "last_sync"
	metaOpenedAt = "opened_at"
)

// SetLastSync records the completion time of the latest drain pass.
func (s *Store) SetLastSync(ctx context.Context, at time.Time) error {
	return s.setMeta(ctx, metaLastSync, formatTime(at))
}

// LastSync returns the completion time of the latest drain pass, or nil if none ran.
func (s *Store) LastSync(ctx context.Context) (*time.Time, error) {
	value, err := s.getMeta(ctx, metaLastSync)
	if err != nil || value == "" {
		return nil, err
	}
	t, err := parseTime(value)
	if err != nil {
		return nil, fmt.Errorf("parse last sync: %w", err)
	}
	return &t, nil
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

func (s *Store) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
