package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fieldsync/internal/models"
)

const pendingColumns = "id, dedup_key, type, payload, idempotency_token, created_at, retry_count, last_error, position"

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertOperation appends op at the tail of the queue unless its dedup key is
// already pending, or was delivered at or after processedSince. A zero
// processedSince skips the delivered-key check. It fills in op.ID,
// op.Position and op.Status and reports whether a row was inserted.
func (s *Store) InsertOperation(ctx context.Context, op *models.Operation, processedSince time.Time) (bool, error) {
	if op == nil {
		return false, fmt.Errorf("operation is required")
	}
	if op.DedupKey == "" {
		return false, fmt.Errorf("dedup key is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	dup, err := rowExists(ctx, tx, "SELECT 1 FROM pending_operations WHERE dedup_key = ? LIMIT 1", op.DedupKey)
	if err != nil {
		return false, fmt.Errorf("check pending dedup key: %w", err)
	}
	if dup {
		return false, nil
	}
	if !processedSince.IsZero() {
		dup, err = rowExists(ctx, tx, "SELECT 1 FROM processed_operations WHERE dedup_key = ? AND processed_at >= ? LIMIT 1",
			op.DedupKey, formatTime(processedSince))
		if err != nil {
			return false, fmt.Errorf("check processed dedup key: %w", err)
		}
		if dup {
			return false, nil
		}
	}

	id, err := GenerateOperationID(func(candidate string) (bool, error) {
		return rowExists(ctx, tx,
			"SELECT 1 FROM pending_operations WHERE id = ? UNION ALL SELECT 1 FROM failed_operations WHERE id = ? LIMIT 1",
			candidate, candidate)
	})
	if err != nil {
		return false, err
	}

	var position int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), 0) + 1 FROM pending_operations").Scan(&position); err != nil {
		return false, fmt.Errorf("next queue position: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO pending_operations ("+pendingColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		id, op.DedupKey, string(op.Type), string(op.Payload), op.IdempotencyToken,
		formatTime(op.CreatedAt), op.RetryCount, nullString(op.LastError), position,
	)
	if err != nil {
		return false, fmt.Errorf("insert operation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	op.ID = id
	op.Position = position
	op.Status = models.StatusPending
	return true, nil
}

// ListPending returns every pending operation in queue order.
func (s *Store) ListPending(ctx context.Context) ([]models.Operation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+pendingColumns+" FROM pending_operations ORDER BY position ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// GetOperation returns a pending operation by id, or ErrNotFound.
func (s *Store) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pendingColumns+" FROM pending_operations WHERE id = ?", id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return op, err
}

// MinPosition returns the smallest pending position, or 0 when the queue is empty.
func (s *Store) MinPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MIN(position), 0) FROM pending_operations").Scan(&pos)
	return pos, err
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM pending_operations")
}

// CountRetryable counts pending operations that already failed at least once.
func (s *Store) CountRetryable(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM pending_operations WHERE retry_count > 0")
}

// CompleteOperation removes a delivered operation and remembers its dedup key.
func (s *Store) CompleteOperation(ctx context.Context, id, dedupKey string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM pending_operations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete operation: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO processed_operations (dedup_key, operation_id, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT(dedup_key) DO UPDATE SET operation_id = excluded.operation_id, processed_at = excluded.processed_at`,
		dedupKey, id, formatTime(at))
	if err != nil {
		return fmt.Errorf("record processed key: %w", err)
	}
	return tx.Commit()
}

// RequeueOperation records a retryable failure and moves the operation to position.
func (s *Store) RequeueOperation(ctx context.Context, id string, retryCount int, position int64, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_operations SET retry_count = ?, position = ?, last_error = ? WHERE id = ?",
		retryCount, position, nullString(lastError), id)
	if err != nil {
		return fmt.Errorf("requeue operation: %w", err)
	}
	return requireAffected(res)
}

// PruneProcessed forgets delivered dedup keys recorded before the cutoff.
func (s *Store) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM processed_operations WHERE processed_at < ?", formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanOperation(row rowScanner) (*models.Operation, error) {
	var (
		op        models.Operation
		opType    string
		payload   string
		createdAt string
		lastError sql.NullString
	)
	if err := row.Scan(&op.ID, &op.DedupKey, &opType, &payload, &op.IdempotencyToken,
		&createdAt, &op.RetryCount, &lastError, &op.Position); err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", op.ID, err)
	}
	op.Type = models.OperationType(opType)
	op.Payload = json.RawMessage(payload)
	op.CreatedAt = created
	op.LastError = lastError.String
	op.Status = models.StatusPending
	return &op, nil
}

func rowExists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
