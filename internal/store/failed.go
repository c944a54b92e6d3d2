package store

import (
	"context"
	"encoding/json"
	"fmt"

	"fieldsync/internal/models"
)

// FailOperation removes the pending operation and stores its failure report
// in the same transaction.
func (s *Store) FailOperation(ctx context.Context, failed models.FailedOperation) error {
	op := failed.Operation
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM pending_operations WHERE id = ?", op.ID)
	if err != nil {
		return fmt.Errorf("delete operation: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO failed_operations
		 (id, dedup_key, type, payload, idempotency_token, created_at, retry_count, kind, reason, attempts, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.DedupKey, string(op.Type), string(op.Payload), op.IdempotencyToken,
		formatTime(op.CreatedAt), op.RetryCount, failed.Kind, failed.Reason, failed.Attempts, formatTime(failed.FailedAt))
	if err != nil {
		return fmt.Errorf("insert failure report: %w", err)
	}
	return tx.Commit()
}

// ListFailed returns failure reports, newest first. A non-positive limit returns all.
func (s *Store) ListFailed(ctx context.Context, limit int) ([]models.FailedOperation, error) {
	query := `SELECT id, dedup_key, type, payload, idempotency_token, created_at, retry_count, kind, reason, attempts, failed_at
		FROM failed_operations ORDER BY failed_at DESC, id ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FailedOperation
	for rows.Next() {
		var (
			f         models.FailedOperation
			opType    string
			payload   string
			createdAt string
			failedAt  string
		)
		if err := rows.Scan(&f.Operation.ID, &f.Operation.DedupKey, &opType, &payload, &f.Operation.IdempotencyToken,
			&createdAt, &f.Operation.RetryCount, &f.Kind, &f.Reason, &f.Attempts, &failedAt); err != nil {
			return nil, err
		}
		if f.Operation.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", f.Operation.ID, err)
		}
		if f.FailedAt, err = parseTime(failedAt); err != nil {
			return nil, fmt.Errorf("parse failed_at for %s: %w", f.Operation.ID, err)
		}
		f.Operation.Type = models.OperationType(opType)
		f.Operation.Payload = json.RawMessage(payload)
		f.Operation.Status = models.StatusFailed
		f.Operation.LastError = f.Reason
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) CountFailed(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM failed_operations")
}

// ClearFailed deletes every failure report.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM failed_operations")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
