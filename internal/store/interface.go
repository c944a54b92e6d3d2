package store

import (
	"context"
	"time"

	"fieldsync/internal/models"
)

// QueueStore abstracts persistence of the operation queue.
type QueueStore interface {
	InsertOperation(ctx context.Context, op *models.Operation, processedSince time.Time) (bool, error)
	ListPending(ctx context.Context) ([]models.Operation, error)
	GetOperation(ctx context.Context, id string) (*models.Operation, error)
	MinPosition(ctx context.Context) (int64, error)
	CountPending(ctx context.Context) (int, error)
	CountRetryable(ctx context.Context) (int, error)

	CompleteOperation(ctx context.Context, id, dedupKey string, at time.Time) error
	RequeueOperation(ctx context.Context, id string, retryCount int, position int64, lastError string) error
	FailOperation(ctx context.Context, failed models.FailedOperation) error
	PruneProcessed(ctx context.Context, before time.Time) (int64, error)

	ListFailed(ctx context.Context, limit int) ([]models.FailedOperation, error)
	CountFailed(ctx context.Context) (int, error)
	ClearFailed(ctx context.Context) (int64, error)

	SetLastSync(ctx context.Context, at time.Time) error
	LastSync(ctx context.Context) (*time.Time, error)
}

var _ QueueStore = (*Store)(nil)
