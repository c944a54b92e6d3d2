// Package executor defines the boundary between the sync engine and the
// remote backend, and the typed failures crossing it.
package executor

import (
	"context"

	"fieldsync/internal/models"
)

// Executor performs the remote side effect of one queued operation.
// Implementations return nil on confirmed success. Any error is run through
// Classify; returning a *Failure fixes its kind and class explicitly.
type Executor interface {
	UploadPhoto(ctx context.Context, photo models.PhotoUpload, blob []byte, contentType, idempotencyToken string) error
	CreateRemark(ctx context.Context, remark models.Remark, idempotencyToken string) error
	UpdateRecord(ctx context.Context, update models.RecordUpdate, idempotencyToken string) error
	DeleteRecord(ctx context.Context, del models.RecordDelete, idempotencyToken string) error
}

// Prober reports backend reachability.
type Prober interface {
	Probe(ctx context.Context) error
}
