package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrInsufficientSpace is returned when a write would exceed the store capacity.
var ErrInsufficientSpace = errors.New("blob store: insufficient space")

// BlobPutResult describes one persisted blob payload.
type BlobPutResult struct {
	SHA256    string
	SizeBytes int64
	BlobKey   string
	// Existed is true when identical content was already stored.
	Existed bool
}

// BlobStore is the byte-storage abstraction used by the blob cache.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader) (BlobPutResult, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// Usage reports bytes currently stored and the configured capacity (0 = unbounded).
	Usage() (used int64, capacity int64)
}
