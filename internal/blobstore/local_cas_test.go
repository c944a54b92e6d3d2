package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLocalCASPutOpenDelete(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}

	first, err := cas.Put(context.Background(), bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("put first: %v", err)
	}
	if first.SHA256 == "" || first.BlobKey == "" || first.Existed {
		t.Fatalf("unexpected put result: %#v", first)
	}

	second, err := cas.Put(context.Background(), bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("put second: %v", err)
	}
	if first.BlobKey != second.BlobKey || first.SHA256 != second.SHA256 || !second.Existed {
		t.Fatalf("expected dedupe keys/digests to match: first=%#v second=%#v", first, second)
	}
	if used, _ := cas.Usage(); used != 5 {
		t.Fatalf("expected 5 bytes used after dedupe, got %d", used)
	}

	rc, err := cas.Open(context.Background(), first.BlobKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", string(data))
	}

	if err := cas.Delete(context.Background(), first.BlobKey); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := cas.Delete(context.Background(), first.BlobKey); err != nil {
		t.Fatalf("delete missing should be noop: %v", err)
	}
	if used, _ := cas.Usage(); used != 0 {
		t.Fatalf("expected 0 bytes used after delete, got %d", used)
	}
}

func TestLocalCASCapacity(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	ctx := context.Background()

	if _, err := cas.Put(ctx, strings.NewReader("123456")); err != nil {
		t.Fatalf("put within capacity: %v", err)
	}
	_, err = cas.Put(ctx, strings.NewReader("abcdef"))
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Fatalf("expected ErrInsufficientSpace, got %v", err)
	}
	if used, capacity := cas.Usage(); used != 6 || capacity != 10 {
		t.Fatalf("expected usage 6/10, got %d/%d", used, capacity)
	}

	// Identical content never needs new space.
	if _, err := cas.Put(ctx, strings.NewReader("123456")); err != nil {
		t.Fatalf("put duplicate at capacity: %v", err)
	}
}

func TestLocalCASUsageSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	cas, err := NewLocalCAS(root, 0)
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	if _, err := cas.Put(context.Background(), strings.NewReader("persisted bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}

	reopened, err := NewLocalCAS(root, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if used, _ := reopened.Usage(); used != int64(len("persisted bytes")) {
		t.Fatalf("expected usage %d after reopen, got %d", len("persisted bytes"), used)
	}
}

func TestLocalCASRejectsTraversalKeys(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	for _, key := range []string{"", "/etc/passwd", "../outside", "sha256/../../x"} {
		if _, err := cas.Open(context.Background(), key); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}
