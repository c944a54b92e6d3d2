package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"fieldsync/internal/blobstore"
	"fieldsync/internal/clock"
	"fieldsync/internal/executor"
)

type recordingObserver struct {
	evictions map[string]int
}

func (r *recordingObserver) ObserveEviction(reason string, count int) {
	if r.evictions == nil {
		r.evictions = map[string]int{}
	}
	r.evictions[reason] += count
}

type testEnv struct {
	cache *Cache
	blobs *blobstore.LocalCAS
	clock *clock.Fake
	obs   *recordingObserver
	dir   string
}

func newTestCache(t *testing.T, capacity int64, opts Options) *testEnv {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.NewLocalCAS(filepath.Join(dir, "blobs"), capacity)
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}
	clk := clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	obs := &recordingObserver{}
	opts.Clock = clk
	opts.Observer = obs
	c, err := Open(filepath.Join(dir, "index"), blobs, opts)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &testEnv{cache: c, blobs: blobs, clock: clk, obs: obs, dir: dir}
}

func (e *testEnv) put(t *testing.T, name, data string) {
	t.Helper()
	e.clock.Advance(time.Minute)
	if err := e.cache.Put(context.Background(), name, []byte(data), "image/jpeg", nil); err != nil {
		t.Fatalf("put %s: %v", name, err)
	}
}

func (e *testEnv) present(t *testing.T, name string) bool {
	t.Helper()
	entries, err := e.cache.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, entry := range entries {
		if entry.Name == name {
			return true
		}
	}
	return false
}

func TestPutGetRefreshesAccess(t *testing.T) {
	env := newTestCache(t, 0, Options{})
	ctx := context.Background()

	if err := env.cache.Put(ctx, "photo.jpg", []byte("jpeg-bytes"), "image/jpeg", map[string]string{"site": "7"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	stored := env.clock.Now()
	env.clock.Advance(time.Hour)

	data, entry, err := env.cache.Get(ctx, "photo.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected data %q", data)
	}
	if entry.ContentType != "image/jpeg" || entry.Metadata["site"] != "7" || entry.Size != int64(len("jpeg-bytes")) {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if !entry.Timestamp.Equal(stored) {
		t.Fatalf("expected timestamp %v, got %v", stored, entry.Timestamp)
	}
	if !entry.LastAccessed.Equal(stored.Add(time.Hour)) {
		t.Fatalf("expected last accessed to be refreshed, got %v", entry.LastAccessed)
	}

	if _, _, err := env.cache.Get(ctx, "missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpiredEntryPurgedOnLookup(t *testing.T) {
	env := newTestCache(t, 0, Options{})
	ctx := context.Background()
	env.put(t, "old.jpg", "stale-data")

	env.clock.Advance(DefaultTTL + time.Minute)
	if _, _, err := env.cache.Get(ctx, "old.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired entry, got %v", err)
	}

	stats, err := env.cache.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Entries != 0 || stats.TotalSize != 0 || stats.UsedBytes != 0 {
		t.Fatalf("expected empty cache after purge, got %#v", stats)
	}
	if env.obs.evictions[EvictReasonExpired] != 1 {
		t.Fatalf("expected one expiry eviction, got %#v", env.obs.evictions)
	}
}

func TestPurgeExpired(t *testing.T) {
	env := newTestCache(t, 0, Options{TTL: time.Hour})
	env.put(t, "a", "aaaa")
	env.put(t, "b", "bbbb")
	env.clock.Advance(61 * time.Minute)
	env.put(t, "c", "cccc")

	purged, err := env.cache.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}
	if env.present(t, "a") || env.present(t, "b") || !env.present(t, "c") {
		t.Fatal("expected only c to survive")
	}
}

func TestQuotaThresholdEvictsLeastRecentlyAccessed(t *testing.T) {
	// 95 byte store, threshold 76 bytes, 8 byte entries.
	env := newTestCache(t, 95, Options{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		env.put(t, fmt.Sprintf("e%d", i), fmt.Sprintf("blob-%03d", i))
	}
	if env.obs.evictions[EvictReasonQuota] != 0 {
		t.Fatalf("no eviction expected below threshold, got %#v", env.obs.evictions)
	}

	for _, name := range []string{"e0", "e1"} {
		env.clock.Advance(time.Minute)
		if _, _, err := env.cache.Get(ctx, name); err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
	}

	env.put(t, "e10", "blob-010")

	if env.obs.evictions[EvictReasonQuota] != 3 {
		t.Fatalf("expected ceil(30%%) = 3 quota evictions, got %#v", env.obs.evictions)
	}
	for _, gone := range []string{"e2", "e3", "e4"} {
		if env.present(t, gone) {
			t.Fatalf("expected %s evicted", gone)
		}
	}
	for _, kept := range []string{"e0", "e1", "e5", "e9", "e10"} {
		if !env.present(t, kept) {
			t.Fatalf("expected %s kept", kept)
		}
	}
	stats, err := env.cache.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Entries != 8 || stats.TotalSize != 64 || stats.UsedBytes != 64 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}

func TestInsufficientSpaceEmergencyEviction(t *testing.T) {
	env := newTestCache(t, 32, Options{QuotaThreshold: 1})
	for i := 0; i < 4; i++ {
		env.put(t, fmt.Sprintf("e%d", i), fmt.Sprintf("blob-%03d", i))
	}

	env.put(t, "e4", "blob-004")

	if env.obs.evictions[EvictReasonEmergency] != 2 {
		t.Fatalf("expected ceil(50%%) = 2 emergency evictions, got %#v", env.obs.evictions)
	}
	if env.present(t, "e0") || env.present(t, "e1") {
		t.Fatal("expected the two oldest entries evicted")
	}
	for _, kept := range []string{"e2", "e3", "e4"} {
		if !env.present(t, kept) {
			t.Fatalf("expected %s kept", kept)
		}
	}
}

func TestQuotaExceededAfterRetry(t *testing.T) {
	env := newTestCache(t, 10, Options{})
	err := env.cache.Put(context.Background(), "huge.jpg", []byte("twenty bytes of data"), "image/jpeg", nil)
	if !errors.Is(err, executor.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if !errors.Is(err, blobstore.ErrInsufficientSpace) {
		t.Fatalf("expected wrapped ErrInsufficientSpace, got %v", err)
	}
	if env.present(t, "huge.jpg") {
		t.Fatal("rejected entry must not be indexed")
	}
}

func TestSharedBlobReleasedWithLastReference(t *testing.T) {
	env := newTestCache(t, 0, Options{})
	ctx := context.Background()
	env.put(t, "a.jpg", "same-content")
	env.put(t, "b.jpg", "same-content")

	if used, _ := env.blobs.Usage(); used != int64(len("same-content")) {
		t.Fatalf("expected one stored copy, got %d bytes", used)
	}
	if err := env.cache.Remove(ctx, "a.jpg"); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	if data, _, err := env.cache.Get(ctx, "b.jpg"); err != nil || string(data) != "same-content" {
		t.Fatalf("expected b to survive, got %q %v", data, err)
	}
	if err := env.cache.Remove(ctx, "b.jpg"); err != nil {
		t.Fatalf("remove b: %v", err)
	}
	if used, _ := env.blobs.Usage(); used != 0 {
		t.Fatalf("expected blob released, got %d bytes", used)
	}
	if err := env.cache.Remove(ctx, "b.jpg"); err != nil {
		t.Fatalf("remove missing should be noop: %v", err)
	}
}

func TestReplaceReleasesPreviousBlob(t *testing.T) {
	env := newTestCache(t, 0, Options{})
	env.put(t, "a.jpg", "first version")
	env.put(t, "a.jpg", "second")

	stats, err := env.cache.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Entries != 1 || stats.TotalSize != int64(len("second")) || stats.UsedBytes != int64(len("second")) {
		t.Fatalf("unexpected stats after replace: %#v", stats)
	}
}

func TestEvictLRURoundsUp(t *testing.T) {
	env := newTestCache(t, 0, Options{})
	for i := 0; i < 10; i++ {
		env.put(t, fmt.Sprintf("e%d", i), fmt.Sprintf("blob-%03d", i))
	}

	n, err := env.cache.EvictLRU(context.Background(), 0.5)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 evicted, got %d", n)
	}
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("e%d", i)
		if want := i >= 5; env.present(t, name) != want {
			t.Fatalf("entry %s presence = %v, want %v", name, !want, want)
		}
	}

	n, err = env.cache.EvictLRU(context.Background(), 0.3)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected ceil(1.5) = 2 evicted, got %d", n)
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	env := newTestCache(t, 0, Options{})
	env.put(t, "keep.jpg", "persist me")
	if err := env.cache.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(filepath.Join(env.dir, "index"), env.blobs, Options{Clock: env.clock})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	data, _, err := reopened.Get(context.Background(), "keep.jpg")
	if err != nil || string(data) != "persist me" {
		t.Fatalf("expected persisted entry, got %q %v", data, err)
	}
	stats, err := reopened.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSize != int64(len("persist me")) {
		t.Fatalf("expected persisted total size, got %d", stats.TotalSize)
	}
}

func TestNamesAreTrimmedOnEveryLookup(t *testing.T) {
	env := newTestCache(t, 0, Options{})
	ctx := context.Background()
	env.put(t, " a.jpg ", "bytes")

	if !env.present(t, "a.jpg") {
		t.Fatal("expected entry indexed under the trimmed name")
	}
	for _, name := range []string{"a.jpg", " a.jpg", "a.jpg\t"} {
		if data, _, err := env.cache.Get(ctx, name); err != nil || string(data) != "bytes" {
			t.Fatalf("get %q: %q %v", name, data, err)
		}
	}
	if err := env.cache.Remove(ctx, " a.jpg"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if env.present(t, "a.jpg") {
		t.Fatal("expected entry removed through an untrimmed name")
	}
}

func TestEvictBatchKeepsBlobsStillReferenced(t *testing.T) {
	env := newTestCache(t, 0, Options{})
	ctx := context.Background()
	env.put(t, "a.jpg", "same")
	env.put(t, "c.jpg", "c-only")
	env.put(t, "b.jpg", "same")
	env.put(t, "d.jpg", "d-only")

	evicted, err := env.cache.EvictLRU(ctx, 0.5)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if evicted != 2 || env.present(t, "a.jpg") || env.present(t, "c.jpg") {
		t.Fatalf("expected a and c evicted, got %d", evicted)
	}
	if used, _ := env.blobs.Usage(); used != int64(len("same")+len("d-only")) {
		t.Fatalf("expected shared blob kept and c released, got %d bytes", used)
	}
	if data, _, err := env.cache.Get(ctx, "b.jpg"); err != nil || string(data) != "same" {
		t.Fatalf("expected b readable, got %q %v", data, err)
	}

	if evicted, err := env.cache.EvictLRU(ctx, 1); err != nil || evicted != 2 {
		t.Fatalf("evict all: %d %v", evicted, err)
	}
	if used, _ := env.blobs.Usage(); used != 0 {
		t.Fatalf("expected every blob released, got %d bytes", used)
	}
}
