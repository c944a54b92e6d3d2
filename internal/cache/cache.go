// Package cache keeps blob payloads available locally until their upload is
// confirmed. The entry index lives in Badger and the bytes in a blob store.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"fieldsync/internal/blobstore"
	"fieldsync/internal/clock"
	"fieldsync/internal/executor"
	"fieldsync/internal/models"
)

const (
	DefaultTTL                 = 7 * 24 * time.Hour
	DefaultQuotaThreshold      = 0.8
	DefaultEvictRatio          = 0.3
	DefaultEmergencyEvictRatio = 0.5

	prefixEntry  = "entry/"
	keyTotalSize = "meta/cache_total_size"

	EvictReasonQuota     = "quota"
	EvictReasonEmergency = "emergency"
	EvictReasonManual    = "manual"
	EvictReasonExpired   = "expired"
)

// ErrNotFound is returned when a name has no live entry.
var ErrNotFound = errors.New("cache entry not found")

// EvictionObserver is notified whenever entries leave the cache other than by Remove.
type EvictionObserver interface {
	ObserveEviction(reason string, count int)
}

// Options tune cache policy. Zero values select the defaults.
type Options struct {
	TTL                 time.Duration
	QuotaThreshold      float64
	EvictRatio          float64
	EmergencyEvictRatio float64
	Clock               clock.Clock
	Logger              *slog.Logger
	Observer            EvictionObserver
}

func (o Options) withDefaults() Options {
	if o.TTL == 0 {
		o.TTL = DefaultTTL
	}
	if o.QuotaThreshold <= 0 {
		o.QuotaThreshold = DefaultQuotaThreshold
	}
	if o.EvictRatio <= 0 {
		o.EvictRatio = DefaultEvictRatio
	}
	if o.EmergencyEvictRatio <= 0 {
		o.EmergencyEvictRatio = DefaultEmergencyEvictRatio
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Stats summarizes cache occupancy.
type Stats struct {
	Entries   int   `json:"entries"`
	TotalSize int64 `json:"total_size"`
	UsedBytes int64 `json:"used_bytes"`
	Capacity  int64 `json:"capacity"`
}

// Cache is a TTL and quota aware LRU blob cache.
type Cache struct {
	db    *badger.DB
	blobs blobstore.BlobStore
	opts  Options

	// mu serializes index mutations so blob reference counts stay exact.
	mu sync.Mutex
}

// Open opens (or creates) the cache index in dir on top of blobs.
func Open(dir string, blobs blobstore.BlobStore, opts Options) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache index dir is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	return &Cache{db: db, blobs: blobs, opts: opts.withDefaults()}, nil
}

// Close releases the index.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Put stores data under name, replacing any previous entry. When the cache
// is above its quota threshold the least recently accessed entries are
// evicted first. A write the blob store rejects for space triggers one
// emergency eviction and a single retry.
func (c *Cache) Put(ctx context.Context, name string, data []byte, contentType string, metadata map[string]string) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("cache name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.overThreshold() {
		if _, err := c.evictLocked(ctx, c.opts.EvictRatio, EvictReasonQuota); err != nil {
			return fmt.Errorf("quota eviction: %w", err)
		}
	}

	res, err := c.blobs.Put(ctx, bytes.NewReader(data))
	if errors.Is(err, blobstore.ErrInsufficientSpace) {
		c.opts.Logger.Warn("cache write rejected for space", "name", name, "size", len(data))
		if _, evErr := c.evictLocked(ctx, c.opts.EmergencyEvictRatio, EvictReasonEmergency); evErr != nil {
			return fmt.Errorf("emergency eviction: %w", evErr)
		}
		res, err = c.blobs.Put(ctx, bytes.NewReader(data))
		if errors.Is(err, blobstore.ErrInsufficientSpace) {
			return fmt.Errorf("cache %q: %w: %w", name, executor.ErrQuotaExceeded, err)
		}
	}
	if err != nil {
		return fmt.Errorf("write blob: %w", err)
	}

	now := c.opts.Clock.Now()
	entry := models.CacheEntry{
		Name:         name,
		BlobKey:      res.BlobKey,
		SHA256:       res.SHA256,
		Size:         res.SizeBytes,
		ContentType:  contentType,
		Metadata:     metadata,
		Timestamp:    now,
		LastAccessed: now,
	}

	var previous *models.CacheEntry
	err = c.db.Update(func(txn *badger.Txn) error {
		old, err := getEntry(txn, name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		delta := entry.Size
		if old != nil {
			previous = old
			delta -= old.Size
		}
		if err := putEntry(txn, entry); err != nil {
			return err
		}
		return addTotalSize(txn, delta)
	})
	if err != nil {
		if !res.Existed {
			_ = c.releaseBlobsLocked(ctx, []string{res.BlobKey})
		}
		return fmt.Errorf("index cache entry: %w", err)
	}

	if previous != nil && previous.BlobKey != entry.BlobKey {
		if err := c.releaseBlobsLocked(ctx, []string{previous.BlobKey}); err != nil {
			c.opts.Logger.Warn("release replaced blob", "name", name, "error", err)
		}
	}
	return nil
}

// Get returns the bytes stored under name and refreshes its access time.
// Expired entries are purged and reported as ErrNotFound.
func (c *Cache) Get(ctx context.Context, name string) ([]byte, *models.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	name = normalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	var entry *models.CacheEntry
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = getEntry(txn, name)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	now := c.opts.Clock.Now()
	if entry.Expired(now, c.opts.TTL) {
		if _, err := c.removeLocked(ctx, name); err != nil {
			return nil, nil, err
		}
		c.observe(EvictReasonExpired, 1)
		return nil, nil, ErrNotFound
	}

	rc, err := c.blobs.Open(ctx, entry.BlobKey)
	if errors.Is(err, os.ErrNotExist) {
		c.opts.Logger.Warn("cache entry without blob", "name", name, "blob_key", entry.BlobKey)
		if _, rmErr := c.removeLocked(ctx, name); rmErr != nil {
			return nil, nil, rmErr
		}
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("read blob: %w", err)
	}

	entry.LastAccessed = now
	if err := c.db.Update(func(txn *badger.Txn) error {
		return putEntry(txn, *entry)
	}); err != nil {
		return nil, nil, fmt.Errorf("touch cache entry: %w", err)
	}
	return data, entry, nil
}

// Remove deletes the entry for name. Missing names are ignored.
func (c *Cache) Remove(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.removeLocked(ctx, normalizeName(name))
	return err
}

// EvictLRU removes ceil(ratio * entries) least recently accessed entries.
func (c *Cache) EvictLRU(ctx context.Context, ratio float64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(ctx, ratio, EvictReasonManual)
}

// PurgeExpired removes every entry older than the TTL.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.listLocked()
	if err != nil {
		return 0, err
	}
	now := c.opts.Clock.Now()
	purged := 0
	var released []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			c.observe(EvictReasonExpired, purged)
			return purged, errors.Join(err, c.releaseBlobsLocked(context.WithoutCancel(ctx), released))
		}
		if !e.Expired(now, c.opts.TTL) {
			continue
		}
		removed, err := c.unindexLocked(e.Name)
		if err != nil {
			c.observe(EvictReasonExpired, purged)
			return purged, errors.Join(err, c.releaseBlobsLocked(ctx, released))
		}
		if removed != nil {
			released = append(released, removed.BlobKey)
			purged++
		}
	}
	c.observe(EvictReasonExpired, purged)
	return purged, c.releaseBlobsLocked(ctx, released)
}

// List returns all entries ordered by name.
func (c *Cache) List(ctx context.Context) ([]models.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.listLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stats reports entry count, logical size and blob store usage.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats Stats
	err := c.db.View(func(txn *badger.Txn) error {
		total, err := readTotalSize(txn)
		if err != nil {
			return err
		}
		stats.TotalSize = total
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEntry)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			stats.Entries++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	stats.UsedBytes, stats.Capacity = c.blobs.Usage()
	return stats, nil
}

func (c *Cache) overThreshold() bool {
	_, capacity := c.blobs.Usage()
	if capacity <= 0 {
		return false
	}
	var total int64
	if err := c.db.View(func(txn *badger.Txn) error {
		var err error
		total, err = readTotalSize(txn)
		return err
	}); err != nil {
		c.opts.Logger.Warn("read cache total size", "error", err)
		return false
	}
	return float64(total) > c.opts.QuotaThreshold*float64(capacity)
}

func (c *Cache) evictLocked(ctx context.Context, ratio float64, reason string) (int, error) {
	if ratio <= 0 {
		return 0, nil
	}
	if ratio > 1 {
		ratio = 1
	}
	entries, err := c.listLocked()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	sortLRU(entries)

	n := int(math.Ceil(ratio*float64(len(entries)) - 1e-9))
	if n > len(entries) {
		n = len(entries)
	}
	evicted := 0
	released := make([]string, 0, n)
	for _, e := range entries[:n] {
		removed, err := c.unindexLocked(e.Name)
		if err != nil {
			c.observe(reason, evicted)
			return evicted, errors.Join(err, c.releaseBlobsLocked(ctx, released))
		}
		if removed != nil {
			released = append(released, removed.BlobKey)
			evicted++
		}
	}
	if err := c.releaseBlobsLocked(ctx, released); err != nil {
		c.observe(reason, evicted)
		return evicted, err
	}
	c.opts.Logger.Info("cache eviction", "reason", reason, "evicted", evicted, "entries", len(entries))
	c.observe(reason, evicted)
	return evicted, nil
}

// sortLRU orders entries oldest access first, breaking ties by insertion time then name.
func sortLRU(entries []models.CacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.Before(b.LastAccessed)
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Name < b.Name
	})
}

func (c *Cache) removeLocked(ctx context.Context, name string) (bool, error) {
	removed, err := c.unindexLocked(name)
	if err != nil || removed == nil {
		return false, err
	}
	if err := c.releaseBlobsLocked(ctx, []string{removed.BlobKey}); err != nil {
		return true, err
	}
	return true, nil
}

// unindexLocked drops the index entry for name and returns it, or nil when
// name is absent. The blob bytes are left for releaseBlobsLocked.
func (c *Cache) unindexLocked(name string) (*models.CacheEntry, error) {
	var removed *models.CacheEntry
	err := c.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, name)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(entryKey(name)); err != nil {
			return err
		}
		removed = entry
		return addTotalSize(txn, -entry.Size)
	})
	if err != nil {
		return nil, fmt.Errorf("remove cache entry %q: %w", name, err)
	}
	return removed, nil
}

// releaseBlobsLocked deletes the bytes of every key no remaining entry
// references, scanning the index once.
func (c *Cache) releaseBlobsLocked(ctx context.Context, blobKeys []string) error {
	if len(blobKeys) == 0 {
		return nil
	}
	entries, err := c.listLocked()
	if err != nil {
		return err
	}
	referenced := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		referenced[e.BlobKey] = struct{}{}
	}

	var errs []error
	for _, key := range blobKeys {
		if _, ok := referenced[key]; ok {
			continue
		}
		// Mark as handled so a key listed twice is deleted once.
		referenced[key] = struct{}{}
		if err := c.blobs.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete blob %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func normalizeName(name string) string {
	return strings.TrimSpace(name)
}

func (c *Cache) listLocked() ([]models.CacheEntry, error) {
	var entries []models.CacheEntry
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEntry)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var entry models.CacheEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("decode cache entry %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

func (c *Cache) observe(reason string, n int) {
	if c.opts.Observer != nil && n > 0 {
		c.opts.Observer.ObserveEviction(reason, n)
	}
}

func entryKey(name string) []byte {
	return []byte(prefixEntry + name)
}

func getEntry(txn *badger.Txn, name string) (*models.CacheEntry, error) {
	item, err := txn.Get(entryKey(name))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	var entry models.CacheEntry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, nil
}

func putEntry(txn *badger.Txn, entry models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return txn.Set(entryKey(entry.Name), data)
}

func readTotalSize(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(keyTotalSize))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var total int64
	err = item.Value(func(val []byte) error {
		total, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return total, err
}

func addTotalSize(txn *badger.Txn, delta int64) error {
	total, err := readTotalSize(txn)
	if err != nil {
		return err
	}
	total += delta
	if total < 0 {
		total = 0
	}
	return txn.Set([]byte(keyTotalSize), []byte(strconv.FormatInt(total, 10)))
}
