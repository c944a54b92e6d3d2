// Package engine owns one fieldsync instance: the queue, the blob cache, the
// sync driver and the network monitor over a single data directory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fieldsync/internal/blobstore"
	"fieldsync/internal/cache"
	"fieldsync/internal/clock"
	"fieldsync/internal/config"
	"fieldsync/internal/executor"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
	"fieldsync/internal/netmon"
	"fieldsync/internal/progress"
	"fieldsync/internal/queue"
	"fieldsync/internal/store"
	"fieldsync/internal/syncer"
)

// ErrOffline is returned by Sync while the monitor reports no connectivity.
var ErrOffline = errors.New("engine is offline")

// Deps are injected collaborators. When Executor is nil an HTTP executor is
// built from cfg.BackendURL and also used as the prober.
type Deps struct {
	Executor executor.Executor
	Prober   executor.Prober
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Engine is the producer and observer facing service.
type Engine struct {
	cfg     config.Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	store    *store.Store
	blobs    *blobstore.LocalCAS
	cache    *cache.Cache
	queue    *queue.Queue
	reporter *progress.Reporter
	driver   *syncer.Driver
	monitor  *netmon.Monitor

	closeOnce sync.Once
	closeErr  error
}

// Open builds an engine over cfg.DataDir. A second engine on the same data
// directory fails to open while the first one is alive.
func Open(cfg config.Config, deps Deps) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Executor == nil {
		if cfg.BackendURL == "" {
			return nil, fmt.Errorf("backend_url is required when no executor is supplied")
		}
		httpExec := executor.NewHTTPExecutor(cfg.BackendURL, cfg.Sync.ItemTimeout)
		deps.Executor = httpExec
		if deps.Prober == nil {
			deps.Prober = httpExec
		}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}

	var err error
	e.store, err = store.Open(cfg.QueueDBPath())
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	e.blobs, err = blobstore.NewLocalCAS(cfg.BlobDir(), cfg.Cache.CapacityBytes)
	if err != nil {
		_ = e.store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	e.cache, err = cache.Open(cfg.CacheIndexDir(), e.blobs, cache.Options{
		TTL:                 cfg.Cache.TTL,
		QuotaThreshold:      cfg.Cache.QuotaThreshold,
		EvictRatio:          cfg.Cache.EvictRatio,
		EmergencyEvictRatio: cfg.Cache.EmergencyEvictRatio,
		Clock:               deps.Clock,
		Logger:              deps.Logger.With("component", "cache"),
		Observer:            deps.Metrics,
	})
	if err != nil {
		_ = e.store.Close()
		return nil, err
	}

	e.queue = queue.New(e.store, queue.Options{
		ProcessedRetention: cfg.Sync.ProcessedRetention,
		Clock:              deps.Clock,
		Logger:             deps.Logger.With("component", "queue"),
	})
	e.reporter = progress.NewReporter(deps.Logger.With("component", "progress"))

	maxRetries := cfg.Sync.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	e.driver, err = syncer.New(syncer.Deps{
		Store:    e.store,
		Executor: deps.Executor,
		Blobs:    e.cache,
		Reporter: e.reporter,
		Clock:    deps.Clock,
		Logger:   deps.Logger.With("component", "syncer"),
		Observer: deps.Metrics,
	}, syncer.Config{
		MaxRetries:  maxRetries,
		ItemTimeout: cfg.Sync.ItemTimeout,
		MaxBackoff:  cfg.Sync.MaxBackoff,
	})
	if err != nil {
		_ = e.cache.Close()
		_ = e.store.Close()
		return nil, err
	}

	e.monitor = netmon.New(netmon.Options{
		InitialOnline: cfg.Network.InitialOnline,
		Prober:        deps.Prober,
		ProbeInterval: cfg.Network.ProbeInterval,
		Trigger:       e.triggerDrain,
		Logger:        deps.Logger.With("component", "netmon"),
	})
	e.monitor.AddListener(deps.Metrics.SetOnline)
	deps.Metrics.SetOnline(e.monitor.IsOnline())

	return e, nil
}

func (e *Engine) triggerDrain(ctx context.Context) {
	if _, err := e.driver.Trigger(ctx); err != nil && !errors.Is(err, syncer.ErrClosed) {
		e.logger.Error("drain failed", "error", err)
	}
}

// QueueOperation persists op. queued is false when an equivalent operation is
// already pending or was recently delivered.
func (e *Engine) QueueOperation(ctx context.Context, op models.Operation) (string, bool, error) {
	id, queued, err := e.queue.Enqueue(ctx, op)
	if err != nil {
		return "", false, err
	}
	e.metrics.ObserveEnqueue(op.Type, queued)
	return id, queued, nil
}

// CacheImage stores data under name for a later photo upload. It fails with
// executor.ErrQuotaExceeded when eviction cannot make room.
func (e *Engine) CacheImage(ctx context.Context, name string, data []byte, contentType string, metadata map[string]string) error {
	return e.cache.Put(ctx, name, data, contentType, metadata)
}

// AddProgressListener registers fn and returns its remover.
func (e *Engine) AddProgressListener(fn progress.ProgressFunc) func() {
	return e.reporter.AddProgressListener(fn)
}

// AddResultListener registers fn and returns its remover.
func (e *Engine) AddResultListener(fn progress.ResultFunc) func() {
	return e.reporter.AddResultListener(fn)
}

// AddNetworkListener registers fn for connectivity transitions.
func (e *Engine) AddNetworkListener(fn func(online bool)) func() {
	return e.monitor.AddListener(fn)
}

// GetStatus returns a point-in-time snapshot.
func (e *Engine) GetStatus(ctx context.Context) (models.Status, error) {
	pending, err := e.store.CountPending(ctx)
	if err != nil {
		return models.Status{}, err
	}
	failed, err := e.store.CountFailed(ctx)
	if err != nil {
		return models.Status{}, err
	}
	retryable, err := e.store.CountRetryable(ctx)
	if err != nil {
		return models.Status{}, err
	}
	lastSync, err := e.store.LastSync(ctx)
	if err != nil {
		return models.Status{}, err
	}
	stats, err := e.cache.Stats(ctx)
	if err != nil {
		return models.Status{}, err
	}

	status := models.Status{
		IsOnline:            e.monitor.IsOnline(),
		PendingOperations:   pending,
		SyncInProgress:      e.driver.State() == syncer.StateDraining,
		SyncProgress:        e.reporter.Current(),
		LastSync:            lastSync,
		FailedOperations:    failed,
		RetryableOperations: retryable,
		CacheEntries:        stats.Entries,
		CacheBytes:          stats.UsedBytes,
		CacheCapacity:       stats.Capacity,
	}
	e.metrics.SetStatus(status)
	return status, nil
}

// Sync runs a drain pass, or joins the running one.
func (e *Engine) Sync(ctx context.Context) (models.PassResult, error) {
	if !e.monitor.IsOnline() {
		return models.PassResult{}, ErrOffline
	}
	return e.driver.Trigger(ctx)
}

// SetOnline forces the connectivity flag. Going online starts a drain.
func (e *Engine) SetOnline(online bool) {
	e.monitor.SetOnline(online)
}

// IsOnline reports the connectivity flag.
func (e *Engine) IsOnline() bool {
	return e.monitor.IsOnline()
}

// ListFailed returns failed-operation reports, newest first.
func (e *Engine) ListFailed(ctx context.Context, limit int) ([]models.FailedOperation, error) {
	return e.store.ListFailed(ctx, limit)
}

// ClearFailed drops every failed-operation report.
func (e *Engine) ClearFailed(ctx context.Context) (int64, error) {
	return e.store.ClearFailed(ctx)
}

// ListCache returns the cached blob entries sorted by name.
func (e *Engine) ListCache(ctx context.Context) ([]models.CacheEntry, error) {
	return e.cache.List(ctx)
}

// EvictCache drops the least recently used ratio of cache entries.
func (e *Engine) EvictCache(ctx context.Context, ratio float64) (int, error) {
	return e.cache.EvictLRU(ctx, ratio)
}

// Maintain purges expired cache entries and prunes delivered dedup keys
// older than the processed retention.
func (e *Engine) Maintain(ctx context.Context) error {
	purged, err := e.cache.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	var pruned int64
	if e.cfg.Sync.ProcessedRetention > 0 {
		pruned, err = e.store.PruneProcessed(ctx, e.clock.Now().Add(-e.cfg.Sync.ProcessedRetention))
		if err != nil {
			return fmt.Errorf("prune processed: %w", err)
		}
	}
	if purged > 0 || pruned > 0 {
		e.logger.Info("maintenance", "cache_purged", purged, "processed_pruned", pruned)
	}
	return nil
}

// Run drives the reachability prober and the maintenance loop until ctx is
// done. A backlog persisted by an earlier run is drained at once when online.
func (e *Engine) Run(ctx context.Context) error {
	e.monitor.Resume()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.monitor.Run(ctx)
	})
	g.Go(func() error {
		return e.maintenanceLoop(ctx)
	})
	return g.Wait()
}

func (e *Engine) maintenanceLoop(ctx context.Context) error {
	interval := e.cfg.Sync.MaintenanceInterval
	if interval <= 0 {
		interval = config.DefaultMaintenanceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Maintain(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("maintenance failed", "error", err)
			}
		}
	}
}

// Close waits for running passes, including ones started through Sync by
// callers that stopped waiting, and releases the data directory.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.driver.Shutdown()
		e.monitor.Wait()
		e.closeErr = errors.Join(e.cache.Close(), e.store.Close())
	})
	return e.closeErr
}
