// Package syncer drains the operation queue against the executor, one
// pass at a time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"fieldsync/internal/cache"
	"fieldsync/internal/clock"
	"fieldsync/internal/executor"
	"fieldsync/internal/models"
	"fieldsync/internal/progress"
	"fieldsync/internal/store"
)

const (
	DefaultItemTimeout    = 30 * time.Second
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = time.Second

	drainKey = "drain"
)

// ErrClosed is returned by Trigger after Shutdown.
var ErrClosed = errors.New("sync driver is shut down")

// State is the driver state machine position.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// Attempt outcomes reported to the Observer.
const (
	AttemptSuccess = "success"
	AttemptRetry   = "retry"
	AttemptFailed  = "failed"
)

// BlobSource resolves photo bytes for uploads.
type BlobSource interface {
	Get(ctx context.Context, name string) ([]byte, *models.CacheEntry, error)
	Remove(ctx context.Context, name string) error
}

// Observer receives per-attempt and per-pass measurements.
type Observer interface {
	ObserveAttempt(opType models.OperationType, outcome string, kind executor.Kind, duration time.Duration)
	ObservePass(result models.PassResult)
}

// Config holds retry and pacing policy. Zero values select defaults,
// except MaxRetries where a negative value means no retries.
type Config struct {
	MaxRetries     int
	ItemTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = models.DefaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = DefaultItemTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Deps are the collaborators of a Driver.
type Deps struct {
	Store    store.QueueStore
	Executor executor.Executor
	Blobs    BlobSource
	Reporter *progress.Reporter
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Driver runs drain passes. At most one pass is active at a time; concurrent
// triggers join the active pass and share its result.
type Driver struct {
	store    store.QueueStore
	exec     executor.Executor
	blobs    BlobSource
	reporter *progress.Reporter
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
	cfg      Config

	group    singleflight.Group
	draining atomic.Bool

	mu      sync.Mutex
	idle    *sync.Cond
	running int
	closed  bool
}

func New(deps Deps, cfg Config) (*Driver, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if deps.Blobs == nil {
		return nil, fmt.Errorf("blob source is required")
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.NewReporter(deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	d := &Driver{
		store:    deps.Store,
		exec:     deps.Executor,
		blobs:    deps.Blobs,
		reporter: deps.Reporter,
		clock:    deps.Clock,
		logger:   deps.Logger,
		observer: deps.Observer,
		cfg:      cfg.withDefaults(),
	}
	d.idle = sync.NewCond(&d.mu)
	return d, nil
}

// State reports whether a pass is running.
func (d *Driver) State() State {
	if d.draining.Load() {
		return StateDraining
	}
	return StateIdle
}

// Trigger starts a drain pass, or joins the active one. The pass itself is
// detached from ctx: cancelling ctx only stops this caller from waiting.
func (d *Driver) Trigger(ctx context.Context) (models.PassResult, error) {
	ch := d.group.DoChan(drainKey, func() (any, error) {
		if !d.enter() {
			return models.PassResult{}, ErrClosed
		}
		defer d.leave()
		return d.drain(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		result, _ := res.Val.(models.PassResult)
		return result, res.Err
	case <-ctx.Done():
		return models.PassResult{}, ctx.Err()
	}
}

// Shutdown refuses new passes and blocks until the running one has settled.
func (d *Driver) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for d.running > 0 {
		d.idle.Wait()
	}
}

func (d *Driver) enter() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.running++
	return true
}

func (d *Driver) leave() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running--
	if d.running == 0 {
		d.idle.Broadcast()
	}
}

func (d *Driver) drain(ctx context.Context) (models.PassResult, error) {
	snapshot, err := d.store.ListPending(ctx)
	if err != nil {
		return models.PassResult{}, fmt.Errorf("snapshot queue: %w", err)
	}
	if len(snapshot) == 0 {
		result := models.PassResult{StartedAt: d.clock.Now()}
		result.FinishedAt = result.StartedAt
		result.ResolveOutcome()
		return result, nil
	}

	d.draining.Store(true)
	defer d.draining.Store(false)

	minPos, err := d.store.MinPosition(ctx)
	if err != nil {
		return models.PassResult{}, fmt.Errorf("read queue front: %w", err)
	}
	// Retried items are written below every position in the snapshot so
	// they head the next pass in their original relative order.
	front := minPos - int64(len(snapshot))

	result := models.PassResult{Total: len(snapshot), StartedAt: d.clock.Now()}
	d.logger.Info("sync pass started", "operations", result.Total)
	d.reporter.Progress(models.SyncProgress{Completed: 0, Total: result.Total}, result.Total)

	bo := d.newBackOff()
	var retried int64
	for i, op := range snapshot {
		started := d.clock.Now()
		failure := d.attempt(ctx, op)
		elapsed := d.clock.Now().Sub(started)

		if err := d.settle(ctx, op, failure, front+retried, &result); err != nil {
			return d.finish(ctx, result), err
		}
		if d.shouldRetry(op, failure) {
			retried++
		}
		d.observeAttempt(op, failure, elapsed)

		completed := i + 1
		d.reporter.Progress(models.SyncProgress{Completed: completed, Total: result.Total}, result.Total-completed)

		if failure == nil {
			bo.Reset()
			continue
		}
		if completed < len(snapshot) {
			delay := bo.NextBackOff()
			d.logger.Debug("backing off after failure", "delay", delay, "id", op.ID)
			<-d.clock.After(delay)
		}
	}

	return d.finish(ctx, result), nil
}

// settle persists the outcome of one attempt.
func (d *Driver) settle(ctx context.Context, op models.Operation, failure *executor.Failure, requeuePos int64, result *models.PassResult) error {
	now := d.clock.Now()
	switch {
	case failure == nil:
		if err := d.store.CompleteOperation(ctx, op.ID, op.DedupKey, now); err != nil {
			return fmt.Errorf("complete %s: %w", op.ID, err)
		}
		result.Succeeded++
		if op.Type == models.OpPhotoUpload {
			d.releasePhoto(ctx, op)
		}
		d.logger.Debug("operation delivered", "id", op.ID, "type", op.Type)

	case d.shouldRetry(op, failure):
		if err := d.store.RequeueOperation(ctx, op.ID, op.RetryCount+1, requeuePos, failure.Error()); err != nil {
			return fmt.Errorf("requeue %s: %w", op.ID, err)
		}
		result.Retried++
		d.logger.Warn("operation requeued", "id", op.ID, "type", op.Type, "kind", failure.Kind, "retry", op.RetryCount+1, "error", failure.Reason)

	default:
		failed := models.FailedOperation{
			Operation: op,
			Kind:      string(failure.Kind),
			Reason:    failure.Error(),
			Attempts:  op.RetryCount + 1,
			FailedAt:  now,
		}
		failed.Operation.Status = models.StatusFailed
		failed.Operation.LastError = failed.Reason
		if err := d.store.FailOperation(ctx, failed); err != nil {
			return fmt.Errorf("fail %s: %w", op.ID, err)
		}
		result.Failed = append(result.Failed, failed)
		d.logger.Error("operation failed", "id", op.ID, "type", op.Type, "kind", failure.Kind, "class", failure.Class, "attempts", failed.Attempts, "error", failure.Reason)
	}
	return nil
}

func (d *Driver) finish(ctx context.Context, result models.PassResult) models.PassResult {
	result.FinishedAt = d.clock.Now()
	result.ResolveOutcome()
	if err := d.store.SetLastSync(ctx, result.FinishedAt); err != nil {
		d.logger.Error("record last sync", "error", err)
	}
	d.logger.Info("sync pass finished",
		"outcome", result.Outcome,
		"total", result.Total,
		"succeeded", result.Succeeded,
		"retried", result.Retried,
		"failed", len(result.Failed),
		"duration", result.FinishedAt.Sub(result.StartedAt),
	)
	if d.observer != nil {
		d.observer.ObservePass(result)
	}
	d.reporter.Result(result)
	return result
}

// attempt runs one executor call raced against the item timeout.
func (d *Driver) attempt(ctx context.Context, op models.Operation) *executor.Failure {
	itemCtx, cancel := context.WithTimeout(ctx, d.cfg.ItemTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- executor.PermanentFailure(executor.KindUnknown, fmt.Sprintf("executor panic: %v", rec))
			}
		}()
		done <- d.dispatch(itemCtx, op)
	}()

	select {
	case err := <-done:
		return executor.Classify(err)
	case <-itemCtx.Done():
		return &executor.Failure{
			Kind:   executor.KindTimeout,
			Class:  executor.Retryable,
			Reason: fmt.Sprintf("no response within %s", d.cfg.ItemTimeout),
			Err:    itemCtx.Err(),
		}
	}
}

func (d *Driver) dispatch(ctx context.Context, op models.Operation) error {
	payload, err := models.DecodePayload(op.Type, op.Payload)
	if err != nil {
		return executor.PermanentFailure(executor.KindValidation, err.Error())
	}
	switch p := payload.(type) {
	case models.PhotoUpload:
		data, entry, err := d.blobs.Get(ctx, p.FileName)
		if errors.Is(err, cache.ErrNotFound) {
			return executor.PermanentFailure(executor.KindCacheMiss, fmt.Sprintf("photo %q is not cached", p.FileName))
		}
		if err != nil {
			return err
		}
		return d.exec.UploadPhoto(ctx, p, data, entry.ContentType, op.IdempotencyToken)
	case models.Remark:
		return d.exec.CreateRemark(ctx, p, op.IdempotencyToken)
	case models.RecordUpdate:
		return d.exec.UpdateRecord(ctx, p, op.IdempotencyToken)
	case models.RecordDelete:
		return d.exec.DeleteRecord(ctx, p, op.IdempotencyToken)
	default:
		return executor.PermanentFailure(executor.KindValidation, fmt.Sprintf("unsupported operation type %s", op.Type))
	}
}

// shouldRetry reports whether a failed op keeps its place in the queue.
func (d *Driver) shouldRetry(op models.Operation, failure *executor.Failure) bool {
	return failure.IsRetryable() && op.RetryCount < d.cfg.MaxRetries
}

func (d *Driver) releasePhoto(ctx context.Context, op models.Operation) {
	payload, err := models.DecodePayload(op.Type, op.Payload)
	if err != nil {
		return
	}
	photo, ok := payload.(models.PhotoUpload)
	if !ok {
		return
	}
	if err := d.blobs.Remove(ctx, photo.FileName); err != nil {
		d.logger.Warn("remove uploaded photo from cache", "file_name", photo.FileName, "error", err)
	}
}

func (d *Driver) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = d.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (d *Driver) observeAttempt(op models.Operation, failure *executor.Failure, elapsed time.Duration) {
	if d.observer == nil {
		return
	}
	switch {
	case failure == nil:
		d.observer.ObserveAttempt(op.Type, AttemptSuccess, "", elapsed)
	case d.shouldRetry(op, failure):
		d.observer.ObserveAttempt(op.Type, AttemptRetry, failure.Kind, elapsed)
	default:
		d.observer.ObserveAttempt(op.Type, AttemptFailed, failure.Kind, elapsed)
	}
}
