// Package progress fans drain progress and pass results out to observers.
package progress

import (
	"log/slog"
	"sync"

	"fieldsync/internal/models"
)

// ProgressFunc receives the pass counters and the number of operations still pending.
type ProgressFunc func(progress models.SyncProgress, pending int)

// ResultFunc receives the aggregated result of a finished pass.
type ResultFunc func(result models.PassResult)

// Reporter is an observer registry. Listeners run synchronously on the
// emitting goroutine; a panicking listener is logged and skipped.
type Reporter struct {
	logger *slog.Logger

	mu       sync.RWMutex
	nextID   uint64
	progress map[uint64]ProgressFunc
	results  map[uint64]ResultFunc
	current  models.SyncProgress
}

func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		logger:   logger,
		progress: make(map[uint64]ProgressFunc),
		results:  make(map[uint64]ResultFunc),
	}
}

// AddProgressListener registers fn and returns a func that removes it.
func (r *Reporter) AddProgressListener(fn ProgressFunc) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.progress[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.progress, id)
	}
}

// AddResultListener registers fn and returns a func that removes it.
func (r *Reporter) AddResultListener(fn ResultFunc) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.results[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.results, id)
	}
}

// Progress records and broadcasts the current pass counters.
func (r *Reporter) Progress(p models.SyncProgress, pending int) {
	r.mu.Lock()
	r.current = p
	listeners := make([]ProgressFunc, 0, len(r.progress))
	for _, fn := range r.progress {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		r.safeCall("progress", func() { fn(p, pending) })
	}
}

// Result broadcasts a finished pass.
func (r *Reporter) Result(result models.PassResult) {
	r.mu.RLock()
	listeners := make([]ResultFunc, 0, len(r.results))
	for _, fn := range r.results {
		listeners = append(listeners, fn)
	}
	r.mu.RUnlock()

	for _, fn := range listeners {
		r.safeCall("result", func() { fn(result) })
	}
}

// Current returns the last emitted pass counters.
func (r *Reporter) Current() models.SyncProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Reporter) safeCall(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked", "listener", kind, "panic", rec)
		}
	}()
	fn()
}
