// Package netmon tracks backend connectivity and starts a drain when the
// connection comes back.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/executor"
)

const DefaultProbeInterval = 15 * time.Second

// TriggerFunc starts a drain. It must be safe to call while a drain is running.
type TriggerFunc func(ctx context.Context)

// Options configure a Monitor.
type Options struct {
	InitialOnline bool
	Prober        executor.Prober
	ProbeInterval time.Duration
	Trigger       TriggerFunc
	Logger        *slog.Logger
}

// Monitor holds the online flag. The offline to online edge triggers a drain;
// Resume and successful probes restart draining of a backlog while online.
type Monitor struct {
	prober   executor.Prober
	interval time.Duration
	trigger  TriggerFunc
	logger   *slog.Logger

	mu        sync.RWMutex
	online    bool
	nextID    uint64
	listeners map[uint64]func(online bool)

	inflight sync.WaitGroup
	resuming atomic.Bool
}

func New(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	return &Monitor{
		prober:    opts.Prober,
		interval:  opts.ProbeInterval,
		trigger:   opts.Trigger,
		logger:    opts.Logger,
		online:    opts.InitialOnline,
		listeners: make(map[uint64]func(bool)),
	}
}

// IsOnline reports the current connectivity flag.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline updates the flag. Repeating the current state is a no-op.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	prev := m.online
	m.online = online
	var listeners []func(bool)
	if prev != online {
		for _, fn := range m.listeners {
			listeners = append(listeners, fn)
		}
	}
	m.mu.Unlock()

	if prev == online {
		return
	}
	m.logger.Info("connectivity changed", "online", online)
	for _, fn := range listeners {
		m.notify(fn, online)
	}
	if online && m.trigger != nil {
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			m.trigger(context.Background())
		}()
	}
}

// Resume starts a drain when online. It is dropped while an earlier resumed
// drain is still running.
func (m *Monitor) Resume() {
	if m.trigger == nil || !m.IsOnline() {
		return
	}
	if !m.resuming.CompareAndSwap(false, true) {
		return
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer m.resuming.Store(false)
		m.trigger(context.Background())
	}()
}

// AddListener registers fn for connectivity transitions and returns its remover.
func (m *Monitor) AddListener(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Wait blocks until every drain started by a transition has returned.
func (m *Monitor) Wait() {
	m.inflight.Wait()
}

// Run probes the backend every ProbeInterval until ctx is done. Without a
// prober it only waits for ctx.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Debug("backend probe failed", "error", err)
		m.SetOnline(false)
		return
	}
	if m.IsOnline() {
		// No edge, but items queued or retried since the last pass still need a drain.
		m.Resume()
		return
	}
	m.SetOnline(true)
}

func (m *Monitor) notify(fn func(bool), online bool) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("connectivity listener panicked", "panic", rec)
		}
	}()
	fn(online)
}
