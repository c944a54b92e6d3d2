package netmon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetOnlineIsEdgeTriggered(t *testing.T) {
	var triggers atomic.Int32
	m := New(Options{
		InitialOnline: false,
		Trigger:       func(context.Context) { triggers.Add(1) },
		Logger:        testLogger(),
	})

	m.SetOnline(false)
	m.Wait()
	if triggers.Load() != 0 {
		t.Fatal("offline to offline must not trigger")
	}

	m.SetOnline(true)
	m.SetOnline(true)
	m.Wait()
	if triggers.Load() != 1 {
		t.Fatalf("expected one trigger on the rising edge, got %d", triggers.Load())
	}
	if !m.IsOnline() {
		t.Fatal("expected online")
	}

	m.SetOnline(false)
	m.Wait()
	if triggers.Load() != 1 {
		t.Fatal("going offline must not trigger")
	}

	m.SetOnline(true)
	m.Wait()
	if triggers.Load() != 2 {
		t.Fatalf("expected second trigger, got %d", triggers.Load())
	}
}

func TestListenersSeeTransitions(t *testing.T) {
	m := New(Options{InitialOnline: true, Logger: testLogger()})
	var mu sync.Mutex
	var seen []bool
	remove := m.AddListener(func(online bool) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, online)
	})
	m.AddListener(func(bool) { panic("bad listener") })

	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(true)
	remove()
	m.SetOnline(false)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != false || seen[1] != true {
		t.Fatalf("expected [false true], got %v", seen)
	}
}

type scriptedProber struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *scriptedProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("unreachable")
	}
	return nil
}

func TestRunProbesAndTriggersOnRecovery(t *testing.T) {
	triggered := make(chan struct{}, 1)
	prober := &scriptedProber{failures: 2}
	m := New(Options{
		InitialOnline: true,
		Prober:        prober,
		ProbeInterval: 5 * time.Millisecond,
		Trigger: func(context.Context) {
			select {
			case triggered <- struct{}{}:
			default:
			}
		},
		Logger: testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-triggered:
	case <-time.After(5 * time.Second):
		t.Fatal("expected trigger after backend recovered")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	m.Wait()
	if !m.IsOnline() {
		t.Fatal("expected online after successful probe")
	}
}

func TestRunWithoutProberWaitsForCancel(t *testing.T) {
	m := New(Options{InitialOnline: true, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestResumeTriggersOnlyWhileOnline(t *testing.T) {
	var triggers atomic.Int32
	m := New(Options{
		InitialOnline: false,
		Trigger:       func(context.Context) { triggers.Add(1) },
		Logger:        testLogger(),
	})

	m.Resume()
	m.Wait()
	if triggers.Load() != 0 {
		t.Fatal("resume while offline must not trigger")
	}

	m.SetOnline(true)
	m.Wait()
	m.Resume()
	m.Wait()
	if triggers.Load() != 2 {
		t.Fatalf("expected edge and resume triggers, got %d", triggers.Load())
	}
}

func TestResumeDropsWhileResumedDrainRuns(t *testing.T) {
	release := make(chan struct{})
	var triggers atomic.Int32
	m := New(Options{
		InitialOnline: true,
		Trigger: func(context.Context) {
			triggers.Add(1)
			<-release
		},
		Logger: testLogger(),
	})

	m.Resume()
	m.Resume()
	m.Resume()
	close(release)
	m.Wait()
	if triggers.Load() != 1 {
		t.Fatalf("expected one resumed drain, got %d", triggers.Load())
	}
}

func TestSuccessfulProbeWhileOnlineResumes(t *testing.T) {
	triggered := make(chan struct{}, 1)
	m := New(Options{
		InitialOnline: true,
		Prober:        &scriptedProber{},
		ProbeInterval: time.Hour,
		Trigger: func(context.Context) {
			select {
			case triggered <- struct{}{}:
			default:
			}
		},
		Logger: testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-triggered:
	case <-time.After(5 * time.Second):
		t.Fatal("expected the first successful probe to resume draining")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	m.Wait()
}
