// Package metrics exposes engine measurements as Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldsync/internal/executor"
	"fieldsync/internal/models"
)

const namespace = "fieldsync"

type Metrics struct {
	registry *prometheus.Registry

	enqueued        *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	passes          *prometheus.CounterVec
	pending         prometheus.Gauge
	failedReports   prometheus.Gauge
	online          prometheus.Gauge
	cacheEvictions  *prometheus.CounterVec
	cacheEntries    prometheus.Gauge
	cacheBytes      prometheus.Gauge
	cacheCapacity   prometheus.Gauge
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_enqueued_total",
			Help:      "Producer operations by type and whether they were queued or dropped as duplicates",
		}, []string{"type", "result"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Executor attempts by operation type, outcome and failure kind",
		}, []string{"type", "outcome", "kind"}),
		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Executor attempt latency by operation type",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Completed drain passes by outcome",
		}, []string{"outcome"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Operations waiting for delivery",
		}),
		failedReports: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_failed",
			Help:      "Failure reports retained for inspection",
		}),
		online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 when the backend is considered reachable",
		}),
		cacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Blob cache entries evicted by reason",
		}, []string{"reason"}),
		cacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Blob cache entries",
		}),
		cacheBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Bytes held by the blob store",
		}),
		cacheCapacity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_capacity_bytes",
			Help:      "Configured blob store capacity, 0 when unbounded",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEnqueue(opType models.OperationType, queued bool) {
	if m == nil {
		return
	}
	result := "queued"
	if !queued {
		result = "duplicate"
	}
	m.enqueued.WithLabelValues(string(opType), result).Inc()
}

func (m *Metrics) ObserveAttempt(opType models.OperationType, outcome string, kind executor.Kind, duration time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(opType), outcome, string(kind)).Inc()
	m.attemptDuration.WithLabelValues(string(opType)).Observe(duration.Seconds())
}

func (m *Metrics) ObservePass(result models.PassResult) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(string(result.Outcome)).Inc()
}

func (m *Metrics) ObserveEviction(reason string, count int) {
	if m == nil {
		return
	}
	m.cacheEvictions.WithLabelValues(reason).Add(float64(count))
}

// SetStatus mirrors a status snapshot into the gauges.
func (m *Metrics) SetStatus(status models.Status) {
	if m == nil {
		return
	}
	m.pending.Set(float64(status.PendingOperations))
	m.failedReports.Set(float64(status.FailedOperations))
	m.cacheEntries.Set(float64(status.CacheEntries))
	m.cacheBytes.Set(float64(status.CacheBytes))
	m.cacheCapacity.Set(float64(status.CacheCapacity))
	m.SetOnline(status.IsOnline)
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}
