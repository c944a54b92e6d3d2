package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fieldsync/internal/executor"
	"fieldsync/internal/models"
)

func TestCountersAndGauges(t *testing.T) {
	m := New()

	m.ObserveEnqueue(models.OpRemarkCreate, true)
	m.ObserveEnqueue(models.OpRemarkCreate, false)
	m.ObserveAttempt(models.OpPhotoUpload, "retry", executor.KindRateLimited, 150*time.Millisecond)
	m.ObservePass(models.PassResult{Outcome: models.OutcomePartial})
	m.ObserveEviction("quota", 3)
	m.SetStatus(models.Status{IsOnline: true, PendingOperations: 4, FailedOperations: 1, CacheEntries: 2, CacheBytes: 2048, CacheCapacity: 4096})

	if got := testutil.ToFloat64(m.enqueued.WithLabelValues("remark_create", "duplicate")); got != 1 {
		t.Fatalf("expected 1 duplicate, got %v", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("photo_upload", "retry", "rate_limited")); got != 1 {
		t.Fatalf("expected 1 attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.passes.WithLabelValues("partial")); got != 1 {
		t.Fatalf("expected 1 partial pass, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheEvictions.WithLabelValues("quota")); got != 3 {
		t.Fatalf("expected 3 evictions, got %v", got)
	}
	if got := testutil.ToFloat64(m.pending); got != 4 {
		t.Fatalf("expected pending 4, got %v", got)
	}
	if got := testutil.ToFloat64(m.online); got != 1 {
		t.Fatalf("expected online 1, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObservePass(models.PassResult{Outcome: models.OutcomeSuccess})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `fieldsync_sync_passes_total{outcome="success"} 1`) {
		t.Fatalf("expected pass counter in exposition, got:\n%s", body)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEnqueue(models.OpRecordDelete, true)
	m.ObserveAttempt(models.OpRecordDelete, "success", "", time.Second)
	m.ObservePass(models.PassResult{})
	m.ObserveEviction("manual", 1)
	m.SetStatus(models.Status{})
	if m.Handler() == nil {
		t.Fatal("expected a handler")
	}
}
