package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"fieldsync/internal/models"
)

// testStore creates a temporary store for testing.
func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func testOperation(key string) *models.Operation {
	return &models.Operation{
		DedupKey:         key,
		Type:             models.OpRemarkCreate,
		Payload:          json.RawMessage(`{"target_id":"t1","text":"` + key + `","priority":2}`),
		IdempotencyToken: "tok-" + key,
		CreatedAt:        baseTime,
	}
}

func mustInsert(t *testing.T, st *Store, key string) *models.Operation {
	t.Helper()
	op := testOperation(key)
	queued, err := st.InsertOperation(context.Background(), op, time.Time{})
	if err != nil {
		t.Fatalf("insert %s: %v", key, err)
	}
	if !queued {
		t.Fatalf("expected %s to be queued", key)
	}
	return op
}

func pendingIDs(t *testing.T, st *Store) []string {
	t.Helper()
	ops, err := st.ListPending(context.Background())
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	return ids
}

func TestInsertAndListPending(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	first := mustInsert(t, st, "k1")
	second := mustInsert(t, st, "k2")

	if len(first.ID) != 13 || first.ID[:3] != "op-" {
		t.Fatalf("unexpected id %q", first.ID)
	}
	if first.Position != 1 || second.Position != 2 {
		t.Fatalf("expected positions 1,2 got %d,%d", first.Position, second.Position)
	}

	ops, err := st.ListPending(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 2 || ops[0].ID != first.ID || ops[1].ID != second.ID {
		t.Fatalf("unexpected order: %#v", ops)
	}
	got := ops[0]
	if got.Type != models.OpRemarkCreate || got.IdempotencyToken != "tok-k1" || !got.CreatedAt.Equal(baseTime) {
		t.Fatalf("unexpected round trip: %#v", got)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("expected pending status, got %q", got.Status)
	}
	var payload map[string]any
	if err := json.Unmarshal(got.Payload, &payload); err != nil || payload["text"] != "k1" {
		t.Fatalf("unexpected payload %s (%v)", got.Payload, err)
	}
}

func TestInsertRejectsPendingDuplicate(t *testing.T) {
	st := testStore(t)
	mustInsert(t, st, "dup")

	queued, err := st.InsertOperation(context.Background(), testOperation("dup"), time.Time{})
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if queued {
		t.Fatal("expected duplicate to be rejected")
	}
	if n, _ := st.CountPending(context.Background()); n != 1 {
		t.Fatalf("expected 1 pending, got %d", n)
	}
}

func TestInsertRejectsRecentlyProcessedKey(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	op := mustInsert(t, st, "done")
	if err := st.CompleteOperation(ctx, op.ID, op.DedupKey, baseTime.Add(time.Hour)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	queued, err := st.InsertOperation(ctx, testOperation("done"), baseTime)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if queued {
		t.Fatal("expected key processed inside the window to be rejected")
	}

	queued, err = st.InsertOperation(ctx, testOperation("done"), baseTime.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !queued {
		t.Fatal("expected key processed before the window to be accepted")
	}
}

func TestCompleteOperation(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	op := mustInsert(t, st, "k1")

	if err := st.CompleteOperation(ctx, op.ID, op.DedupKey, baseTime); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := st.GetOperation(ctx, op.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after complete, got %v", err)
	}
	if err := st.CompleteOperation(ctx, op.ID, op.DedupKey, baseTime); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second complete, got %v", err)
	}
}

func TestRequeueMovesToFront(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	a := mustInsert(t, st, "a")
	b := mustInsert(t, st, "b")
	c := mustInsert(t, st, "c")

	minPos, err := st.MinPosition(ctx)
	if err != nil {
		t.Fatalf("min position: %v", err)
	}
	front := minPos - 3
	if err := st.RequeueOperation(ctx, c.ID, 1, front, "timeout"); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	ids := pendingIDs(t, st)
	want := []string{c.ID, a.ID, b.ID}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, ids)
		}
	}
	got, err := st.GetOperation(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RetryCount != 1 || got.LastError != "timeout" {
		t.Fatalf("unexpected retry bookkeeping: %#v", got)
	}
	if n, _ := st.CountRetryable(ctx); n != 1 {
		t.Fatalf("expected 1 retryable, got %d", n)
	}

	// New arrivals still go to the tail.
	d := mustInsert(t, st, "d")
	if d.Position != b.Position+1 {
		t.Fatalf("expected tail position %d, got %d", b.Position+1, d.Position)
	}
}

func TestFailOperation(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	op := mustInsert(t, st, "bad")
	op.RetryCount = 3

	failed := models.FailedOperation{
		Operation: *op,
		Kind:      "rate_limited",
		Reason:    "http 429",
		Attempts:  4,
		FailedAt:  baseTime.Add(time.Minute),
	}
	if err := st.FailOperation(ctx, failed); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if n, _ := st.CountPending(ctx); n != 0 {
		t.Fatalf("expected queue empty, got %d", n)
	}
	if n, _ := st.CountFailed(ctx); n != 1 {
		t.Fatalf("expected 1 failed, got %d", n)
	}

	reports, err := st.ListFailed(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	got := reports[0]
	if got.Operation.ID != op.ID || got.Kind != "rate_limited" || got.Attempts != 4 || got.Operation.RetryCount != 3 {
		t.Fatalf("unexpected report %#v", got)
	}
	if got.Operation.Status != models.StatusFailed || !got.FailedAt.Equal(failed.FailedAt) {
		t.Fatalf("unexpected report status/time %#v", got)
	}

	cleared, err := st.ClearFailed(ctx)
	if err != nil || cleared != 1 {
		t.Fatalf("clear failed: %d %v", cleared, err)
	}
}

func TestListFailedNewestFirstWithLimit(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		op := mustInsert(t, st, fmt.Sprintf("k%d", i))
		err := st.FailOperation(ctx, models.FailedOperation{
			Operation: *op,
			Kind:      "validation",
			Reason:    "bad",
			Attempts:  1,
			FailedAt:  baseTime.Add(time.Duration(i) * 500 * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
	}

	reports, err := st.ListFailed(ctx, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if !reports[0].FailedAt.After(reports[1].FailedAt) {
		t.Fatalf("expected newest first, got %v then %v", reports[0].FailedAt, reports[1].FailedAt)
	}
}

func TestPruneProcessed(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	old := mustInsert(t, st, "old")
	recent := mustInsert(t, st, "recent")
	if err := st.CompleteOperation(ctx, old.ID, old.DedupKey, baseTime); err != nil {
		t.Fatalf("complete old: %v", err)
	}
	if err := st.CompleteOperation(ctx, recent.ID, recent.DedupKey, baseTime.Add(48*time.Hour)); err != nil {
		t.Fatalf("complete recent: %v", err)
	}

	pruned, err := st.PruneProcessed(ctx, baseTime.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
}

func TestLastSync(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	got, err := st.LastSync(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected nil last sync, got %v %v", got, err)
	}
	if err := st.SetLastSync(ctx, baseTime); err != nil {
		t.Fatalf("set last sync: %v", err)
	}
	got, err = st.LastSync(ctx)
	if err != nil || got == nil || !got.Equal(baseTime) {
		t.Fatalf("expected %v, got %v %v", baseTime, got, err)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	op := mustInsert(t, st, "persist")
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetOperation(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.DedupKey != "persist" {
		t.Fatalf("unexpected operation %#v", got)
	}
}
