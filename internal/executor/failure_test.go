package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "connection refused" }
func (fakeNetErr) Timeout() bool   { return false }
func (fakeNetErr) Temporary() bool { return true }

var _ net.Error = fakeNetErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  Kind
		class Class
	}{
		{name: "deadline", err: context.DeadlineExceeded, kind: KindTimeout, class: Retryable},
		{name: "wrapped deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), kind: KindTimeout, class: Retryable},
		{name: "net error", err: fakeNetErr{}, kind: KindTransientNetwork, class: Retryable},
		{name: "plain error", err: errors.New("boom"), kind: KindUnknown, class: Permanent},
		{name: "sentinel", err: fmt.Errorf("backend: %w", ErrRateLimited), kind: KindRateLimited, class: Retryable},
		{name: "typed failure", err: PermanentFailure(KindConflict, "exists"), kind: KindConflict, class: Permanent},
		{name: "retryable validation stays retryable", err: RetryableFailure(KindValidation, "flaky"), kind: KindValidation, class: Retryable},
		{name: "cache miss forced permanent", err: RetryableFailure(KindCacheMiss, "gone"), kind: KindCacheMiss, class: Permanent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := Classify(tc.err)
			if f == nil {
				t.Fatal("expected failure")
			}
			if f.Kind != tc.kind || f.Class != tc.class {
				t.Fatalf("expected %s/%s, got %s/%s", tc.kind, tc.class, f.Kind, f.Class)
			}
		})
	}

	if Classify(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestFailureMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("pass: %w", RetryableFailure(KindRateLimited, "slow down"))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected errors.Is to match ErrRateLimited: %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("did not expect ErrTimeout match")
	}

	var f *Failure
	if !errors.As(err, &f) || !f.IsRetryable() {
		t.Fatalf("expected retryable failure, got %#v", f)
	}
}
