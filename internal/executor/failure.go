package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind names a failure in the error taxonomy.
type Kind string

const (
	KindTimeout          Kind = "timeout"
	KindTransientNetwork Kind = "transient_network"
	KindRateLimited      Kind = "rate_limited"
	KindPermissionDenied Kind = "permission_denied"
	KindValidation       Kind = "validation"
	KindConflict         Kind = "conflict"
	KindDecode           Kind = "decode"
	KindCacheMiss        Kind = "cache_miss"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindUnknown          Kind = "unknown"
)

// Class decides whether a failed operation may be attempted again.
type Class string

const (
	Retryable Class = "retryable"
	Permanent Class = "permanent"
)

var (
	ErrTimeout          = errors.New("operation timed out")
	ErrTransientNetwork = errors.New("transient network failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrPermissionDenied = errors.New("permission denied")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrDecode           = errors.New("undecodable response")
	ErrCacheMiss        = errors.New("blob not in cache")
	ErrQuotaExceeded    = errors.New("storage quota exceeded")
	ErrUnknown          = errors.New("unknown failure")
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindTimeout, ErrTimeout},
	{KindTransientNetwork, ErrTransientNetwork},
	{KindRateLimited, ErrRateLimited},
	{KindPermissionDenied, ErrPermissionDenied},
	{KindValidation, ErrValidation},
	{KindConflict, ErrConflict},
	{KindDecode, ErrDecode},
	{KindCacheMiss, ErrCacheMiss},
	{KindQuotaExceeded, ErrQuotaExceeded},
	{KindUnknown, ErrUnknown},
}

// Sentinel returns the errors.Is target for k.
func (k Kind) Sentinel() error {
	for _, s := range kindSentinels {
		if s.kind == k {
			return s.err
		}
	}
	return ErrUnknown
}

// DefaultClass is the class a kind gets when the producer of the error did not choose one.
func (k Kind) DefaultClass() Class {
	switch k {
	case KindTimeout, KindTransientNetwork, KindRateLimited:
		return Retryable
	default:
		return Permanent
	}
}

// Failure is the typed outcome of a failed executor call.
type Failure struct {
	Kind   Kind
	Class  Class
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if f.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", f.Kind, f.Class, f.Reason)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s (%s): %v", f.Kind, f.Class, f.Err)
	}
	return fmt.Sprintf("%s (%s)", f.Kind, f.Class)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches the sentinel of the failure kind.
func (f *Failure) Is(target error) bool {
	return target == f.Kind.Sentinel()
}

// IsRetryable reports whether another attempt is allowed.
func (f *Failure) IsRetryable() bool {
	return f != nil && f.Class == Retryable
}

// NewFailure builds a failure with the kind's default class.
func NewFailure(kind Kind, reason string, err error) *Failure {
	return &Failure{Kind: kind, Class: kind.DefaultClass(), Reason: reason, Err: err}
}

// RetryableFailure builds a retryable failure of the given kind.
func RetryableFailure(kind Kind, reason string) *Failure {
	return &Failure{Kind: kind, Class: Retryable, Reason: reason}
}

// PermanentFailure builds a permanent failure of the given kind.
func PermanentFailure(kind Kind, reason string) *Failure {
	return &Failure{Kind: kind, Class: Permanent, Reason: reason}
}

// Classify maps any executor error onto a Failure. It never inspects
// message text. A nil error yields nil.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		if f.Kind == KindCacheMiss && f.Class != Permanent {
			cp := *f
			cp.Class = Permanent
			return &cp
		}
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: KindTimeout, Class: Retryable, Reason: err.Error(), Err: err}
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return &Failure{Kind: s.kind, Class: s.kind.DefaultClass(), Reason: err.Error(), Err: err}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Failure{Kind: KindTransientNetwork, Class: Retryable, Reason: err.Error(), Err: err}
	}
	return &Failure{Kind: KindUnknown, Class: Permanent, Reason: err.Error(), Err: err}
}
