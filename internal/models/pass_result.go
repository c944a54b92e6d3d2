package models

import "time"

// PassOutcome summarizes one drain pass for notification.
type PassOutcome string

const (
	OutcomeSuccess PassOutcome = "success"
	OutcomePartial PassOutcome = "partial"
	OutcomeFailure PassOutcome = "failure"
	// OutcomeNoop marks a trigger that found the queue empty and ran no pass.
	OutcomeNoop PassOutcome = "noop"
)

// PassResult aggregates every item outcome of a drain pass.
type PassResult struct {
	Total      int               `json:"total"`
	Succeeded  int               `json:"succeeded"`
	Retried    int               `json:"retried"`
	Failed     []FailedOperation `json:"failed,omitempty"`
	Outcome    PassOutcome       `json:"outcome"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// ResolveOutcome derives Outcome from the counters.
func (r *PassResult) ResolveOutcome() {
	switch {
	case r.Total == 0:
		r.Outcome = OutcomeNoop
	case len(r.Failed) == 0 && r.Retried == 0:
		r.Outcome = OutcomeSuccess
	case r.Succeeded == 0:
		r.Outcome = OutcomeFailure
	default:
		r.Outcome = OutcomePartial
	}
}
