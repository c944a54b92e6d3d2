package models

import (
	"encoding/json"
	"time"
)

// Operation is one queued mutation awaiting delivery to the backend.
type Operation struct {
	ID               string          `json:"id"`
	DedupKey         string          `json:"dedup_key"`
	Type             OperationType   `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	IdempotencyToken string          `json:"idempotency_token,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	RetryCount       int             `json:"retry_count"`
	Status           OperationStatus `json:"status"`
	LastError        string          `json:"last_error,omitempty"`
	Position         int64           `json:"position"`
}

// FailedOperation is the report kept for an operation that was removed
// from the queue without being delivered.
type FailedOperation struct {
	Operation Operation `json:"operation"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}
