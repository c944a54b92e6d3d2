package api

import (
	"encoding/json"

	"fieldsync/internal/models"
)

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// EnqueueRequest submits one operation to the daemon queue.
type EnqueueRequest struct {
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	IdempotencyToken string          `json:"idempotency_token,omitempty"`
}

// Operation converts the request into a queue operation.
func (r EnqueueRequest) Operation() models.Operation {
	return models.Operation{
		Type:             models.OperationType(r.Type),
		Payload:          r.Payload,
		IdempotencyToken: r.IdempotencyToken,
	}
}

// EnqueueResponse reports whether the operation was added. Duplicates return
// queued=false and no id.
type EnqueueResponse struct {
	ID     string `json:"id,omitempty"`
	Queued bool   `json:"queued"`
}

// CacheImageResponse acknowledges a stored blob.
type CacheImageResponse struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// CacheEvictRequest drops the least recently used share of the cache.
type CacheEvictRequest struct {
	Ratio float64 `json:"ratio"`
}

// CacheEvictResponse reports how many entries were evicted.
type CacheEvictResponse struct {
	Evicted int `json:"evicted"`
}

// NetworkRequest forces the connectivity flag.
type NetworkRequest struct {
	Online bool `json:"online"`
}

// NetworkResponse echoes the connectivity flag.
type NetworkResponse struct {
	Online bool `json:"online"`
}

// ClearFailedResponse reports dropped failure reports.
type ClearFailedResponse struct {
	Cleared int64 `json:"cleared"`
}
