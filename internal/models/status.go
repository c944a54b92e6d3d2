package models

import "time"

// SyncProgress counts outcomes within the current drain pass.
type SyncProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Status is a point-in-time view of the engine for polling callers.
type Status struct {
	IsOnline            bool         `json:"is_online"`
	PendingOperations   int          `json:"pending_operations"`
	SyncInProgress      bool         `json:"sync_in_progress"`
	SyncProgress        SyncProgress `json:"sync_progress"`
	LastSync            *time.Time   `json:"last_sync,omitempty"`
	FailedOperations    int          `json:"failed_operations"`
	RetryableOperations int          `json:"retryable_operations"`
	CacheEntries        int          `json:"cache_entries"`
	CacheBytes          int64        `json:"cache_bytes"`
	CacheCapacity       int64        `json:"cache_capacity"`
}
