package models

import "time"

// CacheEntry describes one blob held locally until its upload is confirmed.
type CacheEntry struct {
	Name         string            `json:"name"`
	BlobKey      string            `json:"blob_key"`
	SHA256       string            `json:"sha256"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	LastAccessed time.Time         `json:"last_accessed"`
}

// Expired reports whether the entry is older than ttl at now.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.Timestamp) > ttl
}
