package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check and status.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)

	// Producer API.
	mux.HandleFunc("POST /v1/operations", s.handleEnqueue)
	mux.HandleFunc("GET /v1/cache", s.handleListCache)
	mux.HandleFunc("POST /v1/cache/evict", s.handleEvictCache)
	mux.HandleFunc("PUT /v1/cache/{name}", s.handleCacheImage)

	// Sync control.
	mux.HandleFunc("POST /v1/sync", s.handleSync)
	mux.HandleFunc("POST /v1/network", s.handleNetwork)

	// Failure reports.
	mux.HandleFunc("GET /v1/failed", s.handleListFailed)
	mux.HandleFunc("DELETE /v1/failed", s.handleClearFailed)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return mux
}
