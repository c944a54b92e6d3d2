package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fieldsync/internal/api"
	"fieldsync/internal/engine"
	"fieldsync/internal/queue"
)

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("type is required"), ErrCodeMissingRequired))
		return
	}

	id, queued, err := s.engine.QueueOperation(r.Context(), req.Operation())
	if err != nil {
		if errors.Is(err, queue.ErrInvalidOperation) {
			s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidPayload))
			return
		}
		s.writeStoreError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !queued {
		status = http.StatusOK
	}
	s.writeJSON(w, status, api.EnqueueResponse{ID: id, Queued: queued})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.acquireLimiter(s.syncLimiter, w, r, "sync") {
		return
	}
	defer s.releaseLimiter(s.syncLimiter)

	result, err := s.engine.Sync(r.Context())
	if err != nil {
		if errors.Is(err, engine.ErrOffline) {
			s.writeServiceError(w, r, offline(err))
			return
		}
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req api.NetworkRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	s.engine.SetOnline(req.Online)
	s.writeJSON(w, http.StatusOK, api.NetworkResponse{Online: s.engine.IsOnline()})
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailedLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("invalid limit"), ErrCodeInvalidQuery))
			return
		}
		limit = parsed
	}

	failed, err := s.engine.ListFailed(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, failed)
}

func (s *Server) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.engine.ClearFailed(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClearFailedResponse{Cleared: cleared})
}
