package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fieldsync/internal/api"
	"fieldsync/internal/executor"
)

func (s *Server) handleCacheImage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("name is required"), ErrCodeMissingRequired))
		return
	}
	metadata, err := parseMetadata(r.URL.Query()["meta"])
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidQuery))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBlobBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeErrorReq(w, r, http.StatusRequestEntityTooLarge,
				makeAPIError(http.StatusRequestEntityTooLarge, "too_large", ErrCodeRequestTooLarge, fmt.Errorf("blob exceeds %d bytes", s.maxBlobBytes)))
			return
		}
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidArgument))
		return
	}
	if len(data) == 0 {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("body is required"), ErrCodeMissingRequired))
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	if err := s.engine.CacheImage(r.Context(), name, data, contentType, metadata); err != nil {
		if errors.Is(err, executor.ErrQuotaExceeded) {
			s.writeServiceError(w, r, quotaExceeded(err))
			return
		}
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.CacheImageResponse{Name: name, Size: len(data)})
}

func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListCache(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleEvictCache(w http.ResponseWriter, r *http.Request) {
	var req api.CacheEvictRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	if req.Ratio <= 0 || req.Ratio > 1 {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("ratio must be in (0, 1]"), ErrCodeInvalidRatio))
		return
	}
	evicted, err := s.engine.EvictCache(r.Context(), req.Ratio)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CacheEvictResponse{Evicted: evicted})
}

func parseMetadata(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid meta %q: expected key=value", value)
		}
		out[key] = val
	}
	return out, nil
}
