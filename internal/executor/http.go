package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldsync/internal/models"
)

const (
	defaultHTTPTimeout   = 30 * time.Second
	maxResponseBodyBytes = 1 << 20

	headerIdempotencyKey = "Idempotency-Key"
	headerFileName       = "X-File-Name"
	headerTargetID       = "X-Target-Id"
	headerCaption        = "X-Caption"
)

// HTTPExecutor delivers operations to a JSON backend.
type HTTPExecutor struct {
	baseURL string
	http    *http.Client
}

// NewHTTPExecutor creates an executor for the backend at baseURL.
// A non-positive timeout selects the default.
func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// UploadPhoto posts the raw photo bytes with the descriptor in headers.
func (e *HTTPExecutor) UploadPhoto(ctx context.Context, photo models.PhotoUpload, blob []byte, contentType, idempotencyToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/photos", bytes.NewReader(blob))
	if err != nil {
		return PermanentFailure(KindValidation, err.Error())
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(headerFileName, photo.FileName)
	if photo.TargetID != "" {
		req.Header.Set(headerTargetID, photo.TargetID)
	}
	if photo.Caption != "" {
		req.Header.Set(headerCaption, photo.Caption)
	}
	return e.send(req, idempotencyToken, false)
}

func (e *HTTPExecutor) CreateRemark(ctx context.Context, remark models.Remark, idempotencyToken string) error {
	return e.doJSON(ctx, http.MethodPost, "/v1/remarks", remark, idempotencyToken, false)
}

func (e *HTTPExecutor) UpdateRecord(ctx context.Context, update models.RecordUpdate, idempotencyToken string) error {
	body := map[string]any{"fields": update.Fields}
	return e.doJSON(ctx, http.MethodPatch, "/v1/records/"+url.PathEscape(update.TargetID), body, idempotencyToken, false)
}

// DeleteRecord treats 404 as success: the record is already gone.
func (e *HTTPExecutor) DeleteRecord(ctx context.Context, del models.RecordDelete, idempotencyToken string) error {
	return e.doJSON(ctx, http.MethodDelete, "/v1/records/"+url.PathEscape(del.TargetID), nil, idempotencyToken, true)
}

// Probe checks the backend health endpoint.
func (e *HTTPExecutor) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	return e.send(req, "", false)
}

func (e *HTTPExecutor) doJSON(ctx context.Context, method, path string, body any, idempotencyToken string, notFoundOK bool) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return PermanentFailure(KindValidation, fmt.Sprintf("encode request: %v", err))
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return PermanentFailure(KindValidation, err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req, idempotencyToken, notFoundOK)
}

func (e *HTTPExecutor) send(req *http.Request, idempotencyToken string, notFoundOK bool) error {
	if idempotencyToken != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyToken)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return transportFailure(req.Context(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return transportFailure(req.Context(), err)
	}

	if resp.StatusCode == http.StatusNotFound && notFoundOK {
		return nil
	}
	if resp.StatusCode >= 400 {
		return statusFailure(resp.StatusCode, data)
	}
	if len(bytes.TrimSpace(data)) > 0 && isJSON(resp.Header.Get("Content-Type")) {
		var ack json.RawMessage
		if err := json.Unmarshal(data, &ack); err != nil {
			return &Failure{Kind: KindDecode, Class: Permanent, Reason: fmt.Sprintf("decode %d response: %v", resp.StatusCode, err), Err: err}
		}
	}
	return nil
}

func transportFailure(ctx context.Context, err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Failure{Kind: KindTimeout, Class: Retryable, Reason: err.Error(), Err: err}
	}
	return &Failure{Kind: KindTransientNetwork, Class: Retryable, Reason: err.Error(), Err: err}
}

// statusFailure maps an HTTP error status onto the taxonomy.
func statusFailure(status int, body []byte) *Failure {
	reason := errorReason(status, body)
	switch {
	case status == http.StatusRequestTimeout || status >= 500:
		return RetryableFailure(KindTransientNetwork, reason)
	case status == http.StatusTooManyRequests:
		return RetryableFailure(KindRateLimited, reason)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return PermanentFailure(KindPermissionDenied, reason)
	case status == http.StatusConflict:
		return PermanentFailure(KindConflict, reason)
	default:
		return PermanentFailure(KindValidation, reason)
	}
}

func errorReason(status int, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return fmt.Sprintf("http %d: %s", status, payload.Error)
		}
		if payload.Message != "" {
			return fmt.Sprintf("http %d: %s", status, payload.Message)
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("http %d: %s", status, http.StatusText(status))
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return fmt.Sprintf("http %d: %s", status, text)
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}
