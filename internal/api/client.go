package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"fieldsync/internal/models"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	httpTimeoutEnvKey  = "FIELDSYNC_HTTP_TIMEOUT"
)

// Client is a simple HTTP client for the fieldsync daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: httpTimeoutFromEnv()},
	}
}

// Ping checks whether the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) Status(ctx context.Context) (models.Status, error) {
	var resp models.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, nil, &resp)
	return resp, err
}

func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResponse, error) {
	var resp EnqueueResponse
	err := c.do(ctx, http.MethodPost, "/v1/operations", nil, req, &resp)
	return resp, err
}

// CacheImage uploads data as the raw request body. Metadata travels as
// repeated meta=key=value query parameters.
func (c *Client) CacheImage(ctx context.Context, name string, data io.Reader, contentType string, metadata map[string]string) (CacheImageResponse, error) {
	var resp CacheImageResponse
	query := url.Values{}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query.Add("meta", k+"="+metadata[k])
	}

	endpoint := c.baseURL + "/v1/cache/" + url.PathEscape(name)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, data)
	if err != nil {
		return resp, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return resp, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 400 {
		return resp, decodeError(httpResp)
	}
	err = json.NewDecoder(httpResp.Body).Decode(&resp)
	return resp, err
}

func (c *Client) ListCache(ctx context.Context) ([]models.CacheEntry, error) {
	var resp []models.CacheEntry
	err := c.do(ctx, http.MethodGet, "/v1/cache", nil, nil, &resp)
	return resp, err
}

func (c *Client) EvictCache(ctx context.Context, ratio float64) (CacheEvictResponse, error) {
	var resp CacheEvictResponse
	err := c.do(ctx, http.MethodPost, "/v1/cache/evict", nil, CacheEvictRequest{Ratio: ratio}, &resp)
	return resp, err
}

func (c *Client) Sync(ctx context.Context) (models.PassResult, error) {
	var resp models.PassResult
	err := c.do(ctx, http.MethodPost, "/v1/sync", nil, nil, &resp)
	return resp, err
}

func (c *Client) SetNetwork(ctx context.Context, online bool) (NetworkResponse, error) {
	var resp NetworkResponse
	err := c.do(ctx, http.MethodPost, "/v1/network", nil, NetworkRequest{Online: online}, &resp)
	return resp, err
}

func (c *Client) ListFailed(ctx context.Context, limit int) ([]models.FailedOperation, error) {
	var resp []models.FailedOperation
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	err := c.do(ctx, http.MethodGet, "/v1/failed", query, nil, &resp)
	return resp, err
}

func (c *Client) ClearFailed(ctx context.Context) (ClearFailedResponse, error) {
	var resp ClearFailedResponse
	err := c.do(ctx, http.MethodDelete, "/v1/failed", nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		apiErr.Code = errResp.Code
		apiErr.ErrorCode = errResp.ErrorCode
		apiErr.Message = errResp.Error
		return apiErr
	}
	apiErr.Message = "api error: " + resp.Status
	return apiErr
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
