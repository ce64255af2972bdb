package database

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client wraps the Supabase REST, RPC and Storage APIs.
type Client struct {
	url        string
	serviceKey string
	bucket     string
	httpClient *http.Client
	retry      RetryConfig
}

// Config holds database configuration.
type Config struct {
	URL        string
	ServiceKey string
	Bucket     string
	Timeout    time.Duration
	Retry      *RetryConfig
}

// RetryConfig controls retries of idempotent requests on transient statuses.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// NewClient creates a new Supabase client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("SUPABASE_URL is required")
	}
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	parsed, err := neturl.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("SUPABASE_URL must be a valid URL")
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("SUPABASE_URL must not include user info")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "walletchat-files"
	}

	transport := http.DefaultTransport
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		cloned := base.Clone()
		if cloned.TLSClientConfig != nil {
			cloned.TLSClientConfig = cloned.TLSClientConfig.Clone()
			if cloned.TLSClientConfig.MinVersion < tls.VersionTLS12 {
				cloned.TLSClientConfig.MinVersion = tls.VersionTLS12
			}
		} else {
			cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		transport = cloned
	}

	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		bucket:     bucket,
		retry:      retry,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

const (
	maxSupabaseResponseBytes  = 8 << 20  // 8 MiB
	maxSupabaseErrorBodyBytes = 32 << 10 // 32 KiB
)

// APIError is a non-2xx response from Supabase. PostgREST errors carry a
// Postgres error code; storage errors carry only a message.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase API error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase API error %d: %s", e.Status, e.Message)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		apiErr.Code = parsed.Get("code").String()
		apiErr.Details = parsed.Get("details").String()
		for _, key := range []string{"message", "error", "msg"} {
			if v := parsed.Get(key); v.Exists() && v.String() != "" {
				apiErr.Message = v.String()
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// request makes an HTTP request to the Supabase REST API.
func (c *Client) request(ctx context.Context, method, table string, body interface{}, query string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.url, table)
	if query != "" {
		endpoint += "?" + query
	}
	headers := map[string]string{"Prefer": "return=representation"}
	return c.send(ctx, method, endpoint, body, headers)
}

// upsert inserts or merges rows on the given conflict column.
func (c *Client) upsert(ctx context.Context, table string, body interface{}, onConflict string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=%s", c.url, table, neturl.QueryEscape(onConflict))
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=representation"}
	return c.send(ctx, http.MethodPost, endpoint, body, headers)
}

// rpc calls a Postgres function exposed through PostgREST.
func (c *Client) rpc(ctx context.Context, fn string, params interface{}) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/rpc/%s", c.url, fn)
	return c.send(ctx, http.MethodPost, endpoint, params, nil)
}

// uploadObject stores data in the configured bucket and returns the object key.
func (c *Client) uploadObject(ctx context.Context, path string, data []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.url, c.bucket, escapePath(path))
	resp, err := c.do(ctx, http.MethodPost, endpoint, data, "application/octet-stream", map[string]string{"x-upsert": "true"})
	if err != nil {
		return "", err
	}
	if key := gjson.GetBytes(resp, "Key").String(); key != "" {
		return key, nil
	}
	return c.bucket + "/" + path, nil
}

// deleteObject removes an object by its key ("bucket/path").
func (c *Client) deleteObject(ctx context.Context, key string) error {
	path := strings.TrimPrefix(key, c.bucket+"/")
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", c.url, c.bucket)
	payload, err := json.Marshal(map[string][]string{"prefixes": {path}})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	_, err = c.do(ctx, http.MethodDelete, endpoint, payload, "application/json", nil)
	return err
}

func (c *Client) send(ctx context.Context, method, endpoint string, body interface{}, headers map[string]string) ([]byte, error) {
	var payload []byte
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		payload = jsonBody
	}
	return c.do(ctx, method, endpoint, payload, "application/json", headers)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, contentType string, headers map[string]string) ([]byte, error) {
	attempts := 1
	if isIdempotent(method) {
		attempts += c.retry.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		body, err := c.once(ctx, method, endpoint, payload, contentType, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !retryableStatus(apiErr.Status) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, endpoint string, payload []byte, contentType string, headers map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxSupabaseErrorBodyBytes))
		if readErr != nil {
			return nil, fmt.Errorf("read error response: %w", readErr)
		}
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxSupabaseResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(respBody) > maxSupabaseResponseBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxSupabaseResponseBytes)
	}
	return respBody, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	backoff := float64(c.retry.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if ceiling := float64(c.retry.MaxBackoff); ceiling > 0 && backoff > ceiling {
		backoff = ceiling
	}
	// 10% jitter
	backoff += backoff * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(backoff)
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = neturl.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
