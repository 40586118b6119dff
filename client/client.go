// Package client is a small Go SDK for the pulsar HTTP API. It covers
// the typed cache facade, the raw key-value passthrough, page fetching
// and the health and stats endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client wraps HTTP calls to a pulsar daemon.
type Client struct {
	BaseURL string
	client  *http.Client
}

// New creates a client for the daemon at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		client:  &http.Client{},
	}
}

// NewWithHTTPClient creates a client using the given http.Client, for
// callers that need custom timeouts or transports.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{
		BaseURL: baseURL,
		client:  hc,
	}
}

// NewFromEnv creates a client from the PULSAR_URL environment variable,
// defaulting to a local daemon.
func NewFromEnv() *Client {
	u := os.Getenv("PULSAR_URL")
	if u == "" {
		u = "http://localhost:8080"
	}
	return New(u)
}

// APIError is returned when the daemon answers with a non-2xx status.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if len(respBody) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(respBody), nil
}

// Store saves value under a fresh key and returns the key. The value
// may be a string or any numeric type.
func (c *Client) Store(ctx context.Context, value any) (string, error) {
	raw, err := c.do(ctx, http.MethodPost, "/store", map[string]any{"value": value})
	if err != nil {
		return "", err
	}
	var resp struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode store response: %w", err)
	}
	return resp.Key, nil
}

// StoreBytes saves an arbitrary byte payload under a fresh key.
func (c *Client) StoreBytes(ctx context.Context, value []byte) (string, error) {
	raw, err := c.do(ctx, http.MethodPost, "/store", map[string]any{
		"value": base64.StdEncoding.EncodeToString(value),
		"type":  "bytes",
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode store response: %w", err)
	}
	return resp.Key, nil
}

// RetrieveText fetches the value under key as text. A missing key
// reports found == false with a nil error.
func (c *Client) RetrieveText(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.do(ctx, http.MethodGet, "/retrieve/"+url.PathEscape(key)+"?as=text", nil)
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var resp struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", false, fmt.Errorf("decode retrieve response: %w", err)
	}
	return resp.Value, true, nil
}

// RetrieveInt fetches the value under key as an integer.
func (c *Client) RetrieveInt(ctx context.Context, key string) (int64, bool, error) {
	raw, err := c.do(ctx, http.MethodGet, "/retrieve/"+url.PathEscape(key)+"?as=int", nil)
	if IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var resp struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, false, fmt.Errorf("decode retrieve response: %w", err)
	}
	return resp.Value, true, nil
}

// Retrieve fetches the raw bytes stored under key.
func (c *Client) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.do(ctx, http.MethodGet, "/retrieve/"+url.PathEscape(key)+"?as=raw", nil)
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var resp struct {
		ValueBase64 string `json:"value_base64"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("decode retrieve response: %w", err)
	}
	value, err := base64.StdEncoding.DecodeString(resp.ValueBase64)
	if err != nil {
		return nil, false, fmt.Errorf("decode value: %w", err)
	}
	return value, true, nil
}

// Replay returns the plain-text call report for an operation identity.
func (c *Client) Replay(ctx context.Context, identity string) (string, error) {
	raw, err := c.do(ctx, http.MethodGet, "/replay/"+url.PathEscape(identity), nil)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FetchResult mirrors the daemon's fetch response.
type FetchResult struct {
	URL        string `json:"url"`
	FromCache  bool   `json:"from_cache"`
	Status     int    `json:"status"`
	Fetches    int64  `json:"fetches"`
	DurationMs int64  `json:"duration_ms"`
	Size       int    `json:"size"`
	Body       string `json:"body"`
}

// Fetch asks the daemon to fetch pageURL, serving repeats from its cache.
func (c *Client) Fetch(ctx context.Context, pageURL string) (*FetchResult, error) {
	raw, err := c.do(ctx, http.MethodPost, "/fetch", map[string]string{"url": pageURL})
	if err != nil {
		return nil, err
	}
	var res FetchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode fetch response: %w", err)
	}
	return &res, nil
}

// FetchCount reports how many times pageURL has been requested.
func (c *Client) FetchCount(ctx context.Context, pageURL string) (int64, error) {
	q := url.Values{"url": {pageURL}}
	raw, err := c.do(ctx, http.MethodGet, "/fetch/count?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return resp.Count, nil
}

// CacheGet reads a raw store key. A missing key reports found == false.
func (c *Client) CacheGet(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.do(ctx, http.MethodGet, "/cache/"+url.PathEscape(key), nil)
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var resp struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", false, fmt.Errorf("decode cache response: %w", err)
	}
	return resp.Value, true, nil
}

// CacheSet writes a raw store key. A positive ttl expires the entry.
func (c *Client) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := c.do(ctx, http.MethodPost, "/cache", map[string]any{
		"key":         key,
		"value":       value,
		"ttl_seconds": int64(ttl.Seconds()),
	})
	return err
}

// Flush wipes every entry in the daemon's store.
func (c *Client) Flush(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/flush", nil)
	return err
}

// Health describes the daemon's health report.
type Health struct {
	Status        string         `json:"status"`
	Components    map[string]any `json:"components"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

// Health fetches the daemon's detailed health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	raw, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var h Health
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &h, nil
}

// Stats fetches the daemon's runtime counters.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	raw, err := c.do(ctx, http.MethodGet, "/stats", nil)
	if err != nil {
		return nil, err
	}
	var stats map[string]any
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("decode stats response: %w", err)
	}
	return stats, nil
}
