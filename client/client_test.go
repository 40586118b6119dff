package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/oriys/pulsar/internal/api"
	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/kv"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/webcache"
)

func TestMain(m *testing.M) {
	logging.Default().SetConsole(false)
	os.Exit(m.Run())
}

// newTestClient runs a real daemon handler on a test listener and
// points a Client at it.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	store := kv.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	c, err := cache.New(context.Background(), store)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	fetcher := webcache.New(store, webcache.Options{})

	mux := http.NewServeMux()
	h := &api.Handler{Cache: c, Store: store, Fetcher: fetcher, Backend: "memory"}
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return New(srv.URL)
}

func TestClient_StoreAndRetrieveText(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	key, err := c.Store(ctx, "Hello")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if key == "" {
		t.Fatal("expected a non-empty key")
	}

	got, found, err := c.RetrieveText(ctx, key)
	if err != nil {
		t.Fatalf("RetrieveText failed: %v", err)
	}
	if !found {
		t.Fatal("expected stored key to be found")
	}
	if got != "Hello" {
		t.Fatalf("expected 'Hello', got %q", got)
	}
}

func TestClient_StoreAndRetrieveInt(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	key, err := c.Store(ctx, 42)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	n, found, err := c.RetrieveInt(ctx, key)
	if err != nil {
		t.Fatalf("RetrieveInt failed: %v", err)
	}
	if !found {
		t.Fatal("expected stored key to be found")
	}
	if n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
}

func TestClient_StoreBytesRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	key, err := c.StoreBytes(ctx, payload)
	if err != nil {
		t.Fatalf("StoreBytes failed: %v", err)
	}

	got, found, err := c.Retrieve(ctx, key)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !found {
		t.Fatal("expected stored key to be found")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %v, got %v", payload, got)
	}
}

func TestClient_RetrieveMissingKey(t *testing.T) {
	c := newTestClient(t)

	_, found, err := c.RetrieveText(context.Background(), "no-such-key")
	if err != nil {
		t.Fatalf("RetrieveText failed: %v", err)
	}
	if found {
		t.Fatal("expected missing key to report found == false")
	}
}

func TestClient_RetrieveWrongType(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	key, err := c.Store(ctx, "not a number")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, _, err = c.RetrieveInt(ctx, key)
	if err == nil {
		t.Fatal("expected an error for a non-numeric value")
	}
	if IsNotFound(err) {
		t.Fatal("conversion failure should not look like a missing key")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected a 400 APIError, got: %v", err)
	}
}

func TestClient_Replay(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Store(ctx, "Hello"); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := c.Store(ctx, 7); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	report, err := c.Replay(ctx, cache.StoreIdentity)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !strings.HasPrefix(report, "Cache.Store was called 2 times:\n") {
		t.Fatalf("unexpected report header: %q", report)
	}
	if !strings.Contains(report, "Cache.Store(*Hello) -> ") {
		t.Fatalf("expected call line in report: %q", report)
	}
}

func TestClient_FetchAndCount(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "page body")
	}))
	defer upstream.Close()

	c := newTestClient(t)
	ctx := context.Background()

	first, err := c.Fetch(ctx, upstream.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if first.FromCache {
		t.Fatal("first fetch should not come from cache")
	}
	if first.Body != "page body" {
		t.Fatalf("unexpected body %q", first.Body)
	}

	second, err := c.Fetch(ctx, upstream.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second fetch should come from cache")
	}
	if second.Fetches != 2 {
		t.Fatalf("expected demand counter == 2, got %d", second.Fetches)
	}

	n, err := c.FetchCount(ctx, upstream.URL)
	if err != nil {
		t.Fatalf("FetchCount failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}
}

func TestClient_FetchUpstreamDown(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	c := newTestClient(t)

	_, err := c.Fetch(context.Background(), deadURL)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("expected a 502 APIError, got: %v", err)
	}
}

func TestClient_CachePassthrough(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.CacheSet(ctx, "greeting", "hi there", 0); err != nil {
		t.Fatalf("CacheSet failed: %v", err)
	}

	value, found, err := c.CacheGet(ctx, "greeting")
	if err != nil {
		t.Fatalf("CacheGet failed: %v", err)
	}
	if !found || value != "hi there" {
		t.Fatalf("expected ('hi there', true), got (%q, %v)", value, found)
	}

	_, found, err = c.CacheGet(ctx, "absent")
	if err != nil {
		t.Fatalf("CacheGet failed: %v", err)
	}
	if found {
		t.Fatal("expected missing key to report found == false")
	}
}

func TestClient_Flush(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.CacheSet(ctx, "doomed", "value", 0); err != nil {
		t.Fatalf("CacheSet failed: %v", err)
	}
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	_, found, err := c.CacheGet(ctx, "doomed")
	if err != nil {
		t.Fatalf("CacheGet failed: %v", err)
	}
	if found {
		t.Fatal("expected flushed key to be gone")
	}
}

func TestClient_HealthAndStats(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	h, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.Status != "ok" {
		t.Fatalf("expected status ok, got %q", h.Status)
	}
	if h.Components["backend"] != "memory" {
		t.Fatalf("expected memory backend, got %v", h.Components["backend"])
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["backend"] != "memory" {
		t.Fatalf("expected memory backend in stats, got %v", stats["backend"])
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("PULSAR_URL", "http://pulsar.internal:8080")
	if c := NewFromEnv(); c.BaseURL != "http://pulsar.internal:8080" {
		t.Fatalf("expected env URL, got %q", c.BaseURL)
	}

	t.Setenv("PULSAR_URL", "")
	if c := NewFromEnv(); c.BaseURL != "http://localhost:8080" {
		t.Fatalf("expected default URL, got %q", c.BaseURL)
	}
}
