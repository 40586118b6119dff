package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/kv"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/webcache"
)

func TestMain(m *testing.M) {
	logging.Default().SetConsole(false)
	os.Exit(m.Run())
}

func newTestMux(t *testing.T) (*http.ServeMux, kv.Store) {
	t.Helper()

	store := kv.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	c, err := cache.New(context.Background(), store)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}

	h := &Handler{
		Cache:   c,
		Store:   store,
		Fetcher: webcache.New(store, webcache.Options{}),
		Backend: kv.BackendMemory,
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, store
}

func doRequest(t *testing.T, mux *http.ServeMux, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, target, rd)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response body %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestStoreAndRetrieve(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/store", map[string]interface{}{"value": "Hello"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	key := decodeBody(t, rr)["key"].(string)
	if key == "" {
		t.Fatal("expected a generated key")
	}

	rr = doRequest(t, mux, http.MethodGet, "/retrieve/"+key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["value"] != "Hello" {
		t.Fatalf("expected 'Hello', got %v", resp["value"])
	}
}

func TestStoreAndRetrieveInt(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/store", map[string]interface{}{"value": 42})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	key := decodeBody(t, rr)["key"].(string)

	rr = doRequest(t, mux, http.MethodGet, "/retrieve/"+key+"?as=int", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if v := decodeBody(t, rr)["value"].(float64); v != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestRetrieveMissingKey(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodGet, "/retrieve/nonexistent-key", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestRetrieveWrongType(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/store", map[string]interface{}{"value": "not a number"})
	key := decodeBody(t, rr)["key"].(string)

	rr = doRequest(t, mux, http.MethodGet, "/retrieve/"+key+"?as=int", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRetrieveUnknownConversion(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodGet, "/retrieve/whatever?as=xml", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestStoreRejectsNonScalarValue(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/store", map[string]interface{}{
		"value": map[string]int{"nested": 1},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCachePassthrough(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/cache", map[string]interface{}{
		"key":   "greeting",
		"value": "hi there",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, mux, http.MethodGet, "/cache/greeting", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["value"] != "hi there" || resp["found"] != true {
		t.Fatalf("unexpected response: %v", resp)
	}

	rr = doRequest(t, mux, http.MethodGet, "/cache/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for missing key, got %d", rr.Code)
	}
}

func TestCacheSetRequiresKey(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/cache", map[string]interface{}{"value": "no key"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestReplayEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	doRequest(t, mux, http.MethodPost, "/store", map[string]interface{}{"value": "one"})
	doRequest(t, mux, http.MethodPost, "/store", map[string]interface{}{"value": "two"})

	rr := doRequest(t, mux, http.MethodGet, "/replay/"+cache.StoreIdentity, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain report, got %q", ct)
	}
	report := rr.Body.String()
	if !strings.HasPrefix(report, "Cache.Store was called 2 times:\n") {
		t.Fatalf("unexpected report header:\n%s", report)
	}
	if !strings.Contains(report, "Cache.Store(*one) -> ") {
		t.Fatalf("expected replay line for first call:\n%s", report)
	}
}

func TestFetchEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "page body")
	}))
	defer srv.Close()

	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/fetch", map[string]interface{}{"url": srv.URL})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["from_cache"] != false || resp["body"] != "page body" {
		t.Fatalf("unexpected first fetch response: %v", resp)
	}

	rr = doRequest(t, mux, http.MethodPost, "/fetch", map[string]interface{}{"url": srv.URL})
	resp = decodeBody(t, rr)
	if resp["from_cache"] != true {
		t.Fatalf("expected second fetch to be cached: %v", resp)
	}

	rr = doRequest(t, mux, http.MethodGet, "/fetch/count?url="+srv.URL, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if n := decodeBody(t, rr)["count"].(float64); n != 2 {
		t.Fatalf("expected count == 2, got %v", n)
	}
}

func TestFetchEndpoint_UpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/fetch", map[string]interface{}{"url": url})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestFetchCountRequiresURL(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodGet, "/fetch/count", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestFlushEndpoint(t *testing.T) {
	mux, store := newTestMux(t)
	ctx := context.Background()

	if err := store.Set(ctx, "doomed", []byte("bye")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	rr := doRequest(t, mux, http.MethodPost, "/flush", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	rr = doRequest(t, mux, http.MethodGet, "/cache/doomed", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected flushed key to be gone, got %d", rr.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	mux, _ := newTestMux(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rr := doRequest(t, mux, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
	}

	rr := doRequest(t, mux, http.MethodGet, "/health", nil)
	if status := decodeBody(t, rr)["status"]; status != "ok" {
		t.Fatalf("expected status ok, got %v", status)
	}
}

func TestStatsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodGet, "/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["backend"] != kv.BackendMemory {
		t.Fatalf("expected memory backend in stats, got %v", resp["backend"])
	}
	if _, ok := resp["fetch"]; !ok {
		t.Fatal("expected fetch metrics in stats")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if _, ok := decodeBody(t, rr)["store"]; !ok {
		t.Fatal("expected store metrics in response")
	}
}
