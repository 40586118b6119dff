package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/kv"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/webcache"
)

// Handler handles cache, fetch and observability HTTP requests.
type Handler struct {
	Cache   *cache.Cache
	Store   kv.Store
	Fetcher *webcache.Fetcher
	Backend string
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Typed facade
	mux.HandleFunc("POST /store", h.StoreValue)
	mux.HandleFunc("GET /retrieve/{key}", h.RetrieveValue)
	mux.HandleFunc("GET /replay/{identity}", h.ReplayReport)

	// Raw key-value passthrough
	mux.HandleFunc("GET /cache/{key}", h.CacheGet)
	mux.HandleFunc("POST /cache", h.CacheSet)
	mux.HandleFunc("POST /flush", h.Flush)

	// Page fetching
	mux.HandleFunc("POST /fetch", h.FetchPage)
	mux.HandleFunc("GET /fetch/count", h.FetchCount)

	// Health probes
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)

	// Observability
	mux.HandleFunc("GET /stats", h.Stats)
	mux.Handle("GET /metrics", metrics.Global().JSONHandler())
	mux.Handle("GET /metrics/prometheus", metrics.PrometheusHandler())
}

type storeRequest struct {
	Value json.RawMessage `json:"value"`
	// Type forces how Value is interpreted: text, int, float or bytes
	// (base64). Empty means sniff from the JSON shape.
	Type string `json:"type,omitempty"`
}

// StoreValue handles POST /store
func (h *Handler) StoreValue(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	value, err := decodeStoreValue(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key, err := h.Cache.Store(r.Context(), value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"key": key})
}

// RetrieveValue handles GET /retrieve/{key}. The "as" query parameter
// selects the conversion: text (default), int or raw (base64).
func (h *Handler) RetrieveValue(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	as := r.URL.Query().Get("as")
	if as == "" {
		as = "text"
	}

	ctx := r.Context()
	resp := map[string]interface{}{"key": key, "found": true}

	switch as {
	case "text":
		s, found, err := h.Cache.RetrieveText(ctx, key)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, cache.ErrDecode) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		if !found {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		resp["value"] = s
	case "int":
		n, found, err := h.Cache.RetrieveInt(ctx, key)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, cache.ErrParse) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		if !found {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		resp["value"] = n
	case "raw":
		raw, found, err := h.Cache.Retrieve(ctx, key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		resp["value_base64"] = base64.StdEncoding.EncodeToString(raw)
	default:
		http.Error(w, fmt.Sprintf("unknown retrieval type %q", as), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ReplayReport handles GET /replay/{identity} with a plain-text report.
func (h *Handler) ReplayReport(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := cache.Replay(r.Context(), h.Store, identity, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// CacheGet handles GET /cache/{key}
func (h *Handler) CacheGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	value, err := h.Store.Get(r.Context(), key)
	if errors.Is(err, kv.ErrNotFound) {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"value": string(value),
		"found": true,
	})
}

type cacheSetRequest struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// CacheSet handles POST /cache
func (h *Handler) CacheSet(w http.ResponseWriter, r *http.Request) {
	var req cacheSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var err error
	if req.TTLSeconds > 0 {
		err = h.Store.SetEx(ctx, req.Key, []byte(req.Value), time.Duration(req.TTLSeconds)*time.Second)
	} else {
		err = h.Store.Set(ctx, req.Key, []byte(req.Value))
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "stored"})
}

// Flush handles POST /flush
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.FlushAll(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "flushed"})
}

type fetchRequest struct {
	URL string `json:"url"`
}

// FetchPage handles POST /fetch
func (h *Handler) FetchPage(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	res, err := h.Fetcher.FetchPage(r.Context(), req.URL)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, webcache.ErrFetch) {
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"url":         res.URL,
		"from_cache":  res.FromCache,
		"status":      res.Status,
		"fetches":     res.Fetches,
		"duration_ms": res.Duration.Milliseconds(),
		"size":        len(res.Body),
		"body":        string(res.Body),
	})
}

// FetchCount handles GET /fetch/count?url=...
func (h *Handler) FetchCount(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "url query parameter is required", http.StatusBadRequest)
		return
	}

	n, err := h.Fetcher.FetchCount(r.Context(), url)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"url":   url,
		"count": n,
	})
}

// Health handles GET /health - detailed status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeOK := h.Store.Ping(ctx) == nil

	status := "ok"
	if !storeOK {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"components": map[string]interface{}{
			"store":   storeOK,
			"backend": h.Backend,
		},
		"uptime_seconds": int64(time.Since(metrics.StartTime()).Seconds()),
	})
}

// HealthLive handles GET /health/live - Kubernetes liveness probe
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready - Kubernetes readiness probe
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "not_ready",
			"error":  "store unavailable: " + err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// Stats handles GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	snap := metrics.Global().Snapshot()
	snap["backend"] = h.Backend
	if h.Fetcher != nil {
		if states := h.Fetcher.BreakerStates(); len(states) > 0 {
			snap["fetch_breakers"] = states
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// decodeStoreValue interprets the JSON value per the requested type.
func decodeStoreValue(req storeRequest) (interface{}, error) {
	if len(req.Value) == 0 {
		return nil, fmt.Errorf("value is required")
	}

	switch req.Type {
	case "":
		// Sniff: JSON strings store as text, numbers as int when they
		// fit, otherwise as float.
		var s string
		if err := json.Unmarshal(req.Value, &s); err == nil {
			return s, nil
		}
		var n int64
		if err := json.Unmarshal(req.Value, &n); err == nil {
			return n, nil
		}
		var f float64
		if err := json.Unmarshal(req.Value, &f); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("value must be a JSON string or number")
	case "text":
		var s string
		if err := json.Unmarshal(req.Value, &s); err != nil {
			return nil, fmt.Errorf("text value must be a JSON string")
		}
		return s, nil
	case "int":
		var n int64
		if err := json.Unmarshal(req.Value, &n); err == nil {
			return n, nil
		}
		var s string
		if err := json.Unmarshal(req.Value, &s); err == nil {
			n, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				return n, nil
			}
		}
		return nil, fmt.Errorf("int value must be a JSON integer")
	case "float":
		var f float64
		if err := json.Unmarshal(req.Value, &f); err == nil {
			return f, nil
		}
		var s string
		if err := json.Unmarshal(req.Value, &s); err == nil {
			f, err := strconv.ParseFloat(s, 64)
			if err == nil {
				return f, nil
			}
		}
		return nil, fmt.Errorf("float value must be a JSON number")
	case "bytes":
		var s string
		if err := json.Unmarshal(req.Value, &s); err != nil {
			return nil, fmt.Errorf("bytes value must be a base64 JSON string")
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode base64 value: %v", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", req.Type)
	}
}
