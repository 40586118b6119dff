// Package api exposes the cache facade, the page fetcher and the
// observability surface over HTTP.
package api

import (
	"net/http"

	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/kv"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/ratelimit"
	"github.com/oriys/pulsar/internal/webcache"
)

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Cache   *cache.Cache
	Store   kv.Store
	Fetcher *webcache.Fetcher
	// Backend names the configured store backend, reported by /health.
	Backend string
	// RateLimit enables per-client request limiting when non-nil and Enabled.
	RateLimit *config.RateLimitConfig
}

// StartHTTPServer creates and starts the HTTP server.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	mux := http.NewServeMux()

	h := &Handler{
		Cache:   cfg.Cache,
		Store:   cfg.Store,
		Fetcher: cfg.Fetcher,
		Backend: cfg.Backend,
	}
	h.RegisterRoutes(mux)

	// Wrap with tracing middleware
	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)

	// Add rate limiting middleware
	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		limiter := ratelimit.New(rateLimitBackend(cfg.Store), ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
		})
		publicPaths := []string{"/health", "/health/live", "/health/ready", "/metrics", "/metrics/*"}
		handler = ratelimit.Middleware(limiter, publicPaths)(handler)
		logging.Op().Info("rate limiting enabled", "rps", cfg.RateLimit.RequestsPerSecond)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}

// rateLimitBackend picks the bucket store for the limiter. A Redis store
// shares buckets across replicas, with a local fallback if Redis drops;
// every other backend keeps buckets in process memory.
func rateLimitBackend(store kv.Store) ratelimit.Backend {
	if rs, ok := store.(*kv.RedisStore); ok {
		return ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(rs.Client()))
	}
	return ratelimit.NewLocalTokenBucketBackend()
}
