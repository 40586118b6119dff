// Package webcache fetches web pages over HTTP and caches their bodies in
// the key-value store with a short TTL. Every fetch attempt bumps a per-URL
// demand counter before the cache is consulted, so the counters reflect how
// often a page was wanted rather than how often it was downloaded.
package webcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/oriys/pulsar/internal/circuitbreaker"
	"github.com/oriys/pulsar/internal/kv"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// ErrFetch indicates the page could not be retrieved over the network.
// Cache and counter bookkeeping errors are reported as kv errors instead.
var ErrFetch = errors.New("webcache: fetch failed")

const (
	countPrefix = "count:"
	cachePrefix = "cache:"

	// DefaultTTL is how long a fetched body stays cached.
	DefaultTTL = 10 * time.Second
	// DefaultTimeout bounds a single page download.
	DefaultTimeout = 20 * time.Second

	defaultUserAgent = "Pulsar-Fetch/1.0"
	maxResponseSize  = 1 * 1024 * 1024 // 1MB
	maxRedirects     = 5
)

// Options tunes a Fetcher. The zero value selects the defaults above.
type Options struct {
	TTL       time.Duration
	Timeout   time.Duration
	UserAgent string
	MaxBody   int64
	// HTTPClient overrides the internally built client. Timeout is
	// ignored when this is set.
	HTTPClient *http.Client
	// Breaker enables a per-host circuit breaker when ErrorPct is set.
	// Hosts whose breaker is open fail fast without a network attempt.
	Breaker circuitbreaker.Config
}

// Fetcher downloads pages and serves repeats from the store.
type Fetcher struct {
	store      kv.Store
	client     *http.Client
	ttl        time.Duration
	userAgent  string
	maxBody    int64
	breakerCfg circuitbreaker.Config
	breakers   *circuitbreaker.Registry
}

// Result describes the outcome of a single FetchPage call.
type Result struct {
	URL       string
	Body      []byte
	FromCache bool
	// Status is the upstream HTTP status code, 0 when served from cache.
	Status int
	// Fetches is the per-URL demand counter after this call.
	Fetches  int64
	Duration time.Duration
}

// New builds a Fetcher on top of the given store.
func New(store kv.Store, opts Options) *Fetcher {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = maxResponseSize
	}
	if opts.Breaker.ErrorPct > 0 {
		if opts.Breaker.WindowDuration <= 0 {
			opts.Breaker.WindowDuration = 30 * time.Second
		}
		if opts.Breaker.OpenDuration <= 0 {
			opts.Breaker.OpenDuration = 10 * time.Second
		}
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	return &Fetcher{
		store:      store,
		client:     client,
		ttl:        opts.TTL,
		userAgent:  opts.UserAgent,
		maxBody:    opts.MaxBody,
		breakerCfg: opts.Breaker,
		breakers:   circuitbreaker.NewRegistry(),
	}
}

// TTL reports how long fetched bodies stay cached.
func (f *Fetcher) TTL() time.Duration { return f.ttl }

// FetchPage returns the body of url, from cache when a fresh copy exists.
// The demand counter for url is incremented before the cache lookup, so
// hits and misses count alike. On a miss the body is downloaded, cached
// for the configured TTL and returned. The body is cached whatever the
// upstream status code; only transport failures yield ErrFetch.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "webcache.fetch",
		observability.AttrURL.String(url))
	defer span.End()

	start := time.Now()

	fetches, err := f.store.Incr(ctx, countPrefix+url)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, fmt.Errorf("count fetch for %s: %w", url, err)
	}

	if body, err := f.store.Get(ctx, cachePrefix+url); err == nil {
		span.SetAttributes(observability.AttrCacheHit.Bool(true))
		observability.SetSpanOK(span)
		duration := time.Since(start)
		metrics.Global().RecordFetch("hit", duration.Milliseconds())
		res := &Result{
			URL:       url,
			Body:      body,
			FromCache: true,
			Fetches:   fetches,
			Duration:  duration,
		}
		f.logFetch(ctx, res, nil)
		return res, nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		observability.SetSpanError(span, err)
		return nil, fmt.Errorf("read cached page for %s: %w", url, err)
	}
	span.SetAttributes(observability.AttrCacheHit.Bool(false))

	host := hostOf(url)
	br := f.breakers.Get(host, f.breakerCfg)
	if br != nil && !br.Allow() {
		err := fmt.Errorf("%w: circuit open for %s", ErrFetch, host)
		logging.OpWithTrace(observability.GetTraceID(ctx), observability.GetSpanID(ctx)).
			Warn("circuit breaker rejected fetch", "host", host)
		observability.SetSpanError(span, err)
		duration := time.Since(start)
		metrics.Global().RecordFetch("rejected", duration.Milliseconds())
		res := &Result{URL: url, Fetches: fetches, Duration: duration}
		f.logFetch(ctx, res, err)
		return nil, err
	}

	body, status, err := f.download(ctx, url)
	duration := time.Since(start)
	if err != nil {
		if br != nil {
			br.RecordFailure()
		}
		observability.SetSpanError(span, err)
		metrics.Global().RecordFetch("error", duration.Milliseconds())
		res := &Result{URL: url, Fetches: fetches, Duration: duration}
		f.logFetch(ctx, res, err)
		return nil, err
	}
	if br != nil {
		br.RecordSuccess()
	}

	if err := f.store.SetEx(ctx, cachePrefix+url, body, f.ttl); err != nil {
		observability.SetSpanError(span, err)
		return nil, fmt.Errorf("cache fetched page for %s: %w", url, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", status))
	observability.SetSpanOK(span)
	metrics.Global().RecordFetch("miss", duration.Milliseconds())
	res := &Result{
		URL:      url,
		Body:     body,
		Status:   status,
		Fetches:  fetches,
		Duration: duration,
	}
	f.logFetch(ctx, res, nil)
	return res, nil
}

// BreakerStates reports the per-host circuit breaker states, keyed by
// host. Hosts that have never missed the cache are absent.
func (f *Fetcher) BreakerStates() map[string]string {
	return f.breakers.Snapshot()
}

// FetchCount reports how many times url has been asked for. Never-fetched
// URLs report zero.
func (f *Fetcher) FetchCount(ctx context.Context, url string) (int64, error) {
	raw, err := f.store.Get(ctx, countPrefix+url)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read fetch count for %s: %w", url, err)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fetch count for %s is not an integer: %w", url, err)
	}
	return n, nil
}

// hostOf extracts the host part of rawURL for breaker keying. Unparseable
// URLs key on the raw string so they still get a breaker.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) logFetch(ctx context.Context, res *Result, err error) {
	entry := &logging.FetchLog{
		URL:        res.URL,
		TraceID:    observability.GetTraceID(ctx),
		SpanID:     observability.GetSpanID(ctx),
		DurationMs: res.Duration.Milliseconds(),
		FromCache:  res.FromCache,
		Success:    err == nil,
		Size:       len(res.Body),
		Fetches:    res.Fetches,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	logging.Default().Log(entry)
}
