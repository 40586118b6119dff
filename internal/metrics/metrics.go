// Package metrics collects pulsar runtime metrics: store facade operation
// counts and web fetch outcomes. A lightweight in-process snapshot backs
// the /stats endpoint; Prometheus collectors back /metrics/prometheus.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and exposes pulsar runtime metrics
type Metrics struct {
	// Facade operation metrics
	StoreOps      atomic.Int64
	StoreErrors   atomic.Int64
	RetrieveOps   atomic.Int64
	RetrieveHits  atomic.Int64
	RetrieveMiss  atomic.Int64
	RetrieveFails atomic.Int64

	// Fetch metrics
	FetchHits   atomic.Int64
	FetchMisses atomic.Int64
	FetchErrors atomic.Int64

	// Fetch latency metrics (in milliseconds)
	TotalFetchMs atomic.Int64
	MinFetchMs   atomic.Int64
	MaxFetchMs   atomic.Int64

	// Per-operation counters keyed by instrumented identity
	opCounts sync.Map // identity -> *atomic.Int64

	startTime time.Time
}

// Global metrics instance
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinFetchMs.Store(int64(^uint64(0) >> 1)) // Max int64
}

// Global returns the global metrics instance
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized
func StartTime() time.Time {
	return global.startTime
}

// RecordStoreOp records an instrumented store call
func (m *Metrics) RecordStoreOp(identity string, success bool) {
	m.StoreOps.Add(1)
	if !success {
		m.StoreErrors.Add(1)
	}
	m.bumpOp(identity)
	RecordPrometheusStoreOp(identity, success)
}

// RecordRetrieve records a retrieval and whether the key was found
func (m *Metrics) RecordRetrieve(kind string, found, success bool) {
	m.RetrieveOps.Add(1)
	switch {
	case !success:
		m.RetrieveFails.Add(1)
	case found:
		m.RetrieveHits.Add(1)
	default:
		m.RetrieveMiss.Add(1)
	}
	RecordPrometheusRetrieve(kind, found, success)
}

// RecordFetch records a page fetch outcome: "hit", "miss", "error", or
// "rejected". Anything but a hit or miss counts as a failed fetch.
func (m *Metrics) RecordFetch(result string, durationMs int64) {
	switch result {
	case "hit":
		m.FetchHits.Add(1)
	case "miss":
		m.FetchMisses.Add(1)
	default:
		m.FetchErrors.Add(1)
	}

	m.TotalFetchMs.Add(durationMs)
	updateMin(&m.MinFetchMs, durationMs)
	updateMax(&m.MaxFetchMs, durationMs)

	RecordPrometheusFetch(result, durationMs)
}

func (m *Metrics) bumpOp(identity string) {
	if v, ok := m.opCounts.Load(identity); ok {
		v.(*atomic.Int64).Add(1)
		return
	}
	n := new(atomic.Int64)
	actual, _ := m.opCounts.LoadOrStore(identity, n)
	actual.(*atomic.Int64).Add(1)
}

// OpStats returns per-identity call counts
func (m *Metrics) OpStats() map[string]int64 {
	result := make(map[string]int64)
	m.opCounts.Range(func(key, value interface{}) bool {
		result[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return result
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	fetches := m.FetchHits.Load() + m.FetchMisses.Load() + m.FetchErrors.Load()
	avgFetch := float64(0)
	if fetches > 0 {
		avgFetch = float64(m.TotalFetchMs.Load()) / float64(fetches)
	}

	minFetch := m.MinFetchMs.Load()
	if minFetch == int64(^uint64(0)>>1) {
		minFetch = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"store": map[string]interface{}{
			"ops":    m.StoreOps.Load(),
			"errors": m.StoreErrors.Load(),
		},
		"retrieve": map[string]interface{}{
			"ops":      m.RetrieveOps.Load(),
			"hits":     m.RetrieveHits.Load(),
			"misses":   m.RetrieveMiss.Load(),
			"failures": m.RetrieveFails.Load(),
		},
		"fetch": map[string]interface{}{
			"hits":    m.FetchHits.Load(),
			"misses":  m.FetchMisses.Load(),
			"errors":  m.FetchErrors.Load(),
			"hit_pct": hitPercentage(m.FetchHits.Load(), fetches),
		},
		"fetch_latency_ms": map[string]interface{}{
			"avg": avgFetch,
			"min": minFetch,
			"max": m.MaxFetchMs.Load(),
		},
		"operations": m.OpStats(),
	}
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func hitPercentage(hits, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}
