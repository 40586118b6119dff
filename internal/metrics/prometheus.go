package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for pulsar metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	storeOpsTotal *prometheus.CounterVec
	retrieveTotal *prometheus.CounterVec
	fetchTotal    *prometheus.CounterVec

	// Histograms
	fetchDuration *prometheus.HistogramVec

	// Gauges
	uptime prometheus.GaugeFunc
}

// Default histogram buckets for fetch duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	// Register default Go and process collectors
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		storeOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_ops_total",
				Help:      "Total instrumented store calls by identity and status",
			},
			[]string{"identity", "status"},
		),

		retrieveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieve_total",
				Help:      "Total retrievals by kind and result",
			},
			[]string{"kind", "result"},
		),

		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Total page fetches by result",
			},
			[]string{"result"}, // hit, miss, error, rejected
		),

		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_milliseconds",
				Help:      "Duration of page fetches in milliseconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the pulsar daemon started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.storeOpsTotal,
		pm.retrieveTotal,
		pm.fetchTotal,
		pm.fetchDuration,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordPrometheusStoreOp records an instrumented store call in Prometheus
func RecordPrometheusStoreOp(identity string, success bool) {
	if promMetrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.storeOpsTotal.WithLabelValues(identity, status).Inc()
}

// RecordPrometheusRetrieve records a retrieval in Prometheus
func RecordPrometheusRetrieve(kind string, found, success bool) {
	if promMetrics == nil {
		return
	}

	result := "miss"
	switch {
	case !success:
		result = "failed"
	case found:
		result = "hit"
	}
	promMetrics.retrieveTotal.WithLabelValues(kind, result).Inc()
}

// RecordPrometheusFetch records a page fetch in Prometheus
func RecordPrometheusFetch(result string, durationMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.fetchTotal.WithLabelValues(result).Inc()
	promMetrics.fetchDuration.WithLabelValues(result).Observe(float64(durationMs))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
