package feed

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects feed server metrics.
//
// Metrics exposed (all namespaced with "gfeed_"):
//
//  1. requests_total (counter): Requests handled.
//     Labels: kind, code (HTTP status).
//  2. request_duration_ms (histogram): Handling time in milliseconds.
//     Labels: kind.
//  3. bytes_served_total (counter): Response body bytes written.
//     Labels: kind.
//  4. downloads_total (counter): Completed geometry file downloads.
//  5. catalog_entries (gauge): Geometry files found by the latest scan.
//  6. catalog_scans_total (counter): Directory scans.
//     Labels: result (ok, error).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := feed.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe.
type PrometheusMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytesServed     *prometheus.CounterVec
	downloads       prometheus.Counter
	catalogEntries  prometheus.Gauge
	catalogScans    *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all feed metrics with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gfeed",
		Name:      "requests_total",
		Help:      "Requests handled, by representation kind and HTTP status",
	}, []string{"kind", "code"})

	pm.requestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gfeed",
		Name:      "request_duration_ms",
		Help:      "Request handling duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"kind"})

	pm.bytesServed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gfeed",
		Name:      "bytes_served_total",
		Help:      "Response body bytes written, by representation kind",
	}, []string{"kind"})

	pm.downloads = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "gfeed",
		Name:      "downloads_total",
		Help:      "Completed geometry file downloads",
	})

	pm.catalogEntries = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "gfeed",
		Name:      "catalog_entries",
		Help:      "Geometry files found by the latest directory scan",
	})

	pm.catalogScans = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gfeed",
		Name:      "catalog_scans_total",
		Help:      "Directory scans of the data directory, by result",
	}, []string{"result"})

	return pm
}

func (pm *PrometheusMetrics) isEnabled() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordRequest records one handled request. Unresolved kinds are recorded
// as "unknown".
func (pm *PrometheusMetrics) RecordRequest(kind Kind, status int, latency time.Duration, bytes int64) {
	if !pm.isEnabled() {
		return
	}

	label := string(kind)
	if label == "" {
		label = "unknown"
	}
	pm.requests.WithLabelValues(label, strconv.Itoa(status)).Inc()
	pm.requestDuration.WithLabelValues(label).Observe(float64(latency.Milliseconds()))
	if bytes > 0 {
		pm.bytesServed.WithLabelValues(label).Add(float64(bytes))
	}
}

// IncDownloads counts one completed geometry file download.
func (pm *PrometheusMetrics) IncDownloads() {
	if !pm.isEnabled() {
		return
	}
	pm.downloads.Inc()
}

// RecordScan records a directory scan and, on success, the entry count.
func (pm *PrometheusMetrics) RecordScan(entries int, err error) {
	if !pm.isEnabled() {
		return
	}
	if err != nil {
		pm.catalogScans.WithLabelValues("error").Inc()
		return
	}
	pm.catalogScans.WithLabelValues("ok").Inc()
	pm.catalogEntries.Set(float64(entries))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
