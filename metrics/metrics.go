// Package metrics defines the Prometheus collectors exported by the advisory service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for QueriesTotal.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeBadInput = "bad_input"
)

// Metrics represents the collection of all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Query metrics
	QueriesTotal *prometheus.CounterVec

	// Index metrics
	IndexRecords    prometheus.Gauge
	IndexModules    prometheus.Gauge
	IndexWarnings   *prometheus.GaugeVec
	IndexGeneration prometheus.Gauge

	// Refresh metrics
	RefreshesTotal      *prometheus.CounterVec
	LastRefreshSuccess  prometheus.Gauge
	RefreshDurationSecs prometheus.Histogram
}

// NewMetrics creates all collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisory_queries_total",
			Help: "Total number of advisory queries by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.IndexRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "advisory_index_records",
			Help: "Number of advisories in the serving index",
		},
	)

	m.IndexModules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "advisory_index_modules",
			Help: "Number of distinct modules in the serving index",
		},
	)

	m.IndexWarnings = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "advisory_index_warnings",
			Help: "Data-quality warnings reported when the serving index was built",
		},
		[]string{"kind"},
	)

	m.IndexGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "advisory_index_generation",
			Help: "Generation number of the serving index",
		},
	)

	m.RefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisory_refreshes_total",
			Help: "Total number of index refresh attempts",
		},
		[]string{"source", "status"},
	)

	m.LastRefreshSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "advisory_last_refresh_success_timestamp_seconds",
			Help: "Unix time of the last successful index refresh",
		},
	)

	m.RefreshDurationSecs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "advisory_refresh_duration_seconds",
			Help:    "Duration of index refreshes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.QueriesTotal,
		m.IndexRecords,
		m.IndexModules,
		m.IndexWarnings,
		m.IndexGeneration,
		m.RefreshesTotal,
		m.LastRefreshSuccess,
		m.RefreshDurationSecs,
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveQuery counts one query. A nil receiver is a no-op so callers may run
// without metrics.
func (m *Metrics) ObserveQuery(operation, outcome string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(operation, outcome).Inc()
}

// IndexStats is the subset of a built index the gauges report.
type IndexStats struct {
	Generation uint64
	Records    int
	Modules    int
	Warnings   map[string]int
}

// SetIndex updates the index gauges after a new generation is published.
func (m *Metrics) SetIndex(stats IndexStats) {
	if m == nil {
		return
	}
	m.IndexGeneration.Set(float64(stats.Generation))
	m.IndexRecords.Set(float64(stats.Records))
	m.IndexModules.Set(float64(stats.Modules))
	m.IndexWarnings.Reset()
	for kind, n := range stats.Warnings {
		m.IndexWarnings.WithLabelValues(kind).Set(float64(n))
	}
}

// ObserveRefresh records the result of one refresh attempt.
func (m *Metrics) ObserveRefresh(source string, seconds float64, err error, finishedUnix float64) {
	if m == nil {
		return
	}
	m.RefreshDurationSecs.Observe(seconds)
	if err != nil {
		m.RefreshesTotal.WithLabelValues(source, "failure").Inc()
		return
	}
	m.RefreshesTotal.WithLabelValues(source, "success").Inc()
	m.LastRefreshSuccess.Set(finishedUnix)
}
