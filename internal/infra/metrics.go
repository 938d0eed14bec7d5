package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry
// so tests and embedded uses never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	SourceQueryDuration *prometheus.HistogramVec
	SourceFailures      *prometheus.CounterVec
	SourceRows          *prometheus.CounterVec
	ProfileBuilds       *prometheus.CounterVec
	ProfileDuration     prometheus.Histogram
	CacheLookups        *prometheus.CounterVec
	Discrepancies       prometheus.Counter
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SourceQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gamecock",
			Name:      "source_query_duration_seconds",
			Help:      "Time spent streaming one regulatory source.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamecock",
			Name:      "source_failures_total",
			Help:      "Sources skipped because they were unavailable or timed out.",
		}, []string{"source"}),
		SourceRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamecock",
			Name:      "source_rows_total",
			Help:      "Rows read per source, by outcome.",
		}, []string{"source", "outcome"}),
		ProfileBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamecock",
			Name:      "profile_builds_total",
			Help:      "Profile builds by result.",
		}, []string{"result"}),
		ProfileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gamecock",
			Name:      "profile_build_duration_seconds",
			Help:      "End-to-end single-party profile build time.",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamecock",
			Name:      "cache_lookups_total",
			Help:      "Profile cache lookups by result.",
		}, []string{"result"}),
		Discrepancies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamecock",
			Name:      "disclosure_discrepancies_total",
			Help:      "Disclosure discrepancies flagged by consolidated builds.",
		}),
	}
	m.registry.MustRegister(
		m.SourceQueryDuration, m.SourceFailures, m.SourceRows,
		m.ProfileBuilds, m.ProfileDuration, m.CacheLookups, m.Discrepancies,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSource records one source's streaming time and outcome. A nil
// receiver is a no-op so components can run without metrics.
func (m *Metrics) ObserveSource(source string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.SourceQueryDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	if failed {
		m.SourceFailures.WithLabelValues(source).Inc()
	}
}

// CountRows adds to the per-source row counter.
func (m *Metrics) CountRows(source, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SourceRows.WithLabelValues(source, outcome).Add(float64(n))
}

// ObserveProfile records one profile build.
func (m *Metrics) ObserveProfile(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProfileBuilds.WithLabelValues(result).Inc()
	m.ProfileDuration.Observe(elapsed.Seconds())
}

// CacheResult counts a cache hit or miss.
func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// CountDiscrepancies adds flagged discrepancies.
func (m *Metrics) CountDiscrepancies(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Discrepancies.Add(float64(n))
}
