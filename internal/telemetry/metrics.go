// Package telemetry exposes Prometheus metrics for the walk-forward
// trainer and the artifact registry. Everything here is advisory
// instrumentation; it never affects control flow.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the training pipeline
type Metrics struct {
	// WindowsProcessed counts finished windows by terminal status
	WindowsProcessed *prometheus.CounterVec

	// WindowDuration observes per-window wall time (fit + predict + put)
	WindowDuration prometheus.Histogram

	// RegistryPuts counts artifact writes by result
	RegistryPuts *prometheus.CounterVec

	// Cache performance
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// New creates the collector set
func New() *Metrics {
	return &Metrics{
		WindowsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walkforward_windows_processed_total",
				Help: "Total training windows processed by terminal status",
			},
			[]string{"status"},
		),

		WindowDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "walkforward_window_duration_seconds",
				Help:    "Wall time per training window in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 300.0},
			},
		),

		RegistryPuts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walkforward_registry_puts_total",
				Help: "Total artifact registry writes by result",
			},
			[]string{"result"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "walkforward_registry_cache_hits_total",
				Help: "Total registry metadata cache hits",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "walkforward_registry_cache_misses_total",
				Help: "Total registry metadata cache misses",
			},
		),
	}
}

// Register registers all collectors with the given registerer
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.WindowsProcessed,
		m.WindowDuration,
		m.RegistryPuts,
		m.CacheHits,
		m.CacheMisses,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordWindow records a finished window
func (m *Metrics) RecordWindow(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WindowsProcessed.WithLabelValues(status).Inc()
	m.WindowDuration.Observe(duration.Seconds())
}

// RecordPut records a registry write result (created, deduped, failed)
func (m *Metrics) RecordPut(result string) {
	if m == nil {
		return
	}
	m.RegistryPuts.WithLabelValues(result).Inc()
}

// CacheHit implements registry.CacheStats
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// CacheMiss implements registry.CacheStats
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}
