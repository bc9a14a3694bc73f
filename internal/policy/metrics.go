package policy

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics tracks directory synchronization activity.
type Metrics struct {
	reloads        prometheus.Counter
	reloadErrors   prometheus.Counter
	reloadDuration prometheus.Histogram
	loadedDocs     prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the policy metrics instance (singleton).
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		registry := prometheus.NewRegistry()

		metrics = &Metrics{
			registry: registry,

			reloads: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "prp_policy_reloads_total",
				Help: "Total number of policy directory synchronizations",
			}),
			reloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "prp_policy_reload_errors_total",
				Help: "Total number of failed policy directory synchronizations",
			}),
			reloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "prp_policy_reload_duration_seconds",
				Help:    "Duration of policy directory synchronizations in seconds",
				Buckets: prometheus.DefBuckets,
			}),
			loadedDocs: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "prp_policy_loaded_documents",
				Help: "Number of documents loaded by the last successful synchronization",
			}),
		}

		registry.MustRegister(
			metrics.reloads,
			metrics.reloadErrors,
			metrics.reloadDuration,
			metrics.loadedDocs,
		)
	})

	return metrics
}

// Registry returns the prometheus registry holding the policy metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func observeReload(d time.Duration, documents int, err error) {
	m := NewMetrics()
	m.reloads.Inc()
	m.reloadDuration.Observe(d.Seconds())
	if err != nil {
		m.reloadErrors.Inc()
		return
	}
	m.loadedDocs.Set(float64(documents))
}
