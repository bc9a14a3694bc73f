package index

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics tracks index build and match operations.
type Metrics struct {
	matchDuration       prometheus.Histogram
	predicatesEvaluated prometheus.Histogram
	matchedDocuments    prometheus.Histogram
	matchErrors         prometheus.Counter

	buildDuration    prometheus.Histogram
	indexedDocuments prometheus.Gauge
	indexedClauses   prometheus.Gauge
	indexedPredicates prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the index metrics instance (singleton).
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		registry := prometheus.NewRegistry()

		metrics = &Metrics{
			registry: registry,

			matchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "prp_match_duration_seconds",
				Help:    "Duration of index match operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
			}),
			predicatesEvaluated: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "prp_match_predicates_evaluated",
				Help:    "Number of predicates evaluated per match",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			}),
			matchedDocuments: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "prp_match_documents_returned",
				Help:    "Number of candidate documents returned per match",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			}),
			matchErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "prp_match_errors_total",
				Help: "Total number of matches that saw a predicate evaluation failure",
			}),

			buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "prp_index_build_duration_seconds",
				Help:    "Duration of index container builds in seconds",
				Buckets: prometheus.DefBuckets,
			}),
			indexedDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "prp_index_documents",
				Help: "Number of documents in the current index container",
			}),
			indexedClauses: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "prp_index_clauses",
				Help: "Number of distinct clauses in the current index container",
			}),
			indexedPredicates: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "prp_index_predicates",
				Help: "Number of distinct predicates in the current index container",
			}),
		}

		registry.MustRegister(
			metrics.matchDuration,
			metrics.predicatesEvaluated,
			metrics.matchedDocuments,
			metrics.matchErrors,
			metrics.buildDuration,
			metrics.indexedDocuments,
			metrics.indexedClauses,
			metrics.indexedPredicates,
		)
	})

	return metrics
}

// Registry returns the prometheus registry holding the index metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func observeMatch(d time.Duration, evaluated, documents int, hadError bool) {
	m := NewMetrics()
	m.matchDuration.Observe(d.Seconds())
	m.predicatesEvaluated.Observe(float64(evaluated))
	m.matchedDocuments.Observe(float64(documents))
	if hadError {
		m.matchErrors.Inc()
	}
}

func observeBuild(d time.Duration, documents, clauses, predicates int) {
	m := NewMetrics()
	m.buildDuration.Observe(d.Seconds())
	m.indexedDocuments.Set(float64(documents))
	m.indexedClauses.Set(float64(clauses))
	m.indexedPredicates.Set(float64(predicates))
}
