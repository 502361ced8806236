// Package metrics exposes the engine's Prometheus instrumentation. Metrics
// register at import time; mount promhttp on /metrics to publish them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cartograph"

// Discard reasons for relationship candidates.
const (
	ReasonLowConfidence      = "low_confidence"
	ReasonUnresolvedEndpoint = "unresolved_endpoint"
)

var (
	documentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "documents_processed_total",
			Help:      "Documents that reached a terminal extraction status.",
		},
		[]string{"status"},
	)

	chunksFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "chunks_failed_total",
			Help:      "Chunks whose candidate extraction failed after retries.",
		},
	)

	candidatesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "candidates_discarded_total",
			Help:      "Relationship candidates rejected before commit.",
		},
		[]string{"reason"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome.",
		},
		[]string{"result"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end query latency including signal fan-out and fusion.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"mode"},
	)
)

func DocumentProcessed(status string) {
	documentsProcessed.WithLabelValues(status).Inc()
}

func ChunksFailed(n int) {
	if n > 0 {
		chunksFailed.Add(float64(n))
	}
}

func CandidatesDiscarded(reason string, n int) {
	if n > 0 {
		candidatesDiscarded.WithLabelValues(reason).Add(float64(n))
	}
}

func CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

func ObserveQueryDuration(mode string, seconds float64) {
	queryDuration.WithLabelValues(mode).Observe(seconds)
}
