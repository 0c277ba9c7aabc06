package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSourceMetrics() {
	r.SourceRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_source_requests_total",
			Help: "Requests made to the graph source by operation and status",
		},
		[]string{"operation", "status"},
	)

	r.SourceRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "circuit_source_request_duration_seconds",
			Help:    "Graph source request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	r.SourceBytesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_source_bytes_total",
			Help: "Bytes downloaded from the graph source",
		},
		[]string{"scheme"},
	)

	r.LabelsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_labels_total",
			Help: "Supernode labels by origin (generated or fallback)",
		},
		[]string{"origin"},
	)
}

func (r *Registry) initSystemMetrics() {
	r.GoRoutines = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_goroutines",
			Help: "Number of goroutines",
		},
	)

	r.MemoryAllocBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)
}
