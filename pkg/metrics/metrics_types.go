package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for a circuit run
type Registry struct {
	// Pipeline Metrics
	RunsTotal        *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	SelectedNodes    *prometheus.GaugeVec
	Supernodes       *prometheus.GaugeVec
	RefineAttempts   prometheus.Counter
	LastRunTimestamp prometheus.Gauge

	// Graph Metrics
	GraphNodes         prometheus.Gauge
	GraphEdges         prometheus.Gauge
	GraphDanglingEdges prometheus.Gauge
	PathsTraced        prometheus.Histogram

	// Quality Metrics
	ReplacementScore  prometheus.Gauge
	CompletenessScore prometheus.Gauge
	ValidationsTotal  *prometheus.CounterVec

	// Collaborator Metrics
	SourceRequestsTotal   *prometheus.CounterVec
	SourceRequestDuration *prometheus.HistogramVec
	SourceBytesTotal      *prometheus.CounterVec
	LabelsTotal           *prometheus.CounterVec

	// System Metrics
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initPipelineMetrics()
	r.initGraphMetrics()
	r.initQualityMetrics()
	r.initSourceMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
