package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPipelineMetrics() {
	r.RunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_runs_total",
			Help: "Total number of circuit reduction runs",
		},
		[]string{"command", "status"},
	)

	r.StageDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "circuit_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"stage"},
	)

	r.SelectedNodes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_selected_nodes",
			Help: "Number of nodes pinned by the last selection",
		},
		[]string{"strategy"},
	)

	r.Supernodes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_supernodes",
			Help: "Number of supernodes produced by the last grouping",
		},
		[]string{"grouping"},
	)

	r.RefineAttempts = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "circuit_refine_attempts_total",
			Help: "Selection reruns triggered by failed validation",
		},
	)

	r.LastRunTimestamp = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)
}

func (r *Registry) initGraphMetrics() {
	r.GraphNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_graph_nodes",
			Help: "Number of nodes in the loaded attribution graph",
		},
	)

	r.GraphEdges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_graph_edges",
			Help: "Number of edges in the loaded attribution graph",
		},
	)

	r.GraphDanglingEdges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_graph_dangling_edges",
			Help: "Edges referencing a node outside the loaded set",
		},
	)

	r.PathsTraced = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "circuit_paths_traced",
			Help:    "Number of pathways traced per selection",
			Buckets: []float64{0, 10, 50, 100, 300, 1000},
		},
	)
}

func (r *Registry) initQualityMetrics() {
	r.ReplacementScore = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_replacement_score",
			Help: "Replacement score of the last validated subgraph",
		},
	)

	r.CompletenessScore = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_completeness_score",
			Help: "Completeness score of the last validated subgraph",
		},
	)

	r.ValidationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_validations_total",
			Help: "Subgraph validations by outcome",
		},
		[]string{"result"},
	)
}
