package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecordRun records a finished command run
func (r *Registry) RecordRun(command string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.RunsTotal.WithLabelValues(command, status).Inc()
	r.LastRunTimestamp.SetToCurrentTime()
}

// RecordStage records the duration of one pipeline stage
func (r *Registry) RecordStage(stage string, duration time.Duration) {
	r.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordGraph records the size of the loaded graph
func (r *Registry) RecordGraph(nodes, edges, dangling int) {
	r.GraphNodes.Set(float64(nodes))
	r.GraphEdges.Set(float64(edges))
	r.GraphDanglingEdges.Set(float64(dangling))
}

// RecordSelection records the outcome of node selection
func (r *Registry) RecordSelection(strategy string, selected int) {
	r.SelectedNodes.WithLabelValues(strategy).Set(float64(selected))
}

// RecordPaths records how many pathways a selection traced
func (r *Registry) RecordPaths(count int) {
	r.PathsTraced.Observe(float64(count))
}

// RecordGrouping records the outcome of supernode grouping
func (r *Registry) RecordGrouping(grouping string, supernodes int) {
	r.Supernodes.WithLabelValues(grouping).Set(float64(supernodes))
}

// RecordValidation records subgraph quality scores
func (r *Registry) RecordValidation(passed bool, replacement, completeness float64) {
	r.ReplacementScore.Set(replacement)
	r.CompletenessScore.Set(completeness)
	if passed {
		r.ValidationsTotal.WithLabelValues("passed").Inc()
	} else {
		r.ValidationsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordRefine counts one selection rerun
func (r *Registry) RecordRefine() {
	r.RefineAttempts.Inc()
}

// RecordSourceRequest records a call to the graph source
func (r *Registry) RecordSourceRequest(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.SourceRequestsTotal.WithLabelValues(operation, status).Inc()
	r.SourceRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDownload records bytes fetched over a URL scheme (https, s3)
func (r *Registry) RecordDownload(scheme string, bytes int) {
	r.SourceBytesTotal.WithLabelValues(scheme).Add(float64(bytes))
}

// RecordLabel records where a supernode label came from
func (r *Registry) RecordLabel(fallback bool) {
	if fallback {
		r.LabelsTotal.WithLabelValues("fallback").Inc()
	} else {
		r.LabelsTotal.WithLabelValues("generated").Inc()
	}
}

// UpdateSystemMetrics samples goroutine and heap usage
func (r *Registry) UpdateSystemMetrics() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
}

// WriteTextfile writes every metric in the text exposition format, for the
// node_exporter textfile collector
func (r *Registry) WriteTextfile(path string) error {
	r.UpdateSystemMetrics()
	return prometheus.WriteToTextfile(path, r.registry)
}
