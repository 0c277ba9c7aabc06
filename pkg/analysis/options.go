package analysis

import (
	"runtime"

	"github.com/dd0wney/cluso-circuit/pkg/logging"
)

// Options configures an Analyzer. Weights and thresholds are used as given,
// so start from DefaultOptions. Non-positive Epsilon, PathsPerPair, Workers
// and ChunkSize fall back to their defaults.
type Options struct {
	// CentralityWeight scales betweenness before it is added to direct logit
	// influence. Importance is normalized afterwards, so only the ratio matters.
	CentralityWeight float64

	// BottleneckThreshold is the centrality above which a path member is
	// reported as a bottleneck.
	BottleneckThreshold float64

	// Epsilon keeps edge costs finite for zero-weight edges.
	Epsilon float64

	// InputLayerThreshold and OutputLayerThreshold bound the default input
	// and output feature filters.
	InputLayerThreshold  int
	OutputLayerThreshold int

	// PathsPerPair is how many loopless paths are kept per source/target pair.
	PathsPerPair int

	// Workers bounds the goroutines used for centrality and pathway tracing.
	Workers int

	// ChunkSize is the number of centrality sources handled per task.
	ChunkSize int

	Logger logging.Logger
}

// DefaultOptions returns the standard analysis parameters.
func DefaultOptions() Options {
	return Options{
		CentralityWeight:     0.5,
		BottleneckThreshold:  0.5,
		Epsilon:              1e-10,
		InputLayerThreshold:  5,
		OutputLayerThreshold: 16,
		PathsPerPair:         3,
		Workers:              runtime.NumCPU(),
		ChunkSize:            32,
		Logger:               logging.NewNopLogger(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Epsilon <= 0 {
		o.Epsilon = d.Epsilon
	}
	if o.PathsPerPair <= 0 {
		o.PathsPerPair = d.PathsPerPair
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}
