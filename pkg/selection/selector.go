// Package selection chooses the bounded set of node ids pinned in a reduced
// circuit.
package selection

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dd0wney/cluso-circuit/pkg/analysis"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
)

// Strategy names a node selection policy.
type Strategy string

const (
	StrategyPathway    Strategy = "pathway"
	StrategyImportance Strategy = "importance"
	StrategyBalanced   Strategy = "balanced"
)

// Strategies lists every supported strategy in a stable order.
var Strategies = []Strategy{StrategyPathway, StrategyImportance, StrategyBalanced}

// ErrInvalidStrategy is returned for strategy names outside Strategies.
var ErrInvalidStrategy = errors.New("invalid selection strategy")

// InvalidStrategyError names the rejected strategy.
type InvalidStrategyError struct {
	Value string
}

func (e *InvalidStrategyError) Error() string {
	names := make([]string, len(Strategies))
	for i, s := range Strategies {
		names[i] = string(s)
	}
	return fmt.Sprintf("invalid selection strategy %q (want one of %s)", e.Value, strings.Join(names, ", "))
}

func (e *InvalidStrategyError) Is(target error) bool {
	return target == ErrInvalidStrategy
}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := strategies[st]; !ok {
		return "", &InvalidStrategyError{Value: s}
	}
	return st, nil
}

// Options bounds a selection.
type Options struct {
	MaxNodes int
	// SampleSize is how many input and output features seed pathway tracing.
	SampleSize int
	// Layer bucket shares used by the balanced strategy.
	InputShare  float64
	MiddleShare float64
	OutputShare float64
	// InputLayerMax and MiddleLayerMax bound the balanced buckets.
	InputLayerMax  int
	MiddleLayerMax int
	Logger         logging.Logger
}

// DefaultOptions returns the standard selection bounds.
func DefaultOptions() Options {
	return Options{
		MaxNodes:       30,
		SampleSize:     10,
		InputShare:     0.30,
		MiddleShare:    0.40,
		OutputShare:    0.30,
		InputLayerMax:  5,
		MiddleLayerMax: 15,
		Logger:         logging.NewNopLogger(),
	}
}

// Selector picks pinned node ids from an analyzed graph.
type Selector struct {
	analyzer *analysis.Analyzer
	opts     Options
	traced   int
}

// NewSelector creates a selector. Non-positive MaxNodes and SampleSize take
// their defaults, as do shares that are all zero. Layer bands are used as
// given.
func NewSelector(a *analysis.Analyzer, opts Options) *Selector {
	d := DefaultOptions()
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = d.MaxNodes
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = d.SampleSize
	}
	if opts.InputShare == 0 && opts.MiddleShare == 0 && opts.OutputShare == 0 {
		opts.InputShare, opts.MiddleShare, opts.OutputShare = d.InputShare, d.MiddleShare, d.OutputShare
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Selector{analyzer: a, opts: opts}
}

// Options returns the effective options.
func (s *Selector) Options() Options {
	return s.opts
}

// TracedPaths returns how many pathways the last pathway selection traced.
func (s *Selector) TracedPaths() int {
	return s.traced
}

type strategyFunc func(*Selector) []string

var strategies = map[Strategy]strategyFunc{
	StrategyPathway:    (*Selector).selectPathway,
	StrategyImportance: (*Selector).selectImportance,
	StrategyBalanced:   (*Selector).selectBalanced,
}

// Select returns at most MaxNodes node ids chosen by the given strategy.
func (s *Selector) Select(strategy Strategy) ([]string, error) {
	fn, ok := strategies[strategy]
	if !ok {
		return nil, &InvalidStrategyError{Value: string(strategy)}
	}

	ids := fn(s)
	s.opts.Logger.Info("selected nodes",
		logging.Strategy(string(strategy)),
		logging.NodeCount(len(ids)),
		logging.Int("max_nodes", s.opts.MaxNodes))
	return ids, nil
}

// selectPathway pins the nodes of the strongest input to output paths,
// bottlenecks before ordinary members.
func (s *Selector) selectPathway() []string {
	a := s.analyzer
	inputs := firstN(a.InputFeatures(), s.opts.SampleSize)
	outputs := firstN(a.OutputFeatures(), s.opts.SampleSize)
	paths := a.TracePathways(inputs, outputs)
	s.traced = len(paths)

	chosen := make(map[string]bool)
	for _, p := range paths {
		if len(chosen) >= s.opts.MaxNodes {
			break
		}
		for _, id := range p.BottleneckNodes {
			chosen[id] = true
		}
		for _, id := range p.Nodes {
			chosen[id] = true
		}
	}

	ids := make([]string, 0, len(chosen))
	for id := range chosen {
		ids = append(ids, id)
	}
	s.rank(ids)
	return firstN(ids, s.opts.MaxNodes)
}

// selectImportance pins the highest scoring nodes.
func (s *Selector) selectImportance() []string {
	ids := append([]string(nil), s.analyzer.Graph().NodeIDs()...)
	s.rank(ids)
	return firstN(ids, s.opts.MaxNodes)
}

// selectBalanced takes a fixed share of each layer band. The floored shares
// may add up to less than MaxNodes; the remainder is left unfilled.
func (s *Selector) selectBalanced() []string {
	var input, middle, output []string
	g := s.analyzer.Graph()
	for _, id := range g.NodeIDs() {
		n, _ := g.Node(id)
		switch {
		case n.Layer <= s.opts.InputLayerMax:
			input = append(input, id)
		case n.Layer <= s.opts.MiddleLayerMax:
			middle = append(middle, id)
		default:
			output = append(output, id)
		}
	}

	var ids []string
	for _, band := range []struct {
		ids   []string
		share float64
	}{
		{input, s.opts.InputShare},
		{middle, s.opts.MiddleShare},
		{output, s.opts.OutputShare},
	} {
		s.rank(band.ids)
		ids = append(ids, firstN(band.ids, quota(s.opts.MaxNodes, band.share))...)
	}
	return ids
}

// quota floors maxNodes*share. The small epsilon keeps 30*0.3 at 9 despite
// binary rounding.
func quota(maxNodes int, share float64) int {
	return int(math.Floor(float64(maxNodes)*share + 1e-9))
}

// rank sorts ids by importance descending, ties by id ascending.
func (s *Selector) rank(ids []string) {
	importance := s.analyzer.ComputeNodeImportance()
	sort.Slice(ids, func(i, j int) bool {
		si, sj := importance[ids[i]], importance[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
}

func firstN(ids []string, n int) []string {
	if len(ids) > n {
		return ids[:n]
	}
	return ids
}
