// Package grouping partitions pinned nodes into supernodes tagged with a
// functional role.
package grouping

import (
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-circuit/pkg/analysis"
	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
)

// Options configures the grouping engine.
type Options struct {
	MinGroups int
	MaxGroups int
	// Role bands: mean layer <= InputLayerMax is an input detector, <=
	// MiddleLayerMax a relational processor, anything above an output promoter.
	InputLayerMax  int
	MiddleLayerMax int
	// SimilarityThreshold is the Jaccard score that links two nodes in
	// semantic grouping.
	SimilarityThreshold float64
	// PropagationIterations bounds label propagation in hybrid grouping.
	PropagationIterations int
	Logger                logging.Logger
}

// DefaultOptions returns the standard grouping parameters.
func DefaultOptions() Options {
	return Options{
		MinGroups:             3,
		MaxGroups:             7,
		InputLayerMax:         5,
		MiddleLayerMax:        15,
		SimilarityThreshold:   0.2,
		PropagationIterations: 20,
		Logger:                logging.NewNopLogger(),
	}
}

// Engine groups node ids into supernodes.
type Engine struct {
	analyzer *analysis.Analyzer
	graph    *attribution.Graph
	opts     Options
}

// NewEngine creates a grouping engine. Non-positive counts and similarity
// take their defaults. Role bands are used as given.
func NewEngine(a *analysis.Analyzer, opts Options) *Engine {
	d := DefaultOptions()
	if opts.MinGroups <= 0 {
		opts.MinGroups = d.MinGroups
	}
	if opts.MaxGroups <= 0 {
		opts.MaxGroups = d.MaxGroups
	}
	if opts.MaxGroups < opts.MinGroups {
		opts.MaxGroups = opts.MinGroups
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = d.SimilarityThreshold
	}
	if opts.PropagationIterations <= 0 {
		opts.PropagationIterations = d.PropagationIterations
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Engine{analyzer: a, graph: a.Graph(), opts: opts}
}

type methodFunc func(*Engine, []string) [][]string

var methods = map[Method]methodFunc{
	MethodFunctional: (*Engine).groupFunctional,
	MethodSemantic:   (*Engine).groupSemantic,
	MethodLayer:      (*Engine).groupLayer,
	MethodHybrid:     (*Engine).groupHybrid,
}

// Group partitions ids into supernodes with the given method. Unknown and
// duplicate ids are dropped; every remaining id lands in exactly one
// supernode. The result holds between MinGroups and MaxGroups supernodes
// whenever the number of ids allows it.
func (e *Engine) Group(ids []string, method Method) ([]*Supernode, error) {
	fn, ok := methods[method]
	if !ok {
		return nil, &InvalidGroupingError{Value: string(method)}
	}

	members := e.known(ids)
	if len(members) == 0 {
		return nil, nil
	}

	groups := e.rebalance(fn(e, members))
	supernodes := e.build(groups)

	e.opts.Logger.Info("grouped nodes",
		logging.Grouping(string(method)),
		logging.NodeCount(len(members)),
		logging.Int("supernodes", len(supernodes)))
	return supernodes, nil
}

// known returns the loaded, deduplicated ids in sorted order.
func (e *Engine) known(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !e.graph.Has(id) {
			e.opts.Logger.Warn("dropping unknown node from grouping", logging.NodeID(id))
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// layer returns the layer used for grouping; the embedding layer counts as 0.
func (e *Engine) layer(id string) int {
	n, _ := e.graph.Node(id)
	if n.Layer < 0 {
		return 0
	}
	return n.Layer
}

func (e *Engine) meanLayer(group []string) float64 {
	if len(group) == 0 {
		return 0
	}
	total := 0
	for _, id := range group {
		total += e.layer(id)
	}
	return float64(total) / float64(len(group))
}

// roleFor maps a mean layer onto a functional role.
func (e *Engine) roleFor(meanLayer float64) Role {
	switch {
	case meanLayer <= float64(e.opts.InputLayerMax):
		return RoleInputDetector
	case meanLayer <= float64(e.opts.MiddleLayerMax):
		return RoleRelationalProcessor
	default:
		return RoleOutputPromoter
	}
}

// RoleOf returns the role of a single node by its layer.
func (e *Engine) RoleOf(id string) Role {
	return e.roleFor(float64(e.layer(id)))
}

// byLayer sorts ids by layer, then id.
func (e *Engine) byLayer(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		li, lj := e.layer(ids[i]), e.layer(ids[j])
		if li != lj {
			return li < lj
		}
		return ids[i] < ids[j]
	})
}

// build turns groups into supernodes ordered by minimum layer, then first
// member id.
func (e *Engine) build(groups [][]string) []*Supernode {
	importance := e.analyzer.ComputeNodeImportance()

	supernodes := make([]*Supernode, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		members := append([]string(nil), group...)
		sort.Strings(members)

		minLayer, maxLayer := e.layer(members[0]), e.layer(members[0])
		total := 0.0
		for _, id := range members {
			l := e.layer(id)
			if l < minLayer {
				minLayer = l
			}
			if l > maxLayer {
				maxLayer = l
			}
			total += importance[id]
		}

		role := e.roleFor(e.meanLayer(members))
		supernodes = append(supernodes, &Supernode{
			Label:          FallbackLabel(role, minLayer, maxLayer),
			NodeIDs:        members,
			LayerRange:     [2]int{minLayer, maxLayer},
			Role:           role,
			TotalInfluence: total / float64(len(members)),
		})
	}

	sort.SliceStable(supernodes, func(i, j int) bool {
		if supernodes[i].LayerRange[0] != supernodes[j].LayerRange[0] {
			return supernodes[i].LayerRange[0] < supernodes[j].LayerRange[0]
		}
		return supernodes[i].NodeIDs[0] < supernodes[j].NodeIDs[0]
	})
	for i, sn := range supernodes {
		sn.ID = fmt.Sprintf("sn_%d", i+1)
	}
	return supernodes
}

// rebalance merges groups down to MaxGroups and splits them up to MinGroups
// while any group still has more than one member.
func (e *Engine) rebalance(groups [][]string) [][]string {
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}

	for len(out) > e.opts.MaxGroups {
		out = e.mergeSmallest(out)
	}
	for len(out) < e.opts.MinGroups {
		next, ok := e.splitLargest(out)
		if !ok {
			break
		}
		out = next
	}
	return out
}

// mergeSmallest folds the smallest group into the group closest to it by
// mean layer, preferring the smaller partner on ties.
func (e *Engine) mergeSmallest(groups [][]string) [][]string {
	smallest := 0
	for i, g := range groups {
		if len(g) < len(groups[smallest]) {
			smallest = i
		}
	}

	target := -1
	bestGap := 0.0
	mean := e.meanLayer(groups[smallest])
	for i, g := range groups {
		if i == smallest {
			continue
		}
		gap := e.meanLayer(g) - mean
		if gap < 0 {
			gap = -gap
		}
		if target < 0 || gap < bestGap || (gap == bestGap && len(g) < len(groups[target])) {
			target = i
			bestGap = gap
		}
	}

	merged := append(append([]string(nil), groups[target]...), groups[smallest]...)
	out := make([][]string, 0, len(groups)-1)
	for i, g := range groups {
		switch i {
		case smallest:
		case target:
			out = append(out, merged)
		default:
			out = append(out, g)
		}
	}
	return out
}

// splitLargest cuts the largest group at its median layer.
func (e *Engine) splitLargest(groups [][]string) ([][]string, bool) {
	largest := 0
	for i, g := range groups {
		if len(g) > len(groups[largest]) {
			largest = i
		}
	}
	if len(groups) == 0 || len(groups[largest]) < 2 {
		return groups, false
	}

	members := append([]string(nil), groups[largest]...)
	e.byLayer(members)
	mid := len(members) / 2

	out := make([][]string, 0, len(groups)+1)
	out = append(out, groups[:largest]...)
	out = append(out, members[:mid], members[mid:])
	out = append(out, groups[largest+1:]...)
	return out, true
}
