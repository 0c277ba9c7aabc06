package analysis

import (
	"math"
	"sort"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
)

// DegreeStats counts the edges touching one node. Weighted degrees sum the
// absolute edge weights. Every raw edge counts on each endpoint that is
// loaded, so parallel and dangling edges are included.
type DegreeStats struct {
	NodeID      string
	In          int
	Out         int
	WeightedIn  float64
	WeightedOut float64
	Node        *attribution.Node
}

// Total returns In + Out.
func (d DegreeStats) Total() int {
	return d.In + d.Out
}

// Degrees returns the degree of every loaded node with at least one edge,
// sorted by id.
func (a *Analyzer) Degrees() []DegreeStats {
	a.degreesOnce.Do(func() {
		index := make(map[string]int)
		var degrees []DegreeStats
		stat := func(id string) *DegreeStats {
			if i, ok := index[id]; ok {
				return &degrees[i]
			}
			n, ok := a.graph.Node(id)
			if !ok {
				return nil
			}
			index[id] = len(degrees)
			degrees = append(degrees, DegreeStats{NodeID: id, Node: n})
			return &degrees[len(degrees)-1]
		}

		for _, e := range a.graph.Edges() {
			w := math.Abs(e.Weight)
			if d := stat(e.Source); d != nil {
				d.Out++
				d.WeightedOut += w
			}
			if d := stat(e.Target); d != nil {
				d.In++
				d.WeightedIn += w
			}
		}

		sort.Slice(degrees, func(i, j int) bool { return degrees[i].NodeID < degrees[j].NodeID })
		for i, d := range degrees {
			index[d.NodeID] = i
		}
		a.degrees, a.degreeIndex = degrees, index
	})
	return a.degrees
}

// Degree returns the degree of one node. A loaded node without edges has a
// zero count.
func (a *Analyzer) Degree(id string) (DegreeStats, bool) {
	n, ok := a.graph.Node(id)
	if !ok {
		return DegreeStats{}, false
	}
	a.Degrees()
	if i, ok := a.degreeIndex[id]; ok {
		return a.degrees[i], true
	}
	return DegreeStats{NodeID: id, Node: n}, true
}

// HubRanking lists the best connected nodes by three measures. Each list is
// ordered by its measure descending, ties by id.
type HubRanking struct {
	ByDegree      []DegreeStats
	ByWeightedIn  []DegreeStats
	ByWeightedOut []DegreeStats
}

// Hubs returns the top n nodes by total degree, weighted in-degree and
// weighted out-degree.
func (a *Analyzer) Hubs(n int) HubRanking {
	if n <= 0 {
		return HubRanking{}
	}
	degrees := a.Degrees()
	return HubRanking{
		ByDegree:      topDegrees(degrees, n, func(d DegreeStats) float64 { return float64(d.Total()) }),
		ByWeightedIn:  topDegrees(degrees, n, func(d DegreeStats) float64 { return d.WeightedIn }),
		ByWeightedOut: topDegrees(degrees, n, func(d DegreeStats) float64 { return d.WeightedOut }),
	}
}

// topDegrees relies on degrees being sorted by id: the stable sort keeps
// that order among equal measures.
func topDegrees(degrees []DegreeStats, n int, measure func(DegreeStats) float64) []DegreeStats {
	ranked := append([]DegreeStats(nil), degrees...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return measure(ranked[i]) > measure(ranked[j])
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// SampleHubs returns up to n nodes on layer at token position ctx, ordered by
// in-degree descending, ties by id. Nodes without an influence score are
// skipped.
func (a *Analyzer) SampleHubs(layer, ctx, n int) []DegreeStats {
	if n <= 0 {
		return nil
	}
	var sample []DegreeStats
	for _, id := range a.graph.NodeIDs() {
		node, _ := a.graph.Node(id)
		if node.Layer != layer || node.Influence == nil {
			continue
		}
		if c, ok := node.Context(); !ok || c != ctx {
			continue
		}
		d, _ := a.Degree(id)
		sample = append(sample, d)
	}
	sort.SliceStable(sample, func(i, j int) bool { return sample[i].In > sample[j].In })
	if len(sample) > n {
		sample = sample[:n]
	}

	a.opts.Logger.Debug("sampled hubs",
		logging.Int("layer", layer),
		logging.Int("ctx", ctx),
		logging.Count(len(sample)))
	return sample
}

// Flow aggregates the edges from one layer or token position to another.
// Weights are absolute.
type Flow struct {
	From        int
	To          int
	Edges       int
	TotalWeight float64
	MaxWeight   float64
}

// MeanWeight returns TotalWeight / Edges.
func (f Flow) MeanWeight() float64 {
	if f.Edges == 0 {
		return 0
	}
	return f.TotalWeight / float64(f.Edges)
}

// LayerFlows aggregates the edges between loaded nodes on different layers,
// ordered by total weight descending, then by From and To.
func (a *Analyzer) LayerFlows() []Flow {
	return a.flows(
		func(src, dst *attribution.Node) (int, int, bool) {
			return src.Layer, dst.Layer, src.Layer != dst.Layer
		},
		func(x, y Flow) int { return compareFloat(y.TotalWeight, x.TotalWeight) },
	)
}

// TokenFlows aggregates the edges between loaded nodes that both carry a
// token position, ordered by edge count descending, then by total weight
// descending, then by From and To.
func (a *Analyzer) TokenFlows() []Flow {
	return a.flows(
		func(src, dst *attribution.Node) (int, int, bool) {
			from, ok := src.Context()
			if !ok {
				return 0, 0, false
			}
			to, ok := dst.Context()
			return from, to, ok
		},
		func(x, y Flow) int {
			if x.Edges != y.Edges {
				return y.Edges - x.Edges
			}
			return compareFloat(y.TotalWeight, x.TotalWeight)
		},
	)
}

func (a *Analyzer) flows(key func(src, dst *attribution.Node) (int, int, bool), cmp func(x, y Flow) int) []Flow {
	byPair := make(map[[2]int]*Flow)
	for _, e := range a.graph.Edges() {
		src, ok := a.graph.Node(e.Source)
		if !ok {
			continue
		}
		dst, ok := a.graph.Node(e.Target)
		if !ok {
			continue
		}
		from, to, ok := key(src, dst)
		if !ok {
			continue
		}

		f := byPair[[2]int{from, to}]
		if f == nil {
			f = &Flow{From: from, To: to}
			byPair[[2]int{from, to}] = f
		}
		w := math.Abs(e.Weight)
		f.Edges++
		f.TotalWeight += w
		f.MaxWeight = max(f.MaxWeight, w)
	}

	out := make([]Flow, 0, len(byPair))
	for _, f := range byPair {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := cmp(out[i], out[j]); c != 0 {
			return c < 0
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
