// Package analysis scores the nodes of an attribution graph and traces the
// strongest routes from input features to output features.
package analysis

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
)

// Analyzer computes importance, centrality and pathways over one graph. The
// derived maps are computed once and are read-only afterwards; the graph must
// not change while the analyzer is in use.
type Analyzer struct {
	graph *attribution.Graph
	opts  Options

	netOnce sync.Once
	net     *network

	centralityOnce sync.Once
	centrality     map[string]float64

	importanceOnce sync.Once
	importance     map[string]float64

	degreesOnce sync.Once
	degrees     []DegreeStats
	degreeIndex map[string]int
}

// NewAnalyzer creates an analyzer over g.
func NewAnalyzer(g *attribution.Graph, opts Options) *Analyzer {
	return &Analyzer{
		graph: g,
		opts:  opts.withDefaults(),
	}
}

// Graph returns the analyzed graph.
func (a *Analyzer) Graph() *attribution.Graph {
	return a.graph
}

// Options returns the effective options after defaults were applied.
func (a *Analyzer) Options() Options {
	return a.opts
}

// GetNode returns the node with the given id and whether it exists.
func (a *Analyzer) GetNode(id string) (*attribution.Node, bool) {
	return a.graph.Node(id)
}

func (a *Analyzer) network() *network {
	a.netOnce.Do(func() {
		a.net = newNetwork(a.graph, a.opts.Epsilon)
	})
	return a.net
}

// Centrality returns weighted betweenness centrality for every loaded node.
// Edge costs are 1/(|w|+ε), the same costs TracePathways searches over.
func (a *Analyzer) Centrality() map[string]float64 {
	a.centralityOnce.Do(func() {
		timer := logging.StartTimer(a.opts.Logger, "computed centrality", logging.NodeCount(a.graph.NodeCount()))
		net := a.network()
		scores, err := net.betweenness(a.opts.Workers, a.opts.ChunkSize)
		if err != nil {
			// Only a panicking task can fail here; surface it as one.
			timer.EndError(err)
			panic(err)
		}
		a.centrality = make(map[string]float64, len(scores))
		for i, v := range scores {
			a.centrality[net.ids[i]] = v
		}
		timer.End()
	})
	return a.centrality
}

// DirectInfluence returns the summed weight of a node's edges into output logits.
func (a *Analyzer) DirectInfluence(id string) float64 {
	total := 0.0
	for _, l := range a.graph.Outgoing(id) {
		if a.graph.IsLogit(l.Peer) {
			total += l.Weight
		}
	}
	return total
}

// ComputeNodeImportance scores every loaded node in [0,1]. The raw score is
// direct logit influence plus CentralityWeight times centrality; negative raw
// scores count as zero and the rest are divided by the maximum. When the
// maximum is zero every score is zero.
func (a *Analyzer) ComputeNodeImportance() map[string]float64 {
	a.importanceOnce.Do(func() {
		ids := a.graph.NodeIDs()
		centrality := a.Centrality()

		raw := make(map[string]float64, len(ids))
		maxScore := 0.0
		for _, id := range ids {
			score := a.DirectInfluence(id) + a.opts.CentralityWeight*centrality[id]
			if score < 0 {
				score = 0
			}
			raw[id] = score
			if score > maxScore {
				maxScore = score
			}
		}

		for id, score := range raw {
			if maxScore > 0 {
				raw[id] = score / maxScore
			} else {
				raw[id] = 0
			}
		}
		a.importance = raw
		a.opts.Logger.Debug("computed importance", logging.NodeCount(len(raw)))
	})
	return a.importance
}

// IdentifyInputFeatures returns the ids of nodes at or below layerThreshold,
// sorted by id.
func (a *Analyzer) IdentifyInputFeatures(layerThreshold int) []string {
	return a.filterLayers(func(layer int) bool { return layer <= layerThreshold })
}

// IdentifyOutputFeatures returns the ids of nodes at or above layerThreshold,
// sorted by id.
func (a *Analyzer) IdentifyOutputFeatures(layerThreshold int) []string {
	return a.filterLayers(func(layer int) bool { return layer >= layerThreshold })
}

// InputFeatures applies the configured input layer threshold.
func (a *Analyzer) InputFeatures() []string {
	return a.IdentifyInputFeatures(a.opts.InputLayerThreshold)
}

// OutputFeatures applies the configured output layer threshold.
func (a *Analyzer) OutputFeatures() []string {
	return a.IdentifyOutputFeatures(a.opts.OutputLayerThreshold)
}

func (a *Analyzer) filterLayers(keep func(int) bool) []string {
	var out []string
	for _, id := range a.graph.NodeIDs() {
		n, _ := a.graph.Node(id)
		if keep(n.Layer) {
			out = append(out, id)
		}
	}
	return out
}

// RankedNode is a node with its importance score.
type RankedNode struct {
	NodeID string
	Score  float64
	Node   *attribution.Node
}

// rankedNodeHeap is a min-heap whose root is the weakest entry: lowest score,
// and on equal scores the larger id.
type rankedNodeHeap []RankedNode

func (h rankedNodeHeap) Len() int { return len(h) }
func (h rankedNodeHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].NodeID > h[j].NodeID
}
func (h rankedNodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *rankedNodeHeap) Push(x any) {
	*h = append(*h, x.(RankedNode))
}

func (h *rankedNodeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// TopNodes returns the n most important nodes, highest first, ties by id.
func (a *Analyzer) TopNodes(n int) []RankedNode {
	if n <= 0 {
		return nil
	}

	importance := a.ComputeNodeImportance()
	h := make(rankedNodeHeap, 0, n)
	for _, id := range a.graph.NodeIDs() {
		node, _ := a.graph.Node(id)
		rn := RankedNode{NodeID: id, Score: importance[id], Node: node}
		if h.Len() < n {
			heap.Push(&h, rn)
		} else if weaker(h[0], rn) {
			heap.Pop(&h)
			heap.Push(&h, rn)
		}
	}

	result := make([]RankedNode, h.Len())
	for i := h.Len() - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(RankedNode)
	}
	return result
}

// weaker reports whether a ranks below b.
func weaker(a, b RankedNode) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.NodeID > b.NodeID
}

// Summary describes a graph for the analyze report.
type Summary struct {
	Nodes          int
	Edges          int
	DanglingEdges  int
	MinLayer       int
	MaxLayer       int
	FeatureTypes   map[attribution.FeatureType]int
	LayerCounts    map[int]int
	InputFeatures  int
	OutputFeatures int
}

// Summary counts nodes, edges and features of the analyzed graph.
func (a *Analyzer) Summary() Summary {
	s := Summary{
		Nodes:          a.graph.NodeCount(),
		Edges:          a.graph.EdgeCount(),
		DanglingEdges:  a.graph.DanglingEdges(),
		FeatureTypes:   make(map[attribution.FeatureType]int),
		LayerCounts:    make(map[int]int),
		InputFeatures:  len(a.InputFeatures()),
		OutputFeatures: len(a.OutputFeatures()),
	}
	s.MinLayer, s.MaxLayer, _ = a.graph.LayerSpan()
	for _, id := range a.graph.NodeIDs() {
		n, _ := a.graph.Node(id)
		s.FeatureTypes[n.FeatureType]++
		s.LayerCounts[n.Layer]++
	}
	return s
}

// Layers returns the distinct layers of a summary in ascending order.
func (s Summary) Layers() []int {
	layers := make([]int, 0, len(s.LayerCounts))
	for l := range s.LayerCounts {
		layers = append(layers, l)
	}
	sort.Ints(layers)
	return layers
}
