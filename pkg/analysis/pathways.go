package analysis

import (
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-circuit/pkg/logging"
)

// Path is one traced route from an input feature to an output feature.
type Path struct {
	Nodes []string `json:"nodes"`
	// TotalInfluence is the sum of the signed edge weights along Nodes, not
	// the cost the search minimized.
	TotalInfluence  float64  `json:"total_influence"`
	BottleneckNodes []string `json:"bottleneck_nodes"`
}

// Source returns the first node of the path.
func (p Path) Source() string {
	return p.Nodes[0]
}

// Target returns the last node of the path.
func (p Path) Target() string {
	return p.Nodes[len(p.Nodes)-1]
}

// candidate is a path found by the k-shortest search, in dense indices.
type candidate struct {
	nodes []int
	cost  float64
}

func samePrefix(a, b []int, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameNodes(a, b []int) bool {
	return len(a) == len(b) && samePrefix(a, b, len(a))
}

func containsPath(cs []candidate, nodes []int) bool {
	for _, c := range cs {
		if sameNodes(c.nodes, nodes) {
			return true
		}
	}
	return false
}

// candidateLess orders candidates by cost, then length, then node indices.
func candidateLess(a, b candidate) bool {
	if !sameDistance(a.cost, b.cost) {
		return a.cost < b.cost
	}
	if len(a.nodes) != len(b.nodes) {
		return len(a.nodes) < len(b.nodes)
	}
	for i := range a.nodes {
		if a.nodes[i] != b.nodes[i] {
			return a.nodes[i] < b.nodes[i]
		}
	}
	return false
}

// kShortest returns up to k loopless lowest-cost paths from src to dst using
// Yen's deviation search on top of Dijkstra.
func (n *network) kShortest(src, dst, k int) []candidate {
	first, cost, ok := n.shortestPath(src, dst, nil)
	if !ok {
		return nil
	}

	accepted := []candidate{{nodes: first, cost: cost}}
	var pool []candidate

	for len(accepted) < k {
		last := accepted[len(accepted)-1].nodes

		for i := 0; i+1 < len(last); i++ {
			spur := last[i]
			root := last[:i+1]

			block := &blocked{nodes: make(map[int]bool), arcs: make(map[[2]int]bool)}
			for _, p := range accepted {
				if samePrefix(p.nodes, root, len(root)) && len(p.nodes) > i+1 {
					block.arcs[[2]int{p.nodes[i], p.nodes[i+1]}] = true
				}
			}
			for _, v := range root[:len(root)-1] {
				block.nodes[v] = true
			}

			spurPath, _, ok := n.shortestPath(spur, dst, block)
			if !ok {
				continue
			}

			full := make([]int, 0, len(root)+len(spurPath)-1)
			full = append(full, root[:len(root)-1]...)
			full = append(full, spurPath...)

			if !containsPath(pool, full) && !containsPath(accepted, full) {
				pool = append(pool, candidate{nodes: full, cost: n.pathCost(full)})
			}
		}

		if len(pool) == 0 {
			break
		}
		best := 0
		for i := 1; i < len(pool); i++ {
			if candidateLess(pool[i], pool[best]) {
				best = i
			}
		}
		accepted = append(accepted, pool[best])
		pool = append(pool[:best], pool[best+1:]...)
	}

	return accepted
}

// TracePathways finds the strongest routes between every present pair of
// sources and targets. Each pair contributes up to PathsPerPair loopless paths
// minimizing the summed cost 1/(|w|+ε). This is a strongest-approximate-path
// heuristic, not a max-flow computation. Pairs without a path are skipped. A
// node that is both a source and a target yields the single-node path [s]
// with zero influence.
//
// Paths are sorted by TotalInfluence descending, then by length, then by node
// sequence.
func (a *Analyzer) TracePathways(sources, targets []string) []Path {
	net := a.network()
	centrality := a.Centrality()

	srcIdx := a.presentIndices(sources)
	dstIdx := a.presentIndices(targets)
	if len(srcIdx) == 0 || len(dstIdx) == 0 {
		return nil
	}

	perSource := make([][]Path, len(srcIdx))
	var g errgroup.Group
	g.SetLimit(a.opts.Workers)
	for i, s := range srcIdx {
		g.Go(func() error {
			var found []Path
			for _, t := range dstIdx {
				if s == t {
					found = append(found, a.toPath([]int{s}, centrality))
					continue
				}
				for _, c := range net.kShortest(s, t, a.opts.PathsPerPair) {
					found = append(found, a.toPath(c.nodes, centrality))
				}
			}
			perSource[i] = found
			return nil
		})
	}
	// tasks never fail
	g.Wait()

	var paths []Path
	for _, ps := range perSource {
		paths = append(paths, ps...)
	}
	sortPaths(paths)

	a.opts.Logger.Debug("traced pathways",
		logging.Int("sources", len(srcIdx)),
		logging.Int("targets", len(dstIdx)),
		logging.Count(len(paths)))
	return paths
}

func (a *Analyzer) toPath(nodes []int, centrality map[string]float64) Path {
	net := a.network()
	ids := make([]string, len(nodes))
	var bottlenecks []string
	for i, v := range nodes {
		ids[i] = net.ids[v]
		if centrality[ids[i]] > a.opts.BottleneckThreshold {
			bottlenecks = append(bottlenecks, ids[i])
		}
	}
	return Path{
		Nodes:           ids,
		TotalInfluence:  net.pathWeight(nodes),
		BottleneckNodes: bottlenecks,
	}
}

// presentIndices maps ids onto dense indices, dropping unknown ids and
// duplicates while keeping the caller's order.
func (a *Analyzer) presentIndices(ids []string) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		pos, ok := a.graph.Position(id)
		if !ok || seen[pos] {
			continue
		}
		seen[pos] = true
		out = append(out, pos)
	}
	return out
}

func sortPaths(paths []Path) {
	sort.SliceStable(paths, func(i, j int) bool {
		pi, pj := paths[i], paths[j]
		if pi.TotalInfluence != pj.TotalInfluence {
			return pi.TotalInfluence > pj.TotalInfluence
		}
		if len(pi.Nodes) != len(pj.Nodes) {
			return len(pi.Nodes) < len(pj.Nodes)
		}
		return strings.Join(pi.Nodes, "\x00") < strings.Join(pj.Nodes, "\x00")
	})
}
