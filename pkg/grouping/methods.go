package grouping

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// groupFunctional buckets nodes by the role of their own layer.
func (e *Engine) groupFunctional(ids []string) [][]string {
	buckets := make(map[Role][]string)
	for _, id := range ids {
		role := e.RoleOf(id)
		buckets[role] = append(buckets[role], id)
	}
	return [][]string{
		buckets[RoleInputDetector],
		buckets[RoleRelationalProcessor],
		buckets[RoleOutputPromoter],
	}
}

type layerKey struct {
	layer int
	ctx   int
}

// groupLayer starts with one group per (layer, token position) and merges
// neighbouring groups, smallest combined pair first, until MaxGroups remain.
func (e *Engine) groupLayer(ids []string) [][]string {
	byKey := make(map[layerKey][]string)
	for _, id := range ids {
		n, _ := e.graph.Node(id)
		ctx, ok := n.Context()
		if !ok {
			ctx = -1
		}
		k := layerKey{layer: e.layer(id), ctx: ctx}
		byKey[k] = append(byKey[k], id)
	}

	keys := make([]layerKey, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].layer != keys[j].layer {
			return keys[i].layer < keys[j].layer
		}
		return keys[i].ctx < keys[j].ctx
	})

	groups := make([][]string, len(keys))
	for i, k := range keys {
		groups[i] = byKey[k]
	}

	for len(groups) > e.opts.MaxGroups {
		best := 0
		for i := 1; i+1 < len(groups); i++ {
			if len(groups[i])+len(groups[i+1]) < len(groups[best])+len(groups[best+1]) {
				best = i
			}
		}
		merged := append(append([]string(nil), groups[best]...), groups[best+1]...)
		groups = append(groups[:best], append([][]string{merged}, groups[best+2:]...)...)
	}
	return groups
}

// stopwords are dropped from explanations before comparing descriptors.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "are": true, "was": true,
}

// descriptor returns the lowercase explanation words and top-logit tokens of a node.
func (e *Engine) descriptor(id string) map[string]bool {
	n, _ := e.graph.Node(id)
	tokens := make(map[string]bool)
	words := strings.FieldsFunc(strings.ToLower(n.Explanation), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) > 2 && !stopwords[w] {
			tokens[w] = true
		}
	}
	for _, tv := range n.TopLogits {
		if tok := strings.ToLower(strings.TrimSpace(tv.Token)); tok != "" {
			tokens["logit:"+tok] = true
		}
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// groupSemantic joins nodes whose descriptors overlap by at least
// SimilarityThreshold and returns the connected components. Nodes without a
// descriptor are grouped by role.
func (e *Engine) groupSemantic(ids []string) [][]string {
	descriptors := make(map[string]map[string]bool, len(ids))
	var described []string
	undescribed := make(map[Role][]string)
	for _, id := range ids {
		d := e.descriptor(id)
		if len(d) == 0 {
			role := e.RoleOf(id)
			undescribed[role] = append(undescribed[role], id)
			continue
		}
		descriptors[id] = d
		described = append(described, id)
	}

	parent := make([]int, len(described))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := 0; i < len(described); i++ {
		for j := i + 1; j < len(described); j++ {
			if jaccard(descriptors[described[i]], descriptors[described[j]]) >= e.opts.SimilarityThreshold {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	components := make(map[int][]string)
	var roots []int
	for i, id := range described {
		r := find(i)
		if _, ok := components[r]; !ok {
			roots = append(roots, r)
		}
		components[r] = append(components[r], id)
	}

	groups := make([][]string, 0, len(roots)+3)
	for _, r := range roots {
		groups = append(groups, components[r])
	}
	for _, role := range []Role{RoleInputDetector, RoleRelationalProcessor, RoleOutputPromoter} {
		groups = append(groups, undescribed[role])
	}
	return groups
}

// groupHybrid runs weighted label propagation over the subgraph induced by
// ids, using edge magnitudes in both directions, then splits each community
// by role.
func (e *Engine) groupHybrid(ids []string) [][]string {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	neighbors := make([]map[int]float64, len(ids))
	for i := range neighbors {
		neighbors[i] = make(map[int]float64)
	}
	for i, id := range ids {
		for _, l := range e.graph.Outgoing(id) {
			j, ok := index[l.Peer]
			if !ok || j == i {
				continue
			}
			w := math.Abs(l.Weight)
			neighbors[i][j] += w
			neighbors[j][i] += w
		}
	}

	type weighted struct {
		peer   int
		weight float64
	}
	adjacency := make([][]weighted, len(ids))
	for i, m := range neighbors {
		for j, w := range m {
			adjacency[i] = append(adjacency[i], weighted{peer: j, weight: w})
		}
		sort.Slice(adjacency[i], func(a, b int) bool { return adjacency[i][a].peer < adjacency[i][b].peer })
	}

	labels := make([]int, len(ids))
	for i := range labels {
		labels[i] = i
	}

	for iter := 0; iter < e.opts.PropagationIterations; iter++ {
		changed := false
		for i := range ids {
			if len(adjacency[i]) == 0 {
				continue
			}
			weightByLabel := make(map[int]float64)
			for _, n := range adjacency[i] {
				weightByLabel[labels[n.peer]] += n.weight
			}

			best, bestWeight := labels[i], -1.0
			for label, w := range weightByLabel {
				if w > bestWeight || (w == bestWeight && label < best) {
					best, bestWeight = label, w
				}
			}
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	type communityRole struct {
		label int
		role  Role
	}
	communities := make(map[communityRole][]string)
	var order []communityRole
	for i, id := range ids {
		k := communityRole{label: labels[i], role: e.RoleOf(id)}
		if _, ok := communities[k]; !ok {
			order = append(order, k)
		}
		communities[k] = append(communities[k], id)
	}

	groups := make([][]string, 0, len(order))
	for _, k := range order {
		groups = append(groups, communities[k])
	}
	return groups
}
