package analysis

import (
	"container/heap"
	"math"

	"github.com/dd0wney/cluso-circuit/pkg/parallel"
)

// relTolerance decides when two path costs count as equally short.
const relTolerance = 1e-12

func sameDistance(a, b float64) bool {
	return math.Abs(a-b) <= relTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// brandesFrom runs one weighted Brandes pass from source and adds each node's
// dependency onto acc.
func (n *network) brandesFrom(source int, acc []float64) {
	size := n.size()
	dist := make([]float64, size)
	sigma := make([]float64, size)
	delta := make([]float64, size)
	preds := make([][]int, size)
	done := make([]bool, size)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	dist[source] = 0
	sigma[source] = 1

	stack := make([]int, 0, size)
	q := &distQueue{{node: source, dist: 0}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(queueItem)
		v := cur.node
		if done[v] || cur.dist > dist[v] {
			continue
		}
		done[v] = true
		stack = append(stack, v)

		for _, a := range n.out[v] {
			w := a.to
			if done[w] {
				continue
			}
			nd := dist[v] + a.cost
			switch {
			case !math.IsInf(dist[w], 1) && sameDistance(nd, dist[w]):
				sigma[w] += sigma[v]
				preds[w] = append(preds[w], v)
			case nd < dist[w]:
				dist[w] = nd
				sigma[w] = sigma[v]
				preds[w] = append(preds[w][:0], v)
				heap.Push(q, queueItem{node: w, dist: nd})
			}
		}
	}

	// Back-propagation in reverse settle order
	for i := len(stack) - 1; i >= 0; i-- {
		w := stack[i]
		for _, v := range preds[w] {
			delta[v] += (sigma[v] / sigma[w]) * (1.0 + delta[w])
		}
		if w != source {
			acc[w] += delta[w]
		}
	}
}

// betweenness computes normalized weighted betweenness centrality. Sources are
// split into fixed chunks and the chunk partials are summed in chunk order, so
// the result does not depend on the worker count.
func (n *network) betweenness(workers, chunkSize int) ([]float64, error) {
	size := n.size()
	partials, err := parallel.MapChunks(workers, size, chunkSize, func(c parallel.Chunk) []float64 {
		acc := make([]float64, size)
		for s := c.Start; s < c.End; s++ {
			n.brandesFrom(s, acc)
		}
		return acc
	})
	if err != nil {
		return nil, err
	}

	total := make([]float64, size)
	for _, p := range partials {
		for i, v := range p {
			total[i] += v
		}
	}

	if size > 2 {
		norm := 1.0 / float64((size-1)*(size-2))
		for i := range total {
			total[i] *= norm
		}
	}
	return total, nil
}
