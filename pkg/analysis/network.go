package analysis

import (
	"container/heap"
	"math"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
)

// arc is a merged edge between two dense node indices.
type arc struct {
	to     int
	weight float64
	cost   float64
}

// network is the dense form of a Graph used by the search algorithms.
// Index i corresponds to graph.NodeIDs()[i].
type network struct {
	ids []string
	out [][]arc
}

// edgeCost turns an influence weight into a traversal cost. Strong edges are
// cheap regardless of sign; the same rule drives centrality and path search.
func edgeCost(weight, epsilon float64) float64 {
	return 1.0 / (math.Abs(weight) + epsilon)
}

func newNetwork(g *attribution.Graph, epsilon float64) *network {
	ids := g.NodeIDs()
	net := &network{
		ids: ids,
		out: make([][]arc, len(ids)),
	}
	for i, id := range ids {
		links := g.Outgoing(id)
		arcs := make([]arc, 0, len(links))
		for _, l := range links {
			j, _ := g.Position(l.Peer)
			arcs = append(arcs, arc{to: j, weight: l.Weight, cost: edgeCost(l.Weight, epsilon)})
		}
		net.out[i] = arcs
	}
	return net
}

func (n *network) size() int {
	return len(n.ids)
}

// arcBetween returns the merged arc from u to v.
func (n *network) arcBetween(u, v int) (arc, bool) {
	for _, a := range n.out[u] {
		if a.to == v {
			return a, true
		}
	}
	return arc{}, false
}

// queueItem is a tentative distance in the Dijkstra frontier.
type queueItem struct {
	node int
	dist float64
}

// distQueue is a min-heap on distance; ties go to the lower node index so the
// settle order is reproducible.
type distQueue []queueItem

func (q distQueue) Len() int { return len(q) }
func (q distQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].node < q[j].node
}
func (q distQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *distQueue) Push(x any) {
	*q = append(*q, x.(queueItem))
}

func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[0 : n-1]
	return x
}

// blocked marks nodes and arcs excluded from a search.
type blocked struct {
	nodes map[int]bool
	arcs  map[[2]int]bool
}

// shortestPath runs Dijkstra from src to dst and returns the node sequence and
// its cost. A nil block allows everything.
func (n *network) shortestPath(src, dst int, block *blocked) ([]int, float64, bool) {
	size := n.size()
	dist := make([]float64, size)
	prev := make([]int, size)
	done := make([]bool, size)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[src] = 0

	q := &distQueue{{node: src, dist: 0}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(queueItem)
		if done[cur.node] {
			continue
		}
		done[cur.node] = true
		if cur.node == dst {
			break
		}

		for _, a := range n.out[cur.node] {
			if block != nil && (block.nodes[a.to] || block.arcs[[2]int{cur.node, a.to}]) {
				continue
			}
			nd := cur.dist + a.cost
			if nd < dist[a.to] {
				dist[a.to] = nd
				prev[a.to] = cur.node
				heap.Push(q, queueItem{node: a.to, dist: nd})
			}
		}
	}

	if !done[dst] {
		return nil, 0, false
	}

	path := []int{dst}
	for v := dst; v != src; {
		v = prev[v]
		path = append(path, v)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, dist[dst], true
}

// pathCost sums arc costs along a node sequence.
func (n *network) pathCost(path []int) float64 {
	total := 0.0
	for i := 0; i+1 < len(path); i++ {
		a, _ := n.arcBetween(path[i], path[i+1])
		total += a.cost
	}
	return total
}

// pathWeight sums the signed arc weights along a node sequence.
func (n *network) pathWeight(path []int) float64 {
	total := 0.0
	for i := 0; i+1 < len(path); i++ {
		a, _ := n.arcBetween(path[i], path[i+1])
		total += a.weight
	}
	return total
}
