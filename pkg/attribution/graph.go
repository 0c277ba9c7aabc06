package attribution

import "sort"

// Link is one merged adjacency entry: the peer node and the summed weight of
// every edge between the pair in that direction.
type Link struct {
	Peer   string
	Weight float64
}

type pairKey struct {
	source string
	target string
}

// Graph is a read-only index over an attribution graph. Adjacency covers only
// edges whose endpoints are both loaded nodes; the raw edge list keeps
// everything, including dangling edges.
type Graph struct {
	nodes    map[string]*Node
	ids      []string
	position map[string]int
	edges    []Edge
	outgoing map[string][]Link
	incoming map[string][]Link
	weights  map[pairKey]float64
	dangling int
}

// NewGraph indexes the given nodes and edges. Later nodes with a duplicate id
// replace earlier ones; Decode rejects duplicates before this point.
func NewGraph(nodes []*Node, edges []Edge) *Graph {
	g := &Graph{
		nodes:    make(map[string]*Node, len(nodes)),
		edges:    make([]Edge, len(edges)),
		outgoing: make(map[string][]Link),
		incoming: make(map[string][]Link),
		weights:  make(map[pairKey]float64, len(edges)),
	}
	copy(g.edges, edges)

	for _, n := range nodes {
		if n == nil {
			continue
		}
		g.nodes[n.ID] = n
	}

	g.ids = make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)

	g.position = make(map[string]int, len(g.ids))
	for i, id := range g.ids {
		g.position[id] = i
	}

	for _, e := range edges {
		_, srcOK := g.nodes[e.Source]
		_, dstOK := g.nodes[e.Target]
		if !srcOK || !dstOK {
			g.dangling++
			continue
		}
		g.weights[pairKey{e.Source, e.Target}] += e.Weight
	}

	for key, w := range g.weights {
		g.outgoing[key.source] = append(g.outgoing[key.source], Link{Peer: key.target, Weight: w})
		g.incoming[key.target] = append(g.incoming[key.target], Link{Peer: key.source, Weight: w})
	}
	for _, links := range g.outgoing {
		sortLinks(links)
	}
	for _, links := range g.incoming {
		sortLinks(links)
	}

	return g
}

func sortLinks(links []Link) {
	sort.Slice(links, func(i, j int) bool { return links[i].Peer < links[j].Peer })
}

// Node returns the node with the given id and whether it exists.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Has reports whether a node with the given id is loaded.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// NodeIDs returns all node ids in ascending order. The slice must not be modified.
func (g *Graph) NodeIDs() []string {
	return g.ids
}

// Position returns the dense index of a node in NodeIDs order.
func (g *Graph) Position(id string) (int, bool) {
	p, ok := g.position[id]
	return p, ok
}

// NodeCount returns the number of loaded nodes.
func (g *Graph) NodeCount() int {
	return len(g.ids)
}

// Edges returns every edge as loaded, dangling ones included.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// EdgeCount returns the number of loaded edges, dangling ones included.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// DanglingEdges returns how many edges reference a node outside the loaded set.
func (g *Graph) DanglingEdges() int {
	return g.dangling
}

// Outgoing returns merged outgoing links sorted by target id.
func (g *Graph) Outgoing(id string) []Link {
	return g.outgoing[id]
}

// Incoming returns merged incoming links sorted by source id.
func (g *Graph) Incoming(id string) []Link {
	return g.incoming[id]
}

// Weight returns the summed weight of source->target edges and whether any exist.
func (g *Graph) Weight(source, target string) (float64, bool) {
	w, ok := g.weights[pairKey{source, target}]
	return w, ok
}

// IsLogit reports whether id names a loaded output-logit node.
func (g *Graph) IsLogit(id string) bool {
	n, ok := g.nodes[id]
	return ok && n.IsLogit()
}

// LayerSpan returns the smallest and largest layer in the graph.
func (g *Graph) LayerSpan() (minLayer, maxLayer int, ok bool) {
	for i, id := range g.ids {
		layer := g.nodes[id].Layer
		if i == 0 || layer < minLayer {
			minLayer = layer
		}
		if i == 0 || layer > maxLayer {
			maxLayer = layer
		}
	}
	return minLayer, maxLayer, len(g.ids) > 0
}
