// Package pathtrace orders supernodes into a linear computation and renders
// it as a sentence.
package pathtrace

import (
	"sort"
	"strings"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/grouping"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
)

// NoPathwayNarrative is rendered for an empty computation path.
const NoPathwayNarrative = "No clear computational pathway found."

// ComputationPath is a chain of supernodes from input to output.
type ComputationPath struct {
	Sequence []*grouping.Supernode `json:"supernode_sequence"`
	// EdgeWeights[i] is the summed influence from Sequence[i] into Sequence[i+1].
	EdgeWeights []float64             `json:"edge_weights"`
	Bottlenecks []*grouping.Supernode `json:"bottlenecks"`
	Narrative   string                `json:"narrative"`
}

// Options configures a Tracer. Thresholds are used as given.
type Options struct {
	// InputLayerMax marks supernodes with a member at or below this layer as inputs.
	InputLayerMax int
	// BottleneckThreshold is the supernode influence above which it is a bottleneck.
	BottleneckThreshold float64
	// PromptTokens maps token positions to text, used to find the supernode
	// reading a given input token.
	PromptTokens []string
	Logger       logging.Logger
}

// DefaultOptions returns the standard tracing parameters.
func DefaultOptions() Options {
	return Options{
		InputLayerMax:       5,
		BottleneckThreshold: 0.3,
		Logger:              logging.NewNopLogger(),
	}
}

// Tracer orders the supernodes of one grouping.
type Tracer struct {
	graph      *attribution.Graph
	supernodes []*grouping.Supernode
	opts       Options
}

// NewTracer creates a tracer over the given supernodes.
func NewTracer(g *attribution.Graph, supernodes []*grouping.Supernode, opts Options) *Tracer {
	opts.Logger = logging.OrNop(opts.Logger)
	return &Tracer{graph: g, supernodes: supernodes, opts: opts}
}

// TraceComputation builds the computation path from the supernode reading
// inputToken to the one promoting outputLogit. The sequence is the first input
// supernode, every supernode that is neither input nor output ordered by
// minimum layer, then the first output supernode. Input or output may be
// missing, in which case the sequence starts or ends with a middle supernode.
// An empty outputLogit matches any logit node.
func (t *Tracer) TraceComputation(inputToken, outputLogit string) *ComputationPath {
	inputs := t.inputSupernodes(inputToken)
	outputs := t.outputSupernodes(outputLogit)

	isInput := make(map[*grouping.Supernode]bool, len(inputs))
	for _, sn := range inputs {
		isInput[sn] = true
	}
	isOutput := make(map[*grouping.Supernode]bool, len(outputs))
	for _, sn := range outputs {
		isOutput[sn] = true
	}

	var sequence []*grouping.Supernode
	if len(inputs) > 0 {
		sequence = append(sequence, inputs[0])
	}

	var middle []*grouping.Supernode
	for _, sn := range t.supernodes {
		if !isInput[sn] && !isOutput[sn] {
			middle = append(middle, sn)
		}
	}
	sort.SliceStable(middle, func(i, j int) bool {
		return middle[i].MinLayer() < middle[j].MinLayer()
	})
	sequence = append(sequence, middle...)

	if len(outputs) > 0 && (len(sequence) == 0 || sequence[0] != outputs[0]) {
		sequence = append(sequence, outputs[0])
	}

	path := &ComputationPath{
		Sequence:    sequence,
		EdgeWeights: make([]float64, 0, len(sequence)),
	}
	for i := 0; i+1 < len(sequence); i++ {
		path.EdgeWeights = append(path.EdgeWeights, t.influenceBetween(sequence[i], sequence[i+1]))
	}
	for _, sn := range sequence {
		if sn.TotalInfluence > t.opts.BottleneckThreshold {
			path.Bottlenecks = append(path.Bottlenecks, sn)
		}
	}
	path.Narrative = GenerateNarrative(path)

	t.opts.Logger.Debug("traced computation",
		logging.Int("steps", len(sequence)),
		logging.Int("bottlenecks", len(path.Bottlenecks)))
	return path
}

// inputSupernodes returns the supernodes with an early-layer member. A
// supernode holding a node at a position whose prompt token matches
// inputToken is moved to the front.
func (t *Tracer) inputSupernodes(inputToken string) []*grouping.Supernode {
	var inputs []*grouping.Supernode
	preferred := -1
	for _, sn := range t.supernodes {
		if !t.hasMember(sn, func(n *attribution.Node) bool { return n.Layer <= t.opts.InputLayerMax }) {
			continue
		}
		if preferred < 0 && t.readsToken(sn, inputToken) {
			preferred = len(inputs)
		}
		inputs = append(inputs, sn)
	}

	if preferred > 0 {
		chosen := inputs[preferred]
		copy(inputs[1:preferred+1], inputs[:preferred])
		inputs[0] = chosen
	}
	return inputs
}

func (t *Tracer) readsToken(sn *grouping.Supernode, token string) bool {
	want := normalizeToken(token)
	if want == "" || len(t.opts.PromptTokens) == 0 {
		return false
	}
	return t.hasMember(sn, func(n *attribution.Node) bool {
		ctx, ok := n.Context()
		if !ok || ctx < 0 || ctx >= len(t.opts.PromptTokens) {
			return false
		}
		return normalizeToken(t.opts.PromptTokens[ctx]) == want
	})
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// outputSupernodes returns the supernodes with a member that has an edge into
// a target whose id contains outputLogit.
func (t *Tracer) outputSupernodes(outputLogit string) []*grouping.Supernode {
	feeds := make(map[string]bool)
	for _, e := range t.graph.Edges() {
		if outputLogit == "" {
			if t.graph.IsLogit(e.Target) {
				feeds[e.Source] = true
			}
			continue
		}
		if strings.Contains(e.Target, outputLogit) {
			feeds[e.Source] = true
		}
	}

	var outputs []*grouping.Supernode
	for _, sn := range t.supernodes {
		for _, id := range sn.NodeIDs {
			if feeds[id] {
				outputs = append(outputs, sn)
				break
			}
		}
	}
	return outputs
}

func (t *Tracer) hasMember(sn *grouping.Supernode, match func(*attribution.Node) bool) bool {
	for _, id := range sn.NodeIDs {
		if n, ok := t.graph.Node(id); ok && match(n) {
			return true
		}
	}
	return false
}

// influenceBetween sums the weights of every edge from a member of src to a
// member of dst.
func (t *Tracer) influenceBetween(src, dst *grouping.Supernode) float64 {
	members := make(map[string]bool, len(dst.NodeIDs))
	for _, id := range dst.NodeIDs {
		members[id] = true
	}

	total := 0.0
	for _, id := range src.NodeIDs {
		for _, l := range t.graph.Outgoing(id) {
			if members[l.Peer] {
				total += l.Weight
			}
		}
	}
	return total
}

// GenerateNarrative renders a computation path as one sentence.
func GenerateNarrative(path *ComputationPath) string {
	if path == nil || len(path.Sequence) == 0 {
		return NoPathwayNarrative
	}

	labels := make([]string, len(path.Sequence))
	for i, sn := range path.Sequence {
		labels[i] = sn.Label
	}

	var b strings.Builder
	b.WriteString("The model starts with ")
	b.WriteString(labels[0])
	if len(labels) > 1 {
		for _, l := range labels[1 : len(labels)-1] {
			b.WriteString(", then ")
			b.WriteString(l)
		}
		b.WriteString(", and finally ")
		b.WriteString(labels[len(labels)-1])
	}
	b.WriteString(".")
	return b.String()
}
