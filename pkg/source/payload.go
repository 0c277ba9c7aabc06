package source

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/grouping"
)

// Threshold defaults used when the graph carries no pruning settings.
const (
	DefaultPruningThreshold = 0.8
	DefaultDensityThreshold = 0.85
)

// SubgraphPayload is the body of the subgraph save endpoint.
type SubgraphPayload struct {
	ModelID          string             `json:"modelId"`
	Slug             string             `json:"slug"`
	Supernodes       []PayloadSupernode `json:"supernodes"`
	PinnedIDs        []string           `json:"pinnedIds"`
	PruningThreshold float64            `json:"pruningThreshold"`
	DensityThreshold float64            `json:"densityThreshold"`
}

// PayloadSupernode is one supernode in a SubgraphPayload.
type PayloadSupernode struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	NodeIDs     []string `json:"nodeIds"`
	// Layer is the lowest layer covered, used for phase summaries.
	Layer int `json:"-"`
}

// Phase names the processing stage of a layer.
func Phase(layer int) string {
	switch {
	case layer <= 5:
		return "Early Processing"
	case layer <= 15:
		return "Middle Routing"
	case layer <= 21:
		return "Bottleneck"
	default:
		return "Output Module"
	}
}

func newPayload(md attribution.Metadata) *SubgraphPayload {
	p := &SubgraphPayload{
		ModelID:          md.ModelID,
		Slug:             md.Slug,
		PruningThreshold: DefaultPruningThreshold,
		DensityThreshold: DefaultDensityThreshold,
	}
	if p.ModelID == "" {
		p.ModelID = "unknown"
	}
	if p.Slug == "" {
		p.Slug = "unknown"
	}
	if t := md.PruningSettings.NodeThreshold; t != nil {
		p.PruningThreshold = *t
	}
	if t := md.PruningSettings.EdgeThreshold; t != nil {
		p.DensityThreshold = *t
	}
	return p
}

type layerContext struct {
	layer, ctx int
}

// LayerContextPayload groups transcoder features by (layer, token position)
// and pins the strongest hub, the most influential early feature and the
// first output logit.
func LayerContextPayload(doc *attribution.Document) *SubgraphPayload {
	groups := make(map[layerContext][]*attribution.Node)
	for _, n := range doc.Nodes {
		if n.FeatureType != attribution.FeatureTranscoder {
			continue
		}
		ctx, ok := n.Context()
		if !ok {
			continue
		}
		key := layerContext{n.Layer, ctx}
		groups[key] = append(groups[key], n)
	}

	keys := make([]layerContext, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].layer != keys[j].layer {
			return keys[i].layer < keys[j].layer
		}
		return keys[i].ctx < keys[j].ctx
	})

	p := newPayload(doc.Metadata)
	p.Supernodes = make([]PayloadSupernode, 0, len(keys))
	for _, k := range keys {
		nodes := groups[k]
		token, ok := doc.Metadata.Token(k.ctx)
		if !ok {
			token = fmt.Sprintf("C%d", k.ctx)
		}
		token = strings.TrimSpace(token)

		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		avgInf, avgAct := averages(nodes)
		id := fmt.Sprintf("L%d_C%d", k.layer, k.ctx)

		p.Supernodes = append(p.Supernodes, PayloadSupernode{
			ID:    id,
			Label: fmt.Sprintf("%s: %s (%d feat)", id, token, len(ids)),
			Description: fmt.Sprintf("Layer %d, Context %d (%s) | %s | AvgInf: %.3f, AvgAct: %.2f",
				k.layer, k.ctx, token, Phase(k.layer), avgInf, avgAct),
			NodeIDs: ids,
			Layer:   k.layer,
		})
	}
	p.PinnedIDs = KeyNodes(doc)
	return p
}

// averages returns the mean influence and activation over nodes that carry them.
func averages(nodes []*attribution.Node) (influence, activation float64) {
	var ni, na int
	for _, n := range nodes {
		if n.Influence != nil {
			influence += *n.Influence
			ni++
		}
		if n.Activation != nil {
			activation += *n.Activation
			na++
		}
	}
	if ni > 0 {
		influence /= float64(ni)
	}
	if na > 0 {
		activation /= float64(na)
	}
	return influence, activation
}

// KeyNodes picks the highest in-degree transcoder feature, the most
// influential transcoder feature in layers 0-2 and the first logit. Ties
// keep document order.
func KeyNodes(doc *attribution.Document) []string {
	inDegree := make(map[string]int, len(doc.Nodes))
	for _, e := range doc.Edges {
		inDegree[e.Target]++
	}

	var hub, early, logit *attribution.Node
	for _, n := range doc.Nodes {
		switch n.FeatureType {
		case attribution.FeatureTranscoder:
			if hub == nil || inDegree[n.ID] > inDegree[hub.ID] {
				hub = n
			}
			if n.Layer >= 0 && n.Layer <= 2 && n.Influence != nil {
				if early == nil || *n.Influence > *early.Influence {
					early = n
				}
			}
		case attribution.FeatureLogit:
			if logit == nil {
				logit = n
			}
		}
	}

	pinned := make([]string, 0, 3)
	for _, n := range []*attribution.Node{hub, early, logit} {
		if n != nil {
			pinned = append(pinned, n.ID)
		}
	}
	return pinned
}

// CircuitPayload converts a reduced circuit into a save payload.
func CircuitPayload(md attribution.Metadata, supernodes []*grouping.Supernode, pinned []string) *SubgraphPayload {
	p := newPayload(md)
	p.PinnedIDs = append([]string(nil), pinned...)
	p.Supernodes = make([]PayloadSupernode, len(supernodes))
	for i, sn := range supernodes {
		p.Supernodes[i] = PayloadSupernode{
			ID:    sn.ID,
			Label: sn.Label,
			Description: fmt.Sprintf("%s | layers %d-%d | influence %.3f",
				sn.Role, sn.MinLayer(), sn.MaxLayer(), sn.TotalInfluence),
			NodeIDs: append([]string(nil), sn.NodeIDs...),
			Layer:   sn.MinLayer(),
		}
	}
	return p
}
