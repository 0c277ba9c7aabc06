package attribution

import "strings"

// EmbeddingLayer is the sentinel layer assigned to input embedding nodes.
// The wire format spells it "E".
const EmbeddingLayer = -1

// FeatureType classifies a node in the attribution graph.
type FeatureType string

const (
	FeatureEmbedding  FeatureType = "embedding"
	FeatureTranscoder FeatureType = "cross layer transcoder"
	FeatureLogit      FeatureType = "logit"
	FeatureError      FeatureType = "mlp reconstruction error"
)

// ParseFeatureType maps wire spellings onto the known feature types.
// Unknown values are kept verbatim and behave like cross-layer features.
func ParseFeatureType(s string) FeatureType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "embedding", "input-embedding", "input_embedding":
		return FeatureEmbedding
	case "cross layer transcoder", "cross-layer-feature", "cross_layer_feature", "clt", "":
		return FeatureTranscoder
	case "logit", "output-logit", "output_logit":
		return FeatureLogit
	case "mlp reconstruction error":
		return FeatureError
	default:
		return FeatureType(s)
	}
}

// TokenValue is one entry of a node's top promoted logits.
type TokenValue struct {
	Token string  `json:"token"`
	Value float64 `json:"value"`
}

// Node is a single feature in the attribution graph. Nodes are immutable once loaded.
type Node struct {
	ID           string       `json:"node_id" validate:"required"`
	Layer        int          `json:"layer" validate:"gte=-1"`
	CtxIdx       *int         `json:"ctx_idx,omitempty"`
	FeatureType  FeatureType  `json:"feature_type"`
	FeatureIndex *int         `json:"feature_index,omitempty"`
	Influence    *float64     `json:"influence,omitempty"`
	Activation   *float64     `json:"activation,omitempty"`
	Explanation  string       `json:"explanation,omitempty"`
	TopLogits    []TokenValue `json:"top_logits,omitempty"`
}

// IsLogit reports whether the node is an output logit.
func (n *Node) IsLogit() bool {
	return n.FeatureType == FeatureLogit
}

// IsEmbedding reports whether the node sits on the embedding layer.
func (n *Node) IsEmbedding() bool {
	return n.Layer == EmbeddingLayer || n.FeatureType == FeatureEmbedding
}

// Context returns the token position and whether the node carries one.
func (n *Node) Context() (int, bool) {
	if n.CtxIdx == nil {
		return 0, false
	}
	return *n.CtxIdx, true
}

// Edge is a directed, signed influence between two nodes. Either endpoint may
// reference a node that is not part of the loaded set.
type Edge struct {
	Source string  `json:"source" validate:"required"`
	Target string  `json:"target" validate:"required"`
	Weight float64 `json:"weight"`
}

// PruningSettings are the thresholds the graph was generated with.
type PruningSettings struct {
	NodeThreshold *float64 `json:"node_threshold,omitempty"`
	EdgeThreshold *float64 `json:"edge_threshold,omitempty"`
}

// Metadata describes the prompt and model a graph was generated for.
type Metadata struct {
	Prompt          string          `json:"prompt,omitempty"`
	Slug            string          `json:"slug,omitempty"`
	ModelID         string          `json:"modelId,omitempty"`
	PromptTokens    []string        `json:"promptTokens,omitempty"`
	PruningSettings PruningSettings `json:"pruning_settings"`
}

// Token returns the prompt token at a context position.
func (m Metadata) Token(ctx int) (string, bool) {
	if ctx < 0 || ctx >= len(m.PromptTokens) {
		return "", false
	}
	return m.PromptTokens[ctx], true
}
