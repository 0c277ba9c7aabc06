package attribution

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// Document is a normalized attribution graph document. The raw bytes are kept
// so the output document can echo the input back unchanged.
type Document struct {
	Nodes    []*Node
	Edges    []Edge
	Metadata Metadata

	raw []byte
}

// Raw returns the original document bytes.
func (d *Document) Raw() json.RawMessage {
	return json.RawMessage(d.raw)
}

// Graph builds the in-memory index over the document's nodes and edges.
func (d *Document) Graph() *Graph {
	return NewGraph(d.Nodes, d.Edges)
}

type wireDocument struct {
	Nodes    *[]wireNode   `json:"nodes"`
	Links    *[]wireEdge   `json:"links"`
	Edges    *[]wireEdge   `json:"edges"`
	Metadata *wireMetadata `json:"metadata"`
}

type wireNode struct {
	NodeID       string          `json:"node_id"`
	ID           string          `json:"id"`
	Layer        layerValue      `json:"layer"`
	CtxIdx       *int            `json:"ctx_idx"`
	FeatureType  string          `json:"feature_type"`
	Feature      *int            `json:"feature"`
	FeatureIndex *int            `json:"feature_index"`
	Influence    *float64        `json:"influence"`
	Activation   *float64        `json:"activation"`
	Explanation  string          `json:"explanation"`
	Clerp        string          `json:"clerp"`
	TopLogits    []wireTokenItem `json:"top_logits"`
}

type wireEdge struct {
	Source string   `json:"source" validate:"required"`
	Target string   `json:"target" validate:"required"`
	Weight *float64 `json:"weight" validate:"required"`
}

type wireMetadata struct {
	Prompt          string          `json:"prompt"`
	Slug            string          `json:"slug"`
	Scan            string          `json:"scan"`
	ModelID         string          `json:"modelId"`
	PromptTokens    []string        `json:"promptTokens"`
	PromptTokensAlt []string        `json:"prompt_tokens"`
	PruningSettings PruningSettings `json:"pruning_settings"`
}

// layerValue accepts a layer encoded as a JSON number, a numeric string, or "E".
type layerValue struct {
	value int
}

func (l *layerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return l.parse(s)
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	l.value = int(f)
	return nil
}

func (l *layerValue) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.EqualFold(s, "E") {
		l.value = EmbeddingLayer
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid layer %q", s)
	}
	l.value = v
	return nil
}

// wireTokenItem accepts either {"token": ..., "value": ...} or a bare token string.
type wireTokenItem struct {
	TokenValue
}

func (t *wireTokenItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.Token)
	}
	return json.Unmarshal(data, &t.TokenValue)
}

// Decode parses and normalizes a graph document. Field name variants are
// resolved here so the analysis packages only ever see one shape.
func Decode(data []byte) (*Document, error) {
	var wire wireDocument
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, NewError("decode").Cause(fmt.Errorf("%w: %v", ErrMalformedGraph, err)).Err()
	}

	if wire.Nodes == nil {
		return nil, MissingFieldError("nodes")
	}

	wireEdges := wire.Links
	if wireEdges == nil {
		wireEdges = wire.Edges
	}
	if wireEdges == nil {
		return nil, MissingFieldError("links")
	}

	doc := &Document{
		Nodes: make([]*Node, 0, len(*wire.Nodes)),
		Edges: make([]Edge, 0, len(*wireEdges)),
		raw:   data,
	}

	seen := make(map[string]struct{}, len(*wire.Nodes))
	for i, wn := range *wire.Nodes {
		node := wn.normalize()
		if err := validate.Struct(node); err != nil {
			return nil, NewError("normalize").Node(i).Field(firstInvalidField(err)).Cause(ErrMalformedGraph).Err()
		}
		if _, dup := seen[node.ID]; dup {
			return nil, NewError("normalize").Node(i).Field("node_id").Cause(fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)).Err()
		}
		seen[node.ID] = struct{}{}
		doc.Nodes = append(doc.Nodes, node)
	}

	for i, we := range *wireEdges {
		if err := validate.Struct(we); err != nil {
			return nil, NewError("normalize").Edge(i).Field(firstInvalidField(err)).Cause(ErrMalformedGraph).Err()
		}
		doc.Edges = append(doc.Edges, Edge{Source: we.Source, Target: we.Target, Weight: *we.Weight})
	}

	if wire.Metadata != nil {
		doc.Metadata = wire.Metadata.normalize()
	}

	return doc, nil
}

func (wn wireNode) normalize() *Node {
	id := wn.NodeID
	if id == "" {
		id = wn.ID
	}

	node := &Node{
		ID:          id,
		Layer:       wn.Layer.value,
		CtxIdx:      wn.CtxIdx,
		FeatureType: ParseFeatureType(wn.FeatureType),
		Influence:   wn.Influence,
		Activation:  wn.Activation,
		Explanation: wn.Explanation,
	}
	if node.Explanation == "" {
		node.Explanation = wn.Clerp
	}
	if wn.FeatureIndex != nil {
		node.FeatureIndex = wn.FeatureIndex
	} else {
		node.FeatureIndex = wn.Feature
	}
	if len(wn.TopLogits) > 0 {
		node.TopLogits = make([]TokenValue, len(wn.TopLogits))
		for i, t := range wn.TopLogits {
			node.TopLogits[i] = t.TokenValue
		}
	}
	return node
}

func (wm wireMetadata) normalize() Metadata {
	md := Metadata{
		Prompt:          wm.Prompt,
		Slug:            wm.Slug,
		ModelID:         wm.Scan,
		PromptTokens:    wm.PromptTokens,
		PruningSettings: wm.PruningSettings,
	}
	if md.ModelID == "" {
		md.ModelID = wm.ModelID
	}
	if len(md.PromptTokens) == 0 {
		md.PromptTokens = wm.PromptTokensAlt
	}
	return md
}

// firstInvalidField extracts the JSON-facing field name of the first failed rule.
func firstInvalidField(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return ""
}
