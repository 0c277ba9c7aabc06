package report

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-circuit/pkg/analysis"
	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/pipeline"
	"github.com/dd0wney/cluso-circuit/pkg/quality"
	"github.com/dd0wney/cluso-circuit/pkg/source"
)

const fixture = "../pipeline/testdata/capital.json"

func TestAnalysis(t *testing.T) {
	doc, err := pipeline.LoadDocument(fixture)
	require.NoError(t, err)
	a := analysis.NewAnalyzer(doc.Graph(), analysis.DefaultOptions())

	var buf bytes.Buffer
	require.NoError(t, Analysis(&buf, NewAnalysisInput(a, doc.Metadata)))
	out := buf.String()

	assert.Contains(t, out, "Attribution Graph Analysis")
	assert.Contains(t, out, "Nodes:     10")
	assert.Contains(t, out, "Top 10 Most Important Nodes:")
	assert.Contains(t, out, "(influence: 1.000)")
	assert.Contains(t, out, "Consider 'pathway' strategy for clear computational paths")
	assert.Contains(t, out, "1 edges reference unknown nodes")

	// four nodes have degree 3; 12_404_5 sorts first by id
	assert.Contains(t, out, "Top 20 Hub Nodes (by total degree):\n  1. 12_404_5             layer 12  in 2    out 1    total 3\n")
	assert.Contains(t, out, "Top 20 Nodes by Weighted In-degree:\n  1. 27_9_5               layer 27  weighted in 6.00\n")
	assert.Contains(t, out, "Top 20 Nodes by Weighted Out-degree:\n  1. 20_606_5             layer 20  weighted out 5.00\n")
	assert.Contains(t, out, "Layer-to-Layer Flows (by total weight):\n"+
		"  Layer 20 -> Layer 27:    1 edges, total      5.0, mean   5.00, max    5.00\n"+
		"  Layer  E -> Layer  1:")
	assert.Contains(t, out, "Token-to-Token Flows (by edge count):\n"+
		"  C5 \" is\" -> C5 \" is\": 4 edges, total 11.0\n"+
		"  C4 \" Texas\" -> C4 \" Texas\": 2 edges, total 6.5\n")
	assert.NotContains(t, out, "Hub Sample")
}

func TestAnalysis_HubSample(t *testing.T) {
	doc, err := pipeline.LoadDocument(fixture)
	require.NoError(t, err)
	a := analysis.NewAnalyzer(doc.Graph(), analysis.DefaultOptions())

	in := NewAnalysisInput(a, doc.Metadata)
	in.HubSample, in.HubSampleLayer, in.HubSampleCtx = a.SampleHubs(12, 5, 5), 12, 5

	var buf bytes.Buffer
	require.NoError(t, Analysis(&buf, in))
	assert.Contains(t, buf.String(), "Hub Sample (layer 12, C5 \" is\"):\n  1. 12_404_5 in 2\n")
}

func TestAnalysis_TokenOutsidePrompt(t *testing.T) {
	in := AnalysisInput{
		TokenFlows: []analysis.Flow{{From: 1, To: 9, Edges: 3, TotalWeight: 1.5}},
		Metadata:   attribution.Metadata{PromptTokens: []string{"<bos>", "DNA"}},
	}

	var buf bytes.Buffer
	require.NoError(t, Analysis(&buf, in))
	assert.Contains(t, buf.String(), "  C1 \"DNA\" -> C9 ctx9: 3 edges, total 1.5\n")
}

func TestAnalysis_Explanations(t *testing.T) {
	long := strings.Repeat("x", 80)
	top := []analysis.RankedNode{
		{NodeID: "a", Score: 1, Node: &attribution.Node{ID: "a", Explanation: long}},
		{NodeID: "b", Score: 0.5, Node: &attribution.Node{ID: "b"}},
		{NodeID: "c", Score: 0.25},
	}

	var buf bytes.Buffer
	require.NoError(t, Analysis(&buf, AnalysisInput{Top: top}))
	out := buf.String()

	assert.Contains(t, out, "1. a (influence: 1.000) - "+strings.Repeat("x", maxExplanation)+"\n")
	assert.NotContains(t, out, strings.Repeat("x", maxExplanation+1))
	assert.Contains(t, out, "2. b (influence: 0.500) - No explanation")
	assert.Contains(t, out, "3. c (influence: 0.250) - Unknown")
	assert.NotContains(t, out, "Layers:")
	assert.NotContains(t, out, "Hub Nodes")
	assert.NotContains(t, out, "Flows")
}

func TestResult(t *testing.T) {
	doc, err := pipeline.LoadDocument(fixture)
	require.NoError(t, err)
	p, err := pipeline.New(nil, pipeline.Options{MaxNodes: 6})
	require.NoError(t, err)
	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Result(&buf, res))
	out := buf.String()

	assert.Contains(t, out, "Circuit Reduction")
	assert.Contains(t, out, res.RunID)
	assert.Contains(t, out, "Computation Path")
	assert.Contains(t, out, "Replacement:")
	for _, sn := range res.Reduction.Supernodes {
		assert.Contains(t, out, sn.Label)
	}
}

func TestResult_Failed(t *testing.T) {
	res := &pipeline.Result{
		Reduction: &pipeline.Reduction{
			Validation: quality.Evaluate(0.3, 0.9, 5, quality.DefaultThresholds()),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Result(&buf, res))
	out := buf.String()

	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "No clear computational pathway found.")
	require.NotEmpty(t, res.Reduction.Validation.Suggestions)
	assert.Contains(t, out, "  - "+res.Reduction.Validation.Suggestions[0])
}

func TestPayload(t *testing.T) {
	p := &source.SubgraphPayload{
		ModelID:   "gemma-2-2b",
		Slug:      "capital",
		PinnedIDs: []string{"t_c", "logit_austin"},
	}
	for i := 0; i < 12; i++ {
		ids := make([]string, i+1)
		p.Supernodes = append(p.Supernodes, source.PayloadSupernode{
			Label:   "group " + string(rune('A'+i)),
			NodeIDs: ids,
			Layer:   i * 2,
		})
	}

	var buf bytes.Buffer
	require.NoError(t, Payload(&buf, p))
	out := buf.String()

	assert.Contains(t, out, "Supernodes:  12")
	assert.Contains(t, out, "Early Processing:  3")
	assert.Contains(t, out, "Middle Routing:    5")
	assert.Contains(t, out, "Bottleneck:        3")
	assert.Contains(t, out, "Output Module:     1")
	assert.Contains(t, out, "1. group L")
	assert.NotContains(t, out, "group A", "only the largest ten are listed")
	assert.Contains(t, out, "  - logit_austin")
}
