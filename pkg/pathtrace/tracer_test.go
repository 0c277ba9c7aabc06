package pathtrace

import (
	"testing"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/grouping"
)

func intPtr(v int) *int { return &v }

// setupTracer builds the Dallas -> Texas -> Austin style circuit with four
// supernodes: two input detectors on different token positions, one
// relational processor, and one output promoter.
func setupTracer(t *testing.T, opts Options) (*Tracer, []*grouping.Supernode) {
	t.Helper()

	nodes := []*attribution.Node{
		{ID: "cap_0", Layer: 1, CtxIdx: intPtr(1)},
		{ID: "dal_0", Layer: 2, CtxIdx: intPtr(4)},
		{ID: "tex_0", Layer: 9, CtxIdx: intPtr(4)},
		{ID: "tex_1", Layer: 11, CtxIdx: intPtr(4)},
		{ID: "aus_0", Layer: 18, CtxIdx: intPtr(5)},
		{ID: "27_22605_5", Layer: 26, CtxIdx: intPtr(5), FeatureType: attribution.FeatureLogit},
	}
	edges := []attribution.Edge{
		{Source: "cap_0", Target: "tex_0", Weight: 0.5},
		{Source: "dal_0", Target: "tex_0", Weight: 2},
		{Source: "dal_0", Target: "tex_1", Weight: 1},
		{Source: "tex_0", Target: "aus_0", Weight: 3},
		{Source: "tex_1", Target: "aus_0", Weight: -0.5},
		{Source: "aus_0", Target: "27_22605_5", Weight: 4},
	}
	g := attribution.NewGraph(nodes, edges)

	sns := []*grouping.Supernode{
		{ID: "sn_1", Label: "capital", NodeIDs: []string{"cap_0"}, LayerRange: [2]int{1, 1}, TotalInfluence: 0.1},
		{ID: "sn_2", Label: "Dallas", NodeIDs: []string{"dal_0"}, LayerRange: [2]int{2, 2}, TotalInfluence: 0.6},
		{ID: "sn_3", Label: "Texas", NodeIDs: []string{"tex_0", "tex_1"}, LayerRange: [2]int{9, 11}, TotalInfluence: 0.8},
		{ID: "sn_4", Label: "say Austin", NodeIDs: []string{"aus_0"}, LayerRange: [2]int{18, 18}, TotalInfluence: 0.2},
	}
	return NewTracer(g, sns, opts), sns
}

func labels(sns []*grouping.Supernode) []string {
	out := make([]string, len(sns))
	for i, sn := range sns {
		out[i] = sn.Label
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTraceComputation_Sequence(t *testing.T) {
	tr, _ := setupTracer(t, DefaultOptions())

	path := tr.TraceComputation("", "22605")
	want := []string{"capital", "Texas", "say Austin"}
	if got := labels(path.Sequence); !equalStrings(got, want) {
		t.Fatalf("Sequence = %v, want %v", got, want)
	}
	if len(path.EdgeWeights) != 2 {
		t.Fatalf("Expected 2 edge weights, got %v", path.EdgeWeights)
	}
	if path.EdgeWeights[0] != 0.5 || path.EdgeWeights[1] != 2.5 {
		t.Errorf("EdgeWeights = %v, want [0.5 2.5]", path.EdgeWeights)
	}
	if got := labels(path.Bottlenecks); !equalStrings(got, []string{"Texas"}) {
		t.Errorf("Bottlenecks = %v, want [Texas]", got)
	}
	if path.Narrative != "The model starts with capital, then Texas, and finally say Austin." {
		t.Errorf("Narrative = %q", path.Narrative)
	}
}

func TestTraceComputation_ZeroBottleneckThreshold(t *testing.T) {
	opts := DefaultOptions()
	opts.BottleneckThreshold = 0
	tr, _ := setupTracer(t, opts)

	path := tr.TraceComputation("", "22605")
	want := []string{"capital", "Texas", "say Austin"}
	if got := labels(path.Bottlenecks); !equalStrings(got, want) {
		t.Errorf("Bottlenecks = %v, want %v", got, want)
	}
}

func TestTraceComputation_PrefersInputToken(t *testing.T) {
	opts := DefaultOptions()
	opts.PromptTokens = []string{"<bos>", "capital", " of", " state", " Dallas", " is"}
	tr, _ := setupTracer(t, opts)

	path := tr.TraceComputation("Dallas", "22605")
	if path.Sequence[0].Label != "Dallas" {
		t.Fatalf("Expected Dallas supernode first, got %v", labels(path.Sequence))
	}
	if path.EdgeWeights[0] != 3 {
		t.Errorf("Expected Dallas->Texas weight 3, got %v", path.EdgeWeights[0])
	}
}

func TestTraceComputation_UnknownTokenFallsBack(t *testing.T) {
	opts := DefaultOptions()
	opts.PromptTokens = []string{"<bos>", "capital"}
	tr, _ := setupTracer(t, opts)

	path := tr.TraceComputation("Houston", "22605")
	if path.Sequence[0].Label != "capital" {
		t.Errorf("Expected first input supernode, got %v", labels(path.Sequence))
	}
}

func TestTraceComputation_NoOutputMatch(t *testing.T) {
	tr, _ := setupTracer(t, DefaultOptions())

	path := tr.TraceComputation("", "nonexistent")
	// sn_4 is now a middle supernode
	want := []string{"capital", "Texas", "say Austin"}
	if got := labels(path.Sequence); !equalStrings(got, want) {
		t.Errorf("Sequence = %v, want %v", got, want)
	}
}

func TestTraceComputation_NoInputs(t *testing.T) {
	opts := DefaultOptions()
	opts.InputLayerMax = -5
	tr, _ := setupTracer(t, opts)

	path := tr.TraceComputation("", "")
	want := []string{"capital", "Dallas", "Texas", "say Austin"}
	if got := labels(path.Sequence); !equalStrings(got, want) {
		t.Errorf("Sequence = %v, want %v", got, want)
	}
}

func TestTraceComputation_Empty(t *testing.T) {
	g := attribution.NewGraph(nil, nil)
	path := NewTracer(g, nil, DefaultOptions()).TraceComputation("x", "y")

	if len(path.Sequence) != 0 || len(path.EdgeWeights) != 0 {
		t.Errorf("Expected empty path, got %+v", path)
	}
	if path.Narrative != NoPathwayNarrative {
		t.Errorf("Narrative = %q", path.Narrative)
	}
}

func TestTraceComputation_OutputNotDuplicated(t *testing.T) {
	nodes := []*attribution.Node{
		{ID: "a", Layer: 1},
		{ID: "logit", Layer: 20, FeatureType: attribution.FeatureLogit},
	}
	g := attribution.NewGraph(nodes, []attribution.Edge{{Source: "a", Target: "logit", Weight: 1}})
	sn := &grouping.Supernode{ID: "sn_1", Label: "only", NodeIDs: []string{"a"}}

	path := NewTracer(g, []*grouping.Supernode{sn}, DefaultOptions()).TraceComputation("", "logit")
	if len(path.Sequence) != 1 {
		t.Fatalf("Expected single supernode, got %v", labels(path.Sequence))
	}
	if path.Narrative != "The model starts with only." {
		t.Errorf("Narrative = %q", path.Narrative)
	}
}

func TestGenerateNarrative(t *testing.T) {
	sn := func(label string) *grouping.Supernode { return &grouping.Supernode{Label: label} }

	tests := []struct {
		name string
		path *ComputationPath
		want string
	}{
		{"nil", nil, NoPathwayNarrative},
		{"empty", &ComputationPath{}, NoPathwayNarrative},
		{"one", &ComputationPath{Sequence: []*grouping.Supernode{sn("A")}}, "The model starts with A."},
		{"two", &ComputationPath{Sequence: []*grouping.Supernode{sn("A"), sn("B")}}, "The model starts with A, and finally B."},
		{"three", &ComputationPath{Sequence: []*grouping.Supernode{sn("A"), sn("B"), sn("C")}}, "The model starts with A, then B, and finally C."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateNarrative(tt.path); got != tt.want {
				t.Errorf("GenerateNarrative() = %q, want %q", got, tt.want)
			}
		})
	}
}
