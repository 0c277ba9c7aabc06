package quality

import (
	"math"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
)

// setupGraph builds a -> b -> logit, a -> logit, c -> logit with a dangling
// edge into an unloaded logit id.
func setupGraph(t *testing.T) *attribution.Graph {
	t.Helper()

	nodes := []*attribution.Node{
		{ID: "a", Layer: 1},
		{ID: "b", Layer: 10},
		{ID: "c", Layer: 12},
		{ID: "logit", Layer: 20, FeatureType: attribution.FeatureLogit},
	}
	edges := []attribution.Edge{
		{Source: "a", Target: "b", Weight: 2},
		{Source: "b", Target: "logit", Weight: 3},
		{Source: "a", Target: "logit", Weight: 1},
		{Source: "c", Target: "logit", Weight: 4},
		{Source: "c", Target: "logit_999", Weight: 2},
		{Source: "c", Target: "b", Weight: 2},
	}
	return attribution.NewGraph(nodes, edges)
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestReplacementScore(t *testing.T) {
	g := setupGraph(t)

	tests := []struct {
		name   string
		pinned []string
		want   float64
	}{
		// total logit influence = 3 + 1 + 4 + 2 = 10
		{"none", nil, 0},
		{"direct only", []string{"b"}, 0.3},
		{"direct and one hop", []string{"a", "b"}, (1 + 3 + 2*3) / 10.0},
		{"includes dangling logit", []string{"c"}, 0.6},
		{"clamped", []string{"a", "b", "c"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewCalculator(g, tt.pinned, 3).ReplacementScore()
			if !near(got, tt.want) {
				t.Errorf("ReplacementScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReplacementScore_NoLogitInfluence(t *testing.T) {
	g := attribution.NewGraph([]*attribution.Node{{ID: "a"}, {ID: "b"}}, []attribution.Edge{
		{Source: "a", Target: "b", Weight: 1},
	})
	if got := NewCalculator(g, []string{"a"}, 1).ReplacementScore(); got != 0 {
		t.Errorf("Expected 0 without logit edges, got %v", got)
	}
}

func TestCompletenessScore(t *testing.T) {
	g := setupGraph(t)

	tests := []struct {
		name   string
		pinned []string
		want   float64
	}{
		{"none", nil, 0},
		{"no incoming", []string{"a", "c"}, 0},
		// b receives 2 from a and 2 from c
		{"half explained", []string{"a", "b"}, 0.5},
		// b fully explained; logit receives 3+1+4 = 8, explained 3+1 from a, b
		{"averaged", []string{"a", "b", "c", "logit"}, (1.0 + 1.0) / 2},
		{"partial logit", []string{"b", "logit"}, (0.0 + 3.0/8.0) / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewCalculator(g, tt.pinned, 3).CompletenessScore()
			if !near(got, tt.want) {
				t.Errorf("CompletenessScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_Passes(t *testing.T) {
	res := Evaluate(0.8, 0.9, 5, DefaultThresholds())

	if !res.Passed {
		t.Error("Expected validation to pass")
	}
	if len(res.Suggestions) != 0 {
		t.Errorf("Expected no suggestions, got %v", res.Suggestions)
	}
	if res.NumSupernodes != 5 || res.ReplacementScore != 0.8 || res.CompletenessScore != 0.9 {
		t.Errorf("Scores not carried through: %+v", res)
	}
}

func TestEvaluate_LowReplacement(t *testing.T) {
	res := Evaluate(0.3, 0.9, 5, DefaultThresholds())

	if res.Passed {
		t.Error("Expected validation to fail")
	}
	if len(res.Suggestions) != 1 || !strings.Contains(res.Suggestions[0], "Replacement score (0.30) below threshold (0.5)") {
		t.Errorf("Expected replacement suggestion, got %v", res.Suggestions)
	}
}

func TestEvaluate_LowCompleteness(t *testing.T) {
	res := Evaluate(0.9, 0.2, 5, DefaultThresholds())

	if res.Passed {
		t.Error("Expected validation to fail")
	}
	if len(res.Suggestions) != 1 || !strings.HasPrefix(res.Suggestions[0], "Completeness score (0.20)") {
		t.Errorf("Expected completeness suggestion, got %v", res.Suggestions)
	}
}

func TestEvaluate_SupernodeCountIsAdvisory(t *testing.T) {
	tests := []struct {
		count int
		want  string
	}{
		{2, "Only 2 supernodes."},
		{9, "9 supernodes may be too many"},
	}

	for _, tt := range tests {
		res := Evaluate(0.9, 0.9, tt.count, DefaultThresholds())
		if !res.Passed {
			t.Errorf("count %d: supernode count must not fail validation", tt.count)
		}
		if len(res.Suggestions) != 1 || !strings.HasPrefix(res.Suggestions[0], tt.want) {
			t.Errorf("count %d: got suggestions %v", tt.count, res.Suggestions)
		}
	}
}

func TestValidate(t *testing.T) {
	g := setupGraph(t)

	res := NewCalculator(g, []string{"a", "b", "c", "logit"}, 4).Validate(DefaultThresholds())
	if !res.Passed {
		t.Errorf("Expected pass, got %+v", res)
	}

	res = NewCalculator(g, []string{"b"}, 1).Validate(DefaultThresholds())
	if res.Passed {
		t.Error("Expected failure for a single weak node")
	}
	if len(res.Suggestions) != 3 {
		t.Errorf("Expected replacement, completeness and count suggestions, got %v", res.Suggestions)
	}
}
