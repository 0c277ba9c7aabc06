package grouping

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-circuit/pkg/analysis"
	"github.com/dd0wney/cluso-circuit/pkg/attribution"
)

func intPtr(v int) *int { return &v }

// setupEngine builds a small circuit: two embedding-side detectors, three
// middle features, and two late promoters feeding one logit.
func setupEngine(t *testing.T, opts Options) *Engine {
	t.Helper()

	nodes := []*attribution.Node{
		{ID: "e_0", Layer: attribution.EmbeddingLayer, CtxIdx: intPtr(0), FeatureType: attribution.FeatureEmbedding},
		{ID: "d_1", Layer: 2, CtxIdx: intPtr(1), Explanation: "capital city names"},
		{ID: "m_1", Layer: 8, CtxIdx: intPtr(1), Explanation: "state capital relation"},
		{ID: "m_2", Layer: 10, CtxIdx: intPtr(2), Explanation: "state capital relation lookup"},
		{ID: "m_3", Layer: 12, CtxIdx: intPtr(2)},
		{ID: "o_1", Layer: 18, CtxIdx: intPtr(3), TopLogits: []attribution.TokenValue{{Token: " Austin", Value: 3}}},
		{ID: "o_2", Layer: 20, CtxIdx: intPtr(3), TopLogits: []attribution.TokenValue{{Token: " Austin", Value: 2}}},
		{ID: "logit", Layer: 26, CtxIdx: intPtr(3), FeatureType: attribution.FeatureLogit},
	}
	edges := []attribution.Edge{
		{Source: "e_0", Target: "d_1", Weight: 2},
		{Source: "d_1", Target: "m_1", Weight: 3},
		{Source: "m_1", Target: "m_2", Weight: 4},
		{Source: "m_2", Target: "m_3", Weight: -1},
		{Source: "m_2", Target: "o_1", Weight: 3},
		{Source: "o_1", Target: "o_2", Weight: 2},
		{Source: "o_1", Target: "logit", Weight: 4},
		{Source: "o_2", Target: "logit", Weight: 5},
	}
	g := attribution.NewGraph(nodes, edges)
	return NewEngine(analysis.NewAnalyzer(g, analysis.DefaultOptions()), opts)
}

func allIDs(e *Engine) []string {
	return append([]string(nil), e.graph.NodeIDs()...)
}

// assertPartition checks that supernodes cover want exactly once each.
func assertPartition(t *testing.T, sns []*Supernode, want []string) {
	t.Helper()

	seen := make(map[string]int)
	for _, sn := range sns {
		if len(sn.NodeIDs) == 0 {
			t.Errorf("supernode %s is empty", sn.ID)
		}
		for _, id := range sn.NodeIDs {
			seen[id]++
		}
	}
	for _, id := range want {
		if seen[id] != 1 {
			t.Errorf("node %s assigned %d times", id, seen[id])
		}
	}
	if len(seen) != len(want) {
		t.Errorf("expected %d distinct ids, got %d", len(want), len(seen))
	}
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods {
		if got, err := ParseMethod(string(m)); err != nil || got != m {
			t.Errorf("ParseMethod(%q) = %v, %v", m, got, err)
		}
	}

	_, err := ParseMethod("spectral")
	if !errors.Is(err, ErrInvalidGrouping) {
		t.Fatalf("Expected ErrInvalidGrouping, got %v", err)
	}
	var ige *InvalidGroupingError
	if !errors.As(err, &ige) || ige.Value != "spectral" {
		t.Errorf("Expected error naming spectral, got %v", err)
	}
}

func TestGroup_InvalidMethod(t *testing.T) {
	e := setupEngine(t, DefaultOptions())
	if _, err := e.Group(allIDs(e), Method("nope")); !errors.Is(err, ErrInvalidGrouping) {
		t.Errorf("Expected ErrInvalidGrouping, got %v", err)
	}
}

func TestGroup_AllMethodsPartition(t *testing.T) {
	for _, m := range Methods {
		t.Run(string(m), func(t *testing.T) {
			e := setupEngine(t, DefaultOptions())
			ids := allIDs(e)

			sns, err := e.Group(ids, m)
			if err != nil {
				t.Fatalf("Group: %v", err)
			}
			assertPartition(t, sns, ids)
			if len(sns) < 3 || len(sns) > 7 {
				t.Errorf("Expected 3-7 supernodes, got %d", len(sns))
			}
			for i, sn := range sns {
				if sn.ID != fmt.Sprintf("sn_%d", i+1) {
					t.Errorf("Expected id sn_%d, got %s", i+1, sn.ID)
				}
				if i > 0 && sns[i-1].MinLayer() > sn.MinLayer() {
					t.Errorf("Supernodes not ordered by min layer")
				}
			}
		})
	}
}

func TestGroup_Functional(t *testing.T) {
	e := setupEngine(t, DefaultOptions())

	sns, err := e.Group(allIDs(e), MethodFunctional)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(sns) != 3 {
		t.Fatalf("Expected 3 role groups, got %d", len(sns))
	}

	wantRoles := []Role{RoleInputDetector, RoleRelationalProcessor, RoleOutputPromoter}
	for i, sn := range sns {
		if sn.Role != wantRoles[i] {
			t.Errorf("supernode %d role = %s, want %s", i, sn.Role, wantRoles[i])
		}
	}
	if sns[0].LayerRange != [2]int{0, 2} {
		t.Errorf("Expected embedding counted as layer 0, got range %v", sns[0].LayerRange)
	}
	if sns[0].Label != "input-detector (layers 0-2)" {
		t.Errorf("Unexpected fallback label %q", sns[0].Label)
	}
}

func TestGroup_FunctionalSplitsToMinimum(t *testing.T) {
	e := setupEngine(t, DefaultOptions())

	// Only middle-layer nodes: one role bucket, split until three groups.
	sns, err := e.Group([]string{"m_1", "m_2", "m_3"}, MethodFunctional)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(sns) != 3 {
		t.Fatalf("Expected split to 3 groups, got %d", len(sns))
	}
	for _, sn := range sns {
		if sn.Role != RoleRelationalProcessor {
			t.Errorf("Expected relational-processor, got %s", sn.Role)
		}
	}
}

func TestGroup_TooFewNodes(t *testing.T) {
	e := setupEngine(t, DefaultOptions())

	sns, err := e.Group([]string{"o_1"}, MethodHybrid)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(sns) != 1 || sns[0].NodeIDs[0] != "o_1" {
		t.Errorf("Expected a single supernode, got %+v", sns)
	}
}

func TestGroup_LayerMergesToMaximum(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxGroups = 4
	e := setupEngine(t, opts)
	ids := allIDs(e)

	sns, err := e.Group(ids, MethodLayer)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(sns) != 4 {
		t.Errorf("Expected 4 groups, got %d", len(sns))
	}
	assertPartition(t, sns, ids)
}

func TestGroup_SemanticSharesDescriptors(t *testing.T) {
	e := setupEngine(t, DefaultOptions())

	sns, err := e.Group(allIDs(e), MethodSemantic)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}

	owner := make(map[string]string)
	for _, sn := range sns {
		for _, id := range sn.NodeIDs {
			owner[id] = sn.ID
		}
	}
	if owner["m_1"] != owner["m_2"] {
		t.Error("Expected nodes with overlapping explanations in one supernode")
	}
	if owner["o_1"] != owner["o_2"] {
		t.Error("Expected nodes promoting the same logit in one supernode")
	}
}

func TestGroup_DropsUnknownAndDuplicateIDs(t *testing.T) {
	e := setupEngine(t, DefaultOptions())

	sns, err := e.Group([]string{"m_1", "m_1", "ghost", "o_1", "d_1"}, MethodFunctional)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	assertPartition(t, sns, []string{"d_1", "m_1", "o_1"})
}

func TestGroup_TotalInfluenceIsMeanImportance(t *testing.T) {
	e := setupEngine(t, DefaultOptions())
	importance := e.analyzer.ComputeNodeImportance()

	sns, _ := e.Group(allIDs(e), MethodFunctional)
	for _, sn := range sns {
		sum := 0.0
		for _, id := range sn.NodeIDs {
			sum += importance[id]
		}
		if want := sum / float64(len(sn.NodeIDs)); sn.TotalInfluence != want {
			t.Errorf("%s TotalInfluence = %v, want %v", sn.ID, sn.TotalInfluence, want)
		}
	}
}

func TestGroup_Empty(t *testing.T) {
	e := setupEngine(t, DefaultOptions())
	sns, err := e.Group(nil, MethodLayer)
	if err != nil || len(sns) != 0 {
		t.Errorf("Expected no supernodes, got %v (%v)", sns, err)
	}
}

func TestFallbackLabel(t *testing.T) {
	if got := FallbackLabel(RoleOutputPromoter, 16, 25); got != "output-promoter (layers 16-25)" {
		t.Errorf("FallbackLabel = %q", got)
	}
}

func TestGroupingProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("every method partitions exactly the input ids", prop.ForAll(
		func(seed int64, size int, pick int) bool {
			rng := rand.New(rand.NewSource(seed))
			nodes := make([]*attribution.Node, size)
			for i := range nodes {
				nodes[i] = &attribution.Node{
					ID:     fmt.Sprintf("n%02d", i),
					Layer:  rng.Intn(27) - 1,
					CtxIdx: intPtr(rng.Intn(4)),
				}
				if rng.Intn(2) == 0 {
					nodes[i].Explanation = []string{"city name", "state capital", "capital city", "sports team"}[rng.Intn(4)]
				}
			}
			var edges []attribution.Edge
			for i := 0; i < size*2; i++ {
				edges = append(edges, attribution.Edge{
					Source: nodes[rng.Intn(size)].ID,
					Target: nodes[rng.Intn(size)].ID,
					Weight: rng.Float64()*2 - 1,
				})
			}
			g := attribution.NewGraph(nodes, edges)
			e := NewEngine(analysis.NewAnalyzer(g, analysis.DefaultOptions()), DefaultOptions())

			ids := append([]string(nil), g.NodeIDs()...)
			sns, err := e.Group(ids, Methods[pick])
			if err != nil {
				return false
			}

			var got []string
			for _, sn := range sns {
				if len(sn.NodeIDs) == 0 {
					return false
				}
				got = append(got, sn.NodeIDs...)
			}
			sort.Strings(got)
			if len(got) != len(ids) {
				return false
			}
			for i := range got {
				if got[i] != ids[i] {
					return false
				}
			}
			return size < 3 || (len(sns) >= 3 && len(sns) <= 7)
		},
		gen.Int64(),
		gen.IntRange(1, 40),
		gen.IntRange(0, len(Methods)-1),
	))

	properties.TestingRun(t)
}
