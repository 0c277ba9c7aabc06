// Package quality scores how faithfully a pinned subgraph reproduces the full
// graph's influence on the prediction.
package quality

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
)

// ValidationResult reports the quality of a reduced circuit.
type ValidationResult struct {
	Passed            bool     `json:"passed"`
	ReplacementScore  float64  `json:"replacement_score"`
	CompletenessScore float64  `json:"completeness_score"`
	NumSupernodes     int      `json:"num_supernodes"`
	Suggestions       []string `json:"suggestions"`
}

// Thresholds are the pass criteria for Validate.
type Thresholds struct {
	MinReplacement  float64 `yaml:"min_replacement"`
	MinCompleteness float64 `yaml:"min_completeness"`
	// Supernode counts outside [MinSupernodes, MaxSupernodes] add advice but
	// never fail validation.
	MinSupernodes int `yaml:"min_supernodes"`
	MaxSupernodes int `yaml:"max_supernodes"`
}

// DefaultThresholds returns the standard pass criteria.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinReplacement:  0.5,
		MinCompleteness: 0.7,
		MinSupernodes:   3,
		MaxSupernodes:   7,
	}
}

// Calculator computes quality scores for one pinned set.
type Calculator struct {
	graph         *attribution.Graph
	pinned        map[string]bool
	numSupernodes int
}

// NewCalculator creates a calculator for the pinned ids of g.
func NewCalculator(g *attribution.Graph, pinned []string, numSupernodes int) *Calculator {
	set := make(map[string]bool, len(pinned))
	for _, id := range pinned {
		set[id] = true
	}
	return &Calculator{graph: g, pinned: set, numSupernodes: numSupernodes}
}

// isLogitTarget reports whether an edge target is an output logit. Targets
// outside the loaded node set count when their id carries the logit prefix.
func (c *Calculator) isLogitTarget(id string) bool {
	if n, ok := c.graph.Node(id); ok {
		return n.IsLogit()
	}
	return strings.HasPrefix(id, "logit_")
}

// ReplacementScore is the share of logit-directed influence carried by pinned
// nodes, either directly or through one pinned intermediate whose own logit
// influence is scaled by the connecting weight. The result is clamped to
// [0,1] and is 0 when the graph has no positive logit influence.
func (c *Calculator) ReplacementScore() float64 {
	edges := c.graph.Edges()

	total := 0.0
	toLogit := make(map[string]float64)
	for _, e := range edges {
		if c.isLogitTarget(e.Target) {
			total += e.Weight
			toLogit[e.Source] += e.Weight
		}
	}
	if total <= 0 {
		return 0
	}

	pinned := 0.0
	for _, e := range edges {
		if !c.pinned[e.Source] {
			continue
		}
		switch {
		case c.isLogitTarget(e.Target):
			pinned += e.Weight
		case c.pinned[e.Target]:
			pinned += e.Weight * toLogit[e.Target]
		}
	}

	return clamp(pinned / total)
}

// CompletenessScore averages, over pinned nodes with positive incoming
// weight, the fraction of that weight arriving from other pinned nodes.
func (c *Calculator) CompletenessScore() float64 {
	if len(c.pinned) == 0 {
		return 0
	}

	incoming := make(map[string]float64)
	explained := make(map[string]float64)
	for _, e := range c.graph.Edges() {
		if !c.pinned[e.Target] {
			continue
		}
		incoming[e.Target] += e.Weight
		if c.pinned[e.Source] {
			explained[e.Target] += e.Weight
		}
	}

	total := 0.0
	counted := 0
	for id := range c.pinned {
		if incoming[id] > 0 {
			total += explained[id] / incoming[id]
			counted++
		}
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

// Validate scores the subgraph and checks it against th.
func (c *Calculator) Validate(th Thresholds) ValidationResult {
	return Evaluate(c.ReplacementScore(), c.CompletenessScore(), c.numSupernodes, th)
}

// Evaluate applies th to precomputed scores. Low scores fail validation with a
// remediation hint; a supernode count outside the range only adds advice.
func Evaluate(replacement, completeness float64, numSupernodes int, th Thresholds) ValidationResult {
	result := ValidationResult{
		Passed:            true,
		ReplacementScore:  replacement,
		CompletenessScore: completeness,
		NumSupernodes:     numSupernodes,
		Suggestions:       []string{},
	}

	if replacement < th.MinReplacement {
		result.Passed = false
		result.Suggestions = append(result.Suggestions, fmt.Sprintf(
			"Replacement score (%.2f) below threshold (%g). Consider pinning more influential nodes.",
			replacement, th.MinReplacement))
	}

	if completeness < th.MinCompleteness {
		result.Passed = false
		result.Suggestions = append(result.Suggestions, fmt.Sprintf(
			"Completeness score (%.2f) below threshold (%g). Consider adding nodes that connect existing pinned nodes.",
			completeness, th.MinCompleteness))
	}

	switch {
	case numSupernodes < th.MinSupernodes:
		result.Suggestions = append(result.Suggestions, fmt.Sprintf(
			"Only %d supernodes. Consider breaking large groups into smaller units.", numSupernodes))
	case th.MaxSupernodes > 0 && numSupernodes > th.MaxSupernodes:
		result.Suggestions = append(result.Suggestions, fmt.Sprintf(
			"%d supernodes may be too many for interpretability. Consider merging related groups.", numSupernodes))
	}

	return result
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
