// Package report renders analysis and reduction results for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-circuit/pkg/analysis"
	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/pathtrace"
	"github.com/dd0wney/cluso-circuit/pkg/pipeline"
	"github.com/dd0wney/cluso-circuit/pkg/source"
)

// Styles
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 2).
			MarginRight(2)

	pathBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#FFFF00")).
			Padding(0, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
)

// Listing sizes of the analysis report.
const (
	TopNodes      = 10
	TopHubs       = 20
	TopLayerFlows = 30
	TopTokenFlows = 20
)

const (
	maxExplanation     = 50
	maxPayloadListing  = 10
	noExplanation      = "No explanation"
	unknownExplanation = "Unknown"
)

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func bullet(b *strings.Builder, format string, args ...any) {
	b.WriteString("  - ")
	fmt.Fprintf(b, format, args...)
	b.WriteByte('\n')
}

func write(w io.Writer, blocks ...string) error {
	_, err := io.WriteString(w, strings.Join(blocks, "\n")+"\n")
	return err
}

// AnalysisInput is what the analysis report renders.
type AnalysisInput struct {
	Summary    analysis.Summary
	Top        []analysis.RankedNode
	Hubs       analysis.HubRanking
	LayerFlows []analysis.Flow
	TokenFlows []analysis.Flow
	// HubSample is an in-degree sample at one layer and token position.
	HubSample      []analysis.DegreeStats
	HubSampleLayer int
	HubSampleCtx   int
	Metadata       attribution.Metadata
}

// NewAnalysisInput gathers the report data from an analyzer.
func NewAnalysisInput(a *analysis.Analyzer, md attribution.Metadata) AnalysisInput {
	return AnalysisInput{
		Summary:    a.Summary(),
		Top:        a.TopNodes(TopNodes),
		Hubs:       a.Hubs(TopHubs),
		LayerFlows: firstFlows(a.LayerFlows(), TopLayerFlows),
		TokenFlows: firstFlows(a.TokenFlows(), TopTokenFlows),
		Metadata:   md,
	}
}

func firstFlows(flows []analysis.Flow, n int) []analysis.Flow {
	if len(flows) > n {
		return flows[:n]
	}
	return flows
}

func layerName(layer int) string {
	if layer == attribution.EmbeddingLayer {
		return "E"
	}
	return strconv.Itoa(layer)
}

func (in AnalysisInput) tokenName(ctx int) string {
	if tok, ok := in.Metadata.Token(ctx); ok {
		return strconv.Quote(tok)
	}
	return fmt.Sprintf("ctx%d", ctx)
}

func degreeLayer(d analysis.DegreeStats) string {
	if d.Node == nil {
		return "?"
	}
	return layerName(d.Node.Layer)
}

// Analysis renders graph statistics, the top ranked nodes, hubs, layer and
// token flows, and a suggested strategy. Empty sections are left out.
func Analysis(w io.Writer, in AnalysisInput) error {
	s := in.Summary
	var stats strings.Builder
	stats.WriteString("Graph Statistics\n")
	fmt.Fprintf(&stats, "Nodes:     %d\n", s.Nodes)
	fmt.Fprintf(&stats, "Edges:     %d\n", s.Edges)
	if s.DanglingEdges > 0 {
		fmt.Fprintf(&stats, "Dangling:  %d\n", s.DanglingEdges)
	}
	if s.Nodes > 0 {
		fmt.Fprintf(&stats, "Layers:    %d-%d\n", s.MinLayer, s.MaxLayer)
	}
	fmt.Fprintf(&stats, "Inputs:    %d\n", s.InputFeatures)
	fmt.Fprintf(&stats, "Outputs:   %d", s.OutputFeatures)

	types := make([]attribution.FeatureType, 0, len(s.FeatureTypes))
	for ft := range s.FeatureTypes {
		types = append(types, ft)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	var features strings.Builder
	features.WriteString("Feature Types")
	for _, ft := range types {
		fmt.Fprintf(&features, "\n%-24s %d", ft, s.FeatureTypes[ft])
	}

	var ranked strings.Builder
	fmt.Fprintf(&ranked, "Top %d Most Important Nodes:\n", TopNodes)
	for i, rn := range in.Top {
		explanation := unknownExplanation
		if rn.Node != nil {
			explanation = rn.Node.Explanation
			if explanation == "" {
				explanation = noExplanation
			}
		}
		fmt.Fprintf(&ranked, "  %d. %s (influence: %.3f) - %s\n", i+1, rn.NodeID, rn.Score, truncate(explanation, maxExplanation))
	}

	blocks := []string{
		headerStyle.Render("Attribution Graph Analysis"),
		lipgloss.JoinHorizontal(lipgloss.Top, statsBoxStyle.Render(stats.String()), statsBoxStyle.Render(features.String())),
		ranked.String(),
	}

	if len(in.Hubs.ByDegree) > 0 {
		var hubs strings.Builder
		fmt.Fprintf(&hubs, "Top %d Hub Nodes (by total degree):\n", TopHubs)
		for i, d := range in.Hubs.ByDegree {
			fmt.Fprintf(&hubs, "  %d. %-20s layer %-3s in %-4d out %-4d total %d\n",
				i+1, d.NodeID, degreeLayer(d), d.In, d.Out, d.Total())
		}
		fmt.Fprintf(&hubs, "\nTop %d Nodes by Weighted In-degree:\n", TopHubs)
		for i, d := range in.Hubs.ByWeightedIn {
			fmt.Fprintf(&hubs, "  %d. %-20s layer %-3s weighted in %.2f\n", i+1, d.NodeID, degreeLayer(d), d.WeightedIn)
		}
		fmt.Fprintf(&hubs, "\nTop %d Nodes by Weighted Out-degree:\n", TopHubs)
		for i, d := range in.Hubs.ByWeightedOut {
			fmt.Fprintf(&hubs, "  %d. %-20s layer %-3s weighted out %.2f\n", i+1, d.NodeID, degreeLayer(d), d.WeightedOut)
		}
		blocks = append(blocks, hubs.String())
	}

	if len(in.HubSample) > 0 {
		var sample strings.Builder
		fmt.Fprintf(&sample, "Hub Sample (layer %s, C%d %s):\n", layerName(in.HubSampleLayer), in.HubSampleCtx, in.tokenName(in.HubSampleCtx))
		for i, d := range in.HubSample {
			fmt.Fprintf(&sample, "  %d. %s in %d\n", i+1, d.NodeID, d.In)
		}
		blocks = append(blocks, sample.String())
	}

	if len(in.LayerFlows) > 0 {
		var flows strings.Builder
		flows.WriteString("Layer-to-Layer Flows (by total weight):\n")
		for _, f := range in.LayerFlows {
			fmt.Fprintf(&flows, "  Layer %2s -> Layer %2s: %4d edges, total %8.1f, mean %6.2f, max %7.2f\n",
				layerName(f.From), layerName(f.To), f.Edges, f.TotalWeight, f.MeanWeight(), f.MaxWeight)
		}
		blocks = append(blocks, flows.String())
	}

	if len(in.TokenFlows) > 0 {
		var flows strings.Builder
		flows.WriteString("Token-to-Token Flows (by edge count):\n")
		for _, f := range in.TokenFlows {
			fmt.Fprintf(&flows, "  C%d %s -> C%d %s: %d edges, total %.1f\n",
				f.From, in.tokenName(f.From), f.To, in.tokenName(f.To), f.Edges, f.TotalWeight)
		}
		blocks = append(blocks, flows.String())
	}

	var suggestion strings.Builder
	suggestion.WriteString("Suggested Strategy:\n")
	bullet(&suggestion, "Consider 'pathway' strategy for clear computational paths")
	bullet(&suggestion, "Expect ~5 supernodes from functional grouping")
	if s.DanglingEdges > 0 {
		bullet(&suggestion, "%d edges reference unknown nodes and are ignored", s.DanglingEdges)
	}
	blocks = append(blocks, helpStyle.Render(strings.TrimRight(suggestion.String(), "\n")))

	return write(w, blocks...)
}

// Result renders a pipeline run: the supernodes, the computation path and
// the validation outcome.
func Result(w io.Writer, res *pipeline.Result) error {
	r := res.Reduction

	var stats strings.Builder
	fmt.Fprintf(&stats, "Run:         %s\n", res.RunID)
	fmt.Fprintf(&stats, "Strategy:    %s\n", res.Strategy)
	fmt.Fprintf(&stats, "Grouping:    %s\n", res.Method)
	fmt.Fprintf(&stats, "Pinned:      %d / %d\n", len(r.Pinned), r.MaxNodes)
	fmt.Fprintf(&stats, "Supernodes:  %d\n", len(r.Supernodes))
	fmt.Fprintf(&stats, "Attempts:    %d\n", res.Attempts)
	fmt.Fprintf(&stats, "Duration:    %s", res.Duration.Round(time.Millisecond))

	var groups strings.Builder
	groups.WriteString("Supernodes")
	for _, sn := range r.Supernodes {
		fmt.Fprintf(&groups, "\n%s (%d nodes, layers %d-%d)", sn.Label, len(sn.NodeIDs), sn.MinLayer(), sn.MaxLayer())
	}
	if res.Fallbacks > 0 {
		fmt.Fprintf(&groups, "\n%s", helpStyle.Render(fmt.Sprintf("%d fallback labels", res.Fallbacks)))
	}

	narrative := pathtrace.NoPathwayNarrative
	if res.Path != nil && res.Path.Narrative != "" {
		narrative = res.Path.Narrative
	}
	var path strings.Builder
	path.WriteString("Computation Path\n")
	path.WriteString(narrative)
	if res.Path != nil && len(res.Path.Bottlenecks) > 0 {
		labels := make([]string, len(res.Path.Bottlenecks))
		for i, sn := range res.Path.Bottlenecks {
			labels[i] = sn.Label
		}
		fmt.Fprintf(&path, "\nBottlenecks: %s", strings.Join(labels, ", "))
	}

	v := r.Validation
	status := successStyle.Render("PASSED")
	if !v.Passed {
		status = errorStyle.Render("FAILED")
	}
	var validation strings.Builder
	fmt.Fprintf(&validation, "Validation: %s\n", status)
	fmt.Fprintf(&validation, "  Replacement:  %.3f\n", v.ReplacementScore)
	fmt.Fprintf(&validation, "  Completeness: %.3f\n", v.CompletenessScore)
	for _, s := range v.Suggestions {
		bullet(&validation, "%s", s)
	}

	return write(w,
		headerStyle.Render("Circuit Reduction"),
		lipgloss.JoinHorizontal(lipgloss.Top, statsBoxStyle.Render(stats.String()), statsBoxStyle.Render(groups.String())),
		pathBoxStyle.Render(path.String()),
		strings.TrimRight(validation.String(), "\n"),
	)
}

// Payload summarizes a subgraph payload: supernodes per phase, the largest
// supernodes and the pinned ids.
func Payload(w io.Writer, p *source.SubgraphPayload) error {
	phases := make(map[string]int)
	for _, sn := range p.Supernodes {
		phases[source.Phase(sn.Layer)]++
	}

	var stats strings.Builder
	fmt.Fprintf(&stats, "Model:       %s\n", p.ModelID)
	fmt.Fprintf(&stats, "Slug:        %s\n", p.Slug)
	fmt.Fprintf(&stats, "Supernodes:  %d\n", len(p.Supernodes))
	fmt.Fprintf(&stats, "Pinned:      %d", len(p.PinnedIDs))

	var byPhase strings.Builder
	byPhase.WriteString("Supernodes by Phase")
	for _, layer := range []int{0, 6, 16, 22} {
		phase := source.Phase(layer)
		if n := phases[phase]; n > 0 {
			fmt.Fprintf(&byPhase, "\n%-18s %d", phase+":", n)
		}
	}

	largest := append([]source.PayloadSupernode(nil), p.Supernodes...)
	sort.SliceStable(largest, func(i, j int) bool {
		return len(largest[i].NodeIDs) > len(largest[j].NodeIDs)
	})
	if len(largest) > maxPayloadListing {
		largest = largest[:maxPayloadListing]
	}
	var list strings.Builder
	fmt.Fprintf(&list, "Largest Supernodes (Top %d):\n", maxPayloadListing)
	for i, sn := range largest {
		fmt.Fprintf(&list, "  %d. %s\n", i+1, sn.Label)
	}
	list.WriteString("\nPinned Nodes:\n")
	for _, id := range p.PinnedIDs {
		bullet(&list, "%s", id)
	}

	return write(w,
		headerStyle.Render("Supernode Configuration"),
		lipgloss.JoinHorizontal(lipgloss.Top, statsBoxStyle.Render(stats.String()), statsBoxStyle.Render(byPhase.String())),
		strings.TrimRight(list.String(), "\n"),
	)
}
