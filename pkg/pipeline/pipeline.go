// Package pipeline runs circuit reduction end to end: analyze, select,
// group, label, trace and validate, with an optional refinement loop that
// widens the node bound when validation fails.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-circuit/pkg/analysis"
	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/config"
	"github.com/dd0wney/cluso-circuit/pkg/grouping"
	"github.com/dd0wney/cluso-circuit/pkg/labeling"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
	"github.com/dd0wney/cluso-circuit/pkg/metrics"
	"github.com/dd0wney/cluso-circuit/pkg/pathtrace"
	"github.com/dd0wney/cluso-circuit/pkg/quality"
	"github.com/dd0wney/cluso-circuit/pkg/selection"
)

// Stage names used in logs and metrics.
const (
	StageAnalyze  = "analyze"
	StageSelect   = "select"
	StageGroup    = "group"
	StageLabel    = "label"
	StageTrace    = "trace"
	StageValidate = "validate"
)

// Options are the per-run choices layered over the configuration.
type Options struct {
	Strategy selection.Strategy
	Method   grouping.Method
	// MaxNodes overrides the configured node bound when positive.
	MaxNodes int
	// RefineAttempts overrides the configured attempt count when positive.
	RefineAttempts int
	// Labeler names supernodes. Nil keeps the fallback labels.
	Labeler     labeling.Labeler
	InputToken  string
	OutputLogit string
	Logger      logging.Logger
	Metrics     *metrics.Registry
}

// Reduction is one select, group and validate pass.
type Reduction struct {
	MaxNodes   int
	Pinned     []string
	Supernodes []*grouping.Supernode
	Validation quality.ValidationResult
}

// Result is the outcome of a full run.
type Result struct {
	RunID     string
	Document  *attribution.Document
	Analyzer  *analysis.Analyzer
	Strategy  selection.Strategy
	Method    grouping.Method
	Reduction *Reduction
	Attempts  int
	Path      *pathtrace.ComputationPath
	Fallbacks int
	Duration  time.Duration
}

// Output builds the output document of the run.
func (r *Result) Output() *Output {
	return NewOutput(r.Reduction.Pinned, r.Reduction.Supernodes, r.Document.Raw())
}

// Pipeline runs reductions with one configuration.
type Pipeline struct {
	cfg     *config.Config
	opts    Options
	logger  logging.Logger
	metrics *metrics.Registry
}

// New creates a pipeline. Empty strategy and method fall back to the
// configured defaults.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Strategy == "" {
		s, err := selection.ParseStrategy(cfg.Selection.Strategy)
		if err != nil {
			return nil, err
		}
		opts.Strategy = s
	}
	if opts.Method == "" {
		m, err := grouping.ParseMethod(cfg.Grouping.Method)
		if err != nil {
			return nil, err
		}
		opts.Method = m
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = cfg.Selection.MaxNodes
	}
	if opts.RefineAttempts <= 0 {
		opts.RefineAttempts = cfg.Refine.MaxAttempts
	}
	if opts.InputToken == "" {
		opts.InputToken = cfg.Trace.InputToken
	}
	if opts.OutputLogit == "" {
		opts.OutputLogit = cfg.Trace.OutputLogit
	}
	return &Pipeline{
		cfg:     cfg,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger),
		metrics: opts.Metrics,
	}, nil
}

func (p *Pipeline) stage(logger logging.Logger, name string) func() {
	timer := logging.StartTimer(logger, "stage complete", logging.Stage(name))
	return func() {
		d := timer.End()
		if p.metrics != nil {
			p.metrics.RecordStage(name, d)
		}
	}
}

// Analyze builds the analyzer for doc and warms its caches.
func (p *Pipeline) Analyze(doc *attribution.Document) *analysis.Analyzer {
	return p.analyze(p.logger, doc)
}

func (p *Pipeline) analyze(logger logging.Logger, doc *attribution.Document) *analysis.Analyzer {
	done := p.stage(logger, StageAnalyze)
	defer done()

	g := doc.Graph()
	if p.metrics != nil {
		p.metrics.RecordGraph(g.NodeCount(), g.EdgeCount(), g.DanglingEdges())
	}
	if g.DanglingEdges() > 0 {
		logger.Warn("graph has edges to unknown nodes", logging.Count(g.DanglingEdges()))
	}

	a := analysis.NewAnalyzer(g, p.cfg.AnalysisOptions(logger))
	a.ComputeNodeImportance()
	return a
}

// Reduce runs one selection, grouping and validation pass with the given
// node bound.
func (p *Pipeline) Reduce(a *analysis.Analyzer, maxNodes int) (*Reduction, error) {
	return p.reduce(p.logger, a, maxNodes)
}

func (p *Pipeline) reduce(logger logging.Logger, a *analysis.Analyzer, maxNodes int) (*Reduction, error) {
	r := &Reduction{MaxNodes: maxNodes}

	done := p.stage(logger, StageSelect)
	selOpts := p.cfg.SelectionOptions(logger)
	selOpts.MaxNodes = maxNodes
	selector := selection.NewSelector(a, selOpts)
	pinned, err := selector.Select(p.opts.Strategy)
	done()
	if err != nil {
		return nil, err
	}
	r.Pinned = pinned
	if p.metrics != nil {
		p.metrics.RecordSelection(string(p.opts.Strategy), len(pinned))
		if p.opts.Strategy == selection.StrategyPathway {
			p.metrics.RecordPaths(selector.TracedPaths())
		}
	}

	done = p.stage(logger, StageGroup)
	supernodes, err := grouping.NewEngine(a, p.cfg.GroupingOptions(logger)).Group(pinned, p.opts.Method)
	done()
	if err != nil {
		return nil, err
	}
	r.Supernodes = supernodes
	if p.metrics != nil {
		p.metrics.RecordGrouping(string(p.opts.Method), len(supernodes))
	}

	done = p.stage(logger, StageValidate)
	r.Validation = quality.NewCalculator(a.Graph(), pinned, len(supernodes)).Validate(p.cfg.Quality)
	done()
	if p.metrics != nil {
		p.metrics.RecordValidation(r.Validation.Passed, r.Validation.ReplacementScore, r.Validation.CompletenessScore)
	}
	return r, nil
}

// Refine reduces with a growing node bound until validation passes, the
// attempts run out or the bound stops mattering. It returns the last
// reduction and the number of passes made.
func (p *Pipeline) Refine(a *analysis.Analyzer, maxNodes, attempts int) (*Reduction, int, error) {
	return p.refine(p.logger, a, maxNodes, attempts)
}

func (p *Pipeline) refine(logger logging.Logger, a *analysis.Analyzer, maxNodes, attempts int) (*Reduction, int, error) {
	r, err := p.reduce(logger, a, maxNodes)
	if err != nil {
		return nil, 0, err
	}

	passes := 1
	total := a.Graph().NodeCount()
	for !r.Validation.Passed && passes <= attempts && maxNodes < total {
		maxNodes += p.cfg.Refine.NodeStep
		logger.Info("validation failed, widening selection",
			logging.Int("attempt", passes),
			logging.Int("max_nodes", maxNodes),
			logging.Score("replacement", r.Validation.ReplacementScore),
			logging.Score("completeness", r.Validation.CompletenessScore))
		if p.metrics != nil {
			p.metrics.RecordRefine()
		}

		next, err := p.reduce(logger, a, maxNodes)
		if err != nil {
			return nil, passes, err
		}
		r = next
		passes++
	}
	return r, passes, nil
}

// Run reduces doc to a labeled, traced and validated circuit.
func (p *Pipeline) Run(ctx context.Context, doc *attribution.Document) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := p.logger.With(logging.RunID(runID))

	logger.Info("starting circuit reduction",
		logging.Strategy(string(p.opts.Strategy)),
		logging.Grouping(string(p.opts.Method)),
		logging.Int("max_nodes", p.opts.MaxNodes))

	res := &Result{
		RunID:    runID,
		Document: doc,
		Strategy: p.opts.Strategy,
		Method:   p.opts.Method,
	}
	res.Analyzer = p.analyze(logger, doc)

	reduction, passes, err := p.refine(logger, res.Analyzer, p.opts.MaxNodes, p.opts.RefineAttempts)
	if err != nil {
		return nil, fmt.Errorf("reduce: %w", err)
	}
	res.Reduction, res.Attempts = reduction, passes

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := p.stage(logger, StageLabel)
	res.Fallbacks = labeling.Apply(ctx, p.opts.Labeler, res.Analyzer.Graph(), reduction.Supernodes, labeling.ApplyOptions{
		Prompt:      doc.Metadata.Prompt,
		TargetLogit: p.opts.OutputLogit,
		Timeout:     p.cfg.Labeling.Timeout,
		Logger:      logger,
		Metrics:     p.metrics,
	})
	done()

	done = p.stage(logger, StageTrace)
	tracer := pathtrace.NewTracer(res.Analyzer.Graph(), reduction.Supernodes, p.cfg.TraceOptions(logger, doc.Metadata.PromptTokens))
	res.Path = tracer.TraceComputation(p.opts.InputToken, p.opts.OutputLogit)
	done()

	res.Duration = time.Since(start)
	logger.Info("circuit reduction complete",
		logging.NodeCount(len(reduction.Pinned)),
		logging.Int("supernodes", len(reduction.Supernodes)),
		logging.Bool("passed", reduction.Validation.Passed),
		logging.Int("attempts", passes),
		logging.Duration("duration", res.Duration))
	return res, nil
}
