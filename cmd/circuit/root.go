package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-circuit/pkg/config"
	"github.com/dd0wney/cluso-circuit/pkg/labeling"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
	"github.com/dd0wney/cluso-circuit/pkg/metrics"
	"github.com/dd0wney/cluso-circuit/pkg/pipeline"
	"github.com/dd0wney/cluso-circuit/pkg/source"
)

const defaultOutput = "cleaned_graph.json"

// app holds the state shared by every command of one invocation.
type app struct {
	configPath  string
	envFile     string
	metricsFile string
	logLevel    string

	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Registry
}

// reductionFlags are the reduction choices shared by the cleanup commands.
type reductionFlags struct {
	strategy string
	grouping string
	maxNodes int
	refine   int
	label    bool
	output   string
	send     bool
}

func (f *reductionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "Selection strategy: pathway, importance or balanced (default from config)")
	cmd.Flags().StringVar(&f.grouping, "grouping", "", "Grouping method: functional, layer, semantic or hybrid (default from config)")
	cmd.Flags().IntVar(&f.maxNodes, "max-nodes", 0, "Maximum nodes to pin (default from config)")
	cmd.Flags().IntVar(&f.refine, "refine", 0, "Widen the selection up to this many times while validation fails")
	cmd.Flags().BoolVar(&f.label, "label", false, "Label supernodes with the configured LLM")
	cmd.Flags().StringVar(&f.output, "output", defaultOutput, "Output file path (.sz for snappy)")
	cmd.Flags().BoolVar(&f.send, "send", false, "Save the reduced circuit as a Neuronpedia subgraph")
}

// apply folds the flags into the configuration before it is validated.
func (f *reductionFlags) apply(cfg *config.Config) {
	if f.strategy != "" {
		cfg.Selection.Strategy = f.strategy
	}
	if f.grouping != "" {
		cfg.Grouping.Method = f.grouping
	}
	if f.maxNodes > 0 {
		cfg.Selection.MaxNodes = f.maxNodes
	}
	if f.refine > 0 {
		cfg.Refine.MaxAttempts = f.refine
	}
	if f.label {
		cfg.Labeling.Enabled = true
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "circuit",
		Short: "Reduce attribution graphs to labeled circuits",
		Long: `circuit analyzes attribution graphs, pins the most important features,
groups them into supernodes and checks how well the reduced circuit
reproduces the full graph.

Examples:
  circuit analyze --graph-file graph.json
  circuit cleanup-existing --graph-file graph.json --strategy balanced
  circuit cleanup --slug capital-texas --grouping hybrid --label
  circuit supernodes --graph-file graph.json --send`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error (default from config)")

	root.AddCommand(
		newCleanupCmd(a),
		newCleanupExistingCmd(a),
		newGenerateOnlyCmd(a),
		newAnalyzeCmd(a),
		newSupernodesCmd(a),
	)
	return root
}

// setup loads the environment and configuration, lets the command adjust it
// and validates the result.
func (a *app) setup(cmd *cobra.Command, adjust func(*config.Config)) error {
	if err := config.LoadEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.NewLogger(cmd.ErrOrStderr()).With(logging.Component(cmd.Name()))
	a.metrics = metrics.NewRegistry()
	return nil
}

// run wraps a command body with configuration setup, run accounting and the
// optional metrics textfile.
func (a *app) run(adjust func(*config.Config), body func(context.Context, *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := a.setup(cmd, adjust); err != nil {
			return err
		}

		err := body(cmd.Context(), cmd)
		a.metrics.RecordRun(cmd.Name(), err)
		if err != nil {
			a.logger.Error("command failed", logging.Error(err))
		}

		if a.metricsFile != "" {
			a.metrics.UpdateSystemMetrics()
			if werr := a.metrics.WriteTextfile(a.metricsFile); werr != nil {
				a.logger.Warn("failed to write metrics", logging.Error(werr))
			}
		}
		return err
	}
}

// newSource builds the Neuronpedia client with S3 support for s3:// graph URLs.
func (a *app) newSource(ctx context.Context) (*source.Client, error) {
	sc := a.cfg.Source
	s3Client, err := source.NewS3Client(ctx, source.S3Options{
		Region:       sc.S3Region,
		Endpoint:     sc.S3Endpoint,
		AccessKey:    sc.S3AccessKey,
		SecretKey:    sc.S3SecretKey,
		UsePathStyle: sc.S3UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return source.NewClient(source.Options{
		BaseURL:        sc.BaseURL,
		APIKey:         sc.APIKey,
		DefaultModelID: sc.ModelID,
		Timeout:        sc.Timeout,
		S3:             s3Client,
		Logger:         a.logger.With(logging.Component("source")),
		Metrics:        a.metrics,
	}), nil
}

// newPipeline builds a pipeline from the validated configuration, with an
// LLM labeler when labeling is enabled.
func (a *app) newPipeline() (*pipeline.Pipeline, error) {
	opts := pipeline.Options{
		Logger:  a.logger,
		Metrics: a.metrics,
	}
	if lc := a.cfg.Labeling; lc.Enabled {
		l, err := labeling.NewOpenAILabeler(labeling.OpenAIOptions{
			APIKey:      lc.APIKey,
			Model:       lc.Model,
			BaseURL:     lc.BaseURL,
			MaxTokens:   lc.MaxTokens,
			Temperature: lc.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("create labeler: %w", err)
		}
		opts.Labeler = l
	}
	return pipeline.New(a.cfg, opts)
}
