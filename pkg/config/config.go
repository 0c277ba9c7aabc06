// Package config loads circuit reduction settings from a YAML file, a .env
// file and the process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-circuit/pkg/analysis"
	"github.com/dd0wney/cluso-circuit/pkg/grouping"
	"github.com/dd0wney/cluso-circuit/pkg/logging"
	"github.com/dd0wney/cluso-circuit/pkg/pathtrace"
	"github.com/dd0wney/cluso-circuit/pkg/quality"
	"github.com/dd0wney/cluso-circuit/pkg/selection"
	"github.com/dd0wney/cluso-circuit/pkg/validation"
)

// Environment variables that override file settings.
const (
	EnvNeuronpediaAPIKey  = "NEURONPEDIA_API_KEY"
	EnvNeuronpediaBaseURL = "NEURONPEDIA_BASE_URL"
	EnvOpenAIAPIKey       = "OPENAI_API_KEY"
	EnvOpenAIModel        = "OPENAI_MODEL"
	EnvOpenAIBaseURL      = "OPENAI_BASE_URL"
	EnvAWSRegion          = "AWS_REGION"
	EnvAWSEndpoint        = "AWS_ENDPOINT"
	EnvAWSAccessKey       = "AWS_ACCESS_KEY"
	EnvAWSSecretKey       = "AWS_SECRET_KEY"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogFormat          = "LOG_FORMAT"
)

// Config is the full set of settings for one run.
type Config struct {
	Analysis  AnalysisConfig     `yaml:"analysis"`
	Selection SelectionConfig    `yaml:"selection"`
	Grouping  GroupingConfig     `yaml:"grouping"`
	Trace     TraceConfig        `yaml:"trace"`
	Quality   quality.Thresholds `yaml:"quality"`
	Refine    RefineConfig       `yaml:"refine"`
	Source    SourceConfig       `yaml:"source"`
	Labeling  LabelingConfig     `yaml:"labeling"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// AnalysisConfig mirrors analysis.Options.
type AnalysisConfig struct {
	CentralityWeight     float64 `yaml:"centrality_weight" validate:"gte=0"`
	BottleneckThreshold  float64 `yaml:"bottleneck_threshold" validate:"gte=0,lte=1"`
	Epsilon              float64 `yaml:"epsilon" validate:"gt=0"`
	InputLayerThreshold  int     `yaml:"input_layer_threshold" validate:"gte=0"`
	OutputLayerThreshold int     `yaml:"output_layer_threshold" validate:"gte=0"`
	PathsPerPair         int     `yaml:"paths_per_pair" validate:"min=1"`
	// Workers of 0 means one per CPU.
	Workers   int `yaml:"workers" validate:"gte=0"`
	ChunkSize int `yaml:"chunk_size" validate:"min=1"`
}

// SelectionConfig mirrors selection.Options plus the default strategy.
type SelectionConfig struct {
	Strategy       string  `yaml:"strategy" validate:"required"`
	MaxNodes       int     `yaml:"max_nodes" validate:"min=1"`
	SampleSize     int     `yaml:"sample_size" validate:"min=1"`
	InputShare     float64 `yaml:"input_share" validate:"gte=0,lte=1"`
	MiddleShare    float64 `yaml:"middle_share" validate:"gte=0,lte=1"`
	OutputShare    float64 `yaml:"output_share" validate:"gte=0,lte=1"`
	InputLayerMax  int     `yaml:"input_layer_max"`
	MiddleLayerMax int     `yaml:"middle_layer_max"`
}

// GroupingConfig mirrors grouping.Options plus the default method.
type GroupingConfig struct {
	Method                string  `yaml:"method" validate:"required"`
	MinGroups             int     `yaml:"min_groups" validate:"min=1"`
	MaxGroups             int     `yaml:"max_groups" validate:"min=1"`
	SimilarityThreshold   float64 `yaml:"similarity_threshold" validate:"gt=0,lte=1"`
	PropagationIterations int     `yaml:"propagation_iterations" validate:"min=1"`
}

// TraceConfig mirrors pathtrace.Options plus the default endpoints.
type TraceConfig struct {
	InputLayerMax       int     `yaml:"input_layer_max"`
	BottleneckThreshold float64 `yaml:"bottleneck_threshold" validate:"gte=0"`
	InputToken          string  `yaml:"input_token"`
	OutputLogit         string  `yaml:"output_logit"`
}

// RefineConfig bounds the validation feedback loop.
type RefineConfig struct {
	// MaxAttempts of 0 disables refinement.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0,lte=10"`
	// NodeStep is added to the node bound after each failed validation.
	NodeStep int `yaml:"node_step" validate:"min=1"`
}

// SourceConfig configures the Neuronpedia client and S3 downloads.
type SourceConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	APIKey  string        `yaml:"api_key"`
	ModelID string        `yaml:"model_id"`
	Timeout time.Duration `yaml:"timeout"`
	// S3 settings apply to s3:// graph URLs.
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint" validate:"omitempty,url"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
}

// LabelingConfig configures LLM supernode labels.
type LabelingConfig struct {
	Enabled     bool          `yaml:"enabled"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model" validate:"required"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	MaxTokens   int           `yaml:"max_tokens" validate:"min=1"`
	Temperature float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LoggingConfig selects log verbosity and rendering.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Default returns the built-in configuration.
func Default() *Config {
	an := analysis.DefaultOptions()
	sel := selection.DefaultOptions()
	grp := grouping.DefaultOptions()
	tr := pathtrace.DefaultOptions()

	return &Config{
		Analysis: AnalysisConfig{
			CentralityWeight:     an.CentralityWeight,
			BottleneckThreshold:  an.BottleneckThreshold,
			Epsilon:              an.Epsilon,
			InputLayerThreshold:  an.InputLayerThreshold,
			OutputLayerThreshold: an.OutputLayerThreshold,
			PathsPerPair:         an.PathsPerPair,
			ChunkSize:            an.ChunkSize,
		},
		Selection: SelectionConfig{
			Strategy:       string(selection.StrategyPathway),
			MaxNodes:       sel.MaxNodes,
			SampleSize:     sel.SampleSize,
			InputShare:     sel.InputShare,
			MiddleShare:    sel.MiddleShare,
			OutputShare:    sel.OutputShare,
			InputLayerMax:  sel.InputLayerMax,
			MiddleLayerMax: sel.MiddleLayerMax,
		},
		Grouping: GroupingConfig{
			Method:                string(grouping.MethodFunctional),
			MinGroups:             grp.MinGroups,
			MaxGroups:             grp.MaxGroups,
			SimilarityThreshold:   grp.SimilarityThreshold,
			PropagationIterations: grp.PropagationIterations,
		},
		Trace: TraceConfig{
			InputLayerMax:       tr.InputLayerMax,
			BottleneckThreshold: tr.BottleneckThreshold,
		},
		Quality: quality.DefaultThresholds(),
		Refine: RefineConfig{
			MaxAttempts: 0,
			NodeStep:    10,
		},
		Source: SourceConfig{
			BaseURL: "https://www.neuronpedia.org/api",
			ModelID: "gemma-2-2b",
			Timeout: 60 * time.Second,
		},
		Labeling: LabelingConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   50,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatJSON),
		},
	}
}

// LoadEnv loads .env files into the process environment. A missing file is
// not an error; existing variables are never overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a configuration from defaults, the YAML file at path (if any)
// and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides settings from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvNeuronpediaAPIKey, &c.Source.APIKey)
	set(EnvNeuronpediaBaseURL, &c.Source.BaseURL)
	set(EnvOpenAIAPIKey, &c.Labeling.APIKey)
	set(EnvOpenAIModel, &c.Labeling.Model)
	set(EnvOpenAIBaseURL, &c.Labeling.BaseURL)
	set(EnvAWSRegion, &c.Source.S3Region)
	set(EnvAWSEndpoint, &c.Source.S3Endpoint)
	set(EnvAWSAccessKey, &c.Source.S3AccessKey)
	set(EnvAWSSecretKey, &c.Source.S3SecretKey)
	set(EnvLogLevel, &c.Logging.Level)
	set(EnvLogFormat, &c.Logging.Format)
}

// Validate checks field ranges and the rules that span fields.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	cv := validation.NewConfigValidator("config")
	cv.Custom("selection.strategy", func() error {
		_, err := selection.ParseStrategy(c.Selection.Strategy)
		return err
	})
	cv.Custom("grouping.method", func() error {
		_, err := grouping.ParseMethod(c.Grouping.Method)
		return err
	})
	cv.Custom("selection", func() error {
		sum := c.Selection.InputShare + c.Selection.MiddleShare + c.Selection.OutputShare
		if sum > 1+1e-9 {
			return fmt.Errorf("layer shares sum to %g, must not exceed 1", sum)
		}
		if sum == 0 {
			return errors.New("layer shares are all zero")
		}
		return nil
	})
	cv.Custom("selection.middle_layer_max", func() error {
		if c.Selection.MiddleLayerMax < c.Selection.InputLayerMax {
			return fmt.Errorf("must not be below input_layer_max %d", c.Selection.InputLayerMax)
		}
		return nil
	})
	cv.Custom("grouping.max_groups", func() error {
		if c.Grouping.MaxGroups < c.Grouping.MinGroups {
			return fmt.Errorf("must not be below min_groups %d", c.Grouping.MinGroups)
		}
		return nil
	})
	cv.RangeFloat("quality.min_replacement", c.Quality.MinReplacement, 0, 1)
	cv.RangeFloat("quality.min_completeness", c.Quality.MinCompleteness, 0, 1)
	cv.MinDuration("source.timeout", c.Source.Timeout, time.Second)
	cv.When(c.Labeling.Enabled, func(v *validation.ConfigValidator) {
		v.Required("labeling.api_key", c.Labeling.APIKey)
		v.MinDuration("labeling.timeout", c.Labeling.Timeout, time.Second)
	})
	return cv.Validate()
}

// NewLogger builds the process logger described by the logging section.
func (c *Config) NewLogger(w io.Writer) logging.Logger {
	return logging.New(w, logging.Format(c.Logging.Format), logging.ParseLevel(c.Logging.Level))
}

// AnalysisOptions converts the analysis section.
func (c *Config) AnalysisOptions(l logging.Logger) analysis.Options {
	return analysis.Options{
		CentralityWeight:     c.Analysis.CentralityWeight,
		BottleneckThreshold:  c.Analysis.BottleneckThreshold,
		Epsilon:              c.Analysis.Epsilon,
		InputLayerThreshold:  c.Analysis.InputLayerThreshold,
		OutputLayerThreshold: c.Analysis.OutputLayerThreshold,
		PathsPerPair:         c.Analysis.PathsPerPair,
		Workers:              c.Analysis.Workers,
		ChunkSize:            c.Analysis.ChunkSize,
		Logger:               l,
	}
}

// SelectionOptions converts the selection section.
func (c *Config) SelectionOptions(l logging.Logger) selection.Options {
	return selection.Options{
		MaxNodes:       c.Selection.MaxNodes,
		SampleSize:     c.Selection.SampleSize,
		InputShare:     c.Selection.InputShare,
		MiddleShare:    c.Selection.MiddleShare,
		OutputShare:    c.Selection.OutputShare,
		InputLayerMax:  c.Selection.InputLayerMax,
		MiddleLayerMax: c.Selection.MiddleLayerMax,
		Logger:         l,
	}
}

// GroupingOptions converts the grouping section. Role bands follow the
// selection layer buckets.
func (c *Config) GroupingOptions(l logging.Logger) grouping.Options {
	return grouping.Options{
		MinGroups:             c.Grouping.MinGroups,
		MaxGroups:             c.Grouping.MaxGroups,
		InputLayerMax:         c.Selection.InputLayerMax,
		MiddleLayerMax:        c.Selection.MiddleLayerMax,
		SimilarityThreshold:   c.Grouping.SimilarityThreshold,
		PropagationIterations: c.Grouping.PropagationIterations,
		Logger:                l,
	}
}

// TraceOptions converts the trace section.
func (c *Config) TraceOptions(l logging.Logger, promptTokens []string) pathtrace.Options {
	return pathtrace.Options{
		InputLayerMax:       c.Trace.InputLayerMax,
		BottleneckThreshold: c.Trace.BottleneckThreshold,
		PromptTokens:        promptTokens,
		Logger:              l,
	}
}
