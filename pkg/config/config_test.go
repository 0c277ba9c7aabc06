package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-circuit/pkg/analysis"
	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/grouping"
	"github.com/dd0wney/cluso-circuit/pkg/pathtrace"
	"github.com/dd0wney/cluso-circuit/pkg/selection"
)

func noEnv(string) (string, bool) { return "", false }

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "pathway", cfg.Selection.Strategy)
	assert.Equal(t, 30, cfg.Selection.MaxNodes)
	assert.Equal(t, "functional", cfg.Grouping.Method)
	assert.Equal(t, 3, cfg.Grouping.MinGroups)
	assert.Equal(t, 7, cfg.Grouping.MaxGroups)
	assert.Equal(t, 0.5, cfg.Analysis.CentralityWeight)
	assert.Equal(t, 0.5, cfg.Quality.MinReplacement)
	assert.Equal(t, 0.7, cfg.Quality.MinCompleteness)
	assert.Equal(t, "gpt-4o-mini", cfg.Labeling.Model)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
selection:
  strategy: balanced
  max_nodes: 40
grouping:
  method: hybrid
  max_groups: 6
source:
  timeout: 5s
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "balanced", cfg.Selection.Strategy)
	assert.Equal(t, 40, cfg.Selection.MaxNodes)
	assert.Equal(t, 10, cfg.Selection.SampleSize, "unset fields keep defaults")
	assert.Equal(t, "hybrid", cfg.Grouping.Method)
	assert.Equal(t, 6, cfg.Grouping.MaxGroups)
	assert.Equal(t, 5*time.Second, cfg.Source.Timeout)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("selection:\n  max_node: 5\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"max nodes", func(c *Config) { c.Selection.MaxNodes = 0 }, "selection.max_nodes: must be at least 1"},
		{"bad url", func(c *Config) { c.Source.BaseURL = "nope" }, "source.base_url: must be a valid URL"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"strategy", func(c *Config) { c.Selection.Strategy = "random" }, `invalid selection strategy "random"`},
		{"method", func(c *Config) { c.Grouping.Method = "kmeans" }, "config.grouping.method"},
		{"shares", func(c *Config) { c.Selection.InputShare = 0.5 }, "layer shares sum to"},
		{"zero shares", func(c *Config) {
			c.Selection.InputShare, c.Selection.MiddleShare, c.Selection.OutputShare = 0, 0, 0
		}, "layer shares are all zero"},
		{"groups", func(c *Config) { c.Grouping.MinGroups = 8 }, "config.grouping.max_groups"},
		{"label key", func(c *Config) { c.Labeling.Enabled = true }, "config.labeling.api_key: required field is empty"},
		{"timeout", func(c *Config) { c.Source.Timeout = time.Millisecond }, "config.source.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_InvalidStrategyIsTyped(t *testing.T) {
	cfg := Default()
	cfg.Selection.Strategy = "random"
	assert.ErrorIs(t, cfg.Validate(), selection.ErrInvalidStrategy)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvNeuronpediaAPIKey: "np-key",
		EnvOpenAIAPIKey:      "sk-test",
		EnvOpenAIModel:       "gpt-4o",
		EnvAWSRegion:         "eu-west-1",
		EnvAWSEndpoint:       "http://localhost:9000",
		EnvLogLevel:          "debug",
		EnvLogFormat:         "",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "np-key", cfg.Source.APIKey)
	assert.Equal(t, "sk-test", cfg.Labeling.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Labeling.Model)
	assert.Equal(t, "eu-west-1", cfg.Source.S3Region)
	assert.Equal(t, "http://localhost:9000", cfg.Source.S3Endpoint)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format, "empty values do not override")

	unchanged := Default()
	unchanged.ApplyEnv(noEnv)
	assert.Equal(t, Default(), unchanged)
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvNeuronpediaAPIKey, "from-env")
	path := filepath.Join(t.TempDir(), "circuit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source:\n  api_key: from-file\nrefine:\n  max_attempts: 2\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Source.APIKey)
	assert.Equal(t, 2, cfg.Refine.MaxAttempts)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CIRCUIT_TEST_VALUE=loaded\n"), 0o600))
	t.Setenv("CIRCUIT_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("CIRCUIT_TEST_VALUE"))

	require.NoError(t, LoadEnv(filepath.Join(dir, "absent.env"), path))
	assert.Equal(t, "loaded", os.Getenv("CIRCUIT_TEST_VALUE"))
}

func TestOptionsConversion(t *testing.T) {
	cfg := Default()
	cfg.Analysis.Workers = 2

	an := cfg.AnalysisOptions(nil)
	assert.Equal(t, 2, an.Workers)
	assert.Equal(t, cfg.Analysis.PathsPerPair, an.PathsPerPair)

	sel := cfg.SelectionOptions(nil)
	assert.Equal(t, cfg.Selection.MaxNodes, sel.MaxNodes)

	grp := cfg.GroupingOptions(nil)
	assert.Equal(t, cfg.Selection.MiddleLayerMax, grp.MiddleLayerMax)

	tr := cfg.TraceOptions(nil, []string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, tr.PromptTokens)
}

func TestOptionsConversion_ZeroThresholds(t *testing.T) {
	cfg := Default()
	cfg.Analysis.InputLayerThreshold = 0
	cfg.Analysis.BottleneckThreshold = 0
	cfg.Trace.InputLayerMax = 0
	cfg.Trace.BottleneckThreshold = 0
	require.NoError(t, cfg.Validate())

	g := attribution.NewGraph([]*attribution.Node{
		{ID: "a", Layer: 0},
		{ID: "b", Layer: 3},
		{ID: "c", Layer: 10},
	}, nil)

	an := analysis.NewAnalyzer(g, cfg.AnalysisOptions(nil))
	assert.Equal(t, 0, an.Options().InputLayerThreshold)
	assert.Zero(t, an.Options().BottleneckThreshold)
	assert.Equal(t, []string{"a"}, an.InputFeatures())

	sns := []*grouping.Supernode{
		{ID: "sn_1", Label: "first", NodeIDs: []string{"a"}, LayerRange: [2]int{0, 0}, TotalInfluence: 0.1},
		{ID: "sn_2", Label: "second", NodeIDs: []string{"b"}, LayerRange: [2]int{3, 3}, TotalInfluence: 0.2},
	}
	tr := cfg.TraceOptions(nil, nil)
	assert.Zero(t, tr.BottleneckThreshold)

	path := pathtrace.NewTracer(g, sns, tr).TraceComputation("", "")
	assert.Equal(t, sns, path.Sequence, "only layer 0 counts as input")
	assert.Equal(t, sns, path.Bottlenecks, "any positive influence is a bottleneck")
}
