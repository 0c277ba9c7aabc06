package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-circuit/pkg/config"
	"github.com/dd0wney/cluso-circuit/pkg/pipeline"
	"github.com/dd0wney/cluso-circuit/pkg/selection"
	"github.com/dd0wney/cluso-circuit/pkg/source"
)

const fixture = "../../pkg/pipeline/testdata/capital.json"

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvLogLevel, "error")

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// neuronpedia fakes the graph metadata, graph file and subgraph save endpoints.
func neuronpedia(t *testing.T) (*httptest.Server, *[]byte) {
	t.Helper()
	graph, err := os.ReadFile(fixture)
	require.NoError(t, err)

	var saved []byte
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/graph/gemma-2-2b/capital-texas", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(source.GraphInfo{Slug: "capital-texas", URL: srv.URL + "/files/capital-texas.json"})
	})
	mux.HandleFunc("/files/capital-texas.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write(graph)
	})
	mux.HandleFunc("/graph/subgraph/save", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		saved, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(source.SaveResponse{SubgraphID: "sg-1"})
	})

	t.Setenv(config.EnvNeuronpediaBaseURL, srv.URL)
	t.Setenv(config.EnvNeuronpediaAPIKey, "secret")
	return srv, &saved
}

func TestAnalyzeCommand(t *testing.T) {
	out, err := execute(t, "analyze", "--graph-file", fixture)
	require.NoError(t, err)
	assert.Contains(t, out, "Top 10 Most Important Nodes:")
	assert.Contains(t, out, "Consider 'pathway' strategy")
	assert.Contains(t, out, "Top 20 Hub Nodes (by total degree):")
	assert.Contains(t, out, "Layer-to-Layer Flows (by total weight):")
	assert.Contains(t, out, "Token-to-Token Flows (by edge count):")
	assert.NotContains(t, out, "Hub Sample")
}

func TestAnalyzeCommand_HubSample(t *testing.T) {
	out, err := execute(t, "analyze", "--graph-file", fixture, "--hub-layer", "18")
	require.NoError(t, err)
	// the last prompt token is position 5
	assert.Contains(t, out, "Hub Sample (layer 18, C5 \" is\"):\n  1. 18_505_5 in 1\n")
}

func TestCleanupExistingCommand(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "cleaned.json")
	metricsFile := filepath.Join(dir, "circuit.prom")

	out, err := execute(t, "cleanup-existing",
		"--graph-file", fixture,
		"--strategy", "balanced",
		"--grouping", "layer",
		"--max-nodes", "6",
		"--output", output,
		"--metrics-file", metricsFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Circuit Reduction")
	assert.Contains(t, out, "Saved cleaned graph to: "+output)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var doc pipeline.Output
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.LessOrEqual(t, len(doc.PinnedNodeIDs), 6)
	assert.NotEmpty(t, doc.Supernodes)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `circuit_runs_total{command="cleanup-existing",status="success"} 1`)
}

func TestCleanupExistingCommand_InvalidStrategy(t *testing.T) {
	_, err := execute(t, "cleanup-existing", "--graph-file", fixture, "--strategy", "random",
		"--output", filepath.Join(t.TempDir(), "out.json"))
	assert.ErrorIs(t, err, selection.ErrInvalidStrategy)
}

func TestCleanupExistingCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "cleanup-existing", "--graph-file", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = execute(t, "cleanup-existing")
	assert.ErrorContains(t, err, "graph-file")
}

func TestCleanupExistingCommand_LabelNeedsKey(t *testing.T) {
	t.Setenv(config.EnvOpenAIAPIKey, "")
	_, err := execute(t, "cleanup-existing", "--graph-file", fixture, "--label")
	assert.ErrorContains(t, err, "labeling.api_key")
}

func TestCleanupCommand(t *testing.T) {
	_, saved := neuronpedia(t)
	output := filepath.Join(t.TempDir(), "cleaned.json.sz")

	out, err := execute(t, "cleanup", "--slug", "capital-texas", "--model", "gemma-2-2b",
		"--output", output, "--send")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved subgraph sg-1")

	raw, err := pipeline.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "pinned_node_ids")

	var payload source.SubgraphPayload
	require.NoError(t, json.Unmarshal(*saved, &payload))
	assert.Equal(t, "capital-texas", payload.Slug)
	assert.NotEmpty(t, payload.Supernodes)
}

func TestGenerateOnlyCommand(t *testing.T) {
	neuronpedia(t)
	output := filepath.Join(t.TempDir(), "graph.json.sz")

	out, err := execute(t, "generate-only", "--slug", "capital-texas", "--model", "gemma-2-2b", "--output", output)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved graph capital-texas (10 nodes")

	doc, err := pipeline.LoadDocument(output)
	require.NoError(t, err)
	assert.Equal(t, "capital-texas", doc.Metadata.Slug)
}

func TestGenerateOnlyCommand_NotFound(t *testing.T) {
	neuronpedia(t)
	_, err := execute(t, "generate-only", "--slug", "nope", "--model", "gemma-2-2b",
		"--output", filepath.Join(t.TempDir(), "g.json"))
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestSupernodesCommand(t *testing.T) {
	_, saved := neuronpedia(t)
	output := filepath.Join(t.TempDir(), "payload.json")

	out, err := execute(t, "supernodes", "--graph-file", fixture, "--output", output, "--send")
	require.NoError(t, err)
	assert.Contains(t, out, "Supernodes by Phase")
	assert.Contains(t, out, "Saved subgraph sg-1")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(*saved))
}
