// Package source talks to Neuronpedia: graph metadata lookup, graph
// downloads over HTTP or S3, and saving reduced subgraphs.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dd0wney/cluso-circuit/pkg/logging"
	"github.com/dd0wney/cluso-circuit/pkg/metrics"
)

const (
	// DefaultBaseURL is the public Neuronpedia API root.
	DefaultBaseURL = "https://www.neuronpedia.org/api"
	// DefaultModelID is tried when a graph's model is unknown and the list
	// search finds nothing.
	DefaultModelID = "gemma-2-2b"

	userAgent = "cluso-circuit/1.0"
	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

// GraphInfo is the metadata Neuronpedia keeps for a stored graph.
type GraphInfo struct {
	Slug      string `json:"slug"`
	ModelID   string `json:"modelId"`
	Prompt    string `json:"prompt,omitempty"`
	URL       string `json:"url"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// SaveResponse is returned by the subgraph save endpoint.
type SaveResponse struct {
	SubgraphID string `json:"subgraphId"`
	URL        string `json:"url,omitempty"`
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	APIKey         string
	DefaultModelID string
	Timeout        time.Duration
	HTTPClient     *http.Client
	// S3 serves s3:// graph URLs. Nil disables them.
	S3      ObjectGetter
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Client is a Neuronpedia API client. It never retries.
type Client struct {
	baseURL string
	apiKey  string
	modelID string
	http    *http.Client
	s3      ObjectGetter
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewClient creates a client. Zero options take their defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.DefaultModelID == "" {
		opts.DefaultModelID = DefaultModelID
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		modelID: opts.DefaultModelID,
		http:    opts.HTTPClient,
		s3:      opts.S3,
		logger:  logging.OrNop(opts.Logger).With(logging.Component("source")),
		metrics: opts.Metrics,
	}
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.RecordSourceRequest(op, err, time.Since(start))
	}
}

// GraphMetadata looks up a graph by slug. When modelID is empty the user's
// graph list is searched first, then the default model is assumed.
func (c *Client) GraphMetadata(ctx context.Context, slug, modelID string) (info *GraphInfo, err error) {
	start := time.Now()
	defer func() { c.observe("metadata", start, err) }()

	if modelID == "" {
		found, err := c.findInList(ctx, slug)
		if err != nil {
			c.logger.Warn("graph list search failed", logging.Slug(slug), logging.Error(err))
		}
		if found != nil {
			c.logger.Info("found graph in list", logging.Slug(slug), logging.String("model_id", found.ModelID))
			return found, nil
		}
		c.logger.Info("model id unknown, falling back to default", logging.Slug(slug), logging.String("model_id", c.modelID))
		modelID = c.modelID
	}

	info = &GraphInfo{}
	endpoint := fmt.Sprintf("%s/graph/%s/%s", c.baseURL, url.PathEscape(modelID), url.PathEscape(slug))
	if err := c.getJSON(ctx, "graph metadata", endpoint, info); err != nil {
		return nil, err
	}
	if info.Slug == "" {
		info.Slug = slug
	}
	if info.ModelID == "" {
		info.ModelID = modelID
	}
	return info, nil
}

// findInList searches the graph list, which is served either as a bare array
// or wrapped in {"graphs": [...]}.
func (c *Client) findInList(ctx context.Context, slug string) (*GraphInfo, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "graph list", c.baseURL+"/graph/list", &raw); err != nil {
		return nil, err
	}

	var graphs []GraphInfo
	if err := json.Unmarshal(raw, &graphs); err != nil {
		var wrapped struct {
			Graphs []GraphInfo `json:"graphs"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decode graph list: %w", err)
		}
		graphs = wrapped.Graphs
	}

	for i := range graphs {
		if graphs[i].Slug == slug {
			return &graphs[i], nil
		}
	}
	return nil, nil
}

// DownloadGraph fetches raw graph JSON from an http(s) or s3:// URL. Graph
// storage URLs do not take the API key.
func (c *Client) DownloadGraph(ctx context.Context, rawURL string) (data []byte, err error) {
	start := time.Now()
	defer func() { c.observe("download", start, err) }()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		data, err = c.downloadHTTP(ctx, rawURL)
	case "s3":
		data, err = c.downloadS3(ctx, u)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RecordDownload(u.Scheme, len(data))
	}
	c.logger.Info("downloaded graph", logging.String("scheme", u.Scheme), logging.Int("bytes", len(data)))
	return data, nil
}

func (c *Client) downloadHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download graph: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("download graph", resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// SaveSubgraph posts a subgraph definition and returns the created id.
func (c *Client) SaveSubgraph(ctx context.Context, payload *SubgraphPayload) (out *SaveResponse, err error) {
	start := time.Now()
	defer func() { c.observe("save", start, err) }()

	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode subgraph: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graph/subgraph/save", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("save subgraph: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("save subgraph", resp); err != nil {
		return nil, err
	}

	out = &SaveResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode save response: %w", err)
	}
	c.logger.Info("saved subgraph", logging.Slug(payload.Slug), logging.String("subgraph_id", out.SubgraphID))
	return out, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
