package labeling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// maxFeatureDetails bounds how many members are described in a prompt.
const maxFeatureDetails = 20

const systemPrompt = "You name groups of features in a language model's computation. Reply with the label only."

// ChatCompleter is the part of the OpenAI client used for labeling.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIOptions configures an OpenAILabeler.
type OpenAIOptions struct {
	APIKey string
	Model  string
	// BaseURL targets an OpenAI-compatible endpoint.
	BaseURL     string
	MaxTokens   int
	Temperature float32
	// Client overrides the HTTP-backed client, mainly for tests.
	Client ChatCompleter
}

// OpenAILabeler labels supernodes with a chat completion model.
type OpenAILabeler struct {
	client      ChatCompleter
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAILabeler creates a labeler. An API key is required unless a
// client is supplied.
func NewOpenAILabeler(opts OpenAIOptions) (*OpenAILabeler, error) {
	client := opts.Client
	if client == nil {
		if opts.APIKey == "" {
			return nil, errors.New("openai api key is required")
		}
		cfg := openai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		client = openai.NewClientWithConfig(cfg)
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 50
	}
	return &OpenAILabeler{
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}, nil
}

// Label implements Labeler.
func (o *OpenAILabeler) Label(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
		},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: %w", ErrEmptyLabel)
	}
	return resp.Choices[0].Message.Content, nil
}

// BuildPrompt renders the labeling prompt for one supernode.
func BuildPrompt(req Request) string {
	sn := req.Supernode
	var b strings.Builder

	b.WriteString("Name this group of features with a concise label of 2 to 5 words describing what it does collectively.\n\n")
	fmt.Fprintf(&b, "Input prompt: %q\n", req.Prompt)
	fmt.Fprintf(&b, "Target output: %q\n", req.TargetLogit)
	fmt.Fprintf(&b, "Functional role: %s\n", sn.Role)
	fmt.Fprintf(&b, "Layer range: %d to %d\n\n", sn.MinLayer(), sn.MaxLayer())

	b.WriteString("Features:\n")
	for i, n := range req.Members {
		if i == maxFeatureDetails {
			fmt.Fprintf(&b, "- ... and %d more\n", len(req.Members)-maxFeatureDetails)
			break
		}
		explanation := n.Explanation
		if explanation == "" {
			explanation = "No explanation"
		}
		feature := "?"
		if n.FeatureIndex != nil {
			feature = fmt.Sprint(*n.FeatureIndex)
		}
		fmt.Fprintf(&b, "- Layer %d, Feature %s: %s\n", n.Layer, feature, explanation)

		if len(n.TopLogits) > 0 {
			top := n.TopLogits
			if len(top) > 3 {
				top = top[:3]
			}
			parts := make([]string, len(top))
			for j, t := range top {
				parts[j] = fmt.Sprintf("%s (%.2f)", t.Token, t.Value)
			}
			fmt.Fprintf(&b, "  Top logits: %s\n", strings.Join(parts, ", "))
		}
	}

	b.WriteString("\nInput detectors: say which tokens or patterns they detect. ")
	b.WriteString("Relational processors: name the relation they encode. ")
	b.WriteString("Output promoters: say what they predict.\n")
	b.WriteString("Avoid words like \"features\" or \"nodes\".\n")
	return b.String()
}
