package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
)

// OpenAI is a Model backed by an OpenAI-compatible chat completion
// endpoint. A custom base URL covers self-hosted and proxy deployments
// that speak the same protocol.
type OpenAI struct {
	client      *openai.LLM
	maxTokens   int
	temperature float64
}

var _ Model = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI-compatible model client.
func NewOpenAI(cfg config.LLMConfig) (*OpenAI, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: api key is required", ErrNotConfigured)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrNotConfigured)
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: creating openai client: %w", err)
	}

	return &OpenAI{
		client:      client,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends a single-turn chat completion and returns the reply.
func (m *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = m.temperature
	}

	opts := make([]llms.CallOption, 0, 2)
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	if temperature > 0 {
		opts = append(opts, llms.WithTemperature(temperature))
	}

	resp, err := m.client.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("llm: openai completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: openai completion returned no choices")
	}
	return resp.Choices[0].Content, nil
}
