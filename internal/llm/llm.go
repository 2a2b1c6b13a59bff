// Package llm provides the shared chat-model abstraction behind the
// conversation, planning, database and workflow capabilities.
//
// Two providers are supported: any OpenAI-compatible endpoint (via
// langchaingo) and the Anthropic Messages API. Both are hidden behind
// the Model interface so adapters stay provider-agnostic, and both can
// be wrapped in a client-side rate limiter.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
)

// ErrNotConfigured is returned by New when the provider configuration is
// incomplete (for example a missing API key).
var ErrNotConfigured = errors.New("llm: model not configured")

// Request is a single-turn completion request. Conversation history is
// rendered into Prompt by the caller; the model layer stays stateless.
type Request struct {
	// System is the system prompt. Optional.
	System string

	// Prompt is the user-turn content. Required.
	Prompt string

	// MaxTokens caps the reply length. Zero means the provider default.
	MaxTokens int

	// Temperature is the sampling temperature. Zero means the provider
	// default.
	Temperature float64
}

// Model is the minimal chat-completion surface capabilities depend on.
type Model interface {
	// Complete sends the request and returns the reply text.
	Complete(ctx context.Context, req Request) (string, error)
}

// New builds a Model from configuration. The provider switch accepts
// "openai" (any OpenAI-compatible endpoint) and "anthropic". A missing
// API key yields ErrNotConfigured so callers can leave the dependent
// adapters unavailable instead of failing startup.
func New(cfg config.LLMConfig) (Model, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: api key is required", ErrNotConfigured)
	}

	var (
		model Model
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		model, err = NewOpenAI(cfg)
	case "anthropic":
		model, err = NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		model = NewLimited(model, cfg.RequestsPerMinute, cfg.Burst)
	}
	return model, nil
}
