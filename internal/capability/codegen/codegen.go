// Package codegen implements the code generation capability backed by
// the Gemini API.
package codegen

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/fyrsmithlabs/dispatchd/internal/capability"
	"github.com/fyrsmithlabs/dispatchd/internal/config"
)

const (
	defaultModel = "gemini-2.5-flash"

	defaultRateLimit = 30.0 / 60.0 // ~0.5 requests per second
	defaultBurst     = 5

	maxOutputTokens = 4000
	temperature     = 0.3
)

type generateFunc func(ctx context.Context, system, prompt string) (string, error)

// Adapter serves code generation requests. The request text steers the
// target language, the code style and whether tests are included.
type Adapter struct {
	client   *genai.Client
	generate generateFunc
	model    string
	limiter  *rate.Limiter
}

var _ capability.Adapter = (*Adapter)(nil)

// New creates the codegen adapter. Without an API key the adapter is
// constructed unavailable.
func New(ctx context.Context, cfg config.GeminiConfig) (*Adapter, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	a := &Adapter{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
	if !cfg.APIKey.IsSet() {
		return a, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey.Value()})
	if err != nil {
		return nil, fmt.Errorf("codegen: creating genai client: %w", err)
	}
	a.client = client
	a.generate = a.generateContent
	return a, nil
}

// Tag returns the codegen capability tag.
func (a *Adapter) Tag() capability.Tag { return capability.TagCodegen }

// Available reports whether a generation backend is configured.
func (a *Adapter) Available(_ context.Context) bool { return a.generate != nil }

// Close releases adapter resources. The genai client holds no
// connections that need explicit release.
func (a *Adapter) Close() error { return nil }

// Invoke generates code for the request.
func (a *Adapter) Invoke(ctx context.Context, req capability.Request) capability.Outcome {
	if a.generate == nil {
		return capability.Failure("generate_code", "code generation service is not configured")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return capability.Failure("generate_code", fmt.Sprintf("rate limiter error: %v", err))
	}

	spec := analyzeRequest(req.Text)
	code, err := a.generate(ctx, spec.systemPrompt(), req.Text)
	if err != nil {
		return capability.Failure("generate_code", err.Error())
	}
	if code == "" {
		return capability.Failure("generate_code", "model returned no code")
	}

	payload := fmt.Sprintf("✅ Code generated (%s, %s):\n\n%s", spec.Language, spec.Style, code)
	return capability.Outcome{
		Success:   true,
		Operation: "generate_code",
		Payload:   payload,
		Data: map[string]any{
			"language":      spec.Language,
			"style":         spec.Style,
			"include_tests": spec.IncludeTests,
		},
	}
}

func (a *Adapter) generateContent(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](temperature),
		MaxOutputTokens:   maxOutputTokens,
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generating code: %v", err)
	}
	return resp.Text(), nil
}
