package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited wraps a Model with a client-side rate limiter so bursts of
// dispatches do not trip provider quotas.
type Limited struct {
	model   Model
	limiter *rate.Limiter
}

var _ Model = (*Limited)(nil)

// NewLimited wraps model with a limiter allowing requestsPerMinute
// sustained requests and bursts of burst. Non-positive burst is
// clamped to 1.
func NewLimited(model Model, requestsPerMinute, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// Complete waits for a limiter token, then delegates.
func (m *Limited) Complete(ctx context.Context, req Request) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}
	return m.model.Complete(ctx, req)
}
