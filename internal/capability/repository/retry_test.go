package repository

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryConfigApplyDefaults(t *testing.T) {
	t.Run("fills all defaults when empty", func(t *testing.T) {
		cfg := &RetryConfig{}
		cfg.ApplyDefaults()

		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, time.Second, cfg.InitialBackoff)
		assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
		assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	})

	t.Run("preserves non-zero values", func(t *testing.T) {
		cfg := &RetryConfig{MaxRetries: 5, InitialBackoff: 2 * time.Second}
		cfg.ApplyDefaults()

		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
		assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	})
}

func TestRetryCallSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	resp, err := retryCall(context.Background(), fastRetry(), nil, func() (*github.Response, error) {
		calls++
		return &github.Response{Response: &http.Response{StatusCode: 200}}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, resp.Response.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestRetryCallRecoversAfterTransientErrors(t *testing.T) {
	calls := 0
	resp, err := retryCall(context.Background(), fastRetry(), nil, func() (*github.Response, error) {
		calls++
		if calls < 3 {
			return &github.Response{Response: &http.Response{StatusCode: 503}}, errors.New("service unavailable")
		}
		return &github.Response{Response: &http.Response{StatusCode: 200}}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, resp.Response.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestRetryCallStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	resp, err := retryCall(context.Background(), fastRetry(), nil, func() (*github.Response, error) {
		calls++
		return &github.Response{Response: &http.Response{StatusCode: 404}}, errors.New("not found")
	})

	require.Error(t, err)
	assert.Equal(t, 404, resp.Response.StatusCode)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestRetryCallExhaustsRetries(t *testing.T) {
	cfg := fastRetry()
	cfg.MaxRetries = 2

	calls := 0
	_, err := retryCall(context.Background(), cfg, nil, func() (*github.Response, error) {
		calls++
		return &github.Response{Response: &http.Response{StatusCode: 503}}, errors.New("service unavailable")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Equal(t, 3, calls, "one try plus two retries")
}

func TestRetryCallHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	resp, err := retryCall(ctx, fastRetry(), nil, func() (*github.Response, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return &github.Response{Response: &http.Response{StatusCode: 503}}, errors.New("service unavailable")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation canceled")
	assert.Nil(t, resp)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		hasRate    bool
		want       bool
	}{
		{name: "nil error", statusCode: 200, want: false},
		{name: "429 rate limit", err: errors.New("rate limited"), statusCode: 429, want: true},
		{name: "500 server error", err: errors.New("boom"), statusCode: 500, want: true},
		{name: "502 bad gateway", err: errors.New("boom"), statusCode: 502, want: true},
		{name: "503 unavailable", err: errors.New("boom"), statusCode: 503, want: true},
		{name: "504 gateway timeout", err: errors.New("boom"), statusCode: 504, want: true},
		{name: "400 bad request", err: errors.New("boom"), statusCode: 400, want: false},
		{name: "401 unauthorized", err: errors.New("boom"), statusCode: 401, want: false},
		{name: "403 without rate info", err: errors.New("boom"), statusCode: 403, want: false},
		{name: "403 with rate info", err: errors.New("boom"), statusCode: 403, hasRate: true, want: true},
		{name: "404 not found", err: errors.New("boom"), statusCode: 404, want: false},
		{name: "422 validation", err: errors.New("boom"), statusCode: 422, want: false},
		{name: "no response at all", err: errors.New("dial tcp: timeout"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *github.Response
			if tt.statusCode > 0 {
				resp = &github.Response{Response: &http.Response{StatusCode: tt.statusCode}}
				if tt.hasRate {
					resp.Rate = github.Rate{Limit: 5000, Remaining: 0}
				}
			}
			assert.Equal(t, tt.want, isRetryableError(tt.err, resp))
		})
	}
}

func TestRateLimitBackoff(t *testing.T) {
	t.Run("waits for reset", func(t *testing.T) {
		resp := &github.Response{Rate: github.Rate{
			Limit: 5000,
			Reset: github.Timestamp{Time: time.Now().Add(5 * time.Second)},
		}}
		backoff := rateLimitBackoff(resp, 30*time.Second)
		assert.GreaterOrEqual(t, backoff, 5*time.Second)
		assert.LessOrEqual(t, backoff, 7*time.Second)
	})

	t.Run("reset in the past yields one second", func(t *testing.T) {
		resp := &github.Response{Rate: github.Rate{
			Limit: 5000,
			Reset: github.Timestamp{Time: time.Now().Add(-5 * time.Second)},
		}}
		assert.Equal(t, time.Second, rateLimitBackoff(resp, 30*time.Second))
	})

	t.Run("capped at max backoff", func(t *testing.T) {
		resp := &github.Response{Rate: github.Rate{
			Limit: 5000,
			Reset: github.Timestamp{Time: time.Now().Add(time.Hour)},
		}}
		assert.Equal(t, 30*time.Second, rateLimitBackoff(resp, 30*time.Second))
	})

	t.Run("no rate info yields one minute", func(t *testing.T) {
		assert.Equal(t, time.Minute, rateLimitBackoff(nil, 30*time.Second))
	})
}
