// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm provides the text generation backends used by the
// summarization and synthesis stages.
package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/pdiddy/litreview/internal/retry"
	"github.com/pdiddy/litreview/pkg/types"
)

// Request is one generation call.
type Request struct {
	// System is the system instruction. Optional.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens overrides the backend default when positive.
	MaxTokens int
}

// Generator produces text for a prompt. Implementations classify failures
// as types.TransientError (rate limits, timeouts, 5xx) or
// types.PermanentError (rejected content, other 4xx).
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// New returns the backend selected by cfg.Backend.
func New(cfg types.AIConfig, timeout time.Duration) (Generator, error) {
	client := &http.Client{Timeout: timeout}
	switch cfg.Backend {
	case types.BackendClaude, "":
		if cfg.APIKey == "" {
			return nil, types.Configf("ai.api_key", "the claude backend needs an Anthropic API key")
		}
		return &ClaudeBackend{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Client:      client,
		}, nil
	case types.BackendOpenAI:
		return &OpenAIBackend{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Client:      client,
		}, nil
	default:
		return nil, types.Configf("ai.backend", "unknown backend %q", cfg.Backend)
	}
}

func maxTokens(req, def int) int {
	if req > 0 {
		return req
	}
	if def > 0 {
		return def
	}
	return 1024
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

// Retrying wraps a Generator with bounded retries on transient failures.
type Retrying struct {
	Generator
	Policy retry.Policy
}

// Generate delegates to the wrapped generator under the retry policy.
func (r Retrying) Generate(ctx context.Context, req Request) (string, error) {
	return retry.Value(ctx, r.Policy, func(ctx context.Context) (string, error) {
		return r.Generator.Generate(ctx, req)
	})
}
