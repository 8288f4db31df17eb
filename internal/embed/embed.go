// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embed turns text into fixed-length vectors and scores summary
// fidelity by embedding similarity.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pdiddy/litreview/internal/httputil"
	"github.com/pdiddy/litreview/pkg/types"
)

// Embedder maps text to a vector. Every vector from one Embedder has the
// same dimension; a response of a different length is a
// types.ConfigurationError.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector length, or 0 before the first call when
	// it was not configured.
	Dimension() int
}

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. Ollama's
// native {"embedding": [...]} reply shape is accepted too.
type OpenAIEmbedder struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client

	mu  sync.Mutex
	dim int
}

// NewOpenAIEmbedder builds an embedder from cfg. A non-zero cfg.Dimension
// is enforced from the first call.
func NewOpenAIEmbedder(cfg types.EmbeddingConfig, timeout time.Duration) *OpenAIEmbedder {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &OpenAIEmbedder{
		BaseURL: base,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Client:  &http.Client{Timeout: timeout},
		dim:     cfg.Dimension,
	}
}

// Dimension returns the established vector length.
func (e *OpenAIEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Embedding []float64 `json:"embedding"`
}

// Embed returns the vector for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embed"
	if strings.TrimSpace(text) == "" {
		return nil, types.Permanent(op, errors.New("empty input"))
	}

	body, err := json.Marshal(embeddingRequest{Model: e.Model, Input: text})
	if err != nil {
		return nil, types.Permanent(op, fmt.Errorf("marshaling request: %w", err))
	}
	endpoint := strings.TrimRight(e.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.Permanent(op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, httputil.ClassifyError(op, err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckResponse(op, resp); err != nil {
		return nil, err
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.Transient(op, fmt.Errorf("decoding response: %w", err))
	}
	raw := parsed.Embedding
	if len(parsed.Data) > 0 {
		raw = parsed.Data[0].Embedding
	}
	if len(raw) == 0 {
		return nil, types.Permanent(op, errors.New("no embedding returned"))
	}

	if err := e.adopt(len(raw)); err != nil {
		return nil, err
	}
	v := make([]float32, len(raw))
	for i, x := range raw {
		v[i] = float32(x)
	}
	return v, nil
}

// adopt fixes the dimension on first use and rejects later mismatches.
func (e *OpenAIEmbedder) adopt(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dim == 0 {
		e.dim = n
		return nil
	}
	if e.dim != n {
		return types.Configf("embedding.dimension", "model %q returned %d dimensions, expected %d", e.Model, n, e.dim)
	}
	return nil
}
