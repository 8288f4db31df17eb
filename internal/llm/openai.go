// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pdiddy/litreview/internal/httputil"
	"github.com/pdiddy/litreview/pkg/types"
)

// openAIBase is the default API root. Ollama serves the same API under
// http://localhost:11434/v1.
const openAIBase = "https://api.openai.com/v1"

// OpenAIBackend calls an OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Client      *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Generate sends the system and user messages and returns the first choice.
func (c *OpenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	const op = "openai chat"

	var msgs []chatMessage
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens(req.MaxTokens, c.MaxTokens),
		Temperature: c.Temperature,
	})
	if err != nil {
		return "", types.Permanent(op, fmt.Errorf("marshaling request: %w", err))
	}

	base := c.BaseURL
	if base == "" {
		base = openAIBase
	}
	endpoint := strings.TrimRight(base, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", types.Permanent(op, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := httpClient(c.Client).Do(httpReq)
	if err != nil {
		return "", httputil.ClassifyError(op, err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckResponse(op, resp); err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", types.Transient(op, fmt.Errorf("decoding response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", types.Permanent(op, errors.New("no choices returned"))
	}
	choice := parsed.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		if choice.FinishReason == "content_filter" {
			return "", types.Permanent(op, errors.New("content rejected by filter"))
		}
		return "", types.Permanent(op, errors.New("empty completion"))
	}
	return text, nil
}
