// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package summarize produces section summaries with a text generation
// backend. Each section role has a fixed prompt template.
package summarize

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/litreview/internal/llm"
	"github.com/pdiddy/litreview/pkg/types"
)

// Defaults applied when Params leaves a field zero.
const (
	DefaultMaxInputChars = 4000
	DefaultMaxTokens     = 500
)

// systemPrompt frames every section summary request.
const systemPrompt = "You are a research paper analysis assistant. Provide clear, concise summaries of academic content."

// Params tunes one summarization call.
type Params struct {
	// Title is the paper title, included for context when set.
	Title string

	// MaxInputChars clips the section text sent to the model.
	MaxInputChars int

	// MaxTokens caps the summary length.
	MaxTokens int
}

// Summarizer turns one section's text into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string, role types.SectionRole, p Params) (string, error)
}

const promptBody = `{{if .Title}}Paper: {{.Title}}

{{end}}{{.Text}}
`

// rolePrompts is the fixed role to template mapping. Every role in
// types.StoredRoles has an entry.
var rolePrompts = map[types.SectionRole]*template.Template{
	types.RoleTitle:        mustPrompt(types.RoleTitle, "Extract the main topic and key terms from this title:"),
	types.RoleAbstract:     mustPrompt(types.RoleAbstract, "Summarize this abstract in 2-3 sentences:"),
	types.RoleIntroduction: mustPrompt(types.RoleIntroduction, "Summarize the key points of this introduction:"),
	types.RoleMethodology:  mustPrompt(types.RoleMethodology, "Provide a clear summary of the methodology used:"),
	types.RoleResults:      mustPrompt(types.RoleResults, "Summarize the main results and findings:"),
	types.RoleConclusion:   mustPrompt(types.RoleConclusion, "Summarize the main conclusions and implications:"),
	types.RoleOverall:      mustPrompt(types.RoleOverall, "Provide a comprehensive overview of this paper in 3-4 sentences, based on its title, abstract and introduction:"),
}

func mustPrompt(role types.SectionRole, instruction string) *template.Template {
	return template.Must(template.New(string(role)).Parse(instruction + "\n\n" + promptBody))
}

// RenderPrompt executes the role's template.
func RenderPrompt(role types.SectionRole, title, text string) (string, error) {
	tmpl, ok := rolePrompts[role]
	if !ok {
		return "", types.Configf("role", "no prompt template for section role %q", role)
	}
	var buf bytes.Buffer
	data := struct{ Title, Text string }{Title: title, Text: text}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", types.Permanent("summarize", fmt.Errorf("rendering prompt: %w", err))
	}
	return buf.String(), nil
}

// LLMSummarizer summarizes with a Generator.
type LLMSummarizer struct {
	Generator llm.Generator
}

// Summarize renders the role's prompt over the clipped text and returns
// the generated summary. Empty text is a permanent error.
func (s *LLMSummarizer) Summarize(ctx context.Context, text string, role types.SectionRole, p Params) (string, error) {
	limit := p.MaxInputChars
	if limit <= 0 {
		limit = DefaultMaxInputChars
	}
	text = llm.Clip(text, limit)
	if text == "" {
		return "", types.Permanent("summarize", fmt.Errorf("section %s is empty", role))
	}

	prompt, err := RenderPrompt(role, p.Title, text)
	if err != nil {
		return "", err
	}

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	out, err := s.Generator.Generate(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", role, err)
	}
	return strings.TrimSpace(out), nil
}
