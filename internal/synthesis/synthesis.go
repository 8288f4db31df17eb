// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package synthesis composes the cross-paper report for a query run. It
// pools the section summaries of every contributing paper, widens the pool
// with related papers from earlier runs, and asks the generation backend
// for attributed claims in four fixed buckets.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/litreview/internal/embed"
	"github.com/pdiddy/litreview/internal/knowledge"
	"github.com/pdiddy/litreview/internal/llm"
	"github.com/pdiddy/litreview/pkg/types"
)

const systemPrompt = "You are a research assistant specializing in analyzing and synthesizing academic papers."

// bucketInstructions holds the question asked for each bucket.
var bucketInstructions = map[types.Bucket]string{
	types.BucketMainFindings:     "Summarize the main findings relevant to the research question.",
	types.BucketMethodsOverview:  "Identify the key methodologies used across these papers.",
	types.BucketResearchGaps:     "Point out gaps or areas needing further research.",
	types.BucketFutureDirections: "Suggest potential research directions.",
}

var bucketPrompt = template.Must(template.New("bucket").Parse(`Research question: "{{.Query}}"

Section summaries of the relevant papers, labelled by paper ID:
{{range .Papers}}
[{{.ID}}]{{if .Title}} {{.Title}}{{end}}
{{range .Sections}}- {{.Role}}: {{.Text}}
{{end}}{{end}}
{{.Instruction}}

Respond with a JSON array only. Each element is an object
{"claim": "<one or two sentences>", "papers": ["<paper id>", ...]}
citing only paper IDs listed above. Return [] when nothing applies.
`))

// Composer builds SynthesisReports. Embedder may be nil, which disables
// the related-paper lookup.
type Composer struct {
	Generator llm.Generator
	Embedder  embed.Embedder

	// RelatedPapers caps how many earlier papers the similarity query adds.
	RelatedPapers int

	// MaxTokens caps each bucket's response.
	MaxTokens int

	Logger *slog.Logger
}

// New returns a Composer configured from cfg.
func New(g llm.Generator, e embed.Embedder, cfg types.SynthesisConfig) *Composer {
	return &Composer{
		Generator:     g,
		Embedder:      e,
		RelatedPapers: cfg.RelatedPapers,
		MaxTokens:     cfg.MaxTokens,
	}
}

// paperDigest is one paper's pooled summaries as shown to the generator.
type paperDigest struct {
	ID       string
	Title    string
	Sections []types.SectionSummary
}

type promptData struct {
	Query       string
	Papers      []paperDigest
	Instruction string
}

// Compose builds the report for qc. Papers with success or skipped
// outcomes contribute; with none, the report is empty and no backend is
// called. A bucket whose generation fails is filled by the deterministic
// fallback and the report is flagged. Fatal errors and cancellation are
// returned.
func (c *Composer) Compose(ctx context.Context, qc *types.QueryContext, kb knowledge.Base) (*types.SynthesisReport, error) {
	report := types.NewSynthesisReport(qc.Query)
	ids := qc.Contributors()
	if len(ids) == 0 {
		return report, nil
	}
	if c.Generator == nil {
		return nil, types.Configf("ai.backend", "no generator configured for synthesis")
	}
	log := c.logger().With("run", qc.RunID)

	papers, err := c.collect(ctx, qc, kb, ids)
	if err != nil {
		return nil, err
	}
	related, err := c.related(ctx, qc.Query, kb, ids, log)
	if err != nil {
		return nil, err
	}
	papers = append(papers, related...)

	valid := make(map[string]bool, len(papers))
	for _, p := range papers {
		report.Contributors = append(report.Contributors, p.ID)
		valid[p.ID] = true
	}
	for _, p := range related {
		report.RelatedPaperIDs = append(report.RelatedPaperIDs, p.ID)
	}

	buckets := types.AllBuckets()
	claims := make([][]types.Claim, len(buckets))
	fellBack := make([]bool, len(buckets))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range buckets {
		g.Go(func() error {
			cl, err := c.generate(gctx, qc.Query, b, papers, valid)
			if err == nil {
				claims[i] = cl
				return nil
			}
			if types.IsFatal(err) || gctx.Err() != nil {
				return err
			}
			log.Warn("bucket generation failed, using fallback", "bucket", b, "error", err)
			claims[i] = fallback(b, papers)
			fellBack[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("composing report: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, b := range buckets {
		report.SetClaims(b, claims[i])
		report.Fallback = report.Fallback || fellBack[i]
	}
	log.Info("report composed", "contributors", len(report.Contributors),
		"related", len(report.RelatedPaperIDs), "fallback", report.Fallback)
	return report, nil
}

// collect reads the stored summaries of each contributing paper.
func (c *Composer) collect(ctx context.Context, qc *types.QueryContext, kb knowledge.Base, ids []string) ([]paperDigest, error) {
	papers := make([]paperDigest, 0, len(ids))
	for _, id := range ids {
		sums, err := kb.Summaries(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading summaries for %s: %w", id, err)
		}
		d := paperDigest{ID: id, Sections: sums}
		if o, ok := qc.Outcome(id); ok {
			d.Title = o.Title
		}
		papers = append(papers, d)
	}
	return papers, nil
}

// related embeds the query and returns previously processed papers close
// to it that are not already contributing. Lookup failures other than
// fatal ones only narrow the report.
func (c *Composer) related(ctx context.Context, query string, kb knowledge.Base, ids []string, log *slog.Logger) ([]paperDigest, error) {
	if c.Embedder == nil || c.RelatedPapers <= 0 {
		return nil, nil
	}
	vec, err := c.Embedder.Embed(ctx, query)
	if err != nil {
		if types.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		log.Warn("embedding query for related papers", "error", err)
		return nil, nil
	}

	// Neighbors are per section; over-fetch so enough distinct papers remain.
	neighbors, err := kb.Query(ctx, vec, c.RelatedPapers*len(types.StoredRoles()))
	if err != nil {
		if types.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		log.Warn("querying related papers", "error", err)
		return nil, nil
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	var titles map[string]types.PaperRecord
	var out []paperDigest
	for _, n := range neighbors {
		if seen[n.PaperID] {
			continue
		}
		seen[n.PaperID] = true

		sums, err := kb.Summaries(ctx, n.PaperID)
		if err != nil {
			return nil, fmt.Errorf("reading summaries for %s: %w", n.PaperID, err)
		}
		if len(sums) == 0 {
			continue
		}
		if titles == nil {
			if titles, err = kb.Papers(ctx); err != nil {
				return nil, fmt.Errorf("reading paper records: %w", err)
			}
		}
		out = append(out, paperDigest{ID: n.PaperID, Title: titles[n.PaperID].Title, Sections: sums})
		if len(out) == c.RelatedPapers {
			break
		}
	}
	return out, nil
}

// generate asks the backend for one bucket's claims.
func (c *Composer) generate(ctx context.Context, query string, b types.Bucket, papers []paperDigest, valid map[string]bool) ([]types.Claim, error) {
	var buf bytes.Buffer
	data := promptData{Query: query, Papers: papers, Instruction: bucketInstructions[b]}
	if err := bucketPrompt.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering %s prompt: %w", b, err)
	}

	reply, err := c.Generator.Generate(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    buf.String(),
		MaxTokens: c.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating %s: %w", b, err)
	}
	return ParseClaims(reply, valid)
}

// rawClaim is the wire shape requested from the backend.
type rawClaim struct {
	Claim  string   `json:"claim"`
	Papers []string `json:"papers"`
}

// ParseClaims decodes a backend reply into claims. Attributions outside
// valid are removed, and a claim left without any attribution is dropped.
// A reply that holds no JSON claim list is an error.
func ParseClaims(reply string, valid map[string]bool) ([]types.Claim, error) {
	payload := llm.JSONPayload(reply)

	var raw []rawClaim
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		var wrapped struct {
			Claims []rawClaim `json:"claims"`
		}
		if werr := json.Unmarshal([]byte(payload), &wrapped); werr != nil || wrapped.Claims == nil {
			return nil, fmt.Errorf("decoding claims: %w", err)
		}
		raw = wrapped.Claims
	}

	claims := []types.Claim{}
	for _, r := range raw {
		text := strings.TrimSpace(r.Claim)
		if text == "" {
			continue
		}
		var ids []string
		seen := make(map[string]bool)
		for _, id := range r.Papers {
			id = strings.Trim(strings.TrimSpace(id), "[]")
			if valid[id] && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		claims = append(claims, types.Claim{Text: text, PaperIDs: ids})
	}
	return claims, nil
}

// fallbackRoles lists, per bucket, the section roles a fallback claim is
// drawn from in preference order. Research gaps have no fallback source.
var fallbackRoles = map[types.Bucket][]types.SectionRole{
	types.BucketMainFindings:     {types.RoleResults, types.RoleConclusion, types.RoleAbstract, types.RoleOverall},
	types.BucketMethodsOverview:  {types.RoleMethodology},
	types.BucketFutureDirections: {types.RoleConclusion},
}

// fallback fills a bucket straight from the section summaries: one claim
// per paper, taken from the first available preferred role.
func fallback(b types.Bucket, papers []paperDigest) []types.Claim {
	claims := []types.Claim{}
	roles := fallbackRoles[b]
	for _, p := range papers {
		if text, ok := firstSection(p.Sections, roles); ok {
			claims = append(claims, types.Claim{Text: text, PaperIDs: []string{p.ID}})
		}
	}
	return claims
}

func firstSection(sums []types.SectionSummary, roles []types.SectionRole) (string, bool) {
	for _, role := range roles {
		for _, s := range sums {
			if s.Role == role && strings.TrimSpace(s.Text) != "" {
				return strings.TrimSpace(s.Text), true
			}
		}
	}
	return "", false
}

func (c *Composer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
