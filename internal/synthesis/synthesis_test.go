// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package synthesis

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litreview/internal/knowledge"
	"github.com/pdiddy/litreview/internal/llm"
	"github.com/pdiddy/litreview/internal/logging"
	"github.com/pdiddy/litreview/pkg/types"
)

type fakeGenerator struct {
	reply func(req llm.Request) (string, error)
	calls atomic.Int32

	mu      sync.Mutex
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, req.Prompt)
	g.mu.Unlock()
	return g.reply(req)
}

type fixedEmbedder struct {
	vec []float32
}

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, nil }
func (e fixedEmbedder) Dimension() int { return len(e.vec) }

func openKB(t *testing.T) knowledge.Base {
	t.Helper()
	kb, err := knowledge.OpenSQLite(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { kb.Close() })
	return kb
}

// seed stores one paper with a summary per role, all sharing vec.
func seed(t *testing.T, kb knowledge.Base, id, title string, vec []float32, roles ...types.SectionRole) {
	t.Helper()
	var entries []knowledge.Entry
	for _, r := range roles {
		entries = append(entries, knowledge.Entry{
			Summary: types.SectionSummary{PaperID: id, Role: r, Text: string(r) + " of " + id, Status: types.SummaryGenerated},
			Vector:  vec,
		})
	}
	require.NoError(t, kb.InsertPaper(context.Background(), types.PaperRecord{ID: id, Title: title}, entries))
}

func gnnRun() *types.QueryContext {
	return &types.QueryContext{
		RunID:      "run-1",
		Query:      "graph neural networks",
		Candidates: []string{"2101.00001", "2101.00002", "2101.00003"},
		Outcomes: []types.Outcome{
			{PaperID: "2101.00001", Title: "Graph Attention Networks", Kind: types.OutcomeSuccess},
			{PaperID: "2101.00002", Title: "GraphSAGE", Kind: types.OutcomeSkipped, Reason: "duplicate"},
			{PaperID: "2101.00003", Kind: types.OutcomeFailed, Reason: "extraction failed"},
		},
	}
}

func seedGNN(t *testing.T, kb knowledge.Base) {
	seed(t, kb, "2101.00001", "Graph Attention Networks", []float32{0, 1, 0},
		types.RoleAbstract, types.RoleMethodology, types.RoleResults)
	seed(t, kb, "2101.00002", "GraphSAGE", []float32{0, 1, 0.1},
		types.RoleAbstract, types.RoleConclusion)
	seed(t, kb, "1901.00009", "Spectral Graph Convolutions", []float32{1, 0, 0},
		types.RoleAbstract, types.RoleMethodology)
}

func TestComposeNoContributors(t *testing.T) {
	gen := &fakeGenerator{reply: func(llm.Request) (string, error) { return "[]", nil }}
	c := &Composer{Generator: gen, Logger: logging.Discard()}
	qc := &types.QueryContext{
		Query:      "q",
		Candidates: []string{"a"},
		Outcomes:   []types.Outcome{{PaperID: "a", Kind: types.OutcomeFailed}},
	}

	r, err := c.Compose(context.Background(), qc, openKB(t))
	require.NoError(t, err)
	assert.True(t, r.Empty())
	assert.Zero(t, gen.calls.Load())
	for _, b := range types.AllBuckets() {
		assert.NotNil(t, r.Claims(b))
		assert.Empty(t, r.Claims(b))
	}
}

func TestComposeGraphNeuralNetworks(t *testing.T) {
	kb := openKB(t)
	seedGNN(t, kb)

	gen := &fakeGenerator{reply: func(req llm.Request) (string, error) {
		switch {
		case strings.Contains(req.Prompt, bucketInstructions[types.BucketMainFindings]):
			return "Here you go:\n```json\n" + `[
				{"claim": "Attention improves node classification.", "papers": ["2101.00001", "9999.99999"]},
				{"claim": "Invented result.", "papers": ["not-a-paper"]},
				{"claim": "Inductive sampling scales to large graphs.", "papers": ["2101.00002", "2101.00001", "2101.00002"]}
			]` + "\n```", nil
		case strings.Contains(req.Prompt, bucketInstructions[types.BucketMethodsOverview]):
			return `{"claims": [{"claim": "Spectral methods precede spatial ones.", "papers": ["1901.00009"]}]}`, nil
		default:
			return "[]", nil
		}
	}}
	c := &Composer{Generator: gen, Embedder: fixedEmbedder{vec: []float32{1, 0, 0}}, RelatedPapers: 5, Logger: logging.Discard()}

	r, err := c.Compose(context.Background(), gnnRun(), kb)
	require.NoError(t, err)

	assert.Equal(t, int32(4), gen.calls.Load())
	assert.False(t, r.Fallback)
	assert.Equal(t, []string{"2101.00001", "2101.00002", "1901.00009"}, r.Contributors)
	assert.Equal(t, []string{"1901.00009"}, r.RelatedPaperIDs)

	require.Len(t, r.MainFindings, 2)
	assert.Equal(t, []string{"2101.00001"}, r.MainFindings[0].PaperIDs)
	assert.Equal(t, []string{"2101.00002", "2101.00001"}, r.MainFindings[1].PaperIDs)
	require.Len(t, r.MethodsOverview, 1)
	assert.Equal(t, []string{"1901.00009"}, r.MethodsOverview[0].PaperIDs)
	assert.NotNil(t, r.ResearchGaps)
	assert.Empty(t, r.ResearchGaps)

	for _, b := range types.AllBuckets() {
		for _, cl := range r.Claims(b) {
			for _, id := range cl.PaperIDs {
				assert.Contains(t, r.Contributors, id)
			}
		}
	}

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, `Research question: "graph neural networks"`)
	assert.Contains(t, prompt, "[2101.00001] Graph Attention Networks")
	assert.Contains(t, prompt, "[1901.00009] Spectral Graph Convolutions")
	assert.Contains(t, prompt, "- methodology: methodology of 2101.00001")
	assert.NotContains(t, prompt, "2101.00003")
}

func TestComposeFallback(t *testing.T) {
	kb := openKB(t)
	seedGNN(t, kb)

	gen := &fakeGenerator{reply: func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, bucketInstructions[types.BucketFutureDirections]) {
			return "I am unable to comply.", nil
		}
		return "", types.Permanent("generate", errors.New("after 4 attempts: rate limited"))
	}}
	c := &Composer{Generator: gen, Logger: logging.Discard()}

	r, err := c.Compose(context.Background(), gnnRun(), kb)
	require.NoError(t, err)
	assert.True(t, r.Fallback)
	assert.Empty(t, r.RelatedPaperIDs)

	require.Len(t, r.MainFindings, 2)
	assert.Equal(t, types.Claim{Text: "results of 2101.00001", PaperIDs: []string{"2101.00001"}}, r.MainFindings[0])
	assert.Equal(t, types.Claim{Text: "conclusion of 2101.00002", PaperIDs: []string{"2101.00002"}}, r.MainFindings[1])
	require.Len(t, r.MethodsOverview, 1)
	assert.Equal(t, "methodology of 2101.00001", r.MethodsOverview[0].Text)
	assert.Empty(t, r.ResearchGaps)
	require.Len(t, r.FutureDirections, 1)
	assert.Equal(t, []string{"2101.00002"}, r.FutureDirections[0].PaperIDs)
}

func TestComposePoolsOverallSummary(t *testing.T) {
	kb := openKB(t)
	seed(t, kb, "2101.00004", "Graph Isomorphism Networks", []float32{0, 1, 0},
		types.RoleMethodology, types.RoleOverall)
	qc := &types.QueryContext{
		RunID:    "run-2",
		Query:    "graph neural networks",
		Outcomes: []types.Outcome{
			{PaperID: "2101.00004", Title: "Graph Isomorphism Networks", Kind: types.OutcomeSuccess},
		},
	}

	gen := &fakeGenerator{reply: func(llm.Request) (string, error) {
		return "", types.Permanent("generate", errors.New("unavailable"))
	}}
	c := &Composer{Generator: gen, Logger: logging.Discard()}

	r, err := c.Compose(context.Background(), qc, kb)
	require.NoError(t, err)
	require.NotEmpty(t, gen.prompts)
	assert.Contains(t, gen.prompts[0], "- overall: overall of 2101.00004")

	// The overview stands in when no preferred section was stored.
	require.Len(t, r.MainFindings, 1)
	assert.Equal(t, types.Claim{Text: "overall of 2101.00004", PaperIDs: []string{"2101.00004"}}, r.MainFindings[0])
}

func TestComposeFatalError(t *testing.T) {
	kb := openKB(t)
	seedGNN(t, kb)
	gen := &fakeGenerator{reply: func(llm.Request) (string, error) {
		return "", types.Configf("ai.api_key", "rejected")
	}}
	c := &Composer{Generator: gen, Logger: logging.Discard()}

	_, err := c.Compose(context.Background(), gnnRun(), kb)
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
}

func TestComposeCanceled(t *testing.T) {
	kb := openKB(t)
	seedGNN(t, kb)
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{reply: func(llm.Request) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	c := &Composer{Generator: gen, Logger: logging.Discard()}

	_, err := c.Compose(ctx, gnnRun(), kb)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComposeWithoutGenerator(t *testing.T) {
	kb := openKB(t)
	seedGNN(t, kb)
	_, err := (&Composer{}).Compose(context.Background(), gnnRun(), kb)
	var ce *types.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestParseClaims(t *testing.T) {
	valid := map[string]bool{"a1": true, "b2": true}

	claims, err := ParseClaims(`[{"claim": " x ", "papers": ["[a1]", "zz"]}, {"claim": "", "papers": ["a1"]}]`, valid)
	require.NoError(t, err)
	assert.Equal(t, []types.Claim{{Text: "x", PaperIDs: []string{"a1"}}}, claims)

	claims, err = ParseClaims("[]", valid)
	require.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Empty(t, claims)

	_, err = ParseClaims("no json here", valid)
	assert.Error(t, err)

	_, err = ParseClaims(`{"answer": 42}`, valid)
	assert.Error(t, err)
}

func TestRenderMarkdown(t *testing.T) {
	r := types.NewSynthesisReport("graph neural networks")
	r.Contributors = []string{"2101.00001", "1901.00009"}
	r.RelatedPaperIDs = []string{"1901.00009"}
	r.SetClaims(types.BucketMainFindings, []types.Claim{
		{Text: "Attention helps.", PaperIDs: []string{"2101.00001", "1901.00009"}},
	})

	md := RenderMarkdown(r)
	assert.Contains(t, md, "# Literature review: graph neural networks")
	assert.Contains(t, md, "## Main Findings\n\n- Attention helps. [2101.00001; 1901.00009]")
	assert.Contains(t, md, "## Research Gaps\n\n_Nothing reported._")
	assert.Contains(t, md, "- 1901.00009 (earlier run)")
	assert.Empty(t, UnknownCitations(md, r.Contributors))

	empty := RenderMarkdown(types.NewSynthesisReport("q"))
	assert.Contains(t, empty, "No paper contributed")
}

func TestUnknownCitations(t *testing.T) {
	text := "See [Smith](http://x) and [2101.1; 404] and [2101.1] and [some prose]."
	assert.Equal(t, []string{"404"}, UnknownCitations(text, []string{"2101.1"}))
}

func TestCheckCitations(t *testing.T) {
	r := types.NewSynthesisReport("q")
	r.Contributors = []string{"2101.00001", "2101.00002"}
	r.SetClaims(types.BucketMainFindings, []types.Claim{
		{Text: "Attention helps on citation graphs.", PaperIDs: []string{"2101.00001"}},
	})
	assert.Empty(t, CheckCitations(r))

	r.SetClaims(types.BucketMethodsOverview, []types.Claim{
		{Text: "Sampling neighbors scales training.", PaperIDs: []string{"2101.00002", "1901.00009"}},
	})
	assert.Equal(t, []string{"1901.00009"}, CheckCitations(r))
}

func TestWriteMarkdown(t *testing.T) {
	dir := ReportsDir(t.TempDir())
	r := types.NewSynthesisReport("q")
	path, err := WriteMarkdown(dir, "run-1", r)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "run-1.md"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, RenderMarkdown(r), string(data))
}
