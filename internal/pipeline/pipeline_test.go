// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litreview/internal/acquire"
	"github.com/pdiddy/litreview/internal/dedup"
	"github.com/pdiddy/litreview/internal/knowledge"
	"github.com/pdiddy/litreview/internal/logging"
	"github.com/pdiddy/litreview/internal/retry"
	"github.com/pdiddy/litreview/internal/summarize"
	"github.com/pdiddy/litreview/pkg/types"
)

// --- fakes ---

type fakeSource struct {
	cands []types.Candidate
	err   error
	calls atomic.Int32
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Search(_ context.Context, _ string, limit int) ([]types.Candidate, error) {
	s.calls.Add(1)
	out := s.cands
	if len(out) > limit {
		out = out[:limit]
	}
	return out, s.err
}

// fakeFetcher serves the paper ID as the document body unless a document
// or error is configured for it.
type fakeFetcher struct {
	docs  map[string][]byte
	errs  map[string]error
	block chan struct{}
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, c types.Candidate) ([]byte, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[c.PaperID]; err != nil {
		return nil, err
	}
	if doc, ok := f.docs[c.PaperID]; ok {
		return doc, nil
	}
	return []byte(c.PaperID), nil
}

// fakeExtractor treats documents starting with "broken" as unreadable and
// yields three sections for anything else.
type fakeExtractor struct {
	calls atomic.Int32
}

func (e *fakeExtractor) Extract(_ context.Context, doc []byte) (map[types.SectionRole]string, error) {
	e.calls.Add(1)
	if bytes.HasPrefix(doc, []byte("broken")) {
		return nil, &types.ExtractionError{Err: errors.New("no text layer")}
	}
	return map[types.SectionRole]string{
		types.RoleTitle:       "Paper " + string(doc),
		types.RoleAbstract:    "Abstract of " + string(doc),
		types.RoleMethodology: "Methods of " + string(doc),
	}, nil
}

type fakeSummarizer struct {
	mu       sync.Mutex
	failures map[string]int // remaining transient failures per text
	fatal    map[string]bool
	calls    atomic.Int32
}

func (s *fakeSummarizer) Summarize(_ context.Context, text string, role types.SectionRole, _ summarize.Params) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, n := range s.failures {
		if strings.Contains(text, key) && n > 0 {
			s.failures[key] = n - 1
			return "", types.Transient("summarize", errors.New("rate limited"))
		}
	}
	for key := range s.fatal {
		if strings.Contains(text, key) {
			return "", types.Permanent("summarize", errors.New("request refused"))
		}
	}
	return fmt.Sprintf("%s summary: %s", role, text), nil
}

type fakeScorer struct {
	calls atomic.Int32
}

func (s *fakeScorer) Score(context.Context, string, string) (float64, error) {
	s.calls.Add(1)
	return 0.75, nil
}

// vectorScorer rates stored embeddings and refuses plain text.
type vectorScorer struct {
	text    atomic.Int32
	vectors atomic.Int32
}

func (s *vectorScorer) Score(context.Context, string, string) (float64, error) {
	s.text.Add(1)
	return 0, errors.New("text scoring not expected")
}

func (s *vectorScorer) ScoreVector(_ context.Context, vec []float32, _ string) (float64, error) {
	s.vectors.Add(1)
	if len(vec) == 0 {
		return 0, errors.New("empty vector")
	}
	return 0.5, nil
}

type fakeEmbedder struct {
	dim   int
	calls atomic.Int32
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	v := make([]float32, e.dim)
	for i := range v {
		v[i] = float32(len(text)%(i+3)) + 1
	}
	return v, nil
}

func (e *fakeEmbedder) Dimension() int { return e.dim }

// --- harness ---

type harness struct {
	source     *fakeSource
	fetcher    *fakeFetcher
	extractor  *fakeExtractor
	summarizer *fakeSummarizer
	scorer     *fakeScorer
	embedder   *fakeEmbedder
	kb         knowledge.Base
	dedup      *dedup.Index
	dir        string
}

func newHarness(t *testing.T, cands []types.Candidate) *harness {
	t.Helper()
	dir := t.TempDir()
	kb, err := knowledge.OpenSQLite(context.Background(), dir, 0)
	require.NoError(t, err)
	t.Cleanup(func() { kb.Close() })
	idx, err := dedup.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return &harness{
		source:     &fakeSource{cands: cands},
		fetcher:    &fakeFetcher{},
		extractor:  &fakeExtractor{},
		summarizer: &fakeSummarizer{},
		scorer:     &fakeScorer{},
		embedder:   &fakeEmbedder{dim: 4},
		kb:         kb,
		dedup:      idx,
		dir:        dir,
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return &Orchestrator{
		Source:      h.source,
		Fetcher:     h.fetcher,
		Extractor:   h.extractor,
		Summarizer:  h.summarizer,
		Scorer:      h.scorer,
		Embedder:    h.embedder,
		KB:          h.kb,
		Dedup:       h.dedup,
		Retry:       retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond},
		MaxAttempts: 3,
		Logger:      logging.Discard(),
	}
}

// adapterCalls sums calls to every adapter past retrieval.
func (h *harness) adapterCalls() int32 {
	return h.fetcher.calls.Load() + h.extractor.calls.Load() + h.summarizer.calls.Load() +
		h.scorer.calls.Load() + h.embedder.calls.Load()
}

func gnnCandidates() []types.Candidate {
	return []types.Candidate{
		{PaperID: "2101.00001", Title: "Graph Attention Networks", ReferenceAbstract: "We present graph attention networks."},
		{PaperID: "2101.00002", Title: "Inductive Representation Learning on Large Graphs"},
		{PaperID: "2101.00003", Title: "A Scanned Survey of Graph Neural Networks"},
	}
}

// --- tests ---

func TestRunQueryGraphNeuralNetworks(t *testing.T) {
	h := newHarness(t, gnnCandidates())
	h.fetcher.docs = map[string][]byte{"2101.00003": []byte("broken scan")}
	o := h.orchestrator()
	o.MaxAttempts = 1
	ctx := context.Background()

	qc, err := o.RunQuery(ctx, "graph neural networks", 3, 2)
	require.NoError(t, err)

	assert.NotEmpty(t, qc.RunID)
	assert.Equal(t, "graph neural networks", qc.Query)
	assert.Equal(t, []string{"2101.00001", "2101.00002", "2101.00003"}, qc.Candidates)
	require.Len(t, qc.Outcomes, 3)
	assert.Equal(t, types.OutcomeSuccess, qc.Outcomes[0].Kind)
	assert.Equal(t, types.OutcomeSuccess, qc.Outcomes[1].Kind)
	assert.Equal(t, types.OutcomeFailed, qc.Outcomes[2].Kind)
	assert.Contains(t, qc.Outcomes[2].Reason, "extraction failed")
	assert.Equal(t, []types.SectionRole{types.RoleTitle, types.RoleAbstract, types.RoleMethodology, types.RoleOverall}, qc.Outcomes[0].Sections)

	// Only the first paper has a reference abstract.
	assert.Equal(t, 4, qc.Evaluation.Scored)
	assert.Equal(t, 4, qc.Evaluation.Unscored)
	assert.InDelta(t, 0.75, qc.Evaluation.MeanScore, 1e-9)

	size, err := h.kb.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, size)

	rec, found, err := h.dedup.Lookup(ctx, "2101.00003")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	before := h.adapterCalls()
	before1, err := h.kb.Summaries(ctx, "2101.00001")
	require.NoError(t, err)

	rerun := h.orchestrator()
	rerun.MaxAttempts = 1
	again, err := rerun.RunQuery(ctx, "graph neural networks", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, before, h.adapterCalls(), "rerun must not call any adapter")
	assert.Equal(t, types.OutcomeSkipped, again.Outcomes[0].Kind)
	assert.Equal(t, types.OutcomeSkipped, again.Outcomes[1].Kind)
	assert.Equal(t, types.OutcomeFailed, again.Outcomes[2].Kind)
	assert.Contains(t, again.Outcomes[2].Reason, "gave up")
	assert.Equal(t, []string{"2101.00001", "2101.00002"}, again.Contributors())

	after1, err := h.kb.Summaries(ctx, "2101.00001")
	require.NoError(t, err)
	assert.Equal(t, before1, after1)
}

func TestRunQueryRetriesFailedPaperBelowMaxAttempts(t *testing.T) {
	h := newHarness(t, gnnCandidates()[2:])
	h.fetcher.docs = map[string][]byte{"2101.00003": []byte("broken scan")}
	ctx := context.Background()

	_, err := h.orchestrator().RunQuery(ctx, "gnn", 1, 1)
	require.NoError(t, err)

	h.fetcher.docs = nil
	qc, err := h.orchestrator().RunQuery(ctx, "gnn", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, qc.Outcomes[0].Kind)
	assert.Equal(t, int32(2), h.fetcher.calls.Load())

	rec, _, err := h.dedup.Lookup(ctx, "2101.00003")
	require.NoError(t, err)
	assert.Equal(t, types.StatusExtracted, rec.Status)
	assert.Empty(t, rec.Reason)
}

func TestRunQueryForceReprocesses(t *testing.T) {
	h := newHarness(t, gnnCandidates()[:1])
	ctx := context.Background()

	_, err := h.orchestrator().RunQuery(ctx, "gnn", 1, 1)
	require.NoError(t, err)

	o := h.orchestrator()
	o.Force = true
	qc, err := o.RunQuery(ctx, "gnn", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, qc.Outcomes[0].Kind)
	assert.Equal(t, int32(2), h.fetcher.calls.Load())

	size, err := h.kb.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, size, "reprocessing replaces, never duplicates")
}

func TestRunQueryFailureIsolation(t *testing.T) {
	h := newHarness(t, gnnCandidates())
	h.summarizer.fatal = map[string]bool{"2101.00002": true}
	h.fetcher.errs = map[string]error{"2101.00001": types.Permanent("fetch", errors.New("HTTP 404"))}
	ctx := context.Background()

	qc, err := h.orchestrator().RunQuery(ctx, "gnn", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailed, qc.Outcomes[0].Kind)
	assert.Contains(t, qc.Outcomes[0].Reason, "404")
	assert.Equal(t, types.OutcomeFailed, qc.Outcomes[1].Kind)
	assert.Contains(t, qc.Outcomes[1].Reason, "refused")
	assert.Equal(t, types.OutcomeSuccess, qc.Outcomes[2].Kind)

	// The paper whose summary failed left nothing behind.
	sums, err := h.kb.Summaries(ctx, "2101.00002")
	require.NoError(t, err)
	assert.Empty(t, sums)

	report, err := h.kb.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestRunQueryTransientFailures(t *testing.T) {
	h := newHarness(t, gnnCandidates()[:2])
	h.summarizer.failures = map[string]int{
		"2101.00001": 1,  // recovers on retry
		"2101.00002": 10, // outlives the retry budget
	}
	ctx := context.Background()

	qc, err := h.orchestrator().RunQuery(ctx, "gnn", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, qc.Outcomes[0].Kind)
	assert.Equal(t, types.OutcomeFailed, qc.Outcomes[1].Kind)

	rec, _, err := h.dedup.Lookup(ctx, "2101.00002")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Contains(t, rec.Reason, "after 3 attempts")
	assert.Equal(t, 1, rec.Attempts)
}

func TestRunQueryScoresStoredEmbedding(t *testing.T) {
	h := newHarness(t, gnnCandidates()[:1])
	vs := &vectorScorer{}
	o := h.orchestrator()
	o.Scorer = vs

	qc, err := o.RunQuery(context.Background(), "graph neural networks", 1, 1)
	require.NoError(t, err)
	require.Len(t, qc.Outcomes, 1)
	assert.Equal(t, types.OutcomeSuccess, qc.Outcomes[0].Kind)

	// One embedding per stored summary serves both storage and scoring.
	assert.Equal(t, int32(4), h.embedder.calls.Load())
	assert.Equal(t, int32(4), vs.vectors.Load())
	assert.Zero(t, vs.text.Load())
	assert.Equal(t, 4, qc.Evaluation.Scored)
	assert.InDelta(t, 0.5, qc.Evaluation.MeanScore, 1e-9)
}

func TestRunQueryStoresOverallSummary(t *testing.T) {
	h := newHarness(t, gnnCandidates()[:1])
	ctx := context.Background()

	_, err := h.orchestrator().RunQuery(ctx, "graph neural networks", 1, 1)
	require.NoError(t, err)

	sums, err := h.kb.Summaries(ctx, "2101.00001")
	require.NoError(t, err)
	require.Len(t, sums, 4)
	overall := sums[3]
	assert.Equal(t, types.RoleOverall, overall.Role)
	assert.Contains(t, overall.Text, "Title:\nPaper 2101.00001")
	assert.Contains(t, overall.Text, "Abstract:\nAbstract of 2101.00001")
	assert.NotContains(t, overall.Text, "Methods of", "only title, abstract and introduction feed it")
	require.True(t, overall.Scored())
	assert.InDelta(t, 0.75, *overall.Score, 1e-9)
}

func TestOverallText(t *testing.T) {
	assert.Empty(t, overallText(map[types.SectionRole]string{types.RoleResults: "r"}))
	got := overallText(map[types.SectionRole]string{
		types.RoleIntroduction: "Intro text.",
		types.RoleTitle:        " GAT ",
		types.RoleConclusion:   "ignored",
	})
	assert.Equal(t, "Title:\nGAT\n\nIntroduction:\nIntro text.", got)
}

func TestRunQueryDimensionMismatchAborts(t *testing.T) {
	h := newHarness(t, gnnCandidates())
	ctx := context.Background()
	require.NoError(t, h.kb.InsertPaper(ctx, types.PaperRecord{ID: "seed"}, []knowledge.Entry{{
		Summary: types.SectionSummary{PaperID: "seed", Role: types.RoleTitle, Text: "seed", Status: types.SummaryGenerated},
		Vector:  []float32{1, 0, 0},
	}}))

	qc, err := h.orchestrator().RunQuery(ctx, "gnn", 3, 1)
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
	var ce *types.ConfigurationError
	assert.ErrorAs(t, err, &ce)
	require.NotNil(t, qc)

	size, err := h.kb.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestRunQueryCancellation(t *testing.T) {
	h := newHarness(t, gnnCandidates())
	h.fetcher.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for h.fetcher.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	qc, err := h.orchestrator().RunQuery(ctx, "gnn", 3, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, qc.Outcomes, 3)
	for _, o := range qc.Outcomes {
		assert.Equal(t, types.OutcomeFailed, o.Kind)
		assert.Equal(t, "canceled", o.Reason)
	}

	size, err := h.kb.Size(context.Background())
	require.NoError(t, err)
	assert.Zero(t, size)

	rec, _, err := h.dedup.Lookup(context.Background(), "2101.00001")
	require.NoError(t, err)
	assert.Zero(t, rec.Attempts, "cancellation is not a failed attempt")
}

func TestRunQueryValidation(t *testing.T) {
	h := newHarness(t, gnnCandidates())
	o := h.orchestrator()
	tests := []struct {
		name        string
		query       string
		results     int
		concurrency int
		field       string
	}{
		{"empty query", "  ", 3, 1, "query"},
		{"zero results", "gnn", 0, 1, "results"},
		{"zero concurrency", "gnn", 3, 0, "concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.RunQuery(context.Background(), tt.query, tt.results, tt.concurrency)
			var ce *types.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
	assert.Zero(t, h.source.calls.Load())
}

func TestRunQueryNoCandidates(t *testing.T) {
	h := newHarness(t, nil)
	qc, err := h.orchestrator().RunQuery(context.Background(), "nothing matches", 5, 2)
	require.NoError(t, err)
	assert.Empty(t, qc.Outcomes)
	assert.Empty(t, qc.Contributors())
	assert.Zero(t, h.adapterCalls())
}

func TestRunQueryRetrievalFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.source.err = types.Permanent("arxiv", errors.New("HTTP 400"))
	_, err := h.orchestrator().RunQuery(context.Background(), "gnn", 5, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieving candidates")
	assert.Equal(t, int32(1), h.source.calls.Load())
}

func TestRunQueryPartialRetrieval(t *testing.T) {
	h := newHarness(t, gnnCandidates()[:1])
	h.source.err = types.Permanent("arxiv", errors.New("page 2 failed"))
	qc, err := h.orchestrator().RunQuery(context.Background(), "gnn", 5, 2)
	require.NoError(t, err)
	assert.Len(t, qc.Outcomes, 1)
	require.Len(t, qc.RetrievalWarnings, 1)
	assert.Contains(t, qc.RetrievalWarnings[0], "page 2 failed")
}

func TestRunQueryCollapsesDuplicateCandidates(t *testing.T) {
	cands := []types.Candidate{
		{PaperID: "2101.00001v2", Title: "Graph Attention Networks"},
		{PaperID: "2101.00002", Title: "GraphSAGE"},
		{PaperID: "2101.00001v1", Title: "Graph attention networks."},
	}
	h := newHarness(t, cands)
	qc, err := h.orchestrator().RunQuery(context.Background(), "gnn", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2101.00001", "2101.00002"}, qc.Candidates)
	assert.Equal(t, int32(2), h.fetcher.calls.Load())
}

func TestRunQueryCollapsesBareIDAndURL(t *testing.T) {
	cands := []types.Candidate{
		{PaperID: "1706.03762", Title: "Attention Is All You Need"},
		{PaperID: "https://arxiv.org/abs/1706.03762v5", Title: "Attention is all you need (v5)"},
	}
	h := newHarness(t, cands)
	qc, err := h.orchestrator().RunQuery(context.Background(), "transformers", 2, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"1706.03762"}, qc.Candidates)
	assert.Equal(t, int32(1), h.extractor.calls.Load())
	size, err := h.kb.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, size)
}

func TestRunQuerySameDocumentFromTwoMirrors(t *testing.T) {
	doc := []byte("one paper served by two mirrors")
	cands := []types.Candidate{
		{PaperID: "mirror a", Title: "Mirrored Paper"},
		{PaperID: "mirror b", Title: "Mirrored Paper (copy)"},
	}
	h := newHarness(t, cands)
	h.fetcher.docs = map[string][]byte{"mirror a": doc, "mirror b": doc}
	o := h.orchestrator()
	o.Force = true

	qc, err := o.RunQuery(context.Background(), "mirrors", 2, 2)
	require.NoError(t, err)

	id := acquire.ContentID(doc)
	require.Len(t, qc.Outcomes, 2)
	kinds := []types.OutcomeKind{qc.Outcomes[0].Kind, qc.Outcomes[1].Kind}
	assert.ElementsMatch(t, []types.OutcomeKind{types.OutcomeSuccess, types.OutcomeSkipped}, kinds)
	assert.Equal(t, []string{id}, qc.Contributors())
	assert.Equal(t, int32(1), h.extractor.calls.Load(), "the document is processed once")
}

func TestRunQueryUnusableIDUsesContentHash(t *testing.T) {
	doc := []byte("a document with no usable identifier")
	h := newHarness(t, []types.Candidate{{PaperID: "weird id / with spaces", Title: "Orphan", URL: "https://example.org/x.pdf"}})
	h.fetcher.docs = map[string][]byte{"weird id / with spaces": doc}
	ctx := context.Background()

	qc, err := h.orchestrator().RunQuery(ctx, "orphan", 1, 1)
	require.NoError(t, err)
	want := acquire.ContentID(doc)
	assert.Equal(t, []string{want}, qc.Candidates)
	assert.Equal(t, types.OutcomeSuccess, qc.Outcomes[0].Kind)

	_, found, err := h.dedup.Lookup(ctx, want)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRunQueryWritesAuditLogAndProgress(t *testing.T) {
	h := newHarness(t, gnnCandidates()[:2])
	var progress bytes.Buffer
	o := h.orchestrator()
	o.RunsDir = RunsDir(h.dir)
	o.Progress = &progress

	qc, err := o.RunQuery(context.Background(), "gnn", 2, 2)
	require.NoError(t, err)

	runs, err := ListRuns(o.RunsDir)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, qc.RunID, runs[0].RunID)
	assert.Equal(t, qc.Candidates, runs[0].Candidates)
	assert.Equal(t, types.OutcomeSuccess, runs[0].Outcomes[1].Kind)

	lines := strings.Split(strings.TrimSpace(progress.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, progress.String(), "[2/2]")
	assert.Contains(t, progress.String(), "processed 2101.00001")
}

func TestListRunsMissingDir(t *testing.T) {
	runs, err := ListRuns(t.TempDir() + "/none")
	require.NoError(t, err)
	assert.Empty(t, runs)
}
