// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline drives a query end to end: retrieval, per-paper
// processing under a concurrency bound, and the run record handed to
// synthesis.
//
// Each paper runs fetch, extract, then summarize, embed and score per
// section plus one overall summary, and finally one all-or-nothing
// knowledge base insert. Papers
// fail independently; only configuration and consistency errors abort the
// run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/litreview/internal/acquire"
	"github.com/pdiddy/litreview/internal/dedup"
	"github.com/pdiddy/litreview/internal/embed"
	"github.com/pdiddy/litreview/internal/extract"
	"github.com/pdiddy/litreview/internal/knowledge"
	"github.com/pdiddy/litreview/internal/retry"
	"github.com/pdiddy/litreview/internal/search"
	"github.com/pdiddy/litreview/internal/summarize"
	"github.com/pdiddy/litreview/pkg/types"
)

// DedupIndex is the part of the dedup index the orchestrator needs.
// *dedup.Index implements it.
type DedupIndex interface {
	Lookup(ctx context.Context, paperID string) (types.PaperRecord, bool, error)
	Sighted(ctx context.Context, rec types.PaperRecord) error
	MarkProcessed(ctx context.Context, rec types.PaperRecord) error
}

// Orchestrator wires the stage adapters together. All adapter fields are
// required; the rest have usable zero values.
type Orchestrator struct {
	Source     search.Source
	Fetcher    acquire.Fetcher
	Extractor  extract.Extractor
	Summarizer summarize.Summarizer
	Scorer     embed.Scorer
	Embedder   embed.Embedder
	KB         knowledge.Base
	Dedup      DedupIndex

	// Retry bounds retries of transient adapter failures.
	Retry retry.Policy

	// MaxAttempts stops automatic re-processing of failed papers.
	MaxAttempts int

	// Force reprocesses papers regardless of their dedup state.
	Force bool

	// Summary tunes section summarization.
	Summary summarize.Params

	// RunsDir receives a YAML audit log per run when set.
	RunsDir string

	// Progress receives one line per resolved paper. Nil discards.
	Progress io.Writer
	Logger   *slog.Logger

	progressMu sync.Mutex
}

// New builds an orchestrator with policy settings from cfg. The caller
// fills in the adapters.
func New(cfg types.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		Retry:       retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryDelay},
		MaxAttempts: cfg.MaxAttempts,
	}
}

// paperResult is what one per-paper task reports back.
type paperResult struct {
	outcome  types.Outcome
	scores   []float64
	unscored int
}

// task is one candidate scheduled for processing. id is empty when the
// source identifier is unusable and the content hash decides identity.
type task struct {
	cand types.Candidate
	id   string
}

// RunQuery retrieves up to resultCount candidates for query and processes
// them with at most maxConcurrency papers in flight. The returned
// QueryContext lists one outcome per candidate in retrieval order.
//
// Invalid arguments, an embedding dimension mismatch and knowledge base
// inconsistency are returned as errors and abort the run. A retrieval
// failure that yields no candidates is returned as an error as well. Zero
// candidates without an error produce an empty context.
func (o *Orchestrator) RunQuery(ctx context.Context, query string, resultCount, maxConcurrency int) (*types.QueryContext, error) {
	query = strings.TrimSpace(query)
	switch {
	case query == "":
		return nil, types.Configf("query", "must not be empty")
	case resultCount <= 0:
		return nil, types.Configf("results", "must be positive, got %d", resultCount)
	case maxConcurrency < 1:
		return nil, types.Configf("concurrency", "must be at least 1, got %d", maxConcurrency)
	}

	log := o.logger()
	qc := &types.QueryContext{
		RunID:       uuid.NewString(),
		Query:       query,
		StartedAt:   time.Now().UTC(),
		ResultCount: resultCount,
	}
	log = log.With("run", qc.RunID)
	log.Info("query started", "query", query, "results", resultCount, "concurrency", maxConcurrency)

	cands, err := o.retrieve(ctx, query, resultCount)
	if err != nil {
		if len(cands) == 0 || types.IsFatal(err) {
			return qc, fmt.Errorf("retrieving candidates: %w", err)
		}
		log.Warn("partial retrieval", "error", err, "candidates", len(cands))
		qc.RetrievalWarnings = append(qc.RetrievalWarnings, err.Error())
	}

	tasks := plan(cands)
	if len(tasks) == 0 {
		log.Warn("no candidates retrieved", "query", query)
		o.writeAudit(qc, log)
		return qc, nil
	}

	results := make([]paperResult, len(tasks))
	claims := &paperClaims{}

	var resolved atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i, t := range tasks {
		if gctx.Err() != nil {
			results[i] = paperResult{outcome: canceledOutcome(t)}
			continue
		}
		g.Go(func() error {
			res, err := o.processPaper(gctx, t, claims, log)
			results[i] = res
			o.report(int(resolved.Add(1)), len(tasks), res.outcome)
			if types.IsFatal(err) {
				return err
			}
			return nil
		})
	}
	waitErr := g.Wait()

	var scoreSum float64
	for _, r := range results {
		qc.Candidates = append(qc.Candidates, r.outcome.PaperID)
		qc.Outcomes = append(qc.Outcomes, r.outcome)
		for _, s := range r.scores {
			scoreSum += s
		}
		qc.Evaluation.Scored += len(r.scores)
		qc.Evaluation.Unscored += r.unscored
	}
	if qc.Evaluation.Scored > 0 {
		qc.Evaluation.MeanScore = scoreSum / float64(qc.Evaluation.Scored)
	}

	log.Info("query finished",
		"success", qc.Count(types.OutcomeSuccess),
		"failed", qc.Count(types.OutcomeFailed),
		"skipped", qc.Count(types.OutcomeSkipped),
		"mean_score", qc.Evaluation.MeanScore)
	o.writeAudit(qc, log)

	if waitErr != nil {
		return qc, waitErr
	}
	if err := ctx.Err(); err != nil {
		return qc, err
	}
	return qc, nil
}

// retrieve calls the source under the retry policy. The longest partial
// list seen is returned alongside any final error.
func (o *Orchestrator) retrieve(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	var best []types.Candidate
	err := retry.Do(ctx, o.Retry, func(ctx context.Context) error {
		cands, err := o.Source.Search(ctx, query, limit)
		if len(cands) > len(best) {
			best = cands
		}
		return err
	})
	return best, err
}

// plan canonicalizes candidate IDs and drops repeats, keeping the first
// occurrence's position. Candidates whose source ID is unusable keep it
// for display and get an empty task ID.
func plan(cands []types.Candidate) []task {
	canonical := make(map[string]bool)
	for i, c := range cands {
		if id := acquire.CanonicalID(c); id != "" {
			cands[i].PaperID = id
			canonical[id] = true
		}
	}
	kept, _ := search.Deduplicate(cands)

	tasks := make([]task, len(kept))
	for i, c := range kept {
		tasks[i] = task{cand: c}
		if canonical[c.PaperID] {
			tasks[i].id = c.PaperID
		}
	}
	return tasks
}

// processPaper runs one candidate to a terminal outcome. The error is
// non-nil only for failures that must abort the run.
func (o *Orchestrator) processPaper(ctx context.Context, t task, claims *paperClaims, log *slog.Logger) (paperResult, error) {
	start := time.Now()
	p := &paperRun{o: o, log: log, start: start}
	p.res.outcome = types.Outcome{PaperID: t.id, Title: t.cand.Title}
	if err := ctx.Err(); err != nil {
		p.res.outcome = canceledOutcome(t)
		return p.finish(), nil
	}

	var doc []byte
	id := t.id
	if id == "" {
		// No usable identifier: identity comes from the document itself.
		p.res.outcome.PaperID = t.cand.PaperID
		d, err := o.fetch(ctx, t.cand)
		if err != nil {
			return p.fail(ctx, err)
		}
		doc, id = d, acquire.ContentID(d)
		p.res.outcome.PaperID = id
	}
	p.rec = types.RecordFor(t.cand)
	p.rec.ID = id

	// Two candidates can resolve to the same document through the content
	// hash. The later one waits and is then served from storage.
	claim := claims.acquire(id)
	defer claim.mu.Unlock()
	if claim.done {
		return o.servedInRun(ctx, p, log)
	}

	if done := o.checkDedup(ctx, &p.res, p.rec, log); done {
		return p.finish(), nil
	}
	p.tracked = true

	if doc == nil {
		d, err := o.fetch(ctx, t.cand)
		if err != nil {
			return p.fail(ctx, err)
		}
		doc = d
	}

	sections, err := o.Extractor.Extract(ctx, doc)
	if err != nil {
		var ee *types.ExtractionError
		if errors.As(err, &ee) && ee.PaperID == "" {
			ee.PaperID = id
		}
		return p.fail(ctx, err)
	}

	entries, err := o.summarizeSections(ctx, id, t.cand, sections)
	if err != nil {
		return p.fail(ctx, err)
	}

	// No partial paper is ever written: stop here if the run was cancelled.
	if err := ctx.Err(); err != nil {
		return p.fail(ctx, err)
	}

	for _, text := range sections {
		p.rec.TextLength += len(text)
	}
	p.rec.Status = types.StatusExtracted
	p.rec.Reason = ""
	if err := o.KB.InsertPaper(ctx, p.rec, entries); err != nil {
		return p.fail(ctx, fmt.Errorf("storing summaries: %w", err))
	}
	if err := o.Dedup.MarkProcessed(ctx, p.rec); err != nil {
		// The summaries are committed; the next run re-processes and overwrites.
		log.Warn("marking paper processed", "paper", id, "error", err)
	}

	claim.done = true
	p.res.outcome.Kind = types.OutcomeSuccess
	for _, e := range entries {
		p.res.outcome.Sections = append(p.res.outcome.Sections, e.Summary.Role)
		if e.Summary.Score != nil {
			p.res.scores = append(p.res.scores, *e.Summary.Score)
		} else {
			p.res.unscored++
		}
	}
	log.Info("paper processed", "paper", id, "sections", len(entries), "duration", time.Since(start))
	return p.finish(), nil
}

// paperRun carries the state of one processPaper call.
type paperRun struct {
	o     *Orchestrator
	log   *slog.Logger
	start time.Time
	rec   types.PaperRecord
	res   paperResult

	// tracked is set once the paper has an entry in the dedup index.
	tracked bool
}

func (p *paperRun) finish() paperResult {
	p.res.outcome.Duration = time.Since(p.start)
	return p.res
}

// fail records a failed outcome. Fatal errors are passed up; cancellation
// is not counted as a processing attempt.
func (p *paperRun) fail(ctx context.Context, err error) (paperResult, error) {
	p.res.outcome.Kind = types.OutcomeFailed
	p.res.outcome.Reason = err.Error()
	p.res.outcome.Sections = nil

	if types.IsFatal(err) {
		p.log.Error("run aborted", "paper", p.res.outcome.PaperID, "error", err)
		return p.finish(), err
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		p.res.outcome.Reason = "canceled"
		return p.finish(), nil
	}

	p.log.Warn("paper failed", "paper", p.res.outcome.PaperID, "error", err)
	if p.tracked {
		rec := p.rec
		rec.Status = types.StatusFailed
		rec.Reason = err.Error()
		if mErr := p.o.Dedup.MarkProcessed(context.WithoutCancel(ctx), rec); mErr != nil {
			p.log.Warn("recording failure", "paper", rec.ID, "error", mErr)
		}
	}
	return p.finish(), nil
}

// checkDedup applies the re-attempt policy. It reports done when the
// outcome is already decided.
func (o *Orchestrator) checkDedup(ctx context.Context, res *paperResult, rec types.PaperRecord, log *slog.Logger) bool {
	stored, found, err := o.Dedup.Lookup(ctx, rec.ID)
	if err != nil {
		res.outcome.Kind = types.OutcomeFailed
		res.outcome.Reason = err.Error()
		log.Error("dedup lookup", "paper", rec.ID, "error", err)
		return true
	}

	switch dedup.Decide(stored, found, o.Force, o.MaxAttempts) {
	case dedup.Skip:
		summaries, err := o.KB.Summaries(ctx, rec.ID)
		if err != nil {
			res.outcome.Kind = types.OutcomeFailed
			res.outcome.Reason = fmt.Sprintf("reading stored summaries: %v", err)
			return true
		}
		if len(summaries) > 0 {
			res.outcome.Kind = types.OutcomeSkipped
			res.outcome.Reason = "duplicate"
			for _, s := range summaries {
				res.outcome.Sections = append(res.outcome.Sections, s.Role)
			}
			log.Debug("paper served from knowledge base", "paper", rec.ID)
			return true
		}
		log.Warn("paper marked extracted but has no stored summaries; reprocessing", "paper", rec.ID)
	case dedup.GiveUp:
		res.outcome.Kind = types.OutcomeFailed
		res.outcome.Reason = fmt.Sprintf("gave up after %d attempts: %s", stored.Attempts, stored.Reason)
		return true
	}

	if !found {
		if err := o.Dedup.Sighted(ctx, rec); err != nil {
			log.Warn("recording sighting", "paper", rec.ID, "error", err)
		}
	}
	return false
}

// summarizeSections runs summarize, embed and score for every present
// role in fixed order, then once more for the overall summary drawn from
// the title, abstract and introduction. Any section failing fails the
// paper.
func (o *Orchestrator) summarizeSections(ctx context.Context, id string, c types.Candidate, sections map[types.SectionRole]string) ([]knowledge.Entry, error) {
	params := o.Summary
	if params.Title == "" {
		params.Title = c.Title
	}

	var entries []knowledge.Entry
	for _, role := range types.AllRoles() {
		text, ok := sections[role]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		e, err := o.summarizeOne(ctx, id, c, role, text, params)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, &types.ExtractionError{PaperID: id, Err: extract.ErrNoText}
	}

	if text := overallText(sections); text != "" {
		e, err := o.summarizeOne(ctx, id, c, types.RoleOverall, text, params)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (o *Orchestrator) summarizeOne(ctx context.Context, id string, c types.Candidate, role types.SectionRole, text string, params summarize.Params) (knowledge.Entry, error) {
	summary, err := retry.Value(ctx, o.Retry, func(ctx context.Context) (string, error) {
		return o.Summarizer.Summarize(ctx, text, role, params)
	})
	if err != nil {
		return knowledge.Entry{}, err
	}

	vec, err := retry.Value(ctx, o.Retry, func(ctx context.Context) ([]float32, error) {
		return o.Embedder.Embed(ctx, summary)
	})
	if err != nil {
		return knowledge.Entry{}, fmt.Errorf("embedding %s: %w", role, err)
	}

	var score *float64
	if c.HasReference() {
		s, err := retry.Value(ctx, o.Retry, func(ctx context.Context) (float64, error) {
			if vs, ok := o.Scorer.(embed.VectorScorer); ok {
				return vs.ScoreVector(ctx, vec, c.ReferenceAbstract)
			}
			return o.Scorer.Score(ctx, summary, c.ReferenceAbstract)
		})
		if err != nil {
			return knowledge.Entry{}, fmt.Errorf("scoring %s: %w", role, err)
		}
		s = embed.Clamp(s)
		score = &s
	}

	return knowledge.Entry{
		Summary: types.SectionSummary{
			PaperID: id,
			Role:    role,
			Text:    summary,
			Score:   score,
			Status:  types.SummaryGenerated,
		},
		Vector: vec,
	}, nil
}

// overallText joins the labelled source sections of the overall summary.
// It is empty when none of them has text.
func overallText(sections map[types.SectionRole]string) string {
	var b strings.Builder
	for _, role := range types.OverallSources() {
		text := strings.TrimSpace(sections[role])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s%s:\n%s", strings.ToUpper(string(role[:1])), role[1:], text)
	}
	return b.String()
}

func (o *Orchestrator) fetch(ctx context.Context, c types.Candidate) ([]byte, error) {
	doc, err := retry.Value(ctx, o.Retry, func(ctx context.Context) ([]byte, error) {
		return o.Fetcher.Fetch(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching: %w", err)
	}
	return doc, nil
}

// paperClaims serializes the processing of each paper ID within one run.
type paperClaims struct {
	m sync.Map // paper ID -> *paperClaim
}

type paperClaim struct {
	mu   sync.Mutex
	done bool // stored successfully earlier in this run
}

// acquire returns the claim for id with its mutex held.
func (c *paperClaims) acquire(id string) *paperClaim {
	v, _ := c.m.LoadOrStore(id, &paperClaim{})
	claim := v.(*paperClaim)
	claim.mu.Lock()
	return claim
}

// servedInRun resolves a paper already stored by an earlier candidate of
// the same run. It contributes once, under the first candidate.
func (o *Orchestrator) servedInRun(ctx context.Context, p *paperRun, log *slog.Logger) (paperResult, error) {
	summaries, err := o.KB.Summaries(ctx, p.rec.ID)
	if err != nil {
		return p.fail(ctx, fmt.Errorf("reading stored summaries: %w", err))
	}
	p.res.outcome.Kind = types.OutcomeSkipped
	p.res.outcome.Reason = "duplicate"
	for _, s := range summaries {
		p.res.outcome.Sections = append(p.res.outcome.Sections, s.Role)
	}
	log.Debug("paper already processed in this run", "paper", p.rec.ID)
	return p.finish(), nil
}

func canceledOutcome(t task) types.Outcome {
	id := t.id
	if id == "" {
		id = t.cand.PaperID
	}
	return types.Outcome{PaperID: id, Title: t.cand.Title, Kind: types.OutcomeFailed, Reason: "canceled"}
}

// report writes one progress line per resolved paper.
func (o *Orchestrator) report(n, total int, out types.Outcome) {
	if o.Progress == nil {
		return
	}
	o.progressMu.Lock()
	defer o.progressMu.Unlock()

	prefix := fmt.Sprintf("[%d/%d]", n, total)
	switch out.Kind {
	case types.OutcomeSuccess:
		fmt.Fprintf(o.Progress, "%s processed %s (%d sections, %s)\n", prefix, out.PaperID, len(out.Sections), out.Duration.Round(time.Millisecond))
	case types.OutcomeSkipped:
		fmt.Fprintf(o.Progress, "%s skipped %s (%s)\n", prefix, out.PaperID, out.Reason)
	default:
		fmt.Fprintf(o.Progress, "%s failed %s: %s\n", prefix, out.PaperID, out.Reason)
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
