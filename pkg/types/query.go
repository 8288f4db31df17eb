// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// OutcomeKind is the terminal state of one paper within a query run.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome records what happened to one candidate paper.
type Outcome struct {
	PaperID string      `json:"paper_id" yaml:"paper_id"`
	Title   string      `json:"title,omitempty" yaml:"title,omitempty"`
	Kind    OutcomeKind `json:"kind" yaml:"kind"`

	// Reason explains a failed or skipped outcome (e.g. "duplicate").
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Sections lists the roles committed for the paper.
	Sections []SectionRole `json:"sections,omitempty" yaml:"sections,omitempty"`

	// Duration is the wall time spent on the paper.
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Contributes reports whether the paper has a committed summary set that
// synthesis may draw from.
func (o Outcome) Contributes() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeSkipped
}

// EvaluationStats aggregates fidelity scores across a run.
type EvaluationStats struct {
	Scored    int     `json:"scored" yaml:"scored"`
	Unscored  int     `json:"unscored" yaml:"unscored"`
	MeanScore float64 `json:"mean_score" yaml:"mean_score"`
}

// QueryContext describes one query run: its inputs, the ordered candidate
// list and the per-paper outcomes.
type QueryContext struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	Query       string    `json:"query" yaml:"query"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	ResultCount int       `json:"result_count" yaml:"result_count"`

	// Candidates holds candidate paper IDs in retrieval order.
	Candidates []string `json:"candidates" yaml:"candidates"`

	// Outcomes is index-aligned with Candidates.
	Outcomes []Outcome `json:"outcomes" yaml:"outcomes"`

	Evaluation EvaluationStats `json:"evaluation" yaml:"evaluation"`

	// RetrievalWarnings records partial retrieval failures.
	RetrievalWarnings []string `json:"retrieval_warnings,omitempty" yaml:"retrieval_warnings,omitempty"`
}

// Count returns the number of outcomes of the given kind.
func (q *QueryContext) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range q.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Contributors returns the IDs of papers synthesis may draw from, in
// candidate order. Each ID appears once even when two candidates resolved
// to the same paper.
func (q *QueryContext) Contributors() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, o := range q.Outcomes {
		if o.Contributes() && !seen[o.PaperID] {
			seen[o.PaperID] = true
			ids = append(ids, o.PaperID)
		}
	}
	return ids
}

// Outcome returns the outcome recorded for paperID.
func (q *QueryContext) Outcome(paperID string) (Outcome, bool) {
	for _, o := range q.Outcomes {
		if o.PaperID == paperID {
			return o, true
		}
	}
	return Outcome{}, false
}
