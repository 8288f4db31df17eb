// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// SummaryStatus records whether a section summary was generated.
type SummaryStatus string

const (
	SummaryGenerated SummaryStatus = "generated"
	SummaryFailed    SummaryStatus = "failed"
)

// SectionSummary is the summary of one section of one paper. At most one
// exists per (PaperID, Role); reprocessing overwrites it.
type SectionSummary struct {
	// PaperID identifies the source paper.
	PaperID string `json:"paper_id" yaml:"paper_id"`

	// Role is the section the summary covers.
	Role SectionRole `json:"role" yaml:"role"`

	// Text is the generated summary.
	Text string `json:"text" yaml:"text"`

	// Score is the fidelity score in [0,1]. Nil when no reference was
	// available or evaluation has not run; never defaulted to zero.
	Score *float64 `json:"score,omitempty" yaml:"score,omitempty"`

	// Status is the generation status.
	Status SummaryStatus `json:"status" yaml:"status"`
}

// Scored reports whether an evaluation score is present.
func (s SectionSummary) Scored() bool {
	return s.Score != nil
}

// EmbeddingRecord is the vector for one SectionSummary. Every record in the
// index has exactly one matching summary and vice versa.
type EmbeddingRecord struct {
	PaperID string      `json:"paper_id" yaml:"paper_id"`
	Role    SectionRole `json:"role" yaml:"role"`

	// Vector has the fixed dimensionality of the embedding adapter.
	Vector []float32 `json:"vector" yaml:"vector"`

	// Position is the insertion order index assigned by the knowledge base.
	Position int64 `json:"position" yaml:"position"`
}

// Neighbor is one nearest-neighbor hit from a knowledge base query.
type Neighbor struct {
	PaperID    string      `json:"paper_id" yaml:"paper_id"`
	Role       SectionRole `json:"role" yaml:"role"`
	Similarity float64     `json:"similarity" yaml:"similarity"`
}
