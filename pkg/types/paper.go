// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the litreview pipeline:
// paper records, section summaries, embedding records, query contexts,
// synthesis reports, configuration and the error taxonomy used by every
// stage.
package types

import "time"

// ExtractionStatus indicates how far a paper got through processing.
type ExtractionStatus string

const (
	StatusPending   ExtractionStatus = "pending"
	StatusExtracted ExtractionStatus = "extracted"
	StatusFailed    ExtractionStatus = "failed"
)

// Candidate is a paper descriptor returned by the retrieval boundary.
// Order in the retrieval response is preserved through the pipeline.
type Candidate struct {
	// PaperID is the canonical paper identifier (e.g. "2301.07041").
	PaperID string `json:"paper_id" yaml:"paper_id"`

	// Title is the paper title as returned by the source.
	Title string `json:"title" yaml:"title"`

	// URL is the document download URL.
	URL string `json:"url" yaml:"url"`

	// ReferenceAbstract is the source-provided abstract used as the
	// evaluation reference. Empty when the source has none.
	ReferenceAbstract string `json:"reference_abstract,omitempty" yaml:"reference_abstract,omitempty"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Published is the publication or preprint date.
	Published time.Time `json:"published,omitempty" yaml:"published,omitempty"`
}

// HasReference reports whether an evaluation reference is available.
func (c Candidate) HasReference() bool {
	return c.ReferenceAbstract != ""
}

// PaperRecord is the dedup index entry for one paper. It is created on the
// first retrieval sighting and is never removed by the pipeline itself.
type PaperRecord struct {
	// ID is the canonical paper identifier.
	ID string `json:"id" yaml:"id"`

	// SourceURL is the URL the document was fetched from.
	SourceURL string `json:"source_url" yaml:"source_url"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// TextLength is the number of characters recovered by extraction.
	TextLength int `json:"text_length" yaml:"text_length"`

	// Status is the processing state.
	Status ExtractionStatus `json:"status" yaml:"status"`

	// Reason records the failure message when Status is failed.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Attempts counts failed processing attempts.
	Attempts int `json:"attempts" yaml:"attempts"`

	// UpdatedAt is the time of the last state change.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Done reports whether the record is in a terminal successful state.
func (r PaperRecord) Done() bool {
	return r.Status == StatusExtracted
}

// RecordFor builds a pending PaperRecord from a retrieval candidate.
func RecordFor(c Candidate) PaperRecord {
	return PaperRecord{
		ID:        c.PaperID,
		SourceURL: c.URL,
		Title:     c.Title,
		Status:    StatusPending,
	}
}
