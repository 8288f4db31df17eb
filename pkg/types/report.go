// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Bucket names one of the four fixed sections of a synthesis report.
type Bucket string

const (
	BucketMainFindings     Bucket = "main_findings"
	BucketMethodsOverview  Bucket = "methods_overview"
	BucketResearchGaps     Bucket = "research_gaps"
	BucketFutureDirections Bucket = "future_directions"
)

// AllBuckets returns the report buckets in presentation order.
func AllBuckets() []Bucket {
	return []Bucket{
		BucketMainFindings,
		BucketMethodsOverview,
		BucketResearchGaps,
		BucketFutureDirections,
	}
}

// Title returns the human-readable bucket heading.
func (b Bucket) Title() string {
	switch b {
	case BucketMainFindings:
		return "Main Findings"
	case BucketMethodsOverview:
		return "Methods Overview"
	case BucketResearchGaps:
		return "Research Gaps"
	case BucketFutureDirections:
		return "Future Directions"
	default:
		return string(b)
	}
}

// Claim is one statement in a report bucket, attributed to at least one
// contributing paper.
type Claim struct {
	Text     string   `json:"text" yaml:"text"`
	PaperIDs []string `json:"paper_ids" yaml:"paper_ids"`
}

// SynthesisReport is the cross-paper report built once per query. All four
// buckets are always present, possibly empty.
type SynthesisReport struct {
	Query string `json:"query" yaml:"query"`

	MainFindings     []Claim `json:"main_findings" yaml:"main_findings"`
	MethodsOverview  []Claim `json:"methods_overview" yaml:"methods_overview"`
	ResearchGaps     []Claim `json:"research_gaps" yaml:"research_gaps"`
	FutureDirections []Claim `json:"future_directions" yaml:"future_directions"`

	// Contributors lists the paper IDs whose summaries were pooled.
	Contributors []string `json:"contributors" yaml:"contributors"`

	// RelatedPaperIDs lists previously processed papers pulled in by the
	// knowledge base similarity query. They are a subset of Contributors.
	RelatedPaperIDs []string `json:"related_paper_ids,omitempty" yaml:"related_paper_ids,omitempty"`

	// Fallback is set when at least one bucket was filled without the
	// generation backend.
	Fallback bool `json:"fallback" yaml:"fallback"`
}

// NewSynthesisReport returns a report with all four buckets initialized.
func NewSynthesisReport(query string) *SynthesisReport {
	return &SynthesisReport{
		Query:            query,
		MainFindings:     []Claim{},
		MethodsOverview:  []Claim{},
		ResearchGaps:     []Claim{},
		FutureDirections: []Claim{},
	}
}

// Claims returns the claims in bucket b.
func (r *SynthesisReport) Claims(b Bucket) []Claim {
	switch b {
	case BucketMainFindings:
		return r.MainFindings
	case BucketMethodsOverview:
		return r.MethodsOverview
	case BucketResearchGaps:
		return r.ResearchGaps
	case BucketFutureDirections:
		return r.FutureDirections
	default:
		return nil
	}
}

// SetClaims replaces the claims in bucket b. A nil slice is stored as empty.
func (r *SynthesisReport) SetClaims(b Bucket, claims []Claim) {
	if claims == nil {
		claims = []Claim{}
	}
	switch b {
	case BucketMainFindings:
		r.MainFindings = claims
	case BucketMethodsOverview:
		r.MethodsOverview = claims
	case BucketResearchGaps:
		r.ResearchGaps = claims
	case BucketFutureDirections:
		r.FutureDirections = claims
	}
}

// Empty reports whether no paper contributed to the report.
func (r *SynthesisReport) Empty() bool {
	return len(r.Contributors) == 0
}
