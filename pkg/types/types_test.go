// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSectionRole(t *testing.T) {
	r, err := ParseSectionRole("  Methodology ")
	require.NoError(t, err)
	assert.Equal(t, RoleMethodology, r)

	_, err = ParseSectionRole("appendix")
	assert.Error(t, err)
}

func TestAllRolesReturnsCopy(t *testing.T) {
	roles := AllRoles()
	require.Len(t, roles, 6)
	roles[0] = "mutated"
	assert.Equal(t, RoleTitle, AllRoles()[0])
}

func TestOverallRoleIsStoredNotExtracted(t *testing.T) {
	assert.NotContains(t, AllRoles(), RoleOverall)
	stored := StoredRoles()
	require.Len(t, stored, 7)
	assert.Equal(t, RoleOverall, stored[6])
	assert.True(t, RoleOverall.Valid())

	r, err := ParseSectionRole("Overall")
	require.NoError(t, err)
	assert.Equal(t, RoleOverall, r)
}

func TestIsTransient(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", base, false},
		{"transient", Transient("fetch", base), true},
		{"wrapped transient", fmt.Errorf("paper x: %w", Transient("fetch", base)), true},
		{"permanent", Permanent("fetch", base), false},
		{"permanent wrapping transient", Permanent("fetch", Transient("fetch", base)), false},
		{"extraction", &ExtractionError{PaperID: "x", Err: base}, false},
		{"config", Configf("dim", "mismatch"), false},
		{"context canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(&ConsistencyError{Err: errors.New("orphan")}))
	assert.True(t, IsFatal(fmt.Errorf("embed: %w", Configf("dimension", "got 3 want 4"))))
	assert.False(t, IsFatal(Permanent("x", errors.New("y"))))
	assert.False(t, IsFatal(nil))
}

func TestPipelineConfigValidate(t *testing.T) {
	cfg := DefaultPipelineConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Concurrency = 0
	var ce *ConfigurationError
	require.ErrorAs(t, bad.Validate(), &ce)
	assert.Equal(t, "concurrency", ce.Field)

	bad = cfg
	bad.KnowledgeBase.Store = StorePostgres
	require.ErrorAs(t, bad.Validate(), &ce)
	assert.Equal(t, "knowledge_base.postgres_dsn", ce.Field)

	bad = cfg
	bad.Extraction.Backend = "ocr"
	require.ErrorAs(t, bad.Validate(), &ce)
	assert.Equal(t, "extraction.backend", ce.Field)

	bad = cfg
	bad.AI.Backend = "gemini"
	assert.Error(t, bad.Validate())
}

func TestQueryContextCounts(t *testing.T) {
	qc := &QueryContext{
		Candidates: []string{"a", "b", "c", "d"},
		Outcomes: []Outcome{
			{PaperID: "a", Kind: OutcomeSuccess},
			{PaperID: "b", Kind: OutcomeFailed, Reason: "no text"},
			{PaperID: "c", Kind: OutcomeSkipped, Reason: "duplicate"},
			{PaperID: "d", Kind: OutcomeSuccess},
		},
	}
	assert.Equal(t, 2, qc.Count(OutcomeSuccess))
	assert.Equal(t, 1, qc.Count(OutcomeFailed))
	assert.Equal(t, []string{"a", "c", "d"}, qc.Contributors())

	qc.Outcomes = append(qc.Outcomes, Outcome{PaperID: "a", Kind: OutcomeSkipped, Reason: "duplicate"})
	assert.Equal(t, []string{"a", "c", "d"}, qc.Contributors(), "a paper reached twice contributes once")

	o, ok := qc.Outcome("b")
	require.True(t, ok)
	assert.Equal(t, "no text", o.Reason)
}

func TestSynthesisReportBuckets(t *testing.T) {
	r := NewSynthesisReport("q")
	for _, b := range AllBuckets() {
		assert.NotNil(t, r.Claims(b), b)
		assert.Empty(t, r.Claims(b), b)
	}
	r.SetClaims(BucketResearchGaps, []Claim{{Text: "x", PaperIDs: []string{"p"}}})
	assert.Len(t, r.ResearchGaps, 1)
	r.SetClaims(BucketResearchGaps, nil)
	assert.NotNil(t, r.ResearchGaps)
	assert.True(t, r.Empty())
}
