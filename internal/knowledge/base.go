// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package knowledge persists section summaries together with their
// embedding vectors and answers nearest-neighbor queries over them.
//
// Every stored vector has exactly one summary row and vice versa. Writes
// for one paper are committed in a single transaction, and the in-memory
// index is only updated after the commit succeeds, so a reader never sees
// a vector without its metadata.
package knowledge

import (
	"context"
	"fmt"
	"sort"

	"github.com/pdiddy/litreview/pkg/types"
)

// Entry pairs a section summary with its embedding vector.
type Entry struct {
	Summary types.SectionSummary
	Vector  []float32
}

// IntegrityReport describes the outcome of an integrity scan.
type IntegrityReport struct {
	// Vectors is the number of vectors in the index.
	Vectors int `json:"vectors" yaml:"vectors"`

	// Summaries is the number of summary rows.
	Summaries int `json:"summaries" yaml:"summaries"`

	// OrphanVectors counts vectors with no summary row.
	OrphanVectors int `json:"orphan_vectors" yaml:"orphan_vectors"`

	// OrphanSummaries counts summary rows with no vector.
	OrphanSummaries int `json:"orphan_summaries" yaml:"orphan_summaries"`

	// Corrupt counts vectors that cannot be decoded or have the wrong dimension.
	Corrupt int `json:"corrupt" yaml:"corrupt"`

	// Repaired counts rows removed by Repair.
	Repaired int `json:"repaired,omitempty" yaml:"repaired,omitempty"`
}

// Consistent reports whether the scan found no problems.
func (r IntegrityReport) Consistent() bool {
	return r.OrphanVectors == 0 && r.OrphanSummaries == 0 && r.Corrupt == 0 && r.Vectors == r.Summaries
}

// Base is the knowledge base contract shared by the SQLite and Postgres
// stores. Implementations are safe for concurrent use.
type Base interface {
	// Insert stores one summary and its vector atomically, replacing any
	// previous pair for the same (paper, role).
	Insert(ctx context.Context, rec types.EmbeddingRecord, summary types.SectionSummary) error

	// InsertPaper replaces every stored pair for paper with entries in one
	// transaction. Either all entries become visible or none do.
	InsertPaper(ctx context.Context, paper types.PaperRecord, entries []Entry) error

	// Query returns up to topK neighbors of vector by cosine similarity in
	// non-increasing order. Ties are broken by insertion position.
	Query(ctx context.Context, vector []float32, topK int) ([]types.Neighbor, error)

	// Summaries returns the stored summaries for paperID in role order.
	Summaries(ctx context.Context, paperID string) ([]types.SectionSummary, error)

	// All returns every stored summary ordered by paper and role.
	All(ctx context.Context) ([]types.SectionSummary, error)

	// Papers returns the stored paper records keyed by ID.
	Papers(ctx context.Context) (map[string]types.PaperRecord, error)

	// Size returns the number of stored vectors.
	Size(ctx context.Context) (int, error)

	// Dimension returns the vector dimension, or 0 before the first insert.
	Dimension() int

	// Verify scans for index/metadata disagreement without changing anything.
	Verify(ctx context.Context) (IntegrityReport, error)

	// Repair removes orphaned and corrupt rows and returns the resulting report.
	Repair(ctx context.Context) (IntegrityReport, error)

	Close() error
}

// Open constructs the store selected by cfg. dim is the expected vector
// dimension; zero adopts the dimension of the first insert.
func Open(ctx context.Context, cfg types.KnowledgeBaseConfig, dim int) (Base, error) {
	switch cfg.Store {
	case types.StoreSQLite, "":
		return OpenSQLite(ctx, cfg.KnowledgeDir, dim)
	case types.StorePostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN, dim)
	default:
		return nil, types.Configf("knowledge_base.store", "unknown store %q", cfg.Store)
	}
}

func validatePair(rec types.EmbeddingRecord, summary types.SectionSummary) error {
	if rec.PaperID == "" {
		return types.Configf("paper_id", "empty paper ID")
	}
	if rec.PaperID != summary.PaperID || rec.Role != summary.Role {
		return fmt.Errorf("embedding %s/%s does not match summary %s/%s",
			rec.PaperID, rec.Role, summary.PaperID, summary.Role)
	}
	if !rec.Role.Valid() {
		return fmt.Errorf("unknown section role %q", rec.Role)
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("empty vector for %s/%s", rec.PaperID, rec.Role)
	}
	return nil
}

// checkDimension enforces a fixed dimension once one is known.
func checkDimension(have, got int) error {
	if have != 0 && have != got {
		return types.Configf("embedding.dimension", "vector has dimension %d, knowledge base holds %d", got, have)
	}
	return nil
}

// roleOrder returns the index of r in the fixed role order.
func roleOrder(r types.SectionRole) int {
	for i, known := range types.StoredRoles() {
		if known == r {
			return i
		}
	}
	return len(types.StoredRoles())
}

// sortSummaries orders summaries by paper ID, then role order.
func sortSummaries(s []types.SectionSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].PaperID != s[j].PaperID {
			return s[i].PaperID < s[j].PaperID
		}
		return roleOrder(s[i].Role) < roleOrder(s[j].Role)
	})
}
