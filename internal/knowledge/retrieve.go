// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/litreview/pkg/types"
)

// QueryOptions holds structured filters for browsing stored summaries.
type QueryOptions struct {
	// Text matches summaries containing the phrase, case-insensitively.
	Text string

	// Role filters by section role.
	Role types.SectionRole

	// PaperID filters by paper.
	PaperID string

	// MaxResults limits result count. Zero means no limit.
	MaxResults int
}

// QueryResult is a stored summary with its paper title.
type QueryResult struct {
	types.SectionSummary `yaml:",inline"`
	PaperTitle           string `json:"paper_title" yaml:"paper_title"`
}

// Retrieve returns stored summaries matching opts, sorted by paper ID and
// role order.
func (s *SQLiteStore) Retrieve(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(
		`SELECT s.paper_id, s.role, s.text, s.score, s.status, p.title
		FROM summaries s
		LEFT JOIN papers p ON s.paper_id = p.id
		WHERE 1=1`)

	if opts.Text != "" {
		qb.WriteString(` AND instr(lower(s.text), lower(?)) > 0`)
		args = append(args, opts.Text)
	}
	if opts.Role != "" {
		qb.WriteString(` AND s.role = ?`)
		args = append(args, string(opts.Role))
	}
	if opts.PaperID != "" {
		qb.WriteString(` AND s.paper_id = ?`)
		args = append(args, opts.PaperID)
	}
	qb.WriteString(` ORDER BY s.paper_id`)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var (
			qr     QueryResult
			role   string
			status string
			score  sql.NullFloat64
			title  sql.NullString
		)
		if err := rows.Scan(&qr.PaperID, &role, &qr.Text, &score, &status, &title); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		qr.Role = types.SectionRole(role)
		qr.Status = types.SummaryStatus(status)
		if score.Valid {
			v := score.Float64
			qr.Score = &v
		}
		qr.PaperTitle = title.String
		results = append(results, qr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].PaperID != results[j].PaperID {
			return results[i].PaperID < results[j].PaperID
		}
		return roleOrder(results[i].Role) < roleOrder(results[j].Role)
	})
	if opts.MaxResults > 0 && len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results, nil
}

// Summaries returns the stored summaries for paperID in role order.
func (s *SQLiteStore) Summaries(ctx context.Context, paperID string) ([]types.SectionSummary, error) {
	results, err := s.Retrieve(ctx, QueryOptions{PaperID: paperID})
	if err != nil {
		return nil, err
	}
	return unwrap(results), nil
}

// All returns every stored summary ordered by paper and role.
func (s *SQLiteStore) All(ctx context.Context) ([]types.SectionSummary, error) {
	results, err := s.Retrieve(ctx, QueryOptions{})
	if err != nil {
		return nil, err
	}
	return unwrap(results), nil
}

// Papers returns the stored paper records keyed by ID.
func (s *SQLiteStore) Papers(ctx context.Context) (map[string]types.PaperRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, source_url, text_length, updated_at FROM papers`)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.PaperRecord)
	for rows.Next() {
		var (
			p       types.PaperRecord
			updated string
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.SourceURL, &p.TextLength, &updated); err != nil {
			return nil, fmt.Errorf("scanning paper: %w", err)
		}
		p.Status = types.StatusExtracted
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out[p.ID] = p
	}
	return out, rows.Err()
}

func unwrap(results []QueryResult) []types.SectionSummary {
	out := make([]types.SectionSummary, len(results))
	for i, r := range results {
		out[i] = r.SectionSummary
	}
	return out
}
