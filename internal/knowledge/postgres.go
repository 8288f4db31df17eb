// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/pdiddy/litreview/pkg/types"
)

// PostgresStore keeps summaries and vectors in Postgres with the pgvector
// extension. Similarity ranking is done by the database using the cosine
// distance operator.
type PostgresStore struct {
	db *sql.DB

	mu  sync.Mutex
	dim int
}

var _ Base = (*PostgresStore)(nil)

// OpenPostgres connects to dsn, creates the schema and repairs any orphans.
func OpenPostgres(ctx context.Context, dsn string, dim int) (*PostgresStore, error) {
	if dsn == "" {
		return nil, types.Configf("knowledge_base.postgres_dsn", "empty connection string")
	}
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, types.Configf("knowledge_base.postgres_dsn", "%v", err)
	}
	db := sql.OpenDB(connector)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, types.Transient("connecting to postgres", err)
	}

	s := &PostgresStore{db: db}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	stored, err := s.storedDimension(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if dim != 0 {
		if err := checkDimension(stored, dim); err != nil {
			db.Close()
			return nil, err
		}
	}
	s.dim = stored
	if s.dim == 0 {
		s.dim = dim
	}

	report, err := s.Repair(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if !report.Consistent() {
		db.Close()
		return nil, &types.ConsistencyError{Err: fmt.Errorf("%d vectors vs %d summaries after repair", report.Vectors, report.Summaries)}
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS kb_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kb_papers (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			text_length INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS kb_summaries (
			paper_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			score DOUBLE PRECISION,
			status TEXT NOT NULL,
			PRIMARY KEY (paper_id, role)
		)`,
		`CREATE TABLE IF NOT EXISTS kb_embeddings (
			position BIGSERIAL UNIQUE,
			paper_id TEXT NOT NULL,
			role TEXT NOT NULL,
			embedding vector NOT NULL,
			PRIMARY KEY (paper_id, role)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) storedDimension(ctx context.Context) (int, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kb_meta WHERE key = 'dimension'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading dimension: %w", err)
	}
	d, err := strconv.Atoi(v)
	if err != nil {
		return 0, &types.ConsistencyError{Err: fmt.Errorf("stored dimension %q: %w", v, err)}
	}
	return d, nil
}

// Dimension returns the vector dimension, or 0 before the first insert.
func (s *PostgresStore) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

// Size returns the number of stored vectors.
func (s *PostgresStore) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM kb_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting embeddings: %w", err)
	}
	return n, nil
}

// Insert stores one summary and its vector in a single transaction.
func (s *PostgresStore) Insert(ctx context.Context, rec types.EmbeddingRecord, summary types.SectionSummary) error {
	if err := validatePair(rec, summary); err != nil {
		return err
	}
	return s.write(ctx, len(rec.Vector), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kb_papers (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, rec.PaperID); err != nil {
			return fmt.Errorf("inserting paper stub: %w", err)
		}
		return pgWritePair(ctx, tx, rec, summary)
	})
}

// InsertPaper replaces every pair stored for paper with entries.
func (s *PostgresStore) InsertPaper(ctx context.Context, paper types.PaperRecord, entries []Entry) error {
	dim := 0
	for _, e := range entries {
		rec := types.EmbeddingRecord{PaperID: e.Summary.PaperID, Role: e.Summary.Role, Vector: e.Vector}
		if err := validatePair(rec, e.Summary); err != nil {
			return err
		}
		if rec.PaperID != paper.ID {
			return fmt.Errorf("entry for %s inside paper %s", rec.PaperID, paper.ID)
		}
		if err := checkDimension(dim, len(e.Vector)); err != nil {
			return err
		}
		dim = len(e.Vector)
	}

	return s.write(ctx, dim, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kb_papers (id, title, source_url, text_length, updated_at) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title, source_url = EXCLUDED.source_url,
				text_length = EXCLUDED.text_length, updated_at = EXCLUDED.updated_at`,
			paper.ID, paper.Title, paper.SourceURL, paper.TextLength, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("upserting paper: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM kb_embeddings WHERE paper_id = $1`, paper.ID); err != nil {
			return fmt.Errorf("deleting old embeddings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM kb_summaries WHERE paper_id = $1`, paper.ID); err != nil {
			return fmt.Errorf("deleting old summaries: %w", err)
		}
		for _, e := range entries {
			rec := types.EmbeddingRecord{PaperID: e.Summary.PaperID, Role: e.Summary.Role, Vector: e.Vector}
			if err := pgWritePair(ctx, tx, rec, e.Summary); err != nil {
				return err
			}
		}
		return nil
	})
}

// write runs fn in a transaction after checking and recording dim. A zero
// dim skips the dimension bookkeeping.
func (s *PostgresStore) write(ctx context.Context, dim int, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dim != 0 {
		if err := checkDimension(s.dim, dim); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if dim != 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kb_meta (key, value) VALUES ('dimension', $1) ON CONFLICT (key) DO NOTHING`,
			strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("recording dimension: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	if s.dim == 0 {
		s.dim = dim
	}
	return nil
}

func pgWritePair(ctx context.Context, tx *sql.Tx, rec types.EmbeddingRecord, summary types.SectionSummary) error {
	var score sql.NullFloat64
	if summary.Score != nil {
		score = sql.NullFloat64{Float64: *summary.Score, Valid: true}
	}
	status := summary.Status
	if status == "" {
		status = types.SummaryGenerated
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO kb_summaries (paper_id, role, text, score, status) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (paper_id, role) DO UPDATE SET
			text = EXCLUDED.text, score = EXCLUDED.score, status = EXCLUDED.status`,
		summary.PaperID, string(summary.Role), summary.Text, score, string(status))
	if err != nil {
		return fmt.Errorf("upserting summary %s/%s: %w", summary.PaperID, summary.Role, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_embeddings WHERE paper_id = $1 AND role = $2`,
		rec.PaperID, string(rec.Role)); err != nil {
		return fmt.Errorf("deleting embedding %s/%s: %w", rec.PaperID, rec.Role, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kb_embeddings (paper_id, role, embedding) VALUES ($1, $2, $3)`,
		rec.PaperID, string(rec.Role), pgvector.NewVector(rec.Vector)); err != nil {
		return fmt.Errorf("inserting embedding %s/%s: %w", rec.PaperID, rec.Role, err)
	}
	return nil
}

// Query ranks vectors with the pgvector cosine distance operator.
func (s *PostgresStore) Query(ctx context.Context, vector []float32, topK int) ([]types.Neighbor, error) {
	if topK <= 0 {
		return []types.Neighbor{}, nil
	}
	if err := checkDimension(s.Dimension(), len(vector)); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT paper_id, role, 1 - (embedding <=> $1) AS similarity
		 FROM kb_embeddings
		 ORDER BY embedding <=> $1, position
		 LIMIT $2`,
		pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("querying neighbors: %w", err)
	}
	defer rows.Close()

	out := []types.Neighbor{}
	for rows.Next() {
		var (
			n    types.Neighbor
			role string
			sim  sql.NullFloat64
		)
		if err := rows.Scan(&n.PaperID, &role, &sim); err != nil {
			return nil, fmt.Errorf("scanning neighbor: %w", err)
		}
		n.Role = types.SectionRole(role)
		// Zero vectors yield NULL/NaN distances.
		if sim.Valid && !math.IsNaN(sim.Float64) {
			n.Similarity = sim.Float64
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Summaries returns the stored summaries for paperID in role order.
func (s *PostgresStore) Summaries(ctx context.Context, paperID string) ([]types.SectionSummary, error) {
	return s.selectSummaries(ctx, `WHERE paper_id = $1`, paperID)
}

// All returns every stored summary ordered by paper and role.
func (s *PostgresStore) All(ctx context.Context) ([]types.SectionSummary, error) {
	return s.selectSummaries(ctx, ``)
}

func (s *PostgresStore) selectSummaries(ctx context.Context, where string, args ...any) ([]types.SectionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT paper_id, role, text, score, status FROM kb_summaries `+where+` ORDER BY paper_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	var out []types.SectionSummary
	for rows.Next() {
		var (
			sum    types.SectionSummary
			role   string
			status string
			score  sql.NullFloat64
		)
		if err := rows.Scan(&sum.PaperID, &role, &sum.Text, &score, &status); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		sum.Role = types.SectionRole(role)
		sum.Status = types.SummaryStatus(status)
		if score.Valid {
			v := score.Float64
			sum.Score = &v
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSummaries(out)
	return out, nil
}

// Papers returns the stored paper records keyed by ID.
func (s *PostgresStore) Papers(ctx context.Context) (map[string]types.PaperRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, source_url, text_length, updated_at FROM kb_papers`)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.PaperRecord)
	for rows.Next() {
		var p types.PaperRecord
		if err := rows.Scan(&p.ID, &p.Title, &p.SourceURL, &p.TextLength, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning paper: %w", err)
		}
		p.Status = types.StatusExtracted
		out[p.ID] = p
	}
	return out, rows.Err()
}

// Verify counts orphans on both sides of the summary/embedding pairing.
func (s *PostgresStore) Verify(ctx context.Context) (IntegrityReport, error) {
	var r IntegrityReport
	queries := []struct {
		dst *int
		sql string
	}{
		{&r.Vectors, `SELECT count(*) FROM kb_embeddings`},
		{&r.Summaries, `SELECT count(*) FROM kb_summaries`},
		{&r.OrphanVectors, `SELECT count(*) FROM kb_embeddings e
			LEFT JOIN kb_summaries s ON s.paper_id = e.paper_id AND s.role = e.role
			WHERE s.paper_id IS NULL`},
		{&r.OrphanSummaries, `SELECT count(*) FROM kb_summaries s
			LEFT JOIN kb_embeddings e ON e.paper_id = s.paper_id AND e.role = s.role
			WHERE e.paper_id IS NULL`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dst); err != nil {
			return IntegrityReport{}, fmt.Errorf("integrity scan: %w", err)
		}
	}
	if dim := s.Dimension(); dim != 0 {
		if err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM kb_embeddings WHERE vector_dims(embedding) <> $1`, dim).Scan(&r.Corrupt); err != nil {
			return IntegrityReport{}, fmt.Errorf("integrity scan: %w", err)
		}
	}
	return r, nil
}

// Repair deletes orphaned rows and vectors of the wrong dimension.
func (s *PostgresStore) Repair(ctx context.Context) (IntegrityReport, error) {
	dim := s.Dimension()
	removed := 0
	err := s.write(ctx, 0, func(tx *sql.Tx) error {
		statements := []struct {
			sql  string
			args []any
		}{
			{`DELETE FROM kb_summaries s USING kb_embeddings e
				WHERE e.paper_id = s.paper_id AND e.role = s.role AND $1 <> 0 AND vector_dims(e.embedding) <> $1`, []any{dim}},
			{`DELETE FROM kb_embeddings WHERE $1 <> 0 AND vector_dims(embedding) <> $1`, []any{dim}},
			{`DELETE FROM kb_embeddings e WHERE NOT EXISTS (
				SELECT 1 FROM kb_summaries s WHERE s.paper_id = e.paper_id AND s.role = e.role)`, nil},
			{`DELETE FROM kb_summaries s WHERE NOT EXISTS (
				SELECT 1 FROM kb_embeddings e WHERE e.paper_id = s.paper_id AND e.role = s.role)`, nil},
		}
		for _, st := range statements {
			res, err := tx.ExecContext(ctx, st.sql, st.args...)
			if err != nil {
				return fmt.Errorf("repairing: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += int(n)
		}
		return nil
	})
	if err != nil {
		return IntegrityReport{}, err
	}

	report, err := s.Verify(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report.Repaired = removed
	return report, nil
}
