// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/litreview/pkg/types"
)

const (
	indexDir = "index"
	dbFile   = "knowledge.db"
)

// SQLiteStore is the default knowledge base: summaries and vectors live in
// one SQLite database and an in-memory index serves similarity queries.
type SQLiteStore struct {
	db           *sql.DB
	knowledgeDir string
	index        *vectorIndex

	// writeMu serializes write transactions so the index is updated in
	// commit order.
	writeMu sync.Mutex
}

var _ Base = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the knowledge base at
// knowledgeDir/index/knowledge.db, rebuilds the vector index and runs an
// integrity scan. Orphans left by an interrupted writer are repaired; a
// store that stays inconsistent after repair is a ConsistencyError.
func OpenSQLite(ctx context.Context, knowledgeDir string, dim int) (*SQLiteStore, error) {
	dbDir := filepath.Join(knowledgeDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dbDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, knowledgeDir: knowledgeDir}
	if err := s.createSchema(); err != nil {
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
	if stored == 0 {
		stored = dim
	}
	s.index = newVectorIndex(stored)

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

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Dir returns the knowledge directory the store was opened in.
func (s *SQLiteStore) Dir() string {
	return s.knowledgeDir
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS papers (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			text_length INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			paper_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			score REAL,
			status TEXT NOT NULL,
			PRIMARY KEY (paper_id, role)
		)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			position INTEGER PRIMARY KEY AUTOINCREMENT,
			paper_id TEXT NOT NULL,
			role TEXT NOT NULL,
			vector BLOB NOT NULL,
			UNIQUE (paper_id, role)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_paper_id ON summaries(paper_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) storedDimension(ctx context.Context) (int, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'dimension'`).Scan(&v)
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
func (s *SQLiteStore) Dimension() int {
	return s.index.dimension()
}

// Size returns the number of vectors in the index.
func (s *SQLiteStore) Size(context.Context) (int, error) {
	return s.index.len(), nil
}

// Insert stores one summary and its vector in a single transaction.
func (s *SQLiteStore) Insert(ctx context.Context, rec types.EmbeddingRecord, summary types.SectionSummary) error {
	if err := validatePair(rec, summary); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := checkDimension(s.index.dimension(), len(rec.Vector)); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensureDimension(ctx, tx, len(rec.Vector)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO papers (id, updated_at) VALUES (?, ?)`,
		rec.PaperID, stamp()); err != nil {
		return fmt.Errorf("inserting paper stub: %w", err)
	}
	pos, err := writePair(ctx, tx, rec, summary)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s/%s: %w", rec.PaperID, rec.Role, err)
	}

	rec.Position = pos
	s.index.upsert(rec)
	return nil
}

// InsertPaper replaces every pair stored for paper with entries.
func (s *SQLiteStore) InsertPaper(ctx context.Context, paper types.PaperRecord, entries []Entry) error {
	recs := make([]types.EmbeddingRecord, len(entries))
	for i, e := range entries {
		recs[i] = types.EmbeddingRecord{PaperID: e.Summary.PaperID, Role: e.Summary.Role, Vector: e.Vector}
		if err := validatePair(recs[i], e.Summary); err != nil {
			return err
		}
		if recs[i].PaperID != paper.ID {
			return fmt.Errorf("entry for %s inside paper %s", recs[i].PaperID, paper.ID)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dim := s.index.dimension()
	for _, r := range recs {
		if err := checkDimension(dim, len(r.Vector)); err != nil {
			return err
		}
		dim = len(r.Vector)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if len(recs) > 0 {
		if err := s.ensureDimension(ctx, tx, dim); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO papers (id, title, source_url, text_length, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, source_url=excluded.source_url,
			text_length=excluded.text_length, updated_at=excluded.updated_at`,
		paper.ID, paper.Title, paper.SourceURL, paper.TextLength, stamp())
	if err != nil {
		return fmt.Errorf("upserting paper: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE paper_id = ?`, paper.ID); err != nil {
		return fmt.Errorf("deleting old embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE paper_id = ?`, paper.ID); err != nil {
		return fmt.Errorf("deleting old summaries: %w", err)
	}

	for i := range recs {
		pos, err := writePair(ctx, tx, recs[i], entries[i].Summary)
		if err != nil {
			return err
		}
		recs[i].Position = pos
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing paper %s: %w", paper.ID, err)
	}

	s.index.replacePaper(paper.ID, recs)
	return nil
}

func (s *SQLiteStore) ensureDimension(ctx context.Context, tx *sql.Tx, dim int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('dimension', ?)`, strconv.Itoa(dim))
	if err != nil {
		return fmt.Errorf("recording dimension: %w", err)
	}
	return nil
}

// writePair upserts a summary and replaces its embedding, returning the
// new insertion position.
func writePair(ctx context.Context, tx *sql.Tx, rec types.EmbeddingRecord, summary types.SectionSummary) (int64, error) {
	var score sql.NullFloat64
	if summary.Score != nil {
		score = sql.NullFloat64{Float64: *summary.Score, Valid: true}
	}
	status := summary.Status
	if status == "" {
		status = types.SummaryGenerated
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO summaries (paper_id, role, text, score, status) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(paper_id, role) DO UPDATE SET
			text=excluded.text, score=excluded.score, status=excluded.status`,
		summary.PaperID, string(summary.Role), summary.Text, score, string(status))
	if err != nil {
		return 0, fmt.Errorf("upserting summary %s/%s: %w", summary.PaperID, summary.Role, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE paper_id = ? AND role = ?`,
		rec.PaperID, string(rec.Role)); err != nil {
		return 0, fmt.Errorf("deleting embedding %s/%s: %w", rec.PaperID, rec.Role, err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO embeddings (paper_id, role, vector) VALUES (?, ?, ?)`,
		rec.PaperID, string(rec.Role), encodeVector(rec.Vector))
	if err != nil {
		return 0, fmt.Errorf("inserting embedding %s/%s: %w", rec.PaperID, rec.Role, err)
	}
	return res.LastInsertId()
}

// Query returns the topK nearest summaries to vector by cosine similarity.
func (s *SQLiteStore) Query(_ context.Context, vector []float32, topK int) ([]types.Neighbor, error) {
	if topK <= 0 {
		return []types.Neighbor{}, nil
	}
	if err := checkDimension(s.index.dimension(), len(vector)); err != nil {
		return nil, err
	}
	return s.index.search(vector, topK), nil
}

// Verify compares the embeddings and summaries tables and the in-memory
// index without modifying anything.
func (s *SQLiteStore) Verify(ctx context.Context) (IntegrityReport, error) {
	var r IntegrityReport
	queries := []struct {
		dst *int
		sql string
	}{
		{&r.Summaries, `SELECT count(*) FROM summaries`},
		{&r.OrphanVectors, `SELECT count(*) FROM embeddings e
			LEFT JOIN summaries s ON s.paper_id = e.paper_id AND s.role = e.role
			WHERE s.paper_id IS NULL`},
		{&r.OrphanSummaries, `SELECT count(*) FROM summaries s
			LEFT JOIN embeddings e ON e.paper_id = s.paper_id AND e.role = s.role
			WHERE e.paper_id IS NULL`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dst); err != nil {
			return IntegrityReport{}, fmt.Errorf("integrity scan: %w", err)
		}
	}

	corrupt, err := s.corruptRows(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	r.Corrupt = len(corrupt)
	r.Vectors = s.index.len()
	return r, nil
}

type corruptRow struct {
	position int64
	paperID  string
	role     string
}

// corruptRows returns embeddings whose vectors cannot be used.
func (s *SQLiteStore) corruptRows(ctx context.Context) ([]corruptRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT position, paper_id, role, vector FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}
	defer rows.Close()

	dim := s.index.dimension()
	var bad []corruptRow
	for rows.Next() {
		var (
			c    corruptRow
			blob []byte
		)
		if err := rows.Scan(&c.position, &c.paperID, &c.role, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		v, err := decodeVector(blob)
		if err != nil || (dim != 0 && len(v) != dim) {
			bad = append(bad, c)
		}
	}
	return bad, rows.Err()
}

// Repair deletes orphaned and corrupt rows in one transaction, then
// rebuilds the in-memory index from the embeddings table.
func (s *SQLiteStore) Repair(ctx context.Context) (IntegrityReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	corrupt, err := s.corruptRows(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	removed := 0
	for _, c := range corrupt {
		res, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE paper_id = ? AND role = ?`, c.paperID, c.role)
		if err != nil {
			return IntegrityReport{}, fmt.Errorf("removing corrupt summary: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE position = ?`, c.position); err != nil {
			return IntegrityReport{}, fmt.Errorf("removing corrupt embedding: %w", err)
		}
		removed++
	}

	for _, stmt := range []string{
		`DELETE FROM embeddings WHERE NOT EXISTS (
			SELECT 1 FROM summaries s WHERE s.paper_id = embeddings.paper_id AND s.role = embeddings.role)`,
		`DELETE FROM summaries WHERE NOT EXISTS (
			SELECT 1 FROM embeddings e WHERE e.paper_id = summaries.paper_id AND e.role = summaries.role)`,
	} {
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return IntegrityReport{}, fmt.Errorf("removing orphans: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return IntegrityReport{}, fmt.Errorf("committing repair: %w", err)
	}

	if err := s.rebuildIndex(ctx); err != nil {
		return IntegrityReport{}, err
	}

	report, err := s.Verify(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report.Repaired = removed
	return report, nil
}

func (s *SQLiteStore) rebuildIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT position, paper_id, role, vector FROM embeddings ORDER BY position`)
	if err != nil {
		return fmt.Errorf("loading embeddings: %w", err)
	}
	defer rows.Close()

	var recs []types.EmbeddingRecord
	for rows.Next() {
		var (
			r    types.EmbeddingRecord
			role string
			blob []byte
		)
		if err := rows.Scan(&r.Position, &r.PaperID, &role, &blob); err != nil {
			return fmt.Errorf("scanning embedding: %w", err)
		}
		r.Role = types.SectionRole(role)
		if r.Vector, err = decodeVector(blob); err != nil {
			return &types.ConsistencyError{Err: fmt.Errorf("embedding %s/%s: %w", r.PaperID, role, err)}
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.index.reset(recs)
	return nil
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
