// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dedup maintains the persistent record of which papers have been
// seen and processed, so repeated queries never redo completed work.
package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/litreview/pkg/types"
)

const (
	indexDir = "index"
	dbFile   = "dedup.db"
)

// Decision is the dedup verdict for one candidate.
type Decision int

const (
	// Process means the paper must be fetched and summarized.
	Process Decision = iota
	// Skip means a committed summary set already exists.
	Skip
	// GiveUp means the paper failed too many times to retry automatically.
	GiveUp
)

// Index is the SQLite-backed dedup index. It is safe for concurrent use.
type Index struct {
	db *sql.DB
	mu sync.Mutex

	// now is replaced in tests.
	now func() time.Time
}

// Open opens or creates the dedup index at knowledgeDir/index/dedup.db.
func Open(knowledgeDir string) (*Index, error) {
	dbDir := filepath.Join(knowledgeDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return OpenPath(filepath.Join(dbDir, dbFile))
}

// OpenPath opens or creates the dedup index at an explicit database path.
func OpenPath(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening dedup database: %w", err)
	}

	idx := &Index{db: db, now: time.Now}
	if err := idx.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating dedup schema: %w", err)
	}
	return idx, nil
}

// Close releases the database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) createSchema() error {
	_, err := x.db.Exec(`CREATE TABLE IF NOT EXISTS papers (
		id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		text_length INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`)
	return err
}

// Lookup returns the record for paperID. The boolean is false when the
// paper has never been sighted.
func (x *Index) Lookup(ctx context.Context, paperID string) (types.PaperRecord, bool, error) {
	row := x.db.QueryRowContext(ctx,
		`SELECT id, source_url, title, text_length, status, reason, attempts, updated_at
		 FROM papers WHERE id = ?`, paperID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PaperRecord{}, false, nil
	}
	if err != nil {
		return types.PaperRecord{}, false, fmt.Errorf("looking up %s: %w", paperID, err)
	}
	return rec, true, nil
}

// Sighted records a pending entry for rec on first sighting. An existing
// record is left unchanged.
func (x *Index) Sighted(ctx context.Context, rec types.PaperRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	_, err := x.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO papers (id, source_url, title, status, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.SourceURL, rec.Title, string(types.StatusPending), x.stamp())
	if err != nil {
		return fmt.Errorf("recording sighting of %s: %w", rec.ID, err)
	}
	return nil
}

// MarkProcessed upserts the state of rec. A failed state increments the
// stored attempt counter; an extracted state clears the failure reason.
func (x *Index) MarkProcessed(ctx context.Context, rec types.PaperRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	inc := 0
	reason := rec.Reason
	switch rec.Status {
	case types.StatusFailed:
		inc = 1
	case types.StatusExtracted:
		reason = ""
	}

	_, err := x.db.ExecContext(ctx,
		`INSERT INTO papers (id, source_url, title, text_length, status, reason, attempts, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source_url = CASE WHEN excluded.source_url != '' THEN excluded.source_url ELSE papers.source_url END,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE papers.title END,
			text_length = excluded.text_length,
			status = excluded.status,
			reason = excluded.reason,
			attempts = papers.attempts + ?,
			updated_at = excluded.updated_at`,
		rec.ID, rec.SourceURL, rec.Title, rec.TextLength, string(rec.Status), reason, inc, x.stamp(), inc)
	if err != nil {
		return fmt.Errorf("marking %s %s: %w", rec.ID, rec.Status, err)
	}
	return nil
}

// Forget removes the record for paperID so the next run processes it from
// scratch. Forgetting an unknown paper is not an error.
func (x *Index) Forget(ctx context.Context, paperID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := x.db.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, paperID); err != nil {
		return fmt.Errorf("forgetting %s: %w", paperID, err)
	}
	return nil
}

// List returns every record ordered by ID.
func (x *Index) List(ctx context.Context) ([]types.PaperRecord, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT id, source_url, title, text_length, status, reason, attempts, updated_at
		 FROM papers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()

	var out []types.PaperRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning paper: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Decide applies the re-attempt policy to a lookup result. Extracted papers
// are skipped; failed papers are retried while attempts stay below
// maxAttempts; force processes everything.
func Decide(rec types.PaperRecord, found, force bool, maxAttempts int) Decision {
	if force || !found {
		return Process
	}
	switch rec.Status {
	case types.StatusExtracted:
		return Skip
	case types.StatusFailed:
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			return GiveUp
		}
	}
	return Process
}

func (x *Index) stamp() string {
	return x.now().UTC().Format(time.RFC3339Nano)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (types.PaperRecord, error) {
	var (
		rec     types.PaperRecord
		status  string
		updated string
	)
	if err := s.Scan(&rec.ID, &rec.SourceURL, &rec.Title, &rec.TextLength,
		&status, &rec.Reason, &rec.Attempts, &updated); err != nil {
		return types.PaperRecord{}, err
	}
	rec.Status = types.ExtractionStatus(status)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec, nil
}
