// Package history keeps a sqlite ledger of pipeline runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/geniass/searchwatch/pkg/pipeline"
	"github.com/geniass/searchwatch/pkg/reconcile"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    ok          INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS run_searches (
    run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    name       TEXT NOT NULL,
    pages      INTEGER NOT NULL DEFAULT 0,
    records    INTEGER NOT NULL DEFAULT 0,
    new        INTEGER NOT NULL DEFAULT 0,
    changed    INTEGER NOT NULL DEFAULT 0,
    missing    INTEGER NOT NULL DEFAULT 0,
    reconciled INTEGER NOT NULL DEFAULT 0,
    error      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, position)
);
`

// RunRecord is a stored run.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	OK         bool
	Error      string
	Searches   []SearchRecord
}

func (r RunRecord) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// SearchRecord is the stored outcome of one search within a run.
type SearchRecord struct {
	Name       string
	Pages      int
	Records    int
	New        int
	Changed    int
	Missing    int
	Reconciled bool
	Error      string
}

// Store is the run ledger. It implements pipeline.Recorder.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished run with one row per search result.
func (s *Store) Record(ctx context.Context, run *pipeline.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var runErr string
	if run.Err != nil {
		runErr = run.Err.Error()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, ok, error) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.Err == nil, runErr,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, res := range run.Results {
		counts := reconcile.Counts(res.Deltas)
		var searchErr string
		if res.Err != nil {
			searchErr = res.Err.Error()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_searches (run_id, position, name, pages, records, new, changed, missing, reconciled, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, res.Search.Name, res.Pages, res.Records,
			counts[reconcile.New], counts[reconcile.Changed], counts[reconcile.Missing],
			res.Reconciled, searchErr,
		); err != nil {
			return fmt.Errorf("insert run search: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first, with their searches.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, ok, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var result []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.OK, &r.Error); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, r.FinishedAt = time.UnixMilli(started), time.UnixMilli(finished)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range result {
		if result[i].Searches, err = s.searches(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) searches(ctx context.Context, runID string) ([]SearchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, pages, records, new, changed, missing, reconciled, error
		FROM run_searches WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SearchRecord
	for rows.Next() {
		var r SearchRecord
		if err := rows.Scan(&r.Name, &r.Pages, &r.Records, &r.New, &r.Changed, &r.Missing, &r.Reconciled, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run search: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
