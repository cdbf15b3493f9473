// Package store persists pipeline runs and beads. Two independent
// backends exist: a SQLite database for queries and a per-run JSON
// snapshot directory for human inspection. Either can fail without
// taking the other down.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
)

// ErrNotFound is returned when a run or bead does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id          TEXT PRIMARY KEY,
	repo_path   TEXT NOT NULL,
	branch      TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	error       TEXT NOT NULL DEFAULT '',
	summary     TEXT,
	detail      TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);

CREATE TABLE IF NOT EXISTS beads (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL,
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	metadata    TEXT,
	created_at  TEXT NOT NULL,
	started_at  TEXT,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_beads_run ON beads(run_id);
CREATE INDEX IF NOT EXISTS idx_beads_status ON beads(status);
CREATE INDEX IF NOT EXISTS idx_beads_category ON beads(category);
`

// SQLite stores runs and beads in a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and
// applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// modernc.org/sqlite is single-writer; serialize access.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertRun inserts or updates a run record.
func (s *SQLite) UpsertRun(ctx context.Context, r pipeline.Run) error {
	summary, err := nullJSON(r.Summary, r.Summary != nil)
	if err != nil {
		return fmt.Errorf("marshaling run summary: %w", err)
	}
	detail, err := nullJSON(r.Detail, r.Detail != nil)
	if err != nil {
		return fmt.Errorf("marshaling run detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, repo_path, branch, strategy, status, started_at, finished_at, error, summary, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			branch = excluded.branch,
			status = excluded.status,
			finished_at = excluded.finished_at,
			error = excluded.error,
			summary = excluded.summary,
			detail = excluded.detail`,
		r.ID, r.RepoPath, r.Branch, r.Strategy, string(r.Status),
		fmtTime(r.StartedAt), fmtTimePtr(r.FinishedAt), r.Error, summary, detail,
	)
	if err != nil {
		return fmt.Errorf("upserting run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun returns the run with the given ID, or ErrNotFound.
func (s *SQLite) GetRun(ctx context.Context, id string) (pipeline.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_path, branch, strategy, status, started_at, finished_at, error, summary, detail
		FROM pipeline_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns runs ordered newest first. An empty status matches
// all runs; limit <= 0 means no limit.
func (s *SQLite) ListRuns(ctx context.Context, status string, limit int) ([]pipeline.Run, error) {
	query := `
		SELECT id, repo_path, branch, strategy, status, started_at, finished_at, error, summary, detail
		FROM pipeline_runs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []pipeline.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpsertBead inserts or updates a bead. Implements beads.Sink.
func (s *SQLite) UpsertBead(ctx context.Context, b beads.Bead) error {
	var meta sql.NullString
	if len(b.Meta) > 0 {
		data, err := json.Marshal(b.Meta)
		if err != nil {
			return fmt.Errorf("marshaling bead metadata: %w", err)
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO beads (id, run_id, seq, name, category, status, detail, error, metadata, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			detail = excluded.detail,
			error = excluded.error,
			metadata = excluded.metadata,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		b.ID, b.RunID, b.Seq, b.Name, b.Category, string(b.Status),
		b.Detail, b.Error, meta, fmtTime(b.CreatedAt), fmtTimePtr(b.StartedAt), fmtTimePtr(b.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting bead %s: %w", b.ID, err)
	}
	return nil
}

// GetBead returns the bead with the given ID, or ErrNotFound.
func (s *SQLite) GetBead(ctx context.Context, id string) (beads.Bead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, seq, name, category, status, detail, error, metadata, created_at, started_at, finished_at
		FROM beads WHERE id = ?`, id)
	b, err := scanBead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return beads.Bead{}, fmt.Errorf("bead %s: %w", id, ErrNotFound)
	}
	return b, err
}

// BeadsForRun returns the run's beads in sequence order, optionally
// filtered by status and category.
func (s *SQLite) BeadsForRun(ctx context.Context, runID, status, category string) ([]beads.Bead, error) {
	query := `
		SELECT id, run_id, seq, name, category, status, detail, error, metadata, created_at, started_at, finished_at
		FROM beads WHERE run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing beads for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []beads.Bead
	for rows.Next() {
		b, err := scanBead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BeadSummary aggregates bead counts for a run by status and category.
func (s *SQLite) BeadSummary(ctx context.Context, runID string) (beads.Summary, error) {
	all, err := s.BeadsForRun(ctx, runID, "", "")
	if err != nil {
		return beads.Summary{}, err
	}
	return beads.Summarize(runID, all), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (pipeline.Run, error) {
	var r pipeline.Run
	var status, startedAt string
	var finishedAt, summary, detail sql.NullString
	if err := row.Scan(&r.ID, &r.RepoPath, &r.Branch, &r.Strategy, &status,
		&startedAt, &finishedAt, &r.Error, &summary, &detail); err != nil {
		return pipeline.Run{}, err
	}
	r.Status = pipeline.RunStatus(status)

	var err error
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return pipeline.Run{}, err
	}
	if r.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return pipeline.Run{}, err
	}
	if summary.Valid {
		var sum pipeline.RunSummary
		if err := json.Unmarshal([]byte(summary.String), &sum); err != nil {
			return pipeline.Run{}, fmt.Errorf("unmarshaling run summary: %w", err)
		}
		r.Summary = &sum
	}
	if detail.Valid {
		var det pipeline.RunDetail
		if err := json.Unmarshal([]byte(detail.String), &det); err != nil {
			return pipeline.Run{}, fmt.Errorf("unmarshaling run detail: %w", err)
		}
		r.Detail = &det
	}
	return r, nil
}

func scanBead(row rowScanner) (beads.Bead, error) {
	var b beads.Bead
	var status, createdAt string
	var meta, startedAt, finishedAt sql.NullString
	if err := row.Scan(&b.ID, &b.RunID, &b.Seq, &b.Name, &b.Category, &status,
		&b.Detail, &b.Error, &meta, &createdAt, &startedAt, &finishedAt); err != nil {
		return beads.Bead{}, err
	}
	b.Status = beads.Status(status)
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &b.Meta); err != nil {
			return beads.Bead{}, fmt.Errorf("unmarshaling bead metadata: %w", err)
		}
	}

	var err error
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return beads.Bead{}, err
	}
	if b.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return beads.Bead{}, err
	}
	if b.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return beads.Bead{}, err
	}
	return b, nil
}

func nullJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
