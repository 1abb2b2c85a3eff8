// Package history persists the outcome of finished runs in SQLite so they
// remain queryable after the in-memory run store has evicted them.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/docscan/internal/pipeline"
)

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = errors.New("run not in history")

// Entry is one recorded run.
type Entry struct {
	RunID       string          `json:"run_id"`
	Status      pipeline.Status `json:"status"`
	Files       []string        `json:"files"`
	Keywords    []string        `json:"keywords"`
	Language    string          `json:"language"`
	Strategy    string          `json:"strategy"`
	Pages       int             `json:"pages_processed"`
	Hits        int             `json:"hits"`
	Transcripts []string        `json:"transcripts"`
	HitsPath    string          `json:"hits_path,omitempty"`
	Failures    []string        `json:"failures"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL mode enabled.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	files TEXT NOT NULL,
	keywords TEXT NOT NULL,
	language TEXT,
	strategy TEXT,
	pages INTEGER NOT NULL DEFAULT 0,
	hits INTEGER NOT NULL DEFAULT 0,
	transcripts TEXT NOT NULL,
	hits_path TEXT,
	failures TEXT NOT NULL,
	error TEXT,
	created_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Record stores the terminal state of run, replacing an earlier record with
// the same ID.
func (s *Store) Record(ctx context.Context, run *pipeline.Run) error {
	snap := run.Snapshot()
	e := Entry{
		RunID:       snap.ID,
		Status:      snap.Status,
		Files:       run.Job.Files,
		Keywords:    run.Job.Keywords,
		Language:    run.Job.Language,
		Strategy:    run.Job.Strategy.String(),
		Transcripts: []string{},
		Failures:    []string{},
		Error:       snap.Error,
		CreatedAt:   snap.CreatedAt,
		FinishedAt:  snap.UpdatedAt,
	}
	if r := snap.Result; r != nil {
		e.Pages = r.Pages
		e.Hits = r.Hits
		e.HitsPath = r.HitsPath
		if r.Transcripts != nil {
			e.Transcripts = r.Transcripts
		}
		e.Failures = r.Failures
	}
	return s.put(ctx, e)
}

func (s *Store) put(ctx context.Context, e Entry) error {
	files, _ := json.Marshal(nonNil(e.Files))
	keywords, _ := json.Marshal(nonNil(e.Keywords))
	transcripts, _ := json.Marshal(nonNil(e.Transcripts))
	failures, _ := json.Marshal(nonNil(e.Failures))

	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs
	(run_id, status, files, keywords, language, strategy, pages, hits,
	 transcripts, hits_path, failures, error, created_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, string(e.Status), string(files), string(keywords), e.Language, e.Strategy,
		e.Pages, e.Hits, string(transcripts), e.HitsPath, string(failures), e.Error,
		e.CreatedAt.UTC().Format(time.RFC3339Nano), e.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", e.RunID, err)
	}
	return nil
}

const selectColumns = `run_id, status, files, keywords, language, strategy, pages, hits,
	transcripts, hits_path, failures, error, created_at, finished_at`

// Get returns the entry for id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM runs WHERE run_id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns up to limit entries, most recently finished first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM runs ORDER BY finished_at DESC, run_id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                                       Entry
		status, created, finished               string
		files, keywords, transcripts, failures  string
		language, strategy, hitsPath, errString sql.NullString
	)
	err := sc.Scan(&e.RunID, &status, &files, &keywords, &language, &strategy, &e.Pages, &e.Hits,
		&transcripts, &hitsPath, &failures, &errString, &created, &finished)
	if err != nil {
		return Entry{}, err
	}
	e.Status = pipeline.Status(status)
	e.Language = language.String
	e.Strategy = strategy.String
	e.HitsPath = hitsPath.String
	e.Error = errString.String

	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{files, &e.Files}, {keywords, &e.Keywords}, {transcripts, &e.Transcripts}, {failures, &e.Failures},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return Entry{}, fmt.Errorf("decode run %s: %w", e.RunID, err)
		}
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Entry{}, err
	}
	if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
