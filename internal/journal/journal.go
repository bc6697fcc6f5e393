// Package journal keeps a SQLite record of every deployment run and its
// classified output.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrRunNotFound = errors.New("run not found")
	ErrAmbiguousID = errors.New("run id prefix is ambiguous")
)

// Run is the stored summary of one deployment attempt.
type Run struct {
	ID           string
	Hostname     string
	VMID         int
	Succeeded    bool
	State        api.RunState
	FinalMessage string
	Command      string
	ExitCode     int
	Error        string
	Warnings     []string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Store is a SQLite-backed run journal.
type Store struct{ db *sql.DB }

// Open opens the journal at path, creating it and applying migrations as
// needed. Use ":memory:" for a throwaway journal.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveRun stores an outcome and its events in one transaction.
func (s *Store) SaveRun(ctx context.Context, o *api.DeploymentOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	errText := ""
	if o.Err != nil {
		errText = o.Err.Error()
	}
	warnings := make([]string, 0, len(o.Warnings))
	for _, w := range o.Warnings {
		warnings = append(warnings, w.Error())
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, hostname, vmid, succeeded, state, final_message, command, exit_code, error, warnings, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Hostname, o.VMID, o.Succeeded, string(o.State), o.FinalMessage, o.Command, o.ExitCode,
		errText, strings.Join(warnings, "\n"), formatTime(o.StartedAt), formatTime(o.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (run_id, seq, kind, stage, progress, raw_text) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()
	for i, ev := range o.Events {
		var progress sql.NullInt64
		if ev.Progress != nil {
			progress = sql.NullInt64{Int64: int64(*ev.Progress), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, o.RunID, i, string(ev.Kind), string(ev.Stage), progress, ev.RawText); err != nil {
			return fmt.Errorf("insert event %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const runColumns = `id, hostname, vmid, succeeded, state, final_message, command, exit_code, error, warnings, started_at, finished_at`

// ListRuns returns up to limit runs, most recent first. A limit of zero or
// less returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindRun looks a run up by its id or a unique prefix of it.
func (s *Store) FindRun(ctx context.Context, idOrPrefix string) (Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR substr(id, 1, length(?)) = ? ORDER BY id LIMIT 2`,
		idOrPrefix, idOrPrefix, idOrPrefix)
	if err != nil {
		return Run{}, fmt.Errorf("find run: %w", err)
	}
	defer rows.Close()
	var found []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		if r.ID == idOrPrefix {
			return r, nil
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return Run{}, err
	}
	switch len(found) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, idOrPrefix)
	case 1:
		return found[0], nil
	default:
		return Run{}, fmt.Errorf("%w: %s", ErrAmbiguousID, idOrPrefix)
	}
}

// Events returns the events of a run in their original order.
func (s *Store) Events(ctx context.Context, runID string) ([]api.OutputEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, stage, progress, raw_text FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []api.OutputEvent
	for rows.Next() {
		var (
			kind, stage, raw string
			progress         sql.NullInt64
		)
		if err := rows.Scan(&kind, &stage, &progress, &raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := api.OutputEvent{Kind: api.Kind(kind), Stage: api.Stage(stage), RawText: raw}
		if progress.Valid {
			p := int(progress.Int64)
			ev.Progress = &p
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                   Run
		state, warnings     string
		startedAt, finished string
	)
	err := row.Scan(&r.ID, &r.Hostname, &r.VMID, &r.Succeeded, &state, &r.FinalMessage, &r.Command,
		&r.ExitCode, &r.Error, &warnings, &startedAt, &finished)
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.State = api.RunState(state)
	if warnings != "" {
		r.Warnings = strings.Split(warnings, "\n")
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return r, nil
}

// Timestamps are stored as fixed-width UTC text so they sort correctly.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
