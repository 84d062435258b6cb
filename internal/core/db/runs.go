package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// StartRun records a new run in the running state.
func (db *DB) StartRun(target string, resume bool, startedAt time.Time) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Target:    target,
		Resume:    resume,
		Status:    RunStatusRunning,
		StartedAt: startedAt.UTC().Truncate(time.Second),
	}
	_, err := db.db.Exec(`
		INSERT INTO runs (id, target, resume, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Target, run.Resume, run.Status, formatTime(run.StartedAt))
	if err != nil {
		return Run{}, fmt.Errorf("failed to start run: %w", err)
	}

	db.emit(RunStartedEvent{Run: run})
	return run, nil
}

// RecordBook appends a book outcome to a run and keeps the run's counters
// current, so an interrupted run still shows its progress.
func (db *DB) RecordBook(runID string, outcome BookOutcome) error {
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now()
	}
	outcome.RecordedAt = outcome.RecordedAt.UTC().Truncate(time.Second)

	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var books, skipped, failed, highlights int
	switch outcome.Status {
	case BookStatusOK:
		books, highlights = 1, outcome.Highlights
	case BookStatusSkipped:
		skipped = 1
	case BookStatusFailed:
		failed = 1
	}
	res, err := tx.Exec(`
		UPDATE runs
		SET books = books + ?, skipped = skipped + ?, failed = failed + ?, highlights = highlights + ?
		WHERE id = ?
	`, books, skipped, failed, highlights, runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	_, err = tx.Exec(`
		INSERT INTO run_books (run_id, asin, title, status, highlights, replaced, warning, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, outcome.ASIN, outcome.Title, outcome.Status, outcome.Highlights, outcome.Replaced,
		outcome.Warning, outcome.Error, formatTime(outcome.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to record book %s: %w", outcome.ASIN, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.emit(BookRecordedEvent{RunID: runID, Outcome: outcome})
	return nil
}

// FinishRun closes a run with its final status and counters.
func (db *DB) FinishRun(runID string, summary RunSummary) error {
	if summary.FinishedAt.IsZero() {
		summary.FinishedAt = time.Now()
	}
	res, err := db.db.Exec(`
		UPDATE runs
		SET status = ?, finished_at = ?, books = ?, skipped = ?, failed = ?, highlights = ?, error = ?
		WHERE id = ?
	`, summary.Status, formatTime(summary.FinishedAt), summary.Books, summary.Skipped, summary.Failed,
		summary.Highlights, summary.Error, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	db.emit(RunFinishedEvent{Run: run})
	return nil
}

func (db *DB) GetRun(id string) (Run, error) {
	row := db.db.QueryRow(`
		SELECT id, target, resume, status, started_at, finished_at, books, skipped, failed, highlights, error
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. If limit <= 0, all runs are
// returned.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT id, target, resume, status, started_at, finished_at, books, skipped, failed, highlights, error
		FROM runs
		ORDER BY started_at DESC, rowid DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = db.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer closeRows(rows)

	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListRunBooks returns a run's book outcomes in the order they were recorded.
func (db *DB) ListRunBooks(runID string) ([]BookOutcome, error) {
	rows, err := db.db.Query(`
		SELECT asin, title, status, highlights, replaced, warning, error, recorded_at
		FROM run_books
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run books: %w", err)
	}
	defer closeRows(rows)

	out := []BookOutcome{}
	for rows.Next() {
		var (
			o          BookOutcome
			recordedAt string
		)
		if err := rows.Scan(&o.ASIN, &o.Title, &o.Status, &o.Highlights, &o.Replaced, &o.Warning, &o.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run book: %w", err)
		}
		if o.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run        Run
		startedAt  string
		finishedAt sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Target, &run.Resume, &run.Status, &startedAt, &finishedAt,
		&run.Books, &run.Skipped, &run.Failed, &run.Highlights, &run.Error); err != nil {
		return Run{}, err
	}

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return Run{}, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return Run{}, err
		}
		run.FinishedAt = &t
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "error", err)
	}
}
