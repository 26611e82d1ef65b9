package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/pagesync/internal/apperr"
)

// RunRow is one recorded sync pass.
type RunRow struct {
	ID         string
	Mode       string
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Created    int
	Updated    int
	Unchanged  int
	Skipped    int
	Deleted    int
	Errored    int
	Truncated  int
	// FatalError is set when the pass aborted.
	FatalError string
	Errors     []RunError
}

// RunError is one per-record failure reported by a run.
type RunError struct {
	ItemID  string
	Stage   string
	Message string
}

const runColumns = `id, mode, triggered_by, started_at, finished_at, created, updated, unchanged,
	skipped, deleted, errored, truncated, fatal_error`

// RecordRun stores r and its errors in one transaction.
func (db *DB) RecordRun(ctx context.Context, r RunRow) error {
	if r.ID == "" {
		return errors.New("index: run without id")
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mode, r.Trigger, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Created, r.Updated,
		r.Unchanged, r.Skipped, r.Deleted, r.Errored, r.Truncated, r.FatalError)
	if err != nil {
		return fmt.Errorf("index: insert run: %w", err)
	}

	if len(r.Errors) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_errors (run_id, seq, item_id, stage, message) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare run error insert: %w", err)
		}
		defer stmt.Close()
		for i, e := range r.Errors {
			if _, err := stmt.ExecContext(ctx, r.ID, i, e.ItemID, e.Stage, e.Message); err != nil {
				return fmt.Errorf("index: insert run error: %w", err)
			}
		}
	}
	return tx.Commit()
}

// GetRun returns the run with its errors, or apperr.ErrNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (*RunRow, error) {
	r, err := scanRun(db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get run: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT item_id, stage, message FROM run_errors WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("index: run errors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e RunError
		if err := rows.Scan(&e.ItemID, &e.Stage, &e.Message); err != nil {
			return nil, err
		}
		r.Errors = append(r.Errors, e)
	}
	return r, rows.Err()
}

// ListRuns returns runs newest first, without their error lists.
func (db *DB) ListRuns(ctx context.Context, limit, offset int) ([]RunRow, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count runs: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("index: scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// LastRun returns the most recent run, or apperr.ErrNotFound.
func (db *DB) LastRun(ctx context.Context) (*RunRow, error) {
	runs, _, err := db.ListRuns(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, apperr.ErrNotFound
	}
	return db.GetRun(ctx, runs[0].ID)
}

func scanRun(s scanner) (*RunRow, error) {
	var r RunRow
	err := s.Scan(&r.ID, &r.Mode, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.Created, &r.Updated,
		&r.Unchanged, &r.Skipped, &r.Deleted, &r.Errored, &r.Truncated, &r.FatalError)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
