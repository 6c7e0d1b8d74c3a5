package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskloop/internal/loop"
)

// opTimeout bounds every single journal operation.
const opTimeout = 5 * time.Second

// CreateRun records a run in the planning phase. Creating an existing run
// keeps its row and only fills in a missing goal.
func (s *SQLiteStore) CreateRun(ctx context.Context, runID, goal string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, goal, phase, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal = CASE WHEN runs.goal = '' THEN excluded.goal ELSE runs.goal END
	`, runID, goal, string(loop.PhasePlanning), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the final state of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, state loop.LoopState) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	final, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode final state: %w", err)
	}
	ended := state.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET goal = CASE WHEN ? != '' THEN ? ELSE goal END,
			phase = ?, iteration = ?, success = ?, error = ?, final_state = ?, ended_at = ?
		WHERE id = ?
	`, state.Goal, state.Goal, string(state.Phase), state.Iteration, state.Success, state.Error, string(final), ended.UTC(), state.RunID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", state.RunID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", state.RunID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, goal, phase, iteration, success, error, final_state, started_at, ended_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		rec     RunRecord
		phase   string
		final   sql.NullString
		started sql.NullTime
		ended   sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Goal, &phase, &rec.Iteration, &rec.Success, &rec.Error, &final, &started, &ended); err != nil {
		return nil, err
	}
	rec.Phase = loop.Phase(phase)
	rec.StartedAt = started.Time
	rec.EndedAt = ended.Time
	if final.Valid && final.String != "" {
		var st loop.LoopState
		if err := json.Unmarshal([]byte(final.String), &st); err != nil {
			return nil, fmt.Errorf("failed to decode final state of run %s: %w", rec.ID, err)
		}
		rec.Final = &st
	}
	return &rec, nil
}

// GetRun returns a run. A missing run yields an error wrapping ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return rec, nil
}

// ListRuns returns every run, oldest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
