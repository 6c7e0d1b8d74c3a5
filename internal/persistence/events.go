package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/taskloop/internal/events"
)

// AppendEvent journals e under the next sequence number of the run and
// returns that number. Sequence numbers start at 1.
func (s *SQLiteStore) AppendEvent(ctx context.Context, runID string, e events.Event) (int64, error) {
	payload, err := events.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s event: %w", e.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Serializable isolation maps to BEGIN IMMEDIATE, so concurrent appends
	// cannot read the same MAX(seq).
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM run_events WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate sequence number: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO run_events (run_id, seq, type, payload)
		VALUES (?, ?, ?, ?)
	`, runID, seq, e.EventType(), string(payload)); err != nil {
		return 0, fmt.Errorf("failed to append %s event: %w", e.EventType(), err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return seq, nil
}

// ListEvents returns the journaled events of a run in sequence order.
// Returns an empty slice (not nil) for a run without events.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]EventRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, payload, created_at
		FROM run_events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := []EventRecord{}
	for rows.Next() {
		var (
			rec     EventRecord
			payload string
			created sql.NullTime
		)
		if err := rows.Scan(&rec.Seq, &rec.Type, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Payload = []byte(payload)
		rec.CreatedAt = created.Time
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}
