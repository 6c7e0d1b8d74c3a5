// Package persistence is the SQLite run journal: runs, their task trees and
// dependencies, and every event a run emitted in sequence order.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/loop"
	"github.com/aristath/taskloop/internal/task"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunRecord is the journal row of a run.
type RunRecord struct {
	ID        string
	Goal      string
	Phase     loop.Phase
	Iteration int
	Success   bool
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
	Final     *loop.LoopState // Set once the run ended
}

// EventRecord is one journaled event. Payload is the events.Marshal form.
type EventRecord struct {
	Seq       int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Store defines the journal interface.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, runID, goal string) error
	FinishRun(ctx context.Context, state loop.LoopState) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context) ([]RunRecord, error)

	// Task trees
	SaveTree(ctx context.Context, runID string, root *task.Task) error
	LoadTree(ctx context.Context, runID string) (*task.Task, error)
	ListTasks(ctx context.Context, runID string) ([]*task.Task, error)

	// Events
	AppendEvent(ctx context.Context, runID string, e events.Event) (int64, error)
	ListEvents(ctx context.Context, runID string) ([]EventRecord, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout
// on every connection.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)
	return open(ctx, connStr, 2)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each store
// gets its own named database on a single connection, which also serializes
// concurrent journals.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString()), 1)
}

func open(ctx context.Context, connStr string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pragmas in the connection string apply to every pooled connection.
	db.SetMaxOpenConns(maxConns)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
