package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/taskloop/internal/task"
)

// SaveTree replaces the stored task tree of a run with root and every
// descendant, depth-first, along with their dependencies.
func (s *SQLiteStore) SaveTree(ctx context.Context, runID string, root *task.Task) error {
	if root == nil {
		return fmt.Errorf("save tree of run %s: nil root", runID)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Dependencies cascade with their tasks.
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete old tasks: %w", err)
	}

	position := 0
	var saveErr error
	root.Walk(func(t *task.Task) bool {
		if saveErr != nil {
			return false
		}
		if saveErr = insertTask(ctx, tx, runID, position, t); saveErr != nil {
			return false
		}
		position++
		return true
	})
	if saveErr != nil {
		return saveErr
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, tx *sql.Tx, runID string, position int, t *task.Task) error {
	var params sql.NullString
	if len(t.ToolParams) > 0 {
		data, err := json.Marshal(t.ToolParams)
		if err != nil {
			return fmt.Errorf("failed to encode params of task %s: %w", t.ID, err)
		}
		params = sql.NullString{String: string(data), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (run_id, id, parent_id, position, description, task_type, priority, complexity,
			tool_name, tool_params, status, result, error, retry_count, max_retries, depth,
			created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, t.ID, t.ParentID, position, t.Description, string(t.Type), string(t.Priority), string(t.Complexity),
		t.ToolName, params, string(t.Status), t.Result, t.Error, t.Metadata.RetryCount, t.Metadata.MaxRetries, t.Metadata.Depth,
		nullTime(t.Metadata.CreatedAt), nullTime(t.Metadata.StartedAt), nullTime(t.Metadata.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}

	for _, depID := range t.DependsOn {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_dependencies (run_id, task_id, depends_on_id)
			VALUES (?, ?, ?)
		`, runID, t.ID, depID)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.ID, depID, err)
		}
	}
	return nil
}

// ListTasks returns the stored tasks of a run in tree order, without
// children attached.
func (s *SQLiteStore) ListTasks(ctx context.Context, runID string) ([]*task.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	deps, err := s.dependencies(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, description, task_type, priority, complexity, tool_name, tool_params,
			status, result, error, retry_count, max_retries, depth, created_at, started_at, completed_at
		FROM tasks
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*task.Task{}
	for rows.Next() {
		var (
			t                           task.Task
			typ, priority, complexity   string
			status                      string
			params                      sql.NullString
			created, started, completed sql.NullTime
		)
		err := rows.Scan(&t.ID, &t.ParentID, &t.Description, &typ, &priority, &complexity, &t.ToolName, &params,
			&status, &t.Result, &t.Error, &t.Metadata.RetryCount, &t.Metadata.MaxRetries, &t.Metadata.Depth,
			&created, &started, &completed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Type = task.Type(typ)
		t.Priority = task.Priority(priority)
		t.Complexity = task.Complexity(complexity)
		t.Status = task.Status(status)
		t.Metadata.CreatedAt = created.Time
		t.Metadata.StartedAt = started.Time
		t.Metadata.CompletedAt = completed.Time
		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &t.ToolParams); err != nil {
				return nil, fmt.Errorf("failed to decode params of task %s: %w", t.ID, err)
			}
		}
		t.DependsOn = deps[t.ID]
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func (s *SQLiteStore) dependencies(ctx context.Context, runID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		WHERE run_id = ?
		ORDER BY rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// LoadTree rebuilds the stored task tree of a run. A run without a stored
// tree yields an error wrapping ErrNotFound.
func (s *SQLiteStore) LoadTree(ctx context.Context, runID string) (*task.Task, error) {
	tasks, err := s.ListTasks(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task tree of run %s: %w", runID, ErrNotFound)
	}

	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	// Tree order puts every parent before its children.
	root := tasks[0]
	for _, t := range tasks[1:] {
		if parent, ok := byID[t.ParentID]; ok {
			parent.Children = append(parent.Children, t)
		}
	}
	return root, nil
}
