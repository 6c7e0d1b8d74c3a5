package scheduler

import (
	"fmt"
	"time"

	"github.com/aristath/taskloop/internal/task"
)

func (g *Graph) mutate(taskID string, fn func(t *task.Task)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, exists := g.nodes[taskID]
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownTask, taskID)
	}
	fn(t)
	return nil
}

// MarkRunning sets task status to in_progress.
func (g *Graph) MarkRunning(taskID string) error {
	return g.mutate(taskID, func(t *task.Task) {
		t.Status = task.StatusInProgress
		t.Metadata.StartedAt = time.Now()
	})
}

// MarkCompleted sets task status to completed and stores its result.
func (g *Graph) MarkCompleted(taskID, result string) error {
	return g.mutate(taskID, func(t *task.Task) {
		t.Status = task.StatusCompleted
		t.Result = result
		t.Error = ""
		t.Metadata.CompletedAt = time.Now()
	})
}

// MarkFailed sets task status to failed and stores the error text.
// Dependents become blocked on the next GetReadyTasks call.
func (g *Graph) MarkFailed(taskID, errText string) error {
	return g.mutate(taskID, func(t *task.Task) {
		t.Status = task.StatusFailed
		t.Error = errText
		t.Metadata.CompletedAt = time.Now()
	})
}

// MarkSkipped sets task status to skipped. Dependents treat it as satisfied.
func (g *Graph) MarkSkipped(taskID, reason string) error {
	return g.mutate(taskID, func(t *task.Task) {
		t.Status = task.StatusSkipped
		if reason != "" {
			t.Error = reason
		}
		t.Metadata.CompletedAt = time.Now()
	})
}

// MarkCancelled sets task status to cancelled.
func (g *Graph) MarkCancelled(taskID, reason string) error {
	return g.mutate(taskID, func(t *task.Task) {
		t.Status = task.StatusCancelled
		t.Error = reason
	})
}

// Reset returns a task to pending so it can run again, counting the retry.
func (g *Graph) Reset(taskID string) error {
	return g.mutate(taskID, func(t *task.Task) {
		t.Status = task.StatusPending
		t.Metadata.RetryCount++
	})
}

// Requeue returns a task to pending without counting a retry.
func (g *Graph) Requeue(taskID string) error {
	return g.mutate(taskID, func(t *task.Task) {
		t.Status = task.StatusPending
	})
}

// Update applies fn to the task under the graph lock.
func (g *Graph) Update(taskID string, fn func(t *task.Task)) error {
	return g.mutate(taskID, fn)
}
