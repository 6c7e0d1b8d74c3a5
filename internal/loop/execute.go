package loop

import (
	"context"
	"errors"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/resilience"
	"github.com/aristath/taskloop/internal/task"
)

var errNoTool = errors.New("task has no tool binding")

// executeBatch runs the batch and returns one observation per task, in batch
// order. A single task runs inline with workspace change capture; larger
// batches run concurrently and rely on tool-reported side effects only.
func (r *Run) executeBatch(ctx context.Context, batch []*task.Task, iteration int) []observe.Observation {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.cancelFlight = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancelFlight = nil
		r.mu.Unlock()
	}()

	for i, t := range batch {
		_ = r.graph.MarkRunning(t.ID)
		r.update(func(s *LoopState) {
			s.Phase = PhaseExecute
			s.CurrentTaskID = t.ID
		})
		r.emit(TaskStartEvent{
			RunID:       r.id,
			TaskID:      t.ID,
			Description: t.Description,
			ToolName:    t.ToolName,
			Iteration:   iteration + i + 1,
			Timestamp:   time.Now(),
		})
		r.logger.Debug("task started", "task", describe(t), "task_id", t.ID, "iteration", iteration+i+1)
	}

	observations := make([]observe.Observation, len(batch))
	if len(batch) == 1 {
		capture := r.exec.cfg.Observer.Begin()
		res, err := r.runTool(execCtx, batch[0])
		observations[0] = r.exec.cfg.Observer.Observe(batch[0], iteration+1, res, err, capture.Finish())
		return observations
	}

	g := new(errgroup.Group)
	g.SetLimit(r.exec.cfg.Parallelism)
	for i, t := range batch {
		g.Go(func() error {
			res, err := r.runTool(execCtx, t)
			observations[i] = r.exec.cfg.Observer.Observe(t, iteration+i+1, res, err, observe.FileChanges{})
			return nil
		})
	}
	_ = g.Wait()
	return observations
}

// runTool executes one task under its timeout, file lock and tool breaker.
func (r *Run) runTool(ctx context.Context, t *task.Task) (observe.ToolResult, error) {
	if t.ToolName == "" {
		return observe.ToolResult{}, errNoTool
	}

	unlock := r.exec.cfg.Locks.LockTask(t)
	defer unlock()

	params := maps.Clone(t.ToolParams)
	if params == nil {
		params = map[string]any{}
	}

	start := time.Now()
	cb := r.breakers.Get(t.ToolName)
	out, err := cb.Execute(func() (interface{}, error) {
		return resilience.WithTimeout(ctx, r.exec.cfg.TaskTimeout, func(ctx context.Context) (observe.ToolResult, error) {
			return r.exec.cfg.Tools.Execute(ctx, t.ID, t.ToolName, params)
		})
	})

	res, _ := out.(observe.ToolResult)
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res, err
}
