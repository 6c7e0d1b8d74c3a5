package persistence

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/loop"
	"github.com/aristath/taskloop/internal/task"
)

// Journal is an events.Sink that writes one run to a Store. The run row is
// created from the first event, the task tree is saved at loop_start and
// again at loop_end, and loop_end stores the final state.
//
// Write errors are logged and kept; they never reach the run.
type Journal struct {
	ctx    context.Context
	store  Store
	root   *task.Task
	logger *slog.Logger

	mu     sync.Mutex
	runID  string
	errs   []error
	closed bool
}

// NewJournal creates a sink journaling the run over root. The context is
// detached from cancellation so the closing events of a cancelled run are
// still written.
func NewJournal(ctx context.Context, store Store, root *task.Task, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		ctx:    context.WithoutCancel(ctx),
		store:  store,
		root:   root,
		logger: logger,
	}
}

// Emit journals e.
func (j *Journal) Emit(e events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}

	if j.runID == "" {
		id, goal := runOf(e)
		if id == "" {
			return
		}
		if !j.check(j.store.CreateRun(j.ctx, id, goal)) {
			return
		}
		j.runID = id
	}

	if _, ok := e.(loop.LoopStartEvent); ok && j.root != nil {
		j.check(j.store.SaveTree(j.ctx, j.runID, j.root))
	}
	if _, err := j.store.AppendEvent(j.ctx, j.runID, e); !j.check(err) {
		return
	}
	if end, ok := e.(loop.LoopEndEvent); ok {
		if j.root != nil {
			j.check(j.store.SaveTree(j.ctx, j.runID, j.root))
		}
		j.check(j.store.FinishRun(j.ctx, end.FinalState))
		j.closed = true
	}
}

func (j *Journal) check(err error) bool {
	if err == nil {
		return true
	}
	j.errs = append(j.errs, err)
	j.logger.Warn("journal write failed", "run_id", j.runID, "error", err)
	return false
}

// RunID returns the id of the journaled run, empty before the first event.
func (j *Journal) RunID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runID
}

// Err returns every write error joined, or nil.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return errors.Join(j.errs...)
}

// runOf extracts the run id (and goal, when the event carries it).
func runOf(e events.Event) (id, goal string) {
	switch e := e.(type) {
	case loop.LoopStartEvent:
		return e.RunID, e.Goal
	case loop.TaskStartEvent:
		return e.RunID, ""
	case loop.ObservationEvent:
		return e.RunID, ""
	case loop.ReflectionEvent:
		return e.RunID, ""
	case loop.DecisionEvent:
		return e.RunID, ""
	case loop.AskUserEvent:
		return e.RunID, ""
	case loop.LoopErrorEvent:
		return e.RunID, ""
	case loop.LoopCompleteEvent:
		return e.RunID, ""
	case loop.LoopEndEvent:
		return e.RunID, e.FinalState.Goal
	}
	return "", ""
}
