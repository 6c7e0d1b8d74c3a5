package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aristath/taskloop/internal/task"
)

// TimeoutPrefix tags the error text of observations whose execution timed out.
const TimeoutPrefix = "timeout: "

// EngineConfig configures an Engine.
type EngineConfig struct {
	Workspace string // Root to snapshot; empty disables change detection
	Snapshot  bool   // Diff file stamps before/after execution
	Watch     bool   // Also record fsnotify events during execution
	MaxFiles  int    // Snapshot file cap (default DefaultMaxSnapshotFiles)
	Logger    *slog.Logger
}

// Engine builds Observations from tool results.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger
}

// NewEngine creates an observation engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Capture tracks workspace changes across one execution.
type Capture struct {
	root    string
	before  *Snapshot
	watcher *watcher
	max     int
}

// Begin starts capturing workspace changes. Finish must be called on the
// returned Capture; a nil Capture is valid and reports no changes.
func (e *Engine) Begin() *Capture {
	if e.cfg.Workspace == "" || (!e.cfg.Snapshot && !e.cfg.Watch) {
		return nil
	}
	before := TakeSnapshot(e.cfg.Workspace, e.cfg.MaxFiles)
	c := &Capture{root: e.cfg.Workspace, max: e.cfg.MaxFiles}
	if e.cfg.Snapshot {
		c.before = before
	}
	if e.cfg.Watch {
		w, err := startWatcher(e.cfg.Workspace, before.dirs)
		if err != nil {
			e.logger.Warn("workspace watcher unavailable", "workspace", e.cfg.Workspace, "error", err)
		} else {
			c.watcher = w
		}
	}
	return c
}

// Finish stops the capture and returns the detected changes.
func (c *Capture) Finish() FileChanges {
	if c == nil {
		return FileChanges{}
	}
	var changes FileChanges
	if c.before != nil {
		changes = c.before.Diff(TakeSnapshot(c.root, c.max))
	}
	if c.watcher != nil {
		changes = changes.Merge(c.watcher.stop())
	}
	return changes
}

// Observe builds the Observation for one execution of t. execErr is the error
// returned by the tool capability itself (transport failure, timeout,
// cancellation); detected holds changes found by a Capture.
func (e *Engine) Observe(t *task.Task, iteration int, res ToolResult, execErr error, detected FileChanges) Observation {
	obs := Observation{
		TaskID:    t.ID,
		ToolName:  t.ToolName,
		Iteration: iteration,
		Success:   res.Success && execErr == nil,
		Output:    res.Output,
		Error:     res.Error,
		Duration:  res.Duration,
		Timestamp: time.Now(),
	}

	if execErr != nil {
		switch {
		case errors.Is(execErr, context.DeadlineExceeded):
			obs.TimedOut = true
			obs.Error = TimeoutPrefix + execErr.Error()
		case obs.Error == "":
			obs.Error = execErr.Error()
		default:
			obs.Error = fmt.Sprintf("%s: %v", obs.Error, execErr)
		}
	}
	if !obs.Success && obs.Error == "" {
		obs.Error = "tool reported failure without an error message"
	}

	reported := FileChanges{Modified: res.FilesModified, Created: res.FilesCreated, Deleted: res.FilesDeleted}
	merged := reported.Merge(detected)
	obs.FilesModified = nonNil(merged.Modified)
	obs.FilesCreated = nonNil(merged.Created)
	obs.FilesDeleted = nonNil(merged.Deleted)
	obs.CommandsRun = nonNil(mergeUnique(res.CommandsRun, nil))

	obs.Tests = ParseTestSummary(res.Output)

	e.logger.Debug("observation",
		"task_id", t.ID,
		"success", obs.Success,
		"timed_out", obs.TimedOut,
		"files", len(obs.TouchedFiles()),
		"duration", obs.Duration,
	)
	return obs
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
