// Package loop drives a planned task tree through the
// execute, observe, reflect and decide cycle until it completes, fails,
// or suspends to ask the user.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/decompose"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/memory"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/reflection"
	"github.com/aristath/taskloop/internal/resilience"
	"github.com/aristath/taskloop/internal/scheduler"
	"github.com/aristath/taskloop/internal/task"
)

// Defaults.
const (
	DefaultMaxIterations = 50
	DefaultTaskTimeout   = 5 * time.Minute
	DefaultContextChars  = 2000
	maxResultChars       = 4000
)

var (
	// ErrTerminal is returned when stepping a run that already ended.
	ErrTerminal = errors.New("run already terminated")
	// ErrSuspended is returned when stepping a run that waits for an answer.
	ErrSuspended = errors.New("run is waiting for user input")
	// ErrNotSuspended is returned by Resume on a run that is not waiting.
	ErrNotSuspended = errors.New("run is not waiting for user input")
)

// ToolExecutor runs the tool bound to an atomic task. Implementations must be
// safe to retry. A non-nil error means the capability itself failed; a tool
// that ran and failed reports Success=false instead.
type ToolExecutor interface {
	Execute(ctx context.Context, taskID, toolName string, params map[string]any) (observe.ToolResult, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, taskID, toolName string, params map[string]any) (observe.ToolResult, error)

// Execute calls f.
func (f ToolExecutorFunc) Execute(ctx context.Context, taskID, toolName string, params map[string]any) (observe.ToolResult, error) {
	return f(ctx, taskID, toolName, params)
}

// Config configures an Executor. Only Tools is required.
type Config struct {
	Tools         ToolExecutor
	Decomposer    *decompose.Decomposer    // Default: heuristic templates only
	Reflector     *reflection.Engine       // Default: heuristics only
	Observer      *observe.Engine          // Default: no workspace capture
	Breaker       resilience.BreakerConfig // Per-tool breakers, one set per run (zero takes defaults)
	Locks         *scheduler.ResourceLockManager
	Thresholds    decision.Thresholds // Zero fields take defaults
	Memory        memory.Config       // Zero fields take defaults
	MaxIterations int                 // Iteration cap (default 50)
	Parallelism   int                 // Same-wave tasks per iteration batch (default 1)
	TaskTimeout   time.Duration       // Per-execution timeout (default 5m)
	ContextChars  int                 // ask_user digest budget (default 2000)
	Logger        *slog.Logger
}

// Executor holds the collaborators shared by runs. Each run owns its own
// graph, memory and state.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// NewExecutor creates an executor, filling in defaults.
func NewExecutor(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Decomposer == nil {
		cfg.Decomposer = decompose.New(decompose.Config{Logger: logger})
	}
	if cfg.Reflector == nil {
		cfg.Reflector = reflection.New(reflection.Config{Logger: logger})
	}
	if cfg.Observer == nil {
		cfg.Observer = observe.NewEngine(observe.EngineConfig{Logger: logger})
	}
	if cfg.Breaker == (resilience.BreakerConfig{}) {
		cfg.Breaker = resilience.DefaultBreakerConfig()
	}
	if cfg.Locks == nil {
		cfg.Locks = scheduler.NewResourceLockManager()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.ContextChars <= 0 {
		cfg.ContextChars = DefaultContextChars
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Plan decomposes goal and returns a run ready to execute.
func (e *Executor) Plan(ctx context.Context, goal, planContext string, sink events.Sink) *Run {
	return e.NewRun(goal, e.PlanTree(ctx, goal, planContext), sink)
}

// PlanTree decomposes goal into a task tree without creating a run.
func (e *Executor) PlanTree(ctx context.Context, goal, planContext string) *task.Task {
	return e.cfg.Decomposer.Plan(ctx, goal, planContext)
}

// NewRun creates a run over an already decomposed tree. A nil sink discards
// events.
func (e *Executor) NewRun(goal string, root *task.Task, sink events.Sink) *Run {
	return newRun(e, goal, root, sink)
}
