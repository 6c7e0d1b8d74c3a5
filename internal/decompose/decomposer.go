// Package decompose turns a task into a tree of subtasks, either through an
// injected planning strategy or through heuristic templates.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aristath/taskloop/internal/resilience"
	"github.com/aristath/taskloop/internal/task"
)

const (
	// HardMaxDepth bounds recursion regardless of configuration.
	HardMaxDepth = 4
	// DefaultMaxSubtasks caps how many children one decomposition may add.
	DefaultMaxSubtasks = 7
	// DefaultStrategyTimeout bounds a single planning strategy call.
	DefaultStrategyTimeout = 60 * time.Second
)

// errNoSubtasks is returned internally when a strategy proposes nothing usable.
var errNoSubtasks = errors.New("strategy proposed no subtasks")

// SubtaskSpec is one subtask proposed by a planning strategy.
type SubtaskSpec struct {
	Description string          `json:"description"`
	Type        task.Type       `json:"task_type"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolParams  map[string]any  `json:"tool_params,omitempty"`
	Priority    task.Priority   `json:"priority,omitempty"`
	Complexity  task.Complexity `json:"complexity,omitempty"`
	DependsOn   []int           `json:"depends_on,omitempty"` // Indices of earlier specs
}

// PlanningStrategy proposes subtasks for a task description.
type PlanningStrategy interface {
	Propose(ctx context.Context, description, context string) ([]SubtaskSpec, error)
}

// Config configures a Decomposer.
type Config struct {
	Strategy        PlanningStrategy       // Optional; nil uses heuristic templates only
	MaxDepth        int                    // Recursion limit (default and ceiling HardMaxDepth)
	MaxSubtasks     int                    // Children per decomposition (default 7)
	StrategyTimeout time.Duration          // Per-attempt strategy timeout (default 60s)
	Retry           resilience.RetryConfig // Strategy retry policy (default: no retry)
	Logger          *slog.Logger
}

// Decomposer builds task trees.
type Decomposer struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a decomposer, filling in defaults.
func New(cfg Config) *Decomposer {
	if cfg.MaxDepth <= 0 || cfg.MaxDepth > HardMaxDepth {
		cfg.MaxDepth = HardMaxDepth
	}
	if cfg.MaxSubtasks <= 0 {
		cfg.MaxSubtasks = DefaultMaxSubtasks
	}
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = DefaultStrategyTimeout
	}
	if cfg.Retry == (resilience.RetryConfig{}) {
		cfg.Retry = resilience.NoRetry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Decomposer{cfg: cfg, logger: logger}
}

// NewGoal creates the root task for a natural-language goal.
func NewGoal(goal string) *task.Task {
	return task.New(strings.TrimSpace(goal), task.TypeGeneric, task.PriorityHigh, task.ComplexityModerate)
}

// Plan creates the root task for goal and decomposes it.
func (d *Decomposer) Plan(ctx context.Context, goal, planContext string) *task.Task {
	root := NewGoal(goal)
	return d.Decompose(ctx, root, planContext, 0)
}

// Decompose populates t's children in place and recurses into them. It never
// fails: a strategy error falls back to heuristic templates.
func (d *Decomposer) Decompose(ctx context.Context, t *task.Task, planContext string, depth int) *task.Task {
	if !d.shouldDecompose(t, depth) {
		return t
	}

	children := d.fromStrategy(ctx, t, planContext)
	if children == nil {
		children = d.fromTemplates(t)
	}
	for _, child := range children {
		t.AddChild(child)
	}

	d.logger.Debug("decomposed task",
		"task_id", t.ID,
		"depth", depth,
		"subtasks", len(children),
	)

	for _, child := range t.Children {
		d.Decompose(ctx, child, planContext, depth+1)
	}
	return t
}

func (d *Decomposer) shouldDecompose(t *task.Task, depth int) bool {
	switch {
	case t.IsComposite(), t.ToolName != "":
		return false
	case t.Complexity == task.ComplexityTrivial, t.Complexity == task.ComplexitySimple:
		return false
	case depth >= d.cfg.MaxDepth:
		return false
	}
	return true
}

// fromStrategy asks the planning strategy for subtasks. Returns nil when there
// is no strategy or it fails.
func (d *Decomposer) fromStrategy(ctx context.Context, t *task.Task, planContext string) []*task.Task {
	if d.cfg.Strategy == nil {
		return nil
	}

	specs, err := resilience.Retry(ctx, d.cfg.Retry, func(ctx context.Context) ([]SubtaskSpec, error) {
		specs, err := resilience.WithTimeout(ctx, d.cfg.StrategyTimeout, func(ctx context.Context) ([]SubtaskSpec, error) {
			return d.cfg.Strategy.Propose(ctx, t.Description, planContext)
		})
		if err != nil {
			return nil, err
		}
		if len(specs) == 0 {
			return nil, resilience.Permanent(errNoSubtasks)
		}
		return specs, nil
	})
	if err != nil {
		d.logger.Warn("planning strategy failed, using heuristic templates",
			"task_id", t.ID,
			"error", err,
		)
		return nil
	}

	children := d.buildFromSpecs(t, specs)
	if len(children) == 0 {
		d.logger.Warn("planning strategy proposals unusable, using heuristic templates", "task_id", t.ID)
		return nil
	}
	return children
}

// buildFromSpecs converts specs into tasks, capping the count and dropping
// dependency hints that do not point at an earlier kept spec.
func (d *Decomposer) buildFromSpecs(parent *task.Task, specs []SubtaskSpec) []*task.Task {
	if len(specs) > d.cfg.MaxSubtasks {
		specs = specs[:d.cfg.MaxSubtasks]
	}

	index := make([]*task.Task, len(specs))
	var children []*task.Task
	for i, spec := range specs {
		desc := strings.TrimSpace(spec.Description)
		if desc == "" {
			continue
		}
		child := task.New(desc, orType(spec.Type), orPriority(spec.Priority, parent.Priority), orComplexity(spec.Complexity))
		if spec.ToolName != "" {
			child.Bind(spec.ToolName, spec.ToolParams)
		}
		for _, dep := range spec.DependsOn {
			if dep < 0 || dep >= i || index[dep] == nil {
				d.logger.Debug("dropping invalid dependency hint", "subtask", i, "depends_on", dep)
				continue
			}
			child.DependsOn = appendUnique(child.DependsOn, index[dep].ID)
		}
		index[i] = child
		children = append(children, child)
	}
	return children
}

func orType(t task.Type) task.Type {
	switch t {
	case task.TypeAnalyze, task.TypeSearch, task.TypeRead, task.TypeEdit,
		task.TypeCreate, task.TypeTest, task.TypeCommand, task.TypeGeneric:
		return t
	}
	return task.TypeGeneric
}

func orPriority(p, fallback task.Priority) task.Priority {
	switch p {
	case task.PriorityCritical, task.PriorityHigh, task.PriorityMedium, task.PriorityLow, task.PriorityOptional:
		return p
	}
	if fallback == "" {
		return task.PriorityMedium
	}
	return fallback
}

func orComplexity(c task.Complexity) task.Complexity {
	switch c {
	case task.ComplexityTrivial, task.ComplexitySimple, task.ComplexityModerate,
		task.ComplexityComplex, task.ComplexityVeryComplex:
		return c
	}
	return task.ComplexitySimple
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// String renders a tree as an indented outline, one task per line.
func String(root *task.Task) string {
	var b strings.Builder
	var write func(t *task.Task, indent int)
	write = func(t *task.Task, indent int) {
		fmt.Fprintf(&b, "%s- [%s] %s", strings.Repeat("  ", indent), t.Type, t.Description)
		if t.ToolName != "" {
			fmt.Fprintf(&b, " (%s)", t.ToolName)
		}
		b.WriteByte('\n')
		for _, c := range t.Children {
			write(c, indent+1)
		}
	}
	write(root, 0)
	return b.String()
}
