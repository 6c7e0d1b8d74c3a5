package task

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"     // Waiting to run
	StatusInProgress Status = "in_progress" // Currently executing
	StatusCompleted  Status = "completed"   // Finished successfully
	StatusFailed     Status = "failed"      // Finished with error
	StatusBlocked    Status = "blocked"     // A dependency failed
	StatusSkipped    Status = "skipped"     // Intentionally not run
	StatusCancelled  Status = "cancelled"   // Run ended before the task could run
)

// IsTerminal reports whether the status is final for a run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// Type classifies what a task does.
type Type string

const (
	TypeAnalyze Type = "analyze"
	TypeSearch  Type = "search"
	TypeRead    Type = "read"
	TypeEdit    Type = "edit"
	TypeCreate  Type = "create"
	TypeTest    Type = "test"
	TypeCommand Type = "command"
	TypeGeneric Type = "generic"
)

// Priority decides how a task's failure is treated once retries run out.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityOptional Priority = "optional"
)

// Complexity estimates how much work a task represents.
type Complexity string

const (
	ComplexityTrivial     Complexity = "trivial"
	ComplexitySimple      Complexity = "simple"
	ComplexityModerate    Complexity = "moderate"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// DefaultMaxRetries is the retry limit stamped on new tasks.
const DefaultMaxRetries = 3

// Metadata holds timestamps and bookkeeping counters for a task.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	Depth       int       `json:"depth"`
}

// Task is a node in the hierarchical task tree.
//
// A task with children is composite: its work is represented entirely by its
// children and it never carries a ToolName. A task without children is atomic
// and is the unit the executor actually runs. Children are owned by their
// parent; DependsOn holds ids only and is resolved through the dependency graph.
type Task struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	ParentID    string         `json:"parent_id,omitempty"`
	Children    []*Task        `json:"children,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Type        Type           `json:"task_type"`
	Priority    Priority       `json:"priority"`
	Complexity  Complexity     `json:"complexity"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolParams  map[string]any `json:"tool_params,omitempty"`
	Status      Status         `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    Metadata       `json:"metadata"`
}

// New creates a pending task with a fresh id.
func New(description string, typ Type, priority Priority, complexity Complexity) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Description: description,
		Type:        typ,
		Priority:    priority,
		Complexity:  complexity,
		Status:      StatusPending,
		Metadata: Metadata{
			CreatedAt:  time.Now(),
			MaxRetries: DefaultMaxRetries,
		},
	}
}

// IsAtomic reports whether the task is a leaf.
func (t *Task) IsAtomic() bool {
	return len(t.Children) == 0
}

// IsComposite reports whether the task has children.
func (t *Task) IsComposite() bool {
	return len(t.Children) > 0
}

// AddChild attaches child under t. The parent becomes composite and loses any
// tool binding it had.
func (t *Task) AddChild(child *Task) {
	child.ParentID = t.ID
	child.Metadata.Depth = t.Metadata.Depth + 1
	t.Children = append(t.Children, child)
	t.ToolName = ""
	t.ToolParams = nil
}

// Bind sets the tool invocation for an atomic task.
func (t *Task) Bind(toolName string, params map[string]any) {
	t.ToolName = toolName
	t.ToolParams = params
}

// TargetFile returns the file the task reads or edits, if its tool params name one.
func (t *Task) TargetFile() string {
	for _, key := range []string{"path", "file"} {
		if v, ok := t.ToolParams[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Walk visits t and every descendant depth-first, parents before children.
// Returning false from fn stops descent into that node's children.
func (t *Task) Walk(fn func(*Task) bool) {
	if !fn(t) {
		return
	}
	for _, child := range t.Children {
		child.Walk(fn)
	}
}

// Leaves returns all atomic descendants of t (t itself if it is atomic).
func (t *Task) Leaves() []*Task {
	var leaves []*Task
	t.Walk(func(n *Task) bool {
		if n.IsAtomic() {
			leaves = append(leaves, n)
		}
		return true
	})
	return leaves
}

// Find returns the task with the given id within t's subtree.
func (t *Task) Find(id string) (*Task, bool) {
	var found *Task
	t.Walk(func(n *Task) bool {
		if found != nil {
			return false
		}
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found, found != nil
}

// Count returns the number of nodes in t's subtree, including t.
func (t *Task) Count() int {
	n := 0
	t.Walk(func(*Task) bool {
		n++
		return true
	})
	return n
}

// RollupStatus derives composite statuses from their children, bottom-up.
// Any failed child fails the parent; a parent whose children are all
// completed or skipped is completed; otherwise the parent takes the least
// advanced child state.
func (t *Task) RollupStatus() Status {
	if t.IsAtomic() {
		return t.Status
	}

	var completed, failed, blocked, cancelled, inProgress int
	for _, child := range t.Children {
		switch child.RollupStatus() {
		case StatusCompleted, StatusSkipped:
			completed++
		case StatusFailed:
			failed++
		case StatusBlocked:
			blocked++
		case StatusCancelled:
			cancelled++
		case StatusInProgress:
			inProgress++
		}
	}

	switch {
	case failed > 0:
		t.Status = StatusFailed
	case completed == len(t.Children):
		t.Status = StatusCompleted
	case inProgress > 0:
		t.Status = StatusInProgress
	case blocked > 0:
		t.Status = StatusBlocked
	case cancelled > 0 && cancelled+completed == len(t.Children):
		t.Status = StatusCancelled
	default:
		t.Status = StatusPending
	}
	return t.Status
}
