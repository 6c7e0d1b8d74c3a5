package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/aristath/taskloop/internal/task"
)

var (
	// ErrCycle is returned when a mutation would introduce a dependency cycle.
	ErrCycle = errors.New("dependency cycle detected")
	// ErrDuplicateTask is returned when a task id is added twice.
	ErrDuplicateTask = errors.New("task already exists")
	// ErrUnknownTask is returned when an operation names a task not in the graph.
	ErrUnknownTask = errors.New("unknown task")
	// ErrStalled is returned when no execution wave can be formed while tasks remain.
	ErrStalled = errors.New("execution stalled: cycle or missing dependency")
)

type idSet map[string]struct{}

// Graph is the dependency DAG over atomic tasks.
// Tasks are stored flat by id; edges are id sets, never task pointers.
type Graph struct {
	mu           sync.RWMutex
	nodes        map[string]*task.Task // All tasks indexed by ID
	edges        map[string]idSet      // taskID -> ids it depends on
	reverseEdges map[string]idSet      // taskID -> ids that depend on it
	order        []string              // Insertion order, for deterministic iteration
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:        make(map[string]*task.Task),
		edges:        make(map[string]idSet),
		reverseEdges: make(map[string]idSet),
	}
}

// AddTask adds a task and the dependency edges in its DependsOn list.
// Dependencies on ids not yet in the graph are kept; such a task is never
// ready until the dependency is added. If the task would close a cycle the
// graph is left unchanged and ErrCycle is returned.
func (g *Graph) AddTask(t *task.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[t.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, t.ID)
	}

	g.nodes[t.ID] = t
	g.order = append(g.order, t.ID)
	if g.edges[t.ID] == nil {
		g.edges[t.ID] = make(idSet)
	}

	var added []string
	for _, depID := range t.DependsOn {
		if _, dup := g.edges[t.ID][depID]; dup {
			continue
		}
		g.link(t.ID, depID)
		added = append(added, depID)
	}

	if g.hasCycleLocked() {
		for _, depID := range added {
			g.unlink(t.ID, depID)
		}
		delete(g.nodes, t.ID)
		if len(g.edges[t.ID]) == 0 {
			delete(g.edges, t.ID)
		}
		g.order = g.order[:len(g.order)-1]
		return fmt.Errorf("adding task %q: %w", t.ID, ErrCycle)
	}
	return nil
}

// AddDependency records that taskID depends on dependsOnID.
// Both tasks must exist. A dependency that would close a cycle is rejected
// and the graph is left unchanged.
func (g *Graph) AddDependency(taskID, dependsOnID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.nodes[taskID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, taskID)
	}
	if _, ok := g.nodes[dependsOnID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, dependsOnID)
	}
	if taskID == dependsOnID {
		return fmt.Errorf("task %q cannot depend on itself: %w", taskID, ErrCycle)
	}
	if _, exists := g.edges[taskID][dependsOnID]; exists {
		return nil
	}

	g.link(taskID, dependsOnID)
	if g.hasCycleLocked() {
		g.unlink(taskID, dependsOnID)
		return fmt.Errorf("dependency %q -> %q: %w", taskID, dependsOnID, ErrCycle)
	}

	t.DependsOn = append(t.DependsOn, dependsOnID)
	return nil
}

func (g *Graph) link(taskID, depID string) {
	if g.edges[taskID] == nil {
		g.edges[taskID] = make(idSet)
	}
	g.edges[taskID][depID] = struct{}{}
	if g.reverseEdges[depID] == nil {
		g.reverseEdges[depID] = make(idSet)
	}
	g.reverseEdges[depID][taskID] = struct{}{}
}

func (g *Graph) unlink(taskID, depID string) {
	delete(g.edges[taskID], depID)
	delete(g.reverseEdges[depID], taskID)
	if len(g.reverseEdges[depID]) == 0 {
		delete(g.reverseEdges, depID)
	}
}

// hasCycleLocked runs a white/gray/black depth-first search over the edge
// relation. Caller must hold the lock.
func (g *Graph) hasCycleLocked() bool {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(g.edges))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for depID := range g.edges[id] {
			switch colors[depID] {
			case gray:
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for id := range g.edges {
		if colors[id] == white && visit(id) {
			return true
		}
	}
	return false
}

// GetReadyTasks returns pending tasks whose dependencies are all satisfied,
// in insertion order. Pending tasks downstream of a failed, blocked or
// cancelled task are marked blocked. Skipped dependencies count as satisfied.
func (g *Graph) GetReadyTasks() []*task.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Propagate blocking to a fixpoint so transitive dependents are marked too.
	for changed := true; changed; {
		changed = false
		for _, id := range g.order {
			t := g.nodes[id]
			if t.Status != task.StatusPending {
				continue
			}
			for depID := range g.edges[id] {
				dep, ok := g.nodes[depID]
				if !ok {
					continue
				}
				switch dep.Status {
				case task.StatusFailed, task.StatusBlocked, task.StatusCancelled:
					t.Status = task.StatusBlocked
					t.Error = fmt.Sprintf("blocked by %s dependency %q", dep.Status, depID)
					changed = true
				}
				if t.Status == task.StatusBlocked {
					break
				}
			}
		}
	}

	ready := []*task.Task{}
	for _, id := range g.order {
		t := g.nodes[id]
		if t.Status != task.StatusPending {
			continue
		}
		if g.dependenciesSatisfiedLocked(id) {
			ready = append(ready, t)
		}
	}
	return ready
}

func (g *Graph) dependenciesSatisfiedLocked(id string) bool {
	for depID := range g.edges[id] {
		dep, ok := g.nodes[depID]
		if !ok {
			return false
		}
		if dep.Status != task.StatusCompleted && dep.Status != task.StatusSkipped {
			return false
		}
	}
	return true
}

// GetExecutionWaves groups all tasks into layers: every task's dependencies
// lie in strictly earlier waves. Returns ErrStalled if a cycle or a missing
// dependency prevents the next wave from forming.
func (g *Graph) GetExecutionWaves() ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.wavesLocked()
}

func (g *Graph) wavesLocked() ([][]string, error) {
	placed := make(map[string]bool, len(g.nodes))
	var waves [][]string

	for len(placed) < len(g.nodes) {
		var wave []string
		for _, id := range g.order {
			if placed[id] {
				continue
			}
			ok := true
			for depID := range g.edges[id] {
				if !placed[depID] {
					ok = false
					break
				}
			}
			if ok {
				wave = append(wave, id)
			}
		}

		if len(wave) == 0 {
			var remaining []string
			for _, id := range g.order {
				if !placed[id] {
					remaining = append(remaining, id)
				}
			}
			return nil, fmt.Errorf("%w: %d tasks unplaced: %s", ErrStalled, len(remaining), strings.Join(remaining, ", "))
		}

		// Mark after the scan so a wave never contains its own dependencies.
		for _, id := range wave {
			placed[id] = true
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// GetCriticalPath returns the longest dependency chain, first task first.
func (g *Graph) GetCriticalPath() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	waves, err := g.wavesLocked()
	if err != nil {
		return nil, err
	}

	length := make(map[string]int, len(g.nodes))
	prev := make(map[string]string, len(g.nodes))
	var end string
	best := 0

	for _, wave := range waves {
		for _, id := range wave {
			length[id] = 1
			for depID := range g.edges[id] {
				if l := length[depID] + 1; l > length[id] || (l == length[id] && depID < prev[id]) {
					length[id] = l
					prev[id] = depID
				}
			}
			if length[id] > best {
				best = length[id]
				end = id
			}
		}
	}

	if end == "" {
		return []string{}, nil
	}
	path := make([]string, best)
	for i, id := best-1, end; i >= 0; i-- {
		path[i] = id
		id = prev[id]
	}
	return path, nil
}

// Validate runs a topological sort with gammazero/toposort and verifies every
// dependency exists. Returns ordered task IDs.
func (g *Graph) Validate() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range g.order {
		for depID := range g.edges[id] {
			if _, exists := g.nodes[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q: %w", id, depID, ErrUnknownTask)
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range g.order {
		if len(g.edges[id]) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for depID := range g.edges[id] {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("topological sort placed %d of %d tasks", len(order), len(g.nodes))
	}
	return order, nil
}

// Get returns the task with the given id.
func (g *Graph) Get(id string) (*task.Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.nodes[id]
	return t, ok
}

// Tasks returns all tasks in insertion order.
func (g *Graph) Tasks() []*task.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tasks := make([]*task.Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.nodes[id])
	}
	return tasks
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the ids taskID depends on, in insertion order.
func (g *Graph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.orderedLocked(g.edges[taskID])
}

// Dependents returns the ids that depend on taskID, in insertion order.
func (g *Graph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.orderedLocked(g.reverseEdges[taskID])
}

func (g *Graph) orderedLocked(set idSet) []string {
	out := []string{}
	for _, id := range g.order {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Counts tallies tasks by status.
func (g *Graph) Counts() map[task.Status]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	counts := make(map[task.Status]int)
	for _, t := range g.nodes {
		counts[t.Status]++
	}
	return counts
}
