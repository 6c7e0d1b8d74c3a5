package scheduler

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/aristath/taskloop/internal/task"
)

func mk(id string, deps ...string) *task.Task {
	t := task.New(id, task.TypeGeneric, task.PriorityMedium, task.ComplexitySimple)
	t.ID = id
	t.DependsOn = deps
	return t
}

func ids(tasks []*task.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

// TestAddDependencyRejectsCycles tests cycle rejection with various graph shapes.
func TestAddDependencyRejectsCycles(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []string
		deps    [][2]string // dependencies added in order; the last one is checked
		wantErr bool
	}{
		{"linear chain", []string{"A", "B", "C"}, [][2]string{{"B", "A"}, {"C", "B"}}, false},
		{"direct cycle", []string{"A", "B"}, [][2]string{{"A", "B"}, {"B", "A"}}, true},
		{"transitive cycle", []string{"A", "B", "C"}, [][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}}, true},
		{"self loop", []string{"A"}, [][2]string{{"A", "A"}}, true},
		{"diamond", []string{"A", "B", "C", "D"}, [][2]string{{"B", "A"}, {"C", "A"}, {"D", "B"}, {"D", "C"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			for _, id := range tt.tasks {
				if err := g.AddTask(mk(id)); err != nil {
					t.Fatalf("AddTask(%s): %v", id, err)
				}
			}

			var err error
			for i, d := range tt.deps {
				err = g.AddDependency(d[0], d[1])
				if i < len(tt.deps)-1 && err != nil {
					t.Fatalf("setup dependency %v failed: %v", d, err)
				}
			}

			if (err != nil) != tt.wantErr {
				t.Fatalf("AddDependency error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrCycle) {
				t.Errorf("expected ErrCycle, got %v", err)
			}

			// The graph must still be acyclic after the call.
			if _, err := g.Validate(); err != nil {
				t.Errorf("graph invalid after AddDependency: %v", err)
			}
		})
	}
}

// TestAddDependencyRollback verifies a rejected edge leaves edges and DependsOn untouched.
func TestAddDependencyRollback(t *testing.T) {
	g := NewGraph()
	a, b := mk("A"), mk("B")
	g.AddTask(a)
	g.AddTask(b)

	if err := g.AddDependency("A", "B"); err != nil {
		t.Fatalf("A->B: %v", err)
	}
	if err := g.AddDependency("B", "A"); err == nil {
		t.Fatal("expected B->A to fail after A->B")
	}

	if got := g.Dependencies("B"); len(got) != 0 {
		t.Errorf("B dependencies = %v, want none", got)
	}
	if got := g.Dependents("A"); len(got) != 0 {
		t.Errorf("A dependents = %v, want none", got)
	}
	if len(b.DependsOn) != 0 {
		t.Errorf("B.DependsOn = %v, want empty", b.DependsOn)
	}
	if !reflect.DeepEqual(a.DependsOn, []string{"B"}) {
		t.Errorf("A.DependsOn = %v, want [B]", a.DependsOn)
	}
}

func TestAddTask(t *testing.T) {
	g := NewGraph()
	if err := g.AddTask(mk("A")); err != nil {
		t.Fatal(err)
	}
	if err := g.AddTask(mk("A")); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("duplicate AddTask error = %v, want ErrDuplicateTask", err)
	}
	if err := g.AddDependency("A", "missing"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("AddDependency to missing task error = %v, want ErrUnknownTask", err)
	}

	// B depends on C before C exists; C then depending on B closes a cycle.
	if err := g.AddTask(mk("B", "C")); err != nil {
		t.Fatalf("AddTask(B): %v", err)
	}
	if err := g.AddTask(mk("C", "B")); !errors.Is(err, ErrCycle) {
		t.Fatalf("AddTask(C) error = %v, want ErrCycle", err)
	}
	if _, ok := g.Get("C"); ok {
		t.Error("rejected task C is still in the graph")
	}
	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
}

// TestGetReadyTasks checks readiness transitions as tasks complete and fail.
func TestGetReadyTasks(t *testing.T) {
	g := NewGraph()
	g.AddTask(mk("A"))
	g.AddTask(mk("B", "A"))
	g.AddTask(mk("C", "A"))
	g.AddTask(mk("D", "B", "C"))
	g.AddTask(mk("E", "D"))

	if got := ids(g.GetReadyTasks()); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("initial ready = %v, want [A]", got)
	}

	g.MarkCompleted("A", "ok")
	if got := ids(g.GetReadyTasks()); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Fatalf("ready after A = %v, want [B C]", got)
	}

	g.MarkCompleted("B", "ok")
	g.MarkFailed("C", "boom")
	if got := g.GetReadyTasks(); len(got) != 0 {
		t.Fatalf("ready after C failed = %v, want none", ids(got))
	}

	for _, id := range []string{"D", "E"} {
		tk, _ := g.Get(id)
		if tk.Status != task.StatusBlocked {
			t.Errorf("%s status = %s, want blocked", id, tk.Status)
		}
	}
}

func TestGetReadyTasksSkippedDependencySatisfies(t *testing.T) {
	g := NewGraph()
	g.AddTask(mk("A"))
	g.AddTask(mk("B", "A"))
	g.MarkSkipped("A", "not needed")

	if got := ids(g.GetReadyTasks()); !reflect.DeepEqual(got, []string{"B"}) {
		t.Errorf("ready = %v, want [B]", got)
	}
}

func TestGetReadyTasksIdempotent(t *testing.T) {
	g := NewGraph()
	g.AddTask(mk("A"))
	g.AddTask(mk("B"))
	g.AddTask(mk("C", "A"))
	g.AddTask(mk("D", "B"))
	g.MarkFailed("B", "boom")

	first := ids(g.GetReadyTasks())
	second := ids(g.GetReadyTasks())
	if !reflect.DeepEqual(first, second) {
		t.Errorf("GetReadyTasks not idempotent: %v then %v", first, second)
	}
}

func TestRootWithFourLeavesAllReady(t *testing.T) {
	root := task.New("root", task.TypeGeneric, task.PriorityHigh, task.ComplexityComplex)
	for i := 0; i < 4; i++ {
		leaf := task.New(fmt.Sprintf("leaf %d", i), task.TypeGeneric, task.PriorityMedium, task.ComplexitySimple)
		leaf.Bind("noop", nil)
		root.AddChild(leaf)
	}

	g, err := BuildFromTree(root, nil)
	if err != nil {
		t.Fatalf("BuildFromTree: %v", err)
	}
	ready := g.GetReadyTasks()
	if len(ready) != 4 {
		t.Fatalf("ready = %d tasks, want 4", len(ready))
	}
	for i, r := range ready {
		if r.ID != root.Children[i].ID {
			t.Errorf("ready[%d] = %q, want %q", i, r.Description, root.Children[i].Description)
		}
	}
}

// TestGetExecutionWaves verifies layering covers every node once with dependencies earlier.
func TestGetExecutionWaves(t *testing.T) {
	g := NewGraph()
	g.AddTask(mk("A"))
	g.AddTask(mk("B"))
	g.AddTask(mk("C", "A"))
	g.AddTask(mk("D", "A", "B"))
	g.AddTask(mk("E", "C", "D"))
	g.AddTask(mk("F"))

	waves, err := g.GetExecutionWaves()
	if err != nil {
		t.Fatalf("GetExecutionWaves: %v", err)
	}

	want := [][]string{{"A", "B", "F"}, {"C", "D"}, {"E"}}
	if !reflect.DeepEqual(waves, want) {
		t.Fatalf("waves = %v, want %v", waves, want)
	}

	waveOf := make(map[string]int)
	for i, wave := range waves {
		for _, id := range wave {
			if _, dup := waveOf[id]; dup {
				t.Errorf("task %s appears in more than one wave", id)
			}
			waveOf[id] = i
		}
	}
	if len(waveOf) != g.Len() {
		t.Errorf("waves cover %d tasks, graph has %d", len(waveOf), g.Len())
	}
	for _, tk := range g.Tasks() {
		for _, dep := range g.Dependencies(tk.ID) {
			if waveOf[dep] >= waveOf[tk.ID] {
				t.Errorf("dependency %s of %s is not in an earlier wave", dep, tk.ID)
			}
		}
	}
}

func TestGetExecutionWavesMissingDependency(t *testing.T) {
	g := NewGraph()
	g.AddTask(mk("A"))
	g.AddTask(mk("B", "ghost"))

	if _, err := g.GetExecutionWaves(); !errors.Is(err, ErrStalled) {
		t.Errorf("error = %v, want ErrStalled", err)
	}
	if _, err := g.Validate(); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Validate error = %v, want ErrUnknownTask", err)
	}
}

func TestGetCriticalPath(t *testing.T) {
	tests := []struct {
		name  string
		setup func(g *Graph)
		want  []string
	}{
		{
			name:  "empty graph",
			setup: func(g *Graph) {},
			want:  []string{},
		},
		{
			name: "single chain",
			setup: func(g *Graph) {
				g.AddTask(mk("A"))
				g.AddTask(mk("B", "A"))
				g.AddTask(mk("C", "B"))
			},
			want: []string{"A", "B", "C"},
		},
		{
			name: "longest branch wins",
			setup: func(g *Graph) {
				g.AddTask(mk("A"))
				g.AddTask(mk("B", "A"))
				g.AddTask(mk("C", "B"))
				g.AddTask(mk("X"))
				g.AddTask(mk("D", "C", "X"))
				g.AddTask(mk("Y", "X"))
			},
			want: []string{"A", "B", "C", "D"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			tt.setup(g)
			got, err := g.GetCriticalPath()
			if err != nil {
				t.Fatalf("GetCriticalPath: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("critical path = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateOrder(t *testing.T) {
	g := NewGraph()
	g.AddTask(mk("A"))
	g.AddTask(mk("B", "A"))
	g.AddTask(mk("C", "B"))
	g.AddTask(mk("D"))

	order, err := g.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("order = %v, want 4 ids", order)
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["A"] < pos["B"] && pos["B"] < pos["C"]) {
		t.Errorf("order %v violates A<B<C", order)
	}
}

func TestResetCountsRetries(t *testing.T) {
	g := NewGraph()
	a := mk("A")
	g.AddTask(a)
	g.MarkRunning("A")
	g.MarkFailed("A", "boom")
	if err := g.Reset("A"); err != nil {
		t.Fatal(err)
	}
	if a.Status != task.StatusPending || a.Metadata.RetryCount != 1 {
		t.Errorf("after Reset: status=%s retries=%d", a.Status, a.Metadata.RetryCount)
	}
	if err := g.MarkCompleted("missing", ""); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("MarkCompleted(missing) error = %v", err)
	}
	if c := g.Counts(); c[task.StatusPending] != 1 {
		t.Errorf("Counts pending = %d, want 1", c[task.StatusPending])
	}
}
