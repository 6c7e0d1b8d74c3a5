package scheduler

import (
	"errors"
	"reflect"
	"testing"

	"github.com/aristath/taskloop/internal/task"
)

func leaf(desc string, typ task.Type, file string) *task.Task {
	t := task.New(desc, typ, task.PriorityMedium, task.ComplexitySimple)
	params := map[string]any{}
	if file != "" {
		params["path"] = file
	}
	t.Bind(string(typ), params)
	return t
}

func TestBuildFromTreeImplicitDependencies(t *testing.T) {
	root := task.New("goal", task.TypeGeneric, task.PriorityHigh, task.ComplexityComplex)
	readA := leaf("read a", task.TypeRead, "a.go")
	readB := leaf("read b", task.TypeRead, "b.go")
	editA := leaf("edit a", task.TypeEdit, "a.go")
	createC := leaf("create c", task.TypeCreate, "c.go")
	test := leaf("run tests", task.TypeTest, "")
	for _, c := range []*task.Task{readA, readB, editA, createC, test} {
		root.AddChild(c)
	}

	g, err := BuildFromTree(root, nil)
	if err != nil {
		t.Fatalf("BuildFromTree: %v", err)
	}

	if got := g.Dependencies(editA.ID); !reflect.DeepEqual(got, []string{readA.ID}) {
		t.Errorf("edit a deps = %v, want [read a]", got)
	}
	if got := g.Dependencies(test.ID); !reflect.DeepEqual(got, []string{editA.ID, createC.ID}) {
		t.Errorf("test deps = %v, want [edit a, create c]", got)
	}
	if got := g.Dependencies(readB.ID); len(got) != 0 {
		t.Errorf("read b deps = %v, want none", got)
	}
	if _, ok := g.Get(root.ID); ok {
		t.Error("composite root should not be a graph node")
	}
}

func TestBuildFromTreeInheritsAndExpandsCompositeDependencies(t *testing.T) {
	root := task.New("goal", task.TypeGeneric, task.PriorityHigh, task.ComplexityComplex)
	setup := task.New("setup", task.TypeGeneric, task.PriorityHigh, task.ComplexityModerate)
	s1 := leaf("s1", task.TypeCommand, "")
	s2 := leaf("s2", task.TypeCommand, "")
	setup.AddChild(s1)
	setup.AddChild(s2)

	work := task.New("work", task.TypeGeneric, task.PriorityHigh, task.ComplexityModerate)
	w1 := leaf("w1", task.TypeCommand, "")
	work.AddChild(w1)
	work.DependsOn = []string{setup.ID}

	root.AddChild(setup)
	root.AddChild(work)

	g, err := BuildFromTree(root, nil)
	if err != nil {
		t.Fatalf("BuildFromTree: %v", err)
	}
	if g.Len() != 3 {
		t.Fatalf("graph has %d nodes, want 3 leaves", g.Len())
	}
	if got := g.Dependencies(w1.ID); !reflect.DeepEqual(got, []string{s1.ID, s2.ID}) {
		t.Errorf("w1 deps = %v, want [s1 s2]", got)
	}
}

func TestBuildFromTreeExplicitCycle(t *testing.T) {
	root := task.New("goal", task.TypeGeneric, task.PriorityHigh, task.ComplexityComplex)
	a := leaf("a", task.TypeCommand, "")
	b := leaf("b", task.TypeCommand, "")
	a.DependsOn = []string{b.ID}
	b.DependsOn = []string{a.ID}
	root.AddChild(a)
	root.AddChild(b)

	if _, err := BuildFromTree(root, nil); !errors.Is(err, ErrCycle) {
		t.Errorf("error = %v, want ErrCycle", err)
	}
}

func TestBuildFromTreeImplicitEdgeSkippedWhenCyclic(t *testing.T) {
	root := task.New("goal", task.TypeGeneric, task.PriorityHigh, task.ComplexityComplex)
	test := leaf("test first", task.TypeTest, "")
	edit := leaf("edit after test", task.TypeEdit, "x.go")
	edit.DependsOn = []string{test.ID}
	root.AddChild(test)
	root.AddChild(edit)

	g, err := BuildFromTree(root, nil)
	if err != nil {
		t.Fatalf("BuildFromTree: %v", err)
	}
	if got := g.Dependencies(test.ID); len(got) != 0 {
		t.Errorf("test deps = %v, want none (implicit edge would cycle)", got)
	}
}
