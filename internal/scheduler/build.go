package scheduler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/aristath/taskloop/internal/task"
)

// BuildFromTree flattens a task tree into a graph of its atomic tasks.
//
// A leaf inherits the dependencies of its ancestors, and a dependency on a
// composite task expands to every leaf under it. Two implicit rules are then
// applied once: an edit task on a file depends on every read task on that
// file, and every test task depends on every edit task. An implicit edge that
// would close a cycle is dropped.
func BuildFromTree(root *task.Task, logger *slog.Logger) (*Graph, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := NewGraph()
	leaves := root.Leaves()
	for _, leaf := range leaves {
		deps := leaf.DependsOn
		leaf.DependsOn = nil
		if err := g.AddTask(leaf); err != nil {
			return nil, err
		}
		leaf.DependsOn = deps
	}

	// Collect explicit dependencies, walking ancestors for inherited ones.
	parents := make(map[string]*task.Task)
	root.Walk(func(n *task.Task) bool {
		for _, child := range n.Children {
			parents[child.ID] = n
		}
		return true
	})

	for _, leaf := range leaves {
		explicit := leaf.DependsOn
		leaf.DependsOn = nil

		var inherited []string
		for p := parents[leaf.ID]; p != nil; p = parents[p.ID] {
			inherited = append(inherited, p.DependsOn...)
		}

		for _, depID := range append(explicit, inherited...) {
			dep, ok := root.Find(depID)
			if !ok {
				return nil, fmt.Errorf("task %q depends on %q: %w", leaf.ID, depID, ErrUnknownTask)
			}
			for _, target := range dep.Leaves() {
				if target.ID == leaf.ID {
					continue
				}
				if err := g.AddDependency(leaf.ID, target.ID); err != nil {
					return nil, fmt.Errorf("building graph: %w", err)
				}
			}
		}
	}

	addImplicitDependencies(g, leaves, logger)
	return g, nil
}

func addImplicitDependencies(g *Graph, leaves []*task.Task, logger *slog.Logger) {
	readsByFile := make(map[string][]*task.Task)
	var edits, tests []*task.Task
	for _, leaf := range leaves {
		switch leaf.Type {
		case task.TypeRead:
			if f := leaf.TargetFile(); f != "" {
				readsByFile[f] = append(readsByFile[f], leaf)
			}
		case task.TypeEdit, task.TypeCreate:
			edits = append(edits, leaf)
		case task.TypeTest:
			tests = append(tests, leaf)
		}
	}

	add := func(from, to *task.Task, rule string) {
		if from.ID == to.ID {
			return
		}
		if err := g.AddDependency(from.ID, to.ID); err != nil {
			if errors.Is(err, ErrCycle) {
				logger.Debug("skipping implicit dependency", "rule", rule, "task_id", from.ID, "depends_on", to.ID)
				return
			}
			logger.Warn("implicit dependency rejected", "rule", rule, "error", err)
		}
	}

	for _, edit := range edits {
		if edit.Type != task.TypeEdit {
			continue
		}
		for _, read := range readsByFile[edit.TargetFile()] {
			add(edit, read, "edit-after-read")
		}
	}
	for _, test := range tests {
		for _, edit := range edits {
			add(test, edit, "test-after-edit")
		}
	}
}
