package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskloop/internal/decompose"
	"github.com/aristath/taskloop/internal/scheduler"
	"github.com/aristath/taskloop/internal/task"
)

func newPlanCmd(opts *options) *cobra.Command {
	var planContext string
	cmd := &cobra.Command{
		Use:   "plan <goal>",
		Short: "Decompose a goal and print its task tree and execution waves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			root := a.exec.PlanTree(cmd.Context(), args[0], planContext)
			return printPlan(cmd.OutOrStdout(), root, opts.jsonOut, logger)
		},
	}
	cmd.Flags().StringVar(&planContext, "context", "", "Extra context for the planner")
	return cmd
}

type planOutput struct {
	Tree         *task.Task `json:"tree"`
	Order        []string   `json:"order"`
	Waves        [][]string `json:"waves"`
	CriticalPath []string   `json:"critical_path"`
}

// printPlan writes the tree, its execution waves and the critical path. JSON
// output also carries a topological order of the atomic tasks.
func printPlan(w io.Writer, root *task.Task, jsonOut bool, logger *slog.Logger) error {
	g, err := scheduler.BuildFromTree(root, logger)
	if err != nil {
		return fmt.Errorf("building dependency graph: %w", err)
	}
	order, err := g.Validate()
	if err != nil {
		return fmt.Errorf("validating dependency graph: %w", err)
	}
	waves, err := g.GetExecutionWaves()
	if err != nil {
		return err
	}
	critical, err := g.GetCriticalPath()
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(planOutput{Tree: root, Order: order, Waves: waves, CriticalPath: critical})
	}

	boldColor.Fprintf(w, "Plan: %s\n\n", root.Description)
	fmt.Fprint(w, decompose.String(root))

	boldColor.Fprintf(w, "\nWaves (%d tasks)\n", g.Len())
	for i, wave := range waves {
		fmt.Fprintf(w, "%3d. ", i+1)
		descs := make([]string, 0, len(wave))
		for _, id := range wave {
			if t, ok := g.Get(id); ok {
				descs = append(descs, t.Description)
			}
		}
		fmt.Fprintln(w, strings.Join(descs, " | "))
	}

	if len(critical) > 0 {
		boldColor.Fprintf(w, "\nCritical path (%d steps)\n", len(critical))
		for _, id := range critical {
			if t, ok := g.Get(id); ok {
				fmt.Fprintf(w, "  %s\n", t.Description)
			}
		}
	}
	return nil
}
