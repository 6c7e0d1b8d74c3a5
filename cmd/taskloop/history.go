package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskloop/internal/decompose"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/loop"
	"github.com/aristath/taskloop/internal/persistence"
)

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history [run-id]",
		Short: "List journaled runs or replay the events of one",
		Long: `Without arguments, list every run in the journal. With a run id, or a
unique prefix of one, print the run's task tree and its events in order.
With --json the events are printed exactly as journaled, one per line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return errors.New("journaling is disabled")
			}
			if _, err := os.Stat(storePath(cfg)); err != nil {
				return fmt.Errorf("no journal: %w", err)
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return listRuns(ctx, out, store, opts.jsonOut)
			}
			id, err := resolveRun(ctx, store, args[0])
			if err != nil {
				return err
			}
			return showRun(ctx, out, store, id, opts.jsonOut)
		},
	}
}

type runSummary struct {
	ID         string     `json:"id"`
	Goal       string     `json:"goal"`
	Phase      loop.Phase `json:"phase"`
	Success    bool       `json:"success"`
	Iterations int        `json:"iterations"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    time.Time  `json:"ended_at,omitzero"`
}

func listRuns(ctx context.Context, w io.Writer, store persistence.Store, jsonOut bool) error {
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	summaries := make([]runSummary, len(runs))
	for i, r := range runs {
		summaries[i] = runSummary{
			ID:         r.ID,
			Goal:       r.Goal,
			Phase:      r.Phase,
			Success:    r.Success,
			Iterations: r.Iteration,
			Error:      r.Error,
			StartedAt:  r.StartedAt,
			EndedAt:    r.EndedAt,
		}
	}
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(w, "no runs")
		return nil
	}
	for _, r := range summaries {
		mark := successColor.Sprint("✓")
		if !r.Success {
			mark = errorColor.Sprint("✗")
		}
		fmt.Fprintf(w, "%s %s  %-8s  %3d iterations  %s  %s\n",
			mark, shortID(r.ID), r.Phase, r.Iterations, r.StartedAt.Local().Format(time.DateTime), r.Goal)
	}
	return nil
}

// resolveRun accepts a full run id or a unique prefix of one.
func resolveRun(ctx context.Context, store persistence.Store, id string) (string, error) {
	if _, err := store.GetRun(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return "", err
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("run %s: %w", id, persistence.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("run id %s is ambiguous: %d runs match", id, len(matches))
	}
}

func showRun(ctx context.Context, w io.Writer, store persistence.Store, id string, jsonOut bool) error {
	records, err := store.ListEvents(ctx, id)
	if err != nil {
		return err
	}
	envs := make([]events.Envelope, len(records))
	for i, rec := range records {
		env, err := events.Decode(rec.Payload)
		if err != nil {
			return fmt.Errorf("event %d of run %s: %w", rec.Seq, id, err)
		}
		envs[i] = env
	}

	if jsonOut {
		for _, env := range envs {
			if _, err := fmt.Fprintf(w, "%s\n", env.Raw); err != nil {
				return err
			}
		}
		return nil
	}

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	boldColor.Fprintf(w, "Run %s: %s\n", run.ID, run.Goal)
	fmt.Fprintf(w, "phase %s, %d iterations", run.Phase, run.Iteration)
	if run.Error != "" {
		fmt.Fprintf(w, ", %s", run.Error)
	}
	fmt.Fprintln(w)

	root, err := store.LoadTree(ctx, id)
	switch {
	case err == nil:
		fmt.Fprintln(w)
		fmt.Fprint(w, decompose.String(root))
	case !errors.Is(err, persistence.ErrNotFound):
		return err
	}

	fmt.Fprintf(w, "\nEvents (%d)\n", len(envs))
	for i, env := range envs {
		fmt.Fprintf(w, "%4d  %s  %s\n", records[i].Seq, records[i].CreatedAt.Local().Format(time.TimeOnly), env.Type)
	}
	return nil
}
