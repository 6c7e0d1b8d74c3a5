package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/orchestrator"
)

// eventBuffer is the backlog of rendered events the run command tolerates
// before output drops them.
const eventBuffer = 4096

func newRunCmd(opts *options) *cobra.Command {
	var (
		planContext string
		concurrency int
		noInput     bool
	)
	cmd := &cobra.Command{
		Use:   "run <goal> [goal...]",
		Short: "Plan and execute one or more goals",
		Long: `Plan and execute goals concurrently. Events stream to stdout as text, or as
JSON lines with --json. When a run gets stuck its question is printed and the
answer read from stdin; with --no-input such runs are aborted instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-ctx.Done():
					stop()
					logger.Warn("interrupted, stopping runs")
					_ = a.processes.KillAll()
				case <-done:
				}
			}()

			out := cmd.OutOrStdout()
			var sink events.Sink
			if opts.jsonOut {
				sink = events.NewJSONLines(out)
			} else {
				sink = newTextSink(out, opts.verbose)
			}

			var answer orchestrator.AnswerFunc
			if !noInput {
				answer = promptAnswer(cmd.InOrStdin(), cmd.ErrOrStderr())
			}

			goals := make([]orchestrator.Goal, len(args))
			for i, g := range args {
				goals[i] = orchestrator.Goal{Description: g, Context: planContext}
			}

			// Runs publish to the bus; one consumer renders every run so
			// output lines never interleave mid-event.
			bus := events.NewBus()
			rendered := make(chan struct{})
			feed := bus.SubscribeAll(eventBuffer)
			go func() {
				defer close(rendered)
				for e := range feed {
					sink.Emit(e)
				}
			}()

			sup := orchestrator.NewSupervisor(orchestrator.SupervisorConfig{
				Executor:         a.exec,
				ConcurrencyLimit: concurrency,
				Answer:           answer,
				Store:            a.store,
				Bus:              bus,
				DigestChars:      cfg.Loop.ContextChars,
				Logger:           logger,
			})
			results, runErr := sup.Run(ctx, goals)
			bus.Close()
			<-rendered
			if n := bus.Dropped(); n > 0 {
				logger.Warn("event output fell behind", "dropped", n)
			}
			if !opts.jsonOut {
				printSummary(out, results)
			}
			if runErr != nil {
				return runErr
			}
			return resultsErr(results)
		},
	}
	f := cmd.Flags()
	f.StringVar(&planContext, "context", "", "Extra context for the planner")
	f.IntVarP(&concurrency, "concurrency", "c", orchestrator.DefaultConcurrencyLimit, "Goals executed at once")
	f.BoolVar(&noInput, "no-input", false, "Abort runs that ask a question instead of reading stdin")
	return cmd
}

// promptAnswer answers questions from lines of in. Questions are delivered one
// at a time by the QA channel. The reader goroutine starts with the first
// question so commands that never ask do not touch stdin.
func promptAnswer(in io.Reader, out io.Writer) orchestrator.AnswerFunc {
	var (
		once    sync.Once
		lines   = make(chan string)
		readErr error
	)
	start := func() {
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(in)
			for sc.Scan() {
				lines <- sc.Text()
			}
			readErr = sc.Err()
			if readErr == nil {
				readErr = io.EOF
			}
		}()
	}

	return func(ctx context.Context, q orchestrator.Question) (string, error) {
		once.Do(start)
		askColor.Fprintf(out, "\n[%s] %s\n", shortID(q.RunID), q.Content)
		if q.Digest != "" {
			faintColor.Fprintln(out, q.Digest)
		}
		fmt.Fprint(out, "> ")

		select {
		case line, ok := <-lines:
			if !ok {
				return "", fmt.Errorf("reading answer: %w", readErr)
			}
			line = strings.TrimSpace(line)
			if line == "" {
				return "", errors.New("empty answer")
			}
			return line, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func printSummary(w io.Writer, results []orchestrator.Result) {
	fmt.Fprintln(w)
	for _, r := range results {
		st := r.State
		mark := successColor.Sprint("✓")
		if !st.Success {
			mark = errorColor.Sprint("✗")
		}
		fmt.Fprintf(w, "%s %s  %s  %d/%d tasks, %d iterations",
			mark, shortID(r.RunID), r.Goal.Description, len(st.CompletedTasks), st.TotalSubtasks, st.Iteration)
		if st.Error != "" {
			fmt.Fprintf(w, "  (%s)", st.Error)
		}
		fmt.Fprintln(w)
		if r.JournalErr != nil {
			warnColor.Fprintf(w, "  journal: %v\n", r.JournalErr)
		}
	}
}

// resultsErr reports the goals that did not succeed.
func resultsErr(results []orchestrator.Result) error {
	var failed int
	for _, r := range results {
		if r.Err != nil || !r.State.Success {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d goals failed", failed, len(results))
}
