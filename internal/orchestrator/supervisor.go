// Package orchestrator supervises independent runs: it plans and executes
// several goals concurrently, routes their questions through a QAChannel and
// journals them.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/loop"
	"github.com/aristath/taskloop/internal/persistence"
	"github.com/aristath/taskloop/internal/task"
)

// DefaultConcurrencyLimit is the number of goals run at once by default.
const DefaultConcurrencyLimit = 4

// Goal is one top-level objective.
type Goal struct {
	Description string
	Context     string     // Planning context for the decomposer
	Root        *task.Task // Prebuilt tree; skips planning when set
}

// Result is the outcome of one goal.
type Result struct {
	Goal       Goal
	RunID      string
	State      loop.LoopState
	Err        error // Error returned by the run itself
	JournalErr error // Journal write failures, if any
}

// SupervisorConfig configures a Supervisor. Only Executor is required.
type SupervisorConfig struct {
	Executor         *loop.Executor
	ConcurrencyLimit int               // Max concurrent goals (default 4)
	Answer           AnswerFunc        // Answers ask_user questions; nil aborts suspended runs
	Store            persistence.Store // Optional run journal
	Sink             events.Sink       // Receives every run's events; must be safe for concurrent use
	Bus              *events.Bus       // Optional; each run publishes under its run id
	DigestChars      int               // Memory digest attached to questions (default loop.DefaultContextChars)
	Logger           *slog.Logger
}

// Supervisor runs goals concurrently on one executor.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*loop.Run
}

// NewSupervisor creates a supervisor, filling in defaults.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if cfg.DigestChars <= 0 {
		cfg.DigestChars = loop.DefaultContextChars
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		active: make(map[string]*loop.Run),
	}
}

// Run plans and executes goals with bounded concurrency and returns one
// result per goal, in goal order. One goal failing never stops the others.
// The returned error is the context's error, if it ended.
func (s *Supervisor) Run(ctx context.Context, goals []Goal) ([]Result, error) {
	var qa *QAChannel
	if s.cfg.Answer != nil {
		qaCtx, cancel := context.WithCancel(ctx)
		qa = NewQAChannel(2*s.cfg.ConcurrencyLimit, s.cfg.Answer)
		qa.Start(qaCtx)
		defer func() {
			cancel()
			qa.Stop()
		}()
	}

	results := make([]Result, len(goals))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.ConcurrencyLimit)
	for i, goal := range goals {
		g.Go(func() error {
			results[i] = s.drive(ctx, qa, goal)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// Cancel cancels every active run.
func (s *Supervisor) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.active {
		run.Cancel(reason)
	}
}

// Active returns the number of runs in progress.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// drive takes one goal from planning to a terminal state.
func (s *Supervisor) drive(ctx context.Context, qa *QAChannel, goal Goal) Result {
	exec := s.cfg.Executor
	root := goal.Root
	if root == nil {
		root = exec.PlanTree(ctx, goal.Description, goal.Context)
	}

	sinks := []events.Sink{s.cfg.Sink}
	var journal *persistence.Journal
	if s.cfg.Store != nil {
		journal = persistence.NewJournal(ctx, s.cfg.Store, root, s.logger)
		sinks = append(sinks, journal)
	}
	// The bus topic is the run id, known once the run exists. Events only
	// flow from Execute on.
	toBus := events.Discard
	sinks = append(sinks, events.SinkFunc(func(e events.Event) { toBus.Emit(e) }))
	run := exec.NewRun(goal.Description, root, events.Multi(sinks...))
	if s.cfg.Bus != nil {
		toBus = events.BusSink{Bus: s.cfg.Bus, Topic: run.ID()}
	}
	logger := s.logger.With("run_id", run.ID())

	s.mu.Lock()
	s.active[run.ID()] = run
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, run.ID())
		s.mu.Unlock()
	}()

	logger.Info("goal started", "goal", goal.Description)
	state, err := run.Execute(ctx)
	for err == nil && run.Suspended() {
		if qa == nil {
			run.Cancel("no one to answer: " + state.PendingQuestion)
			state, err = run.Execute(ctx)
			break
		}
		answer, askErr := qa.Ask(ctx, Question{
			RunID:   run.ID(),
			Goal:    goal.Description,
			Content: state.PendingQuestion,
			Digest:  run.Memory().ToContextString(s.cfg.DigestChars),
		})
		if askErr != nil {
			logger.Warn("question unanswered", "error", askErr)
			run.Cancel("question unanswered: " + askErr.Error())
			state, err = run.Execute(ctx)
			break
		}
		state, err = run.Resume(ctx, answer)
	}

	res := Result{Goal: goal, RunID: run.ID(), State: state, Err: err}
	if journal != nil {
		res.JournalErr = journal.Err()
	}
	logger.Info("goal finished", "phase", state.Phase, "success", state.Success, "iterations", state.Iteration)
	return res
}
