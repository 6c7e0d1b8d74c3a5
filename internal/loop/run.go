package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/memory"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/reflection"
	"github.com/aristath/taskloop/internal/resilience"
	"github.com/aristath/taskloop/internal/scheduler"
	"github.com/aristath/taskloop/internal/task"
)

// Run is one execution of a task tree. It owns its dependency graph, working
// memory and LoopState. Step, Execute and Resume must be called from one
// goroutine at a time; State and Cancel are safe from any goroutine.
type Run struct {
	id     string
	exec   *Executor
	root   *task.Task
	graph  *scheduler.Graph
	mem    *memory.Memory
	sink   events.Sink
	logger *slog.Logger

	breakers *resilience.BreakerRegistry

	counters   decision.Counters
	nextTaskID string
	askTaskID  string
	listed     map[string]bool
	abandoned  int // Tasks skipped after a failed attempt

	mu           sync.Mutex
	state        LoopState
	started      bool
	terminal     bool
	suspended    bool
	cancelReason string
	cancelFlight context.CancelFunc
}

func newRun(e *Executor, goal string, root *task.Task, sink events.Sink) *Run {
	if sink == nil {
		sink = events.Discard
	}
	id := uuid.NewString()
	logger := e.logger.With("run_id", id)
	return &Run{
		id:       id,
		exec:     e,
		root:     root,
		mem:      memory.New(e.cfg.Memory),
		sink:     sink,
		logger:   logger,
		breakers: resilience.NewBreakerRegistry(e.cfg.Breaker, logger),
		counters: decision.Counters{Retries: make(map[string]int)},
		listed:   make(map[string]bool),
		state: LoopState{
			RunID:          id,
			Goal:           goal,
			Phase:          PhasePlanning,
			MaxIterations:  e.cfg.MaxIterations,
			Observations:   []observe.Observation{},
			Reflections:    []reflection.Reflection{},
			Decisions:      []decision.Decision{},
			CompletedTasks: []string{},
			FailedTasks:    []string{},
			SkippedTasks:   []string{},
		},
	}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Root returns the task tree.
func (r *Run) Root() *task.Task { return r.root }

// Graph returns the dependency graph, or nil before the first step.
func (r *Run) Graph() *scheduler.Graph { return r.graph }

// Memory returns the run's working memory.
func (r *Run) Memory() *memory.Memory { return r.mem }

// State returns a snapshot of the loop state.
func (r *Run) State() LoopState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Done reports whether the run reached a terminal phase.
func (r *Run) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

// Suspended reports whether the run waits for Resume.
func (r *Run) Suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspended
}

// Cancel requests that the run stop. It is observed at the top of the next
// step and cancels any in-flight task execution.
func (r *Run) Cancel(reason string) {
	if reason == "" {
		reason = "cancelled"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal || r.cancelReason != "" {
		return
	}
	r.cancelReason = reason
	if r.cancelFlight != nil {
		r.cancelFlight()
	}
}

func (r *Run) update(fn func(s *LoopState)) {
	r.mu.Lock()
	fn(&r.state)
	r.mu.Unlock()
}

func (r *Run) emit(e events.Event) {
	r.sink.Emit(e)
}

// Execute steps the run until it terminates or suspends on ask_user.
func (r *Run) Execute(ctx context.Context) (LoopState, error) {
	for {
		err := r.Step(ctx)
		switch {
		case errors.Is(err, ErrSuspended):
			return r.State(), nil
		case err != nil:
			return r.State(), err
		}
		if r.Done() || r.Suspended() {
			return r.State(), nil
		}
	}
}

// Resume answers the pending question and continues execution.
func (r *Run) Resume(ctx context.Context, answer string) (LoopState, error) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		return r.state.clone(), ErrTerminal
	}
	if !r.suspended {
		r.mu.Unlock()
		return r.state.clone(), ErrNotSuspended
	}
	question := r.state.PendingQuestion
	r.suspended = false
	r.state.PendingQuestion = ""
	r.state.Phase = PhaseExecute
	r.mu.Unlock()

	r.mem.RecordAnswer(question, answer)
	r.counters.Stuck = 0
	if r.askTaskID != "" {
		delete(r.counters.Retries, r.askTaskID)
		_ = r.graph.Update(r.askTaskID, func(t *task.Task) {
			if t.Status != task.StatusPending {
				return
			}
			if t.ToolParams == nil {
				t.ToolParams = map[string]any{}
			}
			t.ToolParams["user_guidance"] = answer
		})
		r.nextTaskID = r.askTaskID
		r.askTaskID = ""
	}
	r.logger.Info("run resumed", "answer_chars", len(answer))
	return r.Execute(ctx)
}

// Step advances the run by exactly one iteration: one task, or one batch of
// same-wave tasks when parallelism is enabled.
func (r *Run) Step(ctx context.Context) error {
	r.mu.Lock()
	terminal, suspended, cancelReason := r.terminal, r.suspended, r.cancelReason
	r.mu.Unlock()

	if terminal {
		return ErrTerminal
	}
	if !r.started {
		if ok := r.start(); !ok {
			return nil
		}
	}
	if cancelReason == "" && ctx.Err() != nil {
		cancelReason = ctx.Err().Error()
	}
	if cancelReason != "" {
		r.finish(PhaseAborted, "run cancelled: "+cancelReason)
		return nil
	}
	if suspended {
		return ErrSuspended
	}

	ready := r.graph.GetReadyTasks()
	if len(ready) == 0 {
		r.finishIdle()
		return nil
	}

	iteration := r.State().Iteration
	if iteration >= r.exec.cfg.MaxIterations {
		r.finish(PhaseError, fmt.Sprintf("iteration limit %d reached", r.exec.cfg.MaxIterations))
		return nil
	}

	batch := r.selectBatch(ready, r.exec.cfg.MaxIterations-iteration)
	observations := r.executeBatch(ctx, batch, iteration)

	var control *outcome
	for i, t := range batch {
		o := r.process(ctx, t, observations[i])
		if control == nil && o != nil {
			control = o
		}
	}
	if control != nil {
		control.apply(r)
	}
	return nil
}

// start builds the dependency graph and emits loop_start. Returns false when
// planning failed and the run is already terminal.
func (r *Run) start() bool {
	r.started = true
	r.update(func(s *LoopState) { s.StartedAt = time.Now() })

	if r.root == nil {
		r.graph = scheduler.NewGraph()
		r.finish(PhaseError, "no task tree to execute")
		return false
	}
	g, err := scheduler.BuildFromTree(r.root, r.logger)
	if err != nil {
		r.graph = scheduler.NewGraph()
		r.finish(PhaseError, fmt.Sprintf("build dependency graph: %v", err))
		return false
	}
	r.graph = g
	r.update(func(s *LoopState) { s.TotalSubtasks = g.Len() })

	if _, err := g.Validate(); err != nil {
		r.finish(PhaseError, fmt.Sprintf("validate dependency graph: %v", err))
		return false
	}

	waves, err := g.GetExecutionWaves()
	if err != nil {
		r.finish(PhaseError, fmt.Sprintf("compute execution waves: %v", err))
		return false
	}
	r.update(func(s *LoopState) { s.Phase = PhaseExecute })
	r.emit(LoopStartEvent{
		RunID:      r.id,
		Goal:       r.State().Goal,
		TotalTasks: g.Len(),
		Waves:      waves,
		Timestamp:  time.Now(),
	})
	r.logger.Info("run started", "tasks", g.Len(), "waves", len(waves))
	return true
}

// selectBatch picks the tasks to run this step. The task named by the last
// decision runs first when it is ready.
func (r *Run) selectBatch(ready []*task.Task, budget int) []*task.Task {
	if r.nextTaskID != "" {
		for i, t := range ready {
			if t.ID == r.nextTaskID && i > 0 {
				reordered := append([]*task.Task{t}, ready[:i]...)
				ready = append(reordered, ready[i+1:]...)
				break
			}
		}
		r.nextTaskID = ""
	}
	n := min(r.exec.cfg.Parallelism, len(ready), budget)
	return ready[:n]
}

// finishIdle ends a run with nothing ready to execute.
func (r *Run) finishIdle() {
	counts := r.graph.Counts()
	switch {
	case counts[task.StatusPending] > 0 || counts[task.StatusInProgress] > 0:
		r.finish(PhaseError, fmt.Sprintf("scheduling stalled with %d pending tasks", counts[task.StatusPending]+counts[task.StatusInProgress]))
	case counts[task.StatusBlocked] > 0:
		r.finish(PhaseError, fmt.Sprintf("%d tasks blocked by failed dependencies", counts[task.StatusBlocked]))
	default:
		r.finish(PhaseComplete, "")
	}
}

// process reflects on and decides about one observation, then applies the
// decision. A non-nil outcome ends or suspends the run after the batch.
func (r *Run) process(ctx context.Context, t *task.Task, obs observe.Observation) *outcome {
	r.update(func(s *LoopState) { s.Phase = PhaseObserve })
	r.emit(ObservationEvent{RunID: r.id, Observation: obs})

	st := r.State()
	r.update(func(s *LoopState) { s.Phase = PhaseReflect })
	refl := r.exec.cfg.Reflector.Reflect(ctx, reflection.Input{
		Observation: obs,
		Goal:        st.Goal,
		History:     st.Observations,
		Memory:      r.mem,
		Completed:   len(st.CompletedTasks),
		Total:       st.TotalSubtasks,
	})
	r.emit(ReflectionEvent{RunID: r.id, Reflection: refl})

	r.update(func(s *LoopState) { s.Phase = PhaseDecide })
	counts := r.graph.Counts()
	pending := counts[task.StatusPending] + counts[task.StatusInProgress] - 1
	d, counters := decision.Decide(decision.Input{
		Reflection: refl,
		Task:       t,
		Ready:      r.graph.GetReadyTasks(),
		Pending:    max(pending, 0),
		Counters:   r.counters,
		Thresholds: r.exec.cfg.Thresholds,
	})
	r.counters = counters
	r.emit(DecisionEvent{RunID: r.id, Decision: d})

	r.mem.AddObservation(obs)
	r.mem.AddReflection(refl)
	r.mem.AddDecision(d)
	r.update(func(s *LoopState) {
		s.Observations = append(s.Observations, obs)
		s.Reflections = append(s.Reflections, refl)
		s.Decisions = append(s.Decisions, d)
		s.Iteration++
		s.CurrentTaskID = ""
		s.Phase = PhaseExecute
	})

	r.logger.Debug("iteration decided",
		"iteration", obs.Iteration,
		"task_id", t.ID,
		"success", obs.Success,
		"assessment", refl.Assessment,
		"decision", d.Type,
	)
	return r.apply(t, obs, d)
}
