package loop

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/task"
)

// outcome is a run-level transition produced by a decision. It is applied
// after every observation of the current batch has been decided.
type outcome struct {
	phase    Phase  // Terminal phase, or empty when suspending
	errText  string // For PhaseError and PhaseAborted
	question string // For suspension
	taskID   string
}

func (o *outcome) apply(r *Run) {
	if o.phase != "" {
		r.finish(o.phase, o.errText)
		return
	}
	r.suspend(o.taskID, o.question)
}

// apply updates task and graph state for decision d on task t.
func (r *Run) apply(t *task.Task, obs observe.Observation, d decision.Decision) *outcome {
	switch d.Type {
	case decision.Continue:
		r.settle(t, obs)
		r.nextTaskID = d.NextTaskID

	case decision.Retry:
		_ = r.graph.Reset(t.ID)
		r.nextTaskID = t.ID

	case decision.Modify:
		if d.Modification != nil && len(d.Modification.Actions) > 0 {
			r.mem.SetFact("adjustment:"+t.ID, strings.Join(d.Modification.Actions, "; "), 0.8)
		}
		if obs.Success {
			r.markCompleted(t, obs)
			break
		}
		_ = r.graph.Update(t.ID, func(t *task.Task) {
			if t.ToolParams == nil {
				t.ToolParams = map[string]any{}
			}
			if d.Modification != nil {
				t.ToolParams["adjustments"] = append([]string(nil), d.Modification.Actions...)
			}
		})
		_ = r.graph.Requeue(t.ID)
		r.nextTaskID = t.ID

	case decision.Skip:
		if !obs.Success {
			r.abandoned++
		}
		_ = r.graph.MarkSkipped(t.ID, d.Rationale)
		r.record(t.ID, task.StatusSkipped)

	case decision.Abort:
		r.settle(t, obs)
		return &outcome{phase: PhaseAborted, errText: "aborted: " + d.Rationale}

	case decision.Complete:
		r.settle(t, obs)
		return &outcome{phase: PhaseComplete}

	case decision.AskUser:
		if obs.Success {
			r.markCompleted(t, obs)
		} else {
			_ = r.graph.Requeue(t.ID)
		}
		return &outcome{taskID: t.ID, question: d.Question}
	}
	return nil
}

// settle finalizes t from its observation.
func (r *Run) settle(t *task.Task, obs observe.Observation) {
	if obs.Success {
		r.markCompleted(t, obs)
		return
	}
	_ = r.graph.MarkFailed(t.ID, obs.Error)
	r.mem.SetFact("last_error", obs.Error, 0.7)
	r.record(t.ID, task.StatusFailed)
}

func (r *Run) markCompleted(t *task.Task, obs observe.Observation) {
	_ = r.graph.MarkCompleted(t.ID, observe.Clip(obs.Output, maxResultChars))
	r.record(t.ID, task.StatusCompleted)
}

// record adds a task to the matching LoopState list once.
func (r *Run) record(id string, status task.Status) {
	if r.listed[id] {
		return
	}
	r.listed[id] = true
	r.update(func(s *LoopState) {
		switch status {
		case task.StatusCompleted:
			s.CompletedTasks = append(s.CompletedTasks, id)
		case task.StatusFailed:
			s.FailedTasks = append(s.FailedTasks, id)
		default:
			s.SkippedTasks = append(s.SkippedTasks, id)
		}
	})
}

func (r *Run) suspend(taskID, question string) {
	if question == "" {
		question = "How should I proceed?"
	}
	r.askTaskID = taskID
	digest := r.mem.ToContextString(r.exec.cfg.ContextChars)

	var iteration int
	r.mu.Lock()
	r.suspended = true
	r.state.Phase = PhaseWaiting
	r.state.PendingQuestion = question
	iteration = r.state.Iteration
	r.mu.Unlock()

	r.emit(AskUserEvent{
		RunID:         r.id,
		TaskID:        taskID,
		Question:      question,
		ContextDigest: digest,
		Iteration:     iteration,
		Timestamp:     time.Now(),
	})
	r.logger.Info("run waiting for user input", "task_id", taskID, "iteration", iteration)
}

// finish ends the run. Tasks that never reached a final state are skipped
// when the goal completed and cancelled otherwise, so every task lands in
// exactly one of the completed, failed or skipped lists. A completed run is
// successful only if no task failed or was skipped after failing.
func (r *Run) finish(phase Phase, errText string) {
	for _, t := range r.graph.Tasks() {
		switch t.Status {
		case task.StatusPending, task.StatusInProgress:
			if phase == PhaseComplete {
				_ = r.graph.MarkSkipped(t.ID, "goal complete")
			} else {
				_ = r.graph.MarkCancelled(t.ID, "run ended: "+string(phase))
			}
		}
		switch t.Status {
		case task.StatusCompleted, task.StatusFailed:
			r.record(t.ID, t.Status)
		default:
			r.record(t.ID, task.StatusSkipped)
		}
	}
	if r.root != nil {
		r.root.RollupStatus()
	}

	var final LoopState
	r.mu.Lock()
	r.terminal = true
	r.suspended = false
	r.state.Phase = phase
	r.state.PendingQuestion = ""
	r.state.CurrentTaskID = ""
	r.state.Error = errText
	r.state.Success = phase == PhaseComplete && len(r.state.FailedTasks) == 0 && r.abandoned == 0
	r.state.EndedAt = time.Now()
	final = r.state.clone()
	r.mu.Unlock()

	if phase == PhaseComplete {
		r.emit(LoopCompleteEvent{RunID: r.id, Success: final.Success, Iteration: final.Iteration, Timestamp: final.EndedAt})
		r.logger.Info("run complete", "success", final.Success, "iterations", final.Iteration)
	} else {
		r.emit(LoopErrorEvent{RunID: r.id, Error: errText, Phase: phase, Iteration: final.Iteration, Timestamp: final.EndedAt})
		r.logger.Warn("run ended with error", "phase", phase, "error", errText, "iterations", final.Iteration)
	}
	r.emit(LoopEndEvent{RunID: r.id, FinalState: final})
}

func describe(t *task.Task) string {
	if t.ToolName == "" {
		return fmt.Sprintf("%q", t.Description)
	}
	return fmt.Sprintf("%q (%s)", t.Description, t.ToolName)
}
