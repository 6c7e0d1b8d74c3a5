package loop

import (
	"time"

	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/reflection"
)

// Phase is the state machine position of a run.
type Phase string

const (
	PhasePlanning Phase = "planning"
	PhaseExecute  Phase = "execute"
	PhaseObserve  Phase = "observe"
	PhaseReflect  Phase = "reflect"
	PhaseDecide   Phase = "decide"
	PhaseWaiting  Phase = "waiting" // Suspended on ask_user
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
	PhaseAborted  Phase = "aborted"
)

// IsTerminal reports whether the phase ends the run.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseAborted
}

// LoopState is the run-level aggregate.
type LoopState struct {
	RunID           string                  `json:"run_id"`
	Goal            string                  `json:"goal"`
	Phase           Phase                   `json:"phase"`
	Iteration       int                     `json:"iteration"`
	MaxIterations   int                     `json:"max_iterations"`
	TotalSubtasks   int                     `json:"total_subtasks"`
	Observations    []observe.Observation   `json:"observations"`
	Reflections     []reflection.Reflection `json:"reflections"`
	Decisions       []decision.Decision     `json:"decisions"`
	CompletedTasks  []string                `json:"completed_tasks"`
	FailedTasks     []string                `json:"failed_tasks"`
	SkippedTasks    []string                `json:"skipped_tasks"`
	CurrentTaskID   string                  `json:"current_task_id,omitempty"`
	PendingQuestion string                  `json:"pending_question,omitempty"`
	Success         bool                    `json:"success"`
	Error           string                  `json:"error,omitempty"`
	StartedAt       time.Time               `json:"started_at"`
	EndedAt         time.Time               `json:"ended_at,omitempty"`
}

// Finished returns completed + failed + skipped task counts.
func (s LoopState) Finished() int {
	return len(s.CompletedTasks) + len(s.FailedTasks) + len(s.SkippedTasks)
}

func (s LoopState) clone() LoopState {
	out := s
	out.Observations = append([]observe.Observation{}, s.Observations...)
	out.Reflections = append([]reflection.Reflection{}, s.Reflections...)
	out.Decisions = append([]decision.Decision{}, s.Decisions...)
	out.CompletedTasks = append([]string{}, s.CompletedTasks...)
	out.FailedTasks = append([]string{}, s.FailedTasks...)
	out.SkippedTasks = append([]string{}, s.SkippedTasks...)
	return out
}
