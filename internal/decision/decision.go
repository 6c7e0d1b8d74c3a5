// Package decision maps reflections to control decisions.
//
// Decide is a pure function: all run-level state it reads or updates is
// passed in and returned through Counters.
package decision

import (
	"fmt"
	"time"

	"github.com/aristath/taskloop/internal/reflection"
	"github.com/aristath/taskloop/internal/task"
)

// Type is the kind of decision.
type Type string

const (
	Continue Type = "continue"
	Retry    Type = "retry"
	Modify   Type = "modify"
	Skip     Type = "skip"
	Abort    Type = "abort"
	Complete Type = "complete"
	AskUser  Type = "ask_user"
)

// Modification is a change to the plan proposed by a decision.
type Modification struct {
	TaskID  string   `json:"task_id"`
	Actions []string `json:"actions"`
}

// Decision is the outcome of one decide step.
type Decision struct {
	Type         Type          `json:"decision_type"`
	Rationale    string        `json:"rationale"`
	TaskID       string        `json:"task_id,omitempty"`
	NextTaskID   string        `json:"next_task_id,omitempty"`
	Modification *Modification `json:"modification,omitempty"`
	Question     string        `json:"question,omitempty"`
	Iteration    int           `json:"iteration"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Thresholds tune the decision rules.
type Thresholds struct {
	MaxRetries              int     `json:"max_retries" yaml:"max_retries"`
	StuckThreshold          int     `json:"stuck_threshold" yaml:"stuck_threshold"`
	ConfidenceThreshold     float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	LowPrioritySkipProgress float64 `json:"low_priority_skip_progress" yaml:"low_priority_skip_progress"`
	CompletionProgress      float64 `json:"completion_progress" yaml:"completion_progress"`
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxRetries:              3,
		StuckThreshold:          3,
		ConfidenceThreshold:     0.5,
		LowPrioritySkipProgress: 0.5,
		CompletionProgress:      0.9,
	}
}

// withDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MaxRetries <= 0 {
		t.MaxRetries = d.MaxRetries
	}
	if t.StuckThreshold <= 0 {
		t.StuckThreshold = d.StuckThreshold
	}
	if t.ConfidenceThreshold <= 0 {
		t.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if t.LowPrioritySkipProgress <= 0 {
		t.LowPrioritySkipProgress = d.LowPrioritySkipProgress
	}
	if t.CompletionProgress <= 0 {
		t.CompletionProgress = d.CompletionProgress
	}
	return t
}

// Counters is the run-level state the decision rules depend on.
type Counters struct {
	Stuck   int            `json:"stuck"`   // Consecutive stuck reflections
	Retries map[string]int `json:"retries"` // Retries issued per task id
}

func (c Counters) clone() Counters {
	out := Counters{Stuck: c.Stuck, Retries: make(map[string]int, len(c.Retries))}
	for k, v := range c.Retries {
		out.Retries[k] = v
	}
	return out
}

// Input is everything Decide considers.
type Input struct {
	Reflection reflection.Reflection
	Task       *task.Task   // Task the reflection is about
	Ready      []*task.Task // Tasks ready to run next, in schedule order
	Pending    int          // Tasks not yet finished, excluding Task
	Counters   Counters
	Thresholds Thresholds // Zero fields take defaults
}

// Decide applies the decision rules in order and returns the decision along
// with the updated counters. The input counters are not modified.
func Decide(in Input) (Decision, Counters) {
	th := in.Thresholds.withDefaults()
	c := in.Counters.clone()
	r := in.Reflection

	d := Decision{
		TaskID:    in.Task.ID,
		Iteration: r.Iteration,
		Timestamp: time.Now(),
	}

	if r.Assessment == reflection.Stuck {
		c.Stuck++
		switch {
		case c.Stuck >= th.StuckThreshold:
			d.Type = AskUser
			d.Rationale = fmt.Sprintf("stuck for %d consecutive iterations", c.Stuck)
			d.Question = fmt.Sprintf("Task %q is not making progress (%s). How should I proceed?", in.Task.Description, r.Reasoning)
		case len(r.SuggestedActions) > 0:
			d.Type = Modify
			d.Rationale = "stuck; changing approach"
			d.Modification = modification(in.Task, r)
		default:
			d.Type = Skip
			d.Rationale = "stuck with no alternate approach"
		}
		return d, c
	}
	c.Stuck = 0

	switch r.Assessment {
	case reflection.Complete:
		d.Type = Complete
		d.Rationale = "goal reported complete"

	case reflection.Error:
		limit := th.MaxRetries
		if used := c.Retries[in.Task.ID]; used < limit {
			c.Retries[in.Task.ID] = used + 1
			d.Type = Retry
			d.NextTaskID = in.Task.ID
			d.Rationale = fmt.Sprintf("retry %d of %d", used+1, limit)
		} else if skippable(in.Task.Priority, r.Progress, th) {
			d.Type = Skip
			d.Rationale = fmt.Sprintf("retries exhausted; %s priority task can be skipped", in.Task.Priority)
		} else {
			d.Type = Abort
			d.Rationale = fmt.Sprintf("retries exhausted on %s priority task", in.Task.Priority)
		}

	case reflection.NeedsAdjustment:
		switch {
		case r.Confidence < th.ConfidenceThreshold:
			d.Type = AskUser
			d.Rationale = fmt.Sprintf("adjustment needed but confidence %.2f is below %.2f", r.Confidence, th.ConfidenceThreshold)
			d.Question = fmt.Sprintf("Task %q needs adjustment (%s). What should change?", in.Task.Description, r.Reasoning)
		case len(r.SuggestedActions) > 0:
			d.Type = Modify
			d.Rationale = "applying suggested adjustments"
			d.Modification = modification(in.Task, r)
		default:
			onTrack(&d, in, th)
		}

	default:
		onTrack(&d, in, th)
	}
	return d, c
}

func onTrack(d *Decision, in Input, th Thresholds) {
	switch {
	case len(in.Ready) > 0:
		d.Type = Continue
		d.NextTaskID = in.Ready[0].ID
		d.Rationale = "proceeding to next ready task"
	case in.Pending > 0:
		d.Type = Continue
		d.Rationale = "waiting on remaining tasks"
	case in.Reflection.Progress >= th.CompletionProgress:
		d.Type = Complete
		d.Rationale = fmt.Sprintf("no tasks remain; progress %.2f", in.Reflection.Progress)
	default:
		d.Type = AskUser
		d.Rationale = fmt.Sprintf("no tasks remain but progress is only %.2f", in.Reflection.Progress)
		d.Question = "All planned tasks have run but the goal may not be met. Should I finish or try something else?"
	}
}

// skippable reports whether a task of priority p may be skipped at progress.
// Critical tasks never are, optional tasks always are, low priority tasks
// once enough of the goal is done.
func skippable(p task.Priority, progress float64, th Thresholds) bool {
	switch p {
	case task.PriorityCritical:
		return false
	case task.PriorityLow:
		return progress >= th.LowPrioritySkipProgress
	}
	return true
}

func modification(t *task.Task, r reflection.Reflection) *Modification {
	actions := make([]string, len(r.SuggestedActions))
	copy(actions, r.SuggestedActions)
	return &Modification{TaskID: t.ID, Actions: actions}
}
