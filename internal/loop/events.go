package loop

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/reflection"
)

// LoopStartEvent opens a run.
type LoopStartEvent struct {
	RunID      string     `json:"run_id"`
	Goal       string     `json:"goal"`
	TotalTasks int        `json:"total_tasks"`
	Waves      [][]string `json:"waves,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

func (LoopStartEvent) EventType() string { return events.TypeLoopStart }

// TaskStartEvent is emitted before a task executes.
type TaskStartEvent struct {
	RunID       string    `json:"run_id"`
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	ToolName    string    `json:"tool_name,omitempty"`
	Iteration   int       `json:"iteration"`
	Timestamp   time.Time `json:"timestamp"`
}

func (TaskStartEvent) EventType() string { return events.TypeTaskStart }

// ObservationEvent carries an observation's fields plus the run id.
type ObservationEvent struct {
	RunID string `json:"run_id"`
	observe.Observation
}

func (ObservationEvent) EventType() string { return events.TypeObservation }

// MarshalJSON flattens the observation next to run_id. The embedded
// Observation's own marshaler would otherwise drop run_id.
func (e ObservationEvent) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(e.Observation)
	if err != nil {
		return nil, err
	}
	id, _ := json.Marshal(e.RunID)
	var buf bytes.Buffer
	buf.WriteString(`{"run_id":`)
	buf.Write(id)
	if len(body) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// ReflectionEvent carries a reflection's fields plus the run id.
type ReflectionEvent struct {
	RunID string `json:"run_id"`
	reflection.Reflection
}

func (ReflectionEvent) EventType() string { return events.TypeReflection }

// DecisionEvent carries a decision's fields plus the run id.
type DecisionEvent struct {
	RunID string `json:"run_id"`
	decision.Decision
}

func (DecisionEvent) EventType() string { return events.TypeDecision }

// AskUserEvent suspends the run until Resume is called.
type AskUserEvent struct {
	RunID         string    `json:"run_id"`
	TaskID        string    `json:"task_id"`
	Question      string    `json:"question"`
	ContextDigest string    `json:"context_digest"`
	Iteration     int       `json:"iteration"`
	Timestamp     time.Time `json:"timestamp"`
}

func (AskUserEvent) EventType() string { return events.TypeAskUser }

// LoopErrorEvent is the terminal event of a failed, aborted or cancelled run.
type LoopErrorEvent struct {
	RunID     string    `json:"run_id"`
	Error     string    `json:"error"`
	Phase     Phase     `json:"phase"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

func (LoopErrorEvent) EventType() string { return events.TypeLoopError }

// LoopCompleteEvent is the terminal event of a run that reached completion.
type LoopCompleteEvent struct {
	RunID     string    `json:"run_id"`
	Success   bool      `json:"success"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

func (LoopCompleteEvent) EventType() string { return events.TypeLoopComplete }

// LoopEndEvent follows the terminal event with the final state.
type LoopEndEvent struct {
	RunID      string    `json:"run_id"`
	FinalState LoopState `json:"final_state"`
}

func (LoopEndEvent) EventType() string { return events.TypeLoopEnd }
