// Package observe turns the raw result of running a task into an Observation.
package observe

import (
	"encoding/json"
	"time"
)

// ToolResult is what a tool execution capability reports for one invocation.
type ToolResult struct {
	Success       bool
	Output        string
	Error         string
	FilesModified []string
	FilesCreated  []string
	FilesDeleted  []string
	CommandsRun   []string
	Duration      time.Duration
}

// TestSummary holds pass/fail counts recognized in test-runner output.
type TestSummary struct {
	Framework string `json:"framework"`
	Passed    int    `json:"passed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Total     int    `json:"total"`
}

// Observation is the immutable record of one execution attempt.
type Observation struct {
	TaskID        string        `json:"task_id"`
	ToolName      string        `json:"tool_name,omitempty"`
	Iteration     int           `json:"iteration"`
	Success       bool          `json:"success"`
	Output        string        `json:"output"`
	Error         string        `json:"error,omitempty"`
	TimedOut      bool          `json:"timed_out,omitempty"`
	FilesModified []string      `json:"files_modified"`
	FilesCreated  []string      `json:"files_created"`
	FilesDeleted  []string      `json:"files_deleted"`
	CommandsRun   []string      `json:"commands_run"`
	Duration      time.Duration `json:"-"`
	Tests         *TestSummary  `json:"tests,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

type observationJSON struct {
	DurationMS int64 `json:"duration_ms"`
	*observationAlias
}

type observationAlias Observation

// MarshalJSON renders Duration as duration_ms.
func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(observationJSON{
		DurationMS:       o.Duration.Milliseconds(),
		observationAlias: (*observationAlias)(&o),
	})
}

// UnmarshalJSON reads duration_ms back into Duration.
func (o *Observation) UnmarshalJSON(data []byte) error {
	aux := observationJSON{observationAlias: (*observationAlias)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.Duration = time.Duration(aux.DurationMS) * time.Millisecond
	return nil
}

// TouchedFiles returns every file the observation created, modified or deleted.
func (o Observation) TouchedFiles() []string {
	out := make([]string, 0, len(o.FilesCreated)+len(o.FilesModified)+len(o.FilesDeleted))
	out = append(out, o.FilesCreated...)
	out = append(out, o.FilesModified...)
	return append(out, o.FilesDeleted...)
}
