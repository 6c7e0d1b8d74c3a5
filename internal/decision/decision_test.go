package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskloop/internal/reflection"
	"github.com/aristath/taskloop/internal/task"
)

func newTask(id string, p task.Priority) *task.Task {
	t := task.New("task "+id, task.TypeCommand, p, task.ComplexitySimple)
	t.ID = id
	return t
}

func refl(a reflection.Assessment) reflection.Reflection {
	return reflection.Reflection{Assessment: a, Confidence: 0.8}
}

func TestRetriesThenSkipOrAbort(t *testing.T) {
	tests := []struct {
		priority task.Priority
		progress float64
		final    Type
	}{
		{task.PriorityCritical, 0.9, Abort},
		{task.PriorityHigh, 0, Skip},
		{task.PriorityMedium, 0, Skip},
		{task.PriorityOptional, 0, Skip},
		{task.PriorityLow, 0.2, Abort},
		{task.PriorityLow, 0.5, Skip},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			tk := newTask("a", tt.priority)
			r := refl(reflection.Error)
			r.Progress = tt.progress

			var got []Type
			var c Counters
			for i := 0; i < 4; i++ {
				var d Decision
				d, c = Decide(Input{Reflection: r, Task: tk, Counters: c})
				got = append(got, d.Type)
			}
			assert.Equal(t, []Type{Retry, Retry, Retry, tt.final}, got)
			assert.Equal(t, 3, c.Retries["a"])
		})
	}
}

func TestRetryCountersArePerTask(t *testing.T) {
	a, b := newTask("a", task.PriorityMedium), newTask("b", task.PriorityMedium)
	var c Counters
	for i := 0; i < 3; i++ {
		_, c = Decide(Input{Reflection: refl(reflection.Error), Task: a, Counters: c})
	}
	d, c := Decide(Input{Reflection: refl(reflection.Error), Task: b, Counters: c})
	assert.Equal(t, Retry, d.Type)
	assert.Equal(t, "b", d.NextTaskID)
	assert.Equal(t, 1, c.Retries["b"])
}

func TestDecideDoesNotMutateInputCounters(t *testing.T) {
	in := Counters{Stuck: 1, Retries: map[string]int{"a": 1}}
	_, out := Decide(Input{Reflection: refl(reflection.Error), Task: newTask("a", task.PriorityHigh), Counters: in})
	assert.Equal(t, 1, in.Retries["a"])
	assert.Equal(t, 2, out.Retries["a"])
	assert.Equal(t, 1, in.Stuck)
	assert.Equal(t, 0, out.Stuck, "a non-stuck reflection resets the stuck counter")
}

func TestStuckEscalation(t *testing.T) {
	tk := newTask("a", task.PriorityHigh)
	r := refl(reflection.Stuck)
	r.SuggestedActions = []string{"try an alternate approach"}

	var c Counters
	var got []Type
	for i := 0; i < 3; i++ {
		var d Decision
		d, c = Decide(Input{Reflection: r, Task: tk, Counters: c})
		got = append(got, d.Type)
		if d.Type == Modify {
			require.NotNil(t, d.Modification)
			assert.Equal(t, []string{"try an alternate approach"}, d.Modification.Actions)
		}
		if d.Type == AskUser {
			assert.NotEmpty(t, d.Question)
		}
	}
	assert.Equal(t, []Type{Modify, Modify, AskUser}, got)
	assert.Equal(t, 3, c.Stuck)
}

func TestStuckWithoutSuggestionsSkips(t *testing.T) {
	d, c := Decide(Input{Reflection: refl(reflection.Stuck), Task: newTask("a", task.PriorityHigh)})
	assert.Equal(t, Skip, d.Type)
	assert.Equal(t, 1, c.Stuck)
}

func TestStuckCounterResets(t *testing.T) {
	tk := newTask("a", task.PriorityHigh)
	c := Counters{Stuck: 2}
	_, c = Decide(Input{Reflection: refl(reflection.OnTrack), Task: tk, Counters: c, Pending: 1})
	assert.Zero(t, c.Stuck)

	d, c := Decide(Input{Reflection: refl(reflection.Stuck), Task: tk, Counters: c})
	assert.Equal(t, Skip, d.Type)
	assert.Equal(t, 1, c.Stuck)
}

func TestNeedsAdjustment(t *testing.T) {
	tk := newTask("a", task.PriorityHigh)
	next := newTask("b", task.PriorityHigh)

	low := refl(reflection.NeedsAdjustment)
	low.Confidence = 0.4
	d, _ := Decide(Input{Reflection: low, Task: tk})
	assert.Equal(t, AskUser, d.Type)

	withActions := refl(reflection.NeedsAdjustment)
	withActions.SuggestedActions = []string{"fix the 2 failing tests"}
	d, _ = Decide(Input{Reflection: withActions, Task: tk})
	assert.Equal(t, Modify, d.Type)
	assert.Equal(t, "a", d.Modification.TaskID)

	bare := refl(reflection.NeedsAdjustment)
	d, _ = Decide(Input{Reflection: bare, Task: tk, Ready: []*task.Task{next}})
	assert.Equal(t, Continue, d.Type)
	assert.Equal(t, "b", d.NextTaskID)
}

func TestOnTrack(t *testing.T) {
	tk := newTask("a", task.PriorityHigh)
	next := newTask("b", task.PriorityHigh)

	tests := []struct {
		name     string
		ready    []*task.Task
		pending  int
		progress float64
		want     Type
		next     string
	}{
		{"next ready", []*task.Task{next}, 1, 0.2, Continue, "b"},
		{"pending but not ready", nil, 2, 0.2, Continue, ""},
		{"done", nil, 0, 1.0, Complete, ""},
		{"done at threshold", nil, 0, 0.9, Complete, ""},
		{"nothing left but low progress", nil, 0, 0.6, AskUser, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := refl(reflection.OnTrack)
			r.Progress = tt.progress
			d, _ := Decide(Input{Reflection: r, Task: tk, Ready: tt.ready, Pending: tt.pending})
			assert.Equal(t, tt.want, d.Type)
			assert.Equal(t, tt.next, d.NextTaskID)
		})
	}
}

func TestCompleteAssessment(t *testing.T) {
	d, _ := Decide(Input{Reflection: refl(reflection.Complete), Task: newTask("a", task.PriorityLow), Pending: 3})
	assert.Equal(t, Complete, d.Type)
}

func TestCustomThresholds(t *testing.T) {
	tk := newTask("a", task.PriorityMedium)
	th := Thresholds{MaxRetries: 1, StuckThreshold: 1}

	d, c := Decide(Input{Reflection: refl(reflection.Error), Task: tk, Thresholds: th})
	assert.Equal(t, Retry, d.Type)
	d, _ = Decide(Input{Reflection: refl(reflection.Error), Task: tk, Thresholds: th, Counters: c})
	assert.Equal(t, Skip, d.Type)

	d, _ = Decide(Input{Reflection: refl(reflection.Stuck), Task: tk, Thresholds: th})
	assert.Equal(t, AskUser, d.Type)
}
