package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/loop"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/persistence"
	"github.com/aristath/taskloop/internal/task"
)

// connectGoal is a single high-priority task that fails until the user says
// which host to use.
func connectGoal() Goal {
	t := task.New("connect to db", task.TypeCommand, task.PriorityHigh, task.ComplexitySimple)
	t.Bind("run_command", map[string]any{"command": "psql"})
	return Goal{Description: "connect", Root: t}
}

func guidedTools() loop.ToolExecutor {
	return loop.ToolExecutorFunc(func(ctx context.Context, taskID, toolName string, params map[string]any) (observe.ToolResult, error) {
		if params["user_guidance"] == "use the replica" {
			return observe.ToolResult{Success: true, Output: "connected"}, nil
		}
		return observe.ToolResult{Success: false, Error: "connection refused"}, nil
	})
}

func TestSupervisorRunsGoalsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	tools := loop.ToolExecutorFunc(func(ctx context.Context, taskID, toolName string, params map[string]any) (observe.ToolResult, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return observe.ToolResult{Success: true, Output: "ok"}, nil
	})

	sup := NewSupervisor(SupervisorConfig{
		Executor:         loop.NewExecutor(loop.Config{Tools: tools}),
		ConcurrencyLimit: 2,
	})

	goals := []Goal{
		{Description: "Fix the crash in parser.go"},
		{Description: "Add a retry flag to client.go"},
		{Description: "Refactor the config loader"},
	}
	results, err := sup.Run(context.Background(), goals)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != len(goals) {
		t.Fatalf("expected %d results, got %d", len(goals), len(results))
	}

	seen := make(map[string]bool)
	for i, res := range results {
		if res.Goal.Description != goals[i].Description {
			t.Errorf("result %d: expected goal %q, got %q", i, goals[i].Description, res.Goal.Description)
		}
		if res.Err != nil {
			t.Errorf("result %d: unexpected error %v", i, res.Err)
		}
		if res.State.Phase != loop.PhaseComplete || !res.State.Success {
			t.Errorf("result %d: expected successful completion, got %s (%s)", i, res.State.Phase, res.State.Error)
		}
		if seen[res.RunID] {
			t.Errorf("result %d: duplicate run id %s", i, res.RunID)
		}
		seen[res.RunID] = true
	}

	if p := peak.Load(); p > 2 {
		t.Errorf("expected at most 2 concurrent tool calls, saw %d", p)
	}
	if n := sup.Active(); n != 0 {
		t.Errorf("expected no active runs after Run, got %d", n)
	}
}

func TestSupervisorAnswersQuestions(t *testing.T) {
	var mu sync.Mutex
	var asked []Question
	answer := func(ctx context.Context, q Question) (string, error) {
		mu.Lock()
		asked = append(asked, q)
		mu.Unlock()
		return "use the replica", nil
	}

	sup := NewSupervisor(SupervisorConfig{
		Executor: loop.NewExecutor(loop.Config{Tools: guidedTools()}),
		Answer:   answer,
	})

	results, err := sup.Run(context.Background(), []Goal{connectGoal()})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res := results[0]
	if res.State.Phase != loop.PhaseComplete || !res.State.Success {
		t.Fatalf("expected completion after guidance, got %s (%s)", res.State.Phase, res.State.Error)
	}

	if len(asked) != 1 {
		t.Fatalf("expected 1 question, got %d", len(asked))
	}
	q := asked[0]
	if q.RunID != res.RunID || q.Goal != "connect" {
		t.Errorf("question not routed from the run: %+v", q)
	}
	if q.Content == "" {
		t.Error("expected question content")
	}
	if !strings.Contains(q.Digest, "connection refused") {
		t.Errorf("expected digest to mention the error, got %q", q.Digest)
	}
}

func TestSupervisorWithoutAnswerAborts(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{
		Executor: loop.NewExecutor(loop.Config{Tools: guidedTools()}),
	})

	results, err := sup.Run(context.Background(), []Goal{connectGoal()})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	state := results[0].State
	if state.Phase != loop.PhaseAborted {
		t.Fatalf("expected aborted run, got %s", state.Phase)
	}
	if !strings.Contains(state.Error, "no one to answer") {
		t.Errorf("unexpected error text %q", state.Error)
	}
	if state.Finished() != state.TotalSubtasks {
		t.Errorf("finished %d of %d tasks", state.Finished(), state.TotalSubtasks)
	}
}

func TestSupervisorAnswerErrorAborts(t *testing.T) {
	answer := func(ctx context.Context, q Question) (string, error) {
		return "", errors.New("stdin closed")
	}
	sup := NewSupervisor(SupervisorConfig{
		Executor: loop.NewExecutor(loop.Config{Tools: guidedTools()}),
		Answer:   answer,
	})

	results, err := sup.Run(context.Background(), []Goal{connectGoal()})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	state := results[0].State
	if state.Phase != loop.PhaseAborted {
		t.Fatalf("expected aborted run, got %s", state.Phase)
	}
	if !strings.Contains(state.Error, "question unanswered: stdin closed") {
		t.Errorf("unexpected error text %q", state.Error)
	}
}

func TestSupervisorJournalsRuns(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	rec := &events.Recorder{}
	sup := NewSupervisor(SupervisorConfig{
		Executor: loop.NewExecutor(loop.Config{Tools: loop.ToolExecutorFunc(
			func(ctx context.Context, taskID, toolName string, params map[string]any) (observe.ToolResult, error) {
				return observe.ToolResult{Success: true}, nil
			})}),
		Store: store,
		Sink:  rec,
	})

	results, err := sup.Run(ctx, []Goal{{Description: "Fix the crash in parser.go"}, {Description: "Write tests for the lexer"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 journaled runs, got %d", len(runs))
	}

	total := 0
	for _, res := range results {
		if res.JournalErr != nil {
			t.Errorf("journal error for %s: %v", res.RunID, res.JournalErr)
		}
		stored, err := store.GetRun(ctx, res.RunID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if stored.Phase != res.State.Phase || stored.Final == nil {
			t.Errorf("run %s: journal phase %s, state phase %s", res.RunID, stored.Phase, res.State.Phase)
		}
		records, err := store.ListEvents(ctx, res.RunID)
		if err != nil {
			t.Fatalf("ListEvents failed: %v", err)
		}
		total += len(records)
	}
	if total != len(rec.Events()) {
		t.Errorf("journaled %d events, shared sink saw %d", total, len(rec.Events()))
	}
}

func TestSupervisorCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	tools := loop.ToolExecutorFunc(func(ctx context.Context, taskID, toolName string, params map[string]any) (observe.ToolResult, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return observe.ToolResult{}, ctx.Err()
	})
	sup := NewSupervisor(SupervisorConfig{
		Executor: loop.NewExecutor(loop.Config{Tools: tools}),
	})

	done := make(chan []Result, 1)
	go func() {
		results, _ := sup.Run(context.Background(), []Goal{{Description: "Fix the crash in parser.go"}})
		done <- results
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tool never started")
	}
	sup.Cancel("operator stop")

	select {
	case results := <-done:
		state := results[0].State
		if state.Phase != loop.PhaseAborted {
			t.Errorf("expected aborted run, got %s", state.Phase)
		}
		if !strings.Contains(state.Error, "operator stop") {
			t.Errorf("expected cancel reason in error, got %q", state.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after Cancel")
	}
}

func TestSupervisorPublishesRunsToBus(t *testing.T) {
	bus := events.NewBus()
	all := bus.SubscribeAll(1024)
	rec := &events.Recorder{}

	sup := NewSupervisor(SupervisorConfig{
		Executor: loop.NewExecutor(loop.Config{Tools: loop.ToolExecutorFunc(func(ctx context.Context, taskID, toolName string, params map[string]any) (observe.ToolResult, error) {
			return observe.ToolResult{Success: true, Output: "ok"}, nil
		})}),
		Sink: rec,
		Bus:  bus,
	})
	results, err := sup.Run(context.Background(), []Goal{
		{Description: "Fix the crash in parser.go"},
		{Description: "Refactor the config loader"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	bus.Close()

	var published []events.Event
	ended := make(map[string]bool)
	for e := range all {
		published = append(published, e)
		if end, ok := e.(loop.LoopEndEvent); ok {
			ended[end.RunID] = true
		}
	}
	if len(published) != len(rec.Events()) {
		t.Errorf("bus carried %d events, sink saw %d", len(published), len(rec.Events()))
	}
	for _, res := range results {
		if !ended[res.RunID] {
			t.Errorf("no loop_end published for run %s", res.RunID)
		}
	}
	if bus.Dropped() != 0 {
		t.Errorf("expected no dropped deliveries, got %d", bus.Dropped())
	}
}
