package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskloop/internal/config"
	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/decompose"
	"github.com/aristath/taskloop/internal/loop"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/orchestrator"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// execute runs the root command isolated from user config files.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanCommandText(t *testing.T) {
	out, err := execute(t, "", "plan", "Fix crash in parser.go", "-w", t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, out, "Plan: Fix crash in parser.go")
	assert.Contains(t, out, "Search for code related to")
	assert.Contains(t, out, "(run_tests)")
	assert.Contains(t, out, "Waves (")
	assert.Contains(t, out, "  1. ")
	assert.Contains(t, out, "Critical path")
}

func TestPlanCommandJSON(t *testing.T) {
	out, err := execute(t, "", "plan", "Add caching to store.go", "-w", t.TempDir(), "--json")
	require.NoError(t, err)

	var got struct {
		Tree         map[string]any `json:"tree"`
		Order        []string       `json:"order"`
		Waves        [][]string     `json:"waves"`
		CriticalPath []string       `json:"critical_path"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.NotEmpty(t, got.Tree)
	assert.NotEmpty(t, got.Waves)
	assert.NotEmpty(t, got.CriticalPath)

	// Template steps form a chain, so the topological order is the waves
	// read one after another.
	var flat []string
	for _, wave := range got.Waves {
		flat = append(flat, wave...)
	}
	assert.Equal(t, flat, got.Order)
}

func TestPlanRequiresGoal(t *testing.T) {
	_, err := execute(t, "", "plan")
	assert.Error(t, err)
}

func TestRunCommandJournals(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# notes\n"), 0o644))

	out, _ := execute(t, "", "run", "Analyze notes.md", "-w", dir, "--no-input", "--max-iterations", "10")

	assert.Contains(t, out, "▶ Analyze notes.md")
	assert.Contains(t, out, "Analyze notes.md")
	_, err := os.Stat(filepath.Join(dir, ".taskloop", "journal.db"))
	assert.NoError(t, err)
}

func TestRunCommandWithoutStore(t *testing.T) {
	dir := t.TempDir()
	_, _ = execute(t, "", "run", "Analyze the layout", "-w", dir, "--no-input", "--store", "none", "--json", "--max-iterations", "5")

	_, err := os.Stat(filepath.Join(dir, ".taskloop"))
	assert.True(t, os.IsNotExist(err))
}

func TestPrintPlan(t *testing.T) {
	root := decompose.New(decompose.Config{}).Plan(context.Background(), "Refactor handler.go", "")

	var buf bytes.Buffer
	require.NoError(t, printPlan(&buf, root, false, nil))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "Plan: Refactor handler.go\n"))
	assert.Contains(t, out, decompose.String(root))
}

func TestApplyOverrides(t *testing.T) {
	opts := newOptions()
	opts.v.Set("loop.parallelism", 3)
	opts.v.Set("loop.task_timeout", "90s")
	opts.v.Set("strategy.enabled", true)
	opts.v.Set("store.path", "none")

	cfg := config.DefaultConfig()
	opts.applyOverrides(cfg)

	assert.Equal(t, 3, cfg.Loop.Parallelism)
	assert.Equal(t, 90*time.Second, cfg.Loop.TaskTimeout.Std())
	assert.True(t, cfg.Strategy.Enabled)
	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, 50, cfg.Loop.MaxIterations, "unset keys keep config values")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TASKLOOP_LOOP_MAX_ITERATIONS", "7")
	t.Setenv("TASKLOOP_TOOLS_TEST_COMMAND", "make check")

	cfg := config.DefaultConfig()
	newOptions().applyOverrides(cfg)

	assert.Equal(t, 7, cfg.Loop.MaxIterations)
	assert.Equal(t, "make check", cfg.Tools.TestCommand)
}

func TestPromptAnswer(t *testing.T) {
	var prompts bytes.Buffer
	answer := promptAnswer(strings.NewReader("use the v2 client\n\n"), &prompts)
	q := orchestrator.Question{RunID: "0123456789ab", Content: "Which client?", Digest: "last error: timeout"}

	got, err := answer(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "use the v2 client", got)
	assert.Contains(t, prompts.String(), "[01234567] Which client?")
	assert.Contains(t, prompts.String(), "last error: timeout")

	_, err = answer(context.Background(), q)
	assert.EqualError(t, err, "empty answer")

	_, err = answer(context.Background(), q)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestPromptAnswerCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	answer := promptAnswer(r, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := answer(ctx, orchestrator.Question{Content: "?"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTextSink(t *testing.T) {
	var buf bytes.Buffer
	s := newTextSink(&buf, false)
	id := "abcdef0123456789"

	s.Emit(loop.LoopStartEvent{RunID: id, Goal: "ship it", TotalTasks: 3, Waves: [][]string{{"a"}, {"b", "c"}}})
	s.Emit(loop.TaskStartEvent{RunID: id, Description: "Read main.go", ToolName: "read_file", Iteration: 0})
	s.Emit(loop.ObservationEvent{RunID: id, Observation: observe.Observation{
		Error: "open main.go: no such file\nmore detail",
		Tests: &observe.TestSummary{Passed: 4, Failed: 1},
	}})
	s.Emit(loop.DecisionEvent{RunID: id, Decision: decision.Decision{Type: decision.Continue}})
	s.Emit(loop.DecisionEvent{RunID: id, Decision: decision.Decision{Type: decision.Retry, Rationale: "transient"}})
	s.Emit(loop.AskUserEvent{RunID: id, Question: "Where is main?"})
	s.Emit(loop.LoopErrorEvent{RunID: id, Error: "aborted: stuck", Phase: loop.PhaseAborted})
	s.Emit(loop.LoopEndEvent{RunID: id, FinalState: loop.LoopState{
		TotalSubtasks: 3, CompletedTasks: []string{"a"}, FailedTasks: []string{"b"}, SkippedTasks: []string{"c"},
	}})

	want := strings.Join([]string{
		"[abcdef01] ▶ ship it (3 tasks, 2 waves)",
		"[abcdef01]   → #0 Read main.go (read_file)",
		"[abcdef01]     ✗ open main.go: no such file tests: 4 passed, 1 failed",
		"[abcdef01]     retry: transient",
		"[abcdef01] ? Where is main?",
		"[abcdef01] ✗ aborted: aborted: stuck",
		"[abcdef01]   1 completed, 1 failed, 1 skipped of 3 tasks",
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
}

func TestResultsErr(t *testing.T) {
	ok := orchestrator.Result{State: loop.LoopState{Success: true}}
	failed := orchestrator.Result{State: loop.LoopState{Error: "boom"}}

	assert.NoError(t, resultsErr([]orchestrator.Result{ok, ok}))
	assert.EqualError(t, resultsErr([]orchestrator.Result{ok, failed}), "1 of 2 goals failed")
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")

	out, err := execute(t, "", "init", path, "--parallelism", "2")
	require.NoError(t, err)
	assert.Equal(t, "wrote "+path+"\n", out)

	cfg, err := config.Load("", path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Loop.Parallelism)

	_, err = execute(t, "", "init", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "", "init", path, "--force")
	assert.NoError(t, err)
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	_, _ = execute(t, "", "run", "Analyze the layout", "-w", dir, "--no-input", "--max-iterations", "5")

	var runs []runSummary
	out, err := execute(t, "", "history", "-w", dir, "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "Analyze the layout", runs[0].Goal)

	out, err = execute(t, "", "history", "-w", dir)
	require.NoError(t, err)
	assert.Contains(t, out, shortID(runs[0].ID))

	out, err = execute(t, "", "history", runs[0].ID[:8], "-w", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Run "+runs[0].ID+": Analyze the layout")
	assert.Contains(t, out, "loop_start")
	assert.Contains(t, out, "loop_end")

	out, err = execute(t, "", "history", runs[0].ID, "-w", dir, "--json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &head))
		assert.NotEmpty(t, head.Type)
	}
	assert.Contains(t, lines[len(lines)-1], `"type":"loop_end"`)

	_, err = execute(t, "", "history", "nope", "-w", dir)
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, "", "history", "-w", t.TempDir())
	assert.ErrorContains(t, err, "no journal")
}
