package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/aristath/taskloop/internal/decision"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/loop"
)

var (
	boldColor    = color.New(color.Bold)
	okColor      = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	askColor     = color.New(color.FgMagenta, color.Bold)
	faintColor   = color.New(color.Faint)
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
)

// textSink renders run events as colored status lines, one run id prefix per
// line so concurrent runs stay readable.
type textSink struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func newTextSink(w io.Writer, verbose bool) *textSink {
	return &textSink{w: w, verbose: verbose}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}

// Emit prints e.
func (s *textSink) Emit(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.w
	switch e := e.(type) {
	case loop.LoopStartEvent:
		boldColor.Fprintf(w, "[%s] ▶ %s", shortID(e.RunID), e.Goal)
		fmt.Fprintf(w, " (%d tasks, %d waves)\n", e.TotalTasks, len(e.Waves))

	case loop.TaskStartEvent:
		infoColor.Fprintf(w, "[%s]   → #%d %s", shortID(e.RunID), e.Iteration, e.Description)
		if e.ToolName != "" {
			faintColor.Fprintf(w, " (%s)", e.ToolName)
		}
		fmt.Fprintln(w)

	case loop.ObservationEvent:
		o := e.Observation
		if o.Success {
			okColor.Fprintf(w, "[%s]     ✓ %s", shortID(e.RunID), o.Duration.Round(time.Millisecond))
		} else {
			failColor.Fprintf(w, "[%s]     ✗ %s", shortID(e.RunID), firstLine(o.Error))
		}
		if o.Tests != nil {
			fmt.Fprintf(w, " tests: %d passed, %d failed", o.Tests.Passed, o.Tests.Failed)
		}
		if n := len(o.FilesModified) + len(o.FilesCreated) + len(o.FilesDeleted); n > 0 {
			faintColor.Fprintf(w, " %d files changed", n)
		}
		fmt.Fprintln(w)

	case loop.ReflectionEvent:
		if !s.verbose {
			return
		}
		faintColor.Fprintf(w, "[%s]     %s (confidence %.2f, progress %.0f%%): %s\n",
			shortID(e.RunID), e.Assessment, e.Confidence, e.Progress*100, firstLine(e.Reasoning))

	case loop.DecisionEvent:
		if e.Type == decision.Continue && !s.verbose {
			return
		}
		warnColor.Fprintf(w, "[%s]     %s", shortID(e.RunID), e.Type)
		if e.Rationale != "" {
			fmt.Fprintf(w, ": %s", firstLine(e.Rationale))
		}
		fmt.Fprintln(w)

	case loop.AskUserEvent:
		askColor.Fprintf(w, "[%s] ? %s\n", shortID(e.RunID), e.Question)

	case loop.LoopCompleteEvent:
		successColor.Fprintf(w, "[%s] ✓ complete after %d iterations\n", shortID(e.RunID), e.Iteration)

	case loop.LoopErrorEvent:
		errorColor.Fprintf(w, "[%s] ✗ %s: %s\n", shortID(e.RunID), e.Phase, e.Error)

	case loop.LoopEndEvent:
		st := e.FinalState
		fmt.Fprintf(w, "[%s]   %d completed, %d failed, %d skipped of %d tasks\n",
			shortID(e.RunID), len(st.CompletedTasks), len(st.FailedTasks), len(st.SkippedTasks), st.TotalSubtasks)
	}
}
