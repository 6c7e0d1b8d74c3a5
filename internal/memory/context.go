package memory

import (
	"fmt"
	"strings"

	"github.com/aristath/taskloop/internal/observe"
)

// ToContextString renders a digest of memory for judgment strategies,
// truncated to at most maxChars bytes. maxChars <= 0 means unbounded.
func (m *Memory) ToContextString(maxChars int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder

	if s := m.summaryLocked(); s != "" {
		b.WriteString("## History\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}

	if len(m.observations) > 0 {
		b.WriteString("## Recent actions\n")
		start := max(len(m.observations)-recentActions, 0)
		for _, o := range m.observations[start:] {
			status := "ok"
			detail := firstLine(o.Output)
			if !o.Success {
				status = "failed"
				detail = firstLine(o.Error)
			}
			tool := o.ToolName
			if tool == "" {
				tool = "task"
			}
			fmt.Fprintf(&b, "- [%s] %s #%d", status, tool, o.Iteration)
			if detail != "" {
				fmt.Fprintf(&b, ": %s", observe.Clip(detail, 120))
			}
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	if facts := m.factsLocked(); len(facts) > 0 {
		b.WriteString("## Facts\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, observe.Clip(f.Value, 200))
		}
		b.WriteByte('\n')
	}

	if patterns := m.patternsLocked(); len(patterns) > 0 {
		b.WriteString("## Patterns\n")
		for _, p := range patterns {
			fmt.Fprintf(&b, "- %s\n", observe.Clip(p.Value, 200))
		}
	}

	out := strings.TrimRight(b.String(), "\n")
	if maxChars > 0 && len(out) > maxChars {
		out = observe.Clip(out, maxChars)
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
