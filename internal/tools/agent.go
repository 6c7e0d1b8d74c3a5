package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/observe"
)

// delegate hands an instruction-only write or edit to the agent backend.
// Changed files are picked up by the observation engine's workspace capture.
func (e *Executor) delegate(ctx context.Context, tool string, params map[string]any) observe.ToolResult {
	instructions := strings.TrimSpace(stringParam(params, "instructions"))
	if instructions == "" {
		return failure("%s needs content or instructions", tool)
	}
	if e.cfg.Agent == nil {
		return failure("%s: no agent backend configured to carry out %q", tool, instructions)
	}

	resp, err := e.cfg.Agent.Send(ctx, backend.Message{Content: agentPrompt(tool, instructions, params), Role: "user"})
	if err != nil {
		return failure("%s: agent: %v", tool, err)
	}
	return observe.ToolResult{Success: true, Output: resp.Content}
}

func agentPrompt(tool, instructions string, params map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", instructions)
	if p := stringParam(params, "path"); p != "" {
		verb := "Edit"
		if tool == WriteFile {
			verb = "Write"
		}
		fmt.Fprintf(&b, "\n%s the file %s.\n", verb, p)
	}
	if adj := stringsParam(params, "adjustments"); len(adj) > 0 {
		b.WriteString("\nA previous attempt failed. Adjust the approach:\n")
		for _, a := range adj {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if g := stringParam(params, "user_guidance"); g != "" {
		fmt.Fprintf(&b, "\nGuidance from the user: %s\n", g)
	}
	b.WriteString("\nMake the change directly in the working directory, then summarize what you changed.")
	return b.String()
}
