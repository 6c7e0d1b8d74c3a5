package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/reflection"
	"github.com/aristath/taskloop/internal/resilience"
)

const maxPromptOutput = 1500

// Judge asks a model to assess an observation.
type Judge struct {
	client *Client
}

// NewJudge creates a judge.
func NewJudge(client *Client) *Judge {
	return &Judge{client: client}
}

// Assess implements reflection.JudgmentStrategy.
func (j *Judge) Assess(ctx context.Context, req reflection.AssessRequest) (reflection.Judgment, error) {
	body, err := j.client.Ask(ctx, prompt(req))
	if err != nil {
		return reflection.Judgment{}, err
	}

	var out reflection.Judgment
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return reflection.Judgment{}, resilience.Permanent(fmt.Errorf("parse judgment: %w", err))
	}
	out.Assessment = reflection.Assessment(strings.ToLower(strings.TrimSpace(string(out.Assessment))))
	return out, nil
}

func prompt(req reflection.AssessRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing progress towards this goal: %s\n\n", req.Goal)
	b.WriteString("Latest step:\n")
	writeObservation(&b, req.Observation, maxPromptOutput)

	if len(req.Recent) > 0 {
		b.WriteString("\nEarlier steps (oldest first):\n")
		for _, o := range req.Recent {
			status := "ok"
			if !o.Success {
				status = "failed: " + o.Error
			}
			fmt.Fprintf(&b, "- #%d %s %s\n", o.Iteration, o.ToolName, status)
		}
	}
	if req.Context != "" {
		fmt.Fprintf(&b, "\nWorking memory:\n%s\n", req.Context)
	}

	b.WriteString(`
Reply with a single JSON object and nothing else:
{"assessment": "on_track|needs_adjustment|stuck|error|complete", "confidence": 0.0-1.0,
 "reasoning": "...", "went_well": [], "went_wrong": [], "suggested_actions": [],
 "lessons_learned": [], "progress": 0.0-1.0, "remaining_steps": 0}
`)
	return b.String()
}

func writeObservation(b *strings.Builder, o observe.Observation, limit int) {
	fmt.Fprintf(b, "tool: %s\nsuccess: %t\n", o.ToolName, o.Success)
	if o.Error != "" {
		fmt.Fprintf(b, "error: %s\n", o.Error)
	}
	if o.Tests != nil {
		fmt.Fprintf(b, "tests: %d passed, %d failed, %d skipped\n", o.Tests.Passed, o.Tests.Failed, o.Tests.Skipped)
	}
	if files := o.TouchedFiles(); len(files) > 0 {
		fmt.Fprintf(b, "files changed: %s\n", strings.Join(files, ", "))
	}
	if out := strings.TrimSpace(o.Output); out != "" {
		if len(out) > limit {
			out = out[len(out)-limit:]
		}
		fmt.Fprintf(b, "output:\n%s\n", out)
	}
}
