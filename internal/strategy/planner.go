package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/taskloop/internal/decompose"
	"github.com/aristath/taskloop/internal/resilience"
	"github.com/aristath/taskloop/internal/task"
)

// Planner asks a model to split a task into subtasks.
type Planner struct {
	client *Client
	tools  []string
}

// NewPlanner creates a planner. tools lists the tool names subtasks may bind;
// when empty, the template tool set is offered.
func NewPlanner(client *Client, tools []string) *Planner {
	if len(tools) == 0 {
		tools = []string{
			decompose.ToolSearchCode, decompose.ToolReadFile, decompose.ToolAnalyzeCode,
			decompose.ToolEditFile, decompose.ToolWriteFile, decompose.ToolRunTests,
		}
	}
	return &Planner{client: client, tools: tools}
}

type planReply struct {
	Subtasks []struct {
		Description string         `json:"description"`
		Type        string         `json:"type"`
		Tool        string         `json:"tool"`
		Params      map[string]any `json:"params"`
		Priority    string         `json:"priority"`
		Complexity  string         `json:"complexity"`
		DependsOn   []int          `json:"depends_on"`
	} `json:"subtasks"`
}

// Propose implements decompose.PlanningStrategy.
func (p *Planner) Propose(ctx context.Context, description, planContext string) ([]decompose.SubtaskSpec, error) {
	body, err := p.client.Ask(ctx, p.prompt(description, planContext))
	if err != nil {
		return nil, err
	}

	var reply planReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("parse plan: %w", err))
	}

	known := make(map[string]bool, len(p.tools))
	for _, name := range p.tools {
		known[name] = true
	}

	specs := make([]decompose.SubtaskSpec, 0, len(reply.Subtasks))
	for _, s := range reply.Subtasks {
		spec := decompose.SubtaskSpec{
			Description: strings.TrimSpace(s.Description),
			Type:        task.Type(pick(s.Type, taskTypes)),
			Priority:    task.Priority(pick(s.Priority, priorities)),
			Complexity:  task.Complexity(pick(s.Complexity, complexities)),
			DependsOn:   s.DependsOn,
		}
		if known[s.Tool] {
			spec.ToolName = s.Tool
			spec.ToolParams = s.Params
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (p *Planner) prompt(description, planContext string) string {
	var b strings.Builder
	b.WriteString("Break the following task into a short ordered list of concrete subtasks.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", description)
	if planContext != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", planContext)
	}
	fmt.Fprintf(&b, "\nAvailable tools: %s\n", strings.Join(p.tools, ", "))
	b.WriteString(`
Reply with a single JSON object and nothing else:
{"subtasks": [{"description": "...", "type": "analyze|search|read|edit|create|test|command|generic",
  "tool": "<tool name or empty>", "params": {}, "priority": "critical|high|medium|low|optional",
  "complexity": "trivial|simple|moderate|complex|very_complex", "depends_on": [<indices of earlier subtasks>]}]}
`)
	return b.String()
}

var (
	taskTypes = []string{
		string(task.TypeAnalyze), string(task.TypeSearch), string(task.TypeRead), string(task.TypeEdit),
		string(task.TypeCreate), string(task.TypeTest), string(task.TypeCommand), string(task.TypeGeneric),
	}
	priorities = []string{
		string(task.PriorityCritical), string(task.PriorityHigh), string(task.PriorityMedium),
		string(task.PriorityLow), string(task.PriorityOptional),
	}
	complexities = []string{
		string(task.ComplexityTrivial), string(task.ComplexitySimple), string(task.ComplexityModerate),
		string(task.ComplexityComplex), string(task.ComplexityVeryComplex),
	}
)

// pick returns v normalized when it is one of allowed, otherwise "".
func pick(v string, allowed []string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, " ", "_")
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return ""
}
