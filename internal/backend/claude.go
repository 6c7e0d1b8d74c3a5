package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/aristath/taskloop/internal/process"
)

// ClaudeAdapter implements the Backend interface for Claude Code CLI.
type ClaudeAdapter struct {
	command      string
	extraArgs    []string
	sessionID    string
	workDir      string
	model        string
	systemPrompt string
	stateless    bool
	procMgr      *process.Manager

	mu      sync.Mutex // Serializes Send so session flags stay ordered
	started bool
}

// claudeResponse is the JSON printed by `claude -p --output-format json`.
// Current CLI versions print the final text in a string "result"; older ones
// printed {"result": {"content": [{"type": "text", "text": "..."}]}}.
type claudeResponse struct {
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeAdapter creates a new Claude Code backend adapter.
// If cfg.SessionID is empty, a new UUID will be generated.
// The process.Manager is optional - if nil, subprocesses won't be tracked.
func NewClaudeAdapter(cfg Config, procMgr *process.Manager) (*ClaudeAdapter, error) {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	command := cfg.Command
	if command == "" {
		command = "claude"
	}

	return &ClaudeAdapter{
		command:      command,
		extraArgs:    cfg.Args,
		sessionID:    sessionID,
		workDir:      workDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		stateless:    cfg.Stateless,
		procMgr:      procMgr,
	}, nil
}

// Send sends a message to Claude Code CLI and returns the response.
// The first call uses --session-id, subsequent calls use --resume.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	args := a.buildArgs(msg, a.started)
	cmd := process.Command(ctx, a.workDir, a.command, args...)

	res, err := process.Run(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("claude command failed: %v", err),
		}, err
	}

	resp, err := parseClaudeResponse(res.Stdout)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("failed to parse claude response: %v (stderr: %s)", err, string(res.Stderr)),
		}, err
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("claude reported an error: %s", resp.Error)
	}

	// Mark as started after first successful call
	a.started = true

	return resp, nil
}

// Close is a no-op for Claude Code (subprocess-per-invocation model).
func (a *ClaudeAdapter) Close() error {
	return nil
}

// SessionID returns the current session identifier.
func (a *ClaudeAdapter) SessionID() string {
	return a.sessionID
}

// buildArgs constructs the command-line arguments for the claude CLI.
// isResume determines whether to use --session-id (false) or --resume (true).
func (a *ClaudeAdapter) buildArgs(msg Message, isResume bool) []string {
	args := []string{"-p", msg.Content, "--output-format", "json"}

	// Session management: first call uses --session-id, subsequent use --resume
	switch {
	case a.stateless:
	case isResume:
		args = append(args, "--resume", a.sessionID)
	default:
		args = append(args, "--session-id", a.sessionID)
	}

	if a.model != "" {
		args = append(args, "--model", a.model)
	}

	if a.systemPrompt != "" {
		args = append(args, "--system-prompt", a.systemPrompt)
	}

	return append(args, a.extraArgs...)
}

// parseClaudeResponse parses the JSON output from Claude Code CLI.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var content string
	if len(cr.Result) > 0 {
		var text string
		if err := json.Unmarshal(cr.Result, &text); err == nil {
			content = text
		} else {
			var blocks claudeContent
			if err := json.Unmarshal(cr.Result, &blocks); err != nil {
				return Response{}, fmt.Errorf("unexpected result shape: %w", err)
			}
			for _, item := range blocks.Content {
				if item.Type == "text" {
					content += item.Text
				}
			}
		}
	}

	resp := Response{
		Content:   content,
		SessionID: cr.SessionID,
	}
	if cr.IsError {
		resp.Error = content
		if resp.Error == "" {
			resp.Error = "unknown error"
		}
	}
	return resp, nil
}
