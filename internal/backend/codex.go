package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aristath/taskloop/internal/process"
)

// CodexAdapter implements Backend for the Codex CLI. Each Send runs
// `codex exec --json` and reads the newline-delimited event stream it prints.
type CodexAdapter struct {
	command   string
	extraArgs []string
	workDir   string
	model     string
	stateless bool
	procMgr   *process.Manager

	mu       sync.Mutex
	threadID string // Empty until the CLI reports a thread
}

// codexEvent covers both event spellings: older CLIs print ThreadStarted and
// TurnCompleted, newer ones thread.started and item.completed.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
	Item     *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
	Message string `json:"message"`
}

// NewCodexAdapter creates a Codex backend. A provided cfg.SessionID is the
// thread to resume.
func NewCodexAdapter(cfg Config, procMgr *process.Manager) (*CodexAdapter, error) {
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
		command = "codex"
	}
	return &CodexAdapter{
		command:   command,
		extraArgs: cfg.Args,
		workDir:   workDir,
		model:     cfg.Model,
		stateless: cfg.Stateless,
		procMgr:   procMgr,
		threadID:  cfg.SessionID,
	}, nil
}

// Send runs one codex turn. After the first reply later turns resume the
// thread unless the adapter is stateless.
func (c *CodexAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := process.Command(ctx, c.workDir, c.command, c.buildArgs(msg)...)
	res, err := process.Run(ctx, cmd, c.procMgr)
	if err != nil {
		return Response{Error: fmt.Sprintf("codex command failed: %v", err)}, err
	}

	threadID, content, err := parseCodexEvents(res.Stdout)
	if err != nil {
		return Response{Error: fmt.Sprintf("failed to parse codex events: %v", err)}, err
	}
	if threadID != "" && !c.stateless {
		c.threadID = threadID
	}
	return Response{Content: content, SessionID: c.threadID}, nil
}

// buildArgs returns `exec <prompt> --json` for a new thread and
// `exec resume <thread> <prompt> --json` for a known one.
func (c *CodexAdapter) buildArgs(msg Message) []string {
	var args []string
	if c.stateless || c.threadID == "" {
		args = []string{"exec", msg.Content, "--json"}
	} else {
		args = []string{"exec", "resume", c.threadID, msg.Content, "--json"}
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	return append(args, c.extraArgs...)
}

// parseCodexEvents extracts the thread id and the final agent message from
// the event stream. An error event fails the turn.
func parseCodexEvents(data []byte) (threadID, content string, err error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return "", "", fmt.Errorf("failed to parse event: %w", err)
		}

		switch evt.Type {
		case "ThreadStarted", "thread.started":
			threadID = evt.ThreadID
		case "TurnCompleted":
			content = evt.Content
		case "item.completed":
			if evt.Item != nil && evt.Item.Type == "agent_message" {
				content = evt.Item.Text
			}
		case "error", "turn.failed":
			return threadID, "", fmt.Errorf("codex reported an error: %s", evt.Message)
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", fmt.Errorf("error reading events: %w", err)
	}
	return threadID, content, nil
}

// Close is a no-op; codex runs once per message.
func (c *CodexAdapter) Close() error {
	return nil
}

// SessionID returns the current thread id.
func (c *CodexAdapter) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}
