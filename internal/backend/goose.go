package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aristath/taskloop/internal/process"
)

// GooseAdapter implements Backend for the Goose CLI, which also fronts local
// model providers such as Ollama through --provider.
type GooseAdapter struct {
	command      string
	extraArgs    []string
	sessionName  string
	workDir      string
	model        string
	provider     string
	systemPrompt string
	stateless    bool
	procMgr      *process.Manager

	mu      sync.Mutex
	started bool
}

type gooseResponse struct {
	Content string `json:"content"`
}

// NewGooseAdapter creates a Goose backend. Without cfg.SessionID the session
// is named "taskloop-<random hex>".
func NewGooseAdapter(cfg Config, procMgr *process.Manager) (*GooseAdapter, error) {
	name := cfg.SessionID
	if name == "" {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate session name: %w", err)
		}
		name = "taskloop-" + hex.EncodeToString(b)
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
		command = "goose"
	}

	return &GooseAdapter{
		command:      command,
		extraArgs:    cfg.Args,
		sessionName:  name,
		workDir:      workDir,
		model:        cfg.Model,
		provider:     cfg.Provider,
		systemPrompt: cfg.SystemPrompt,
		stateless:    cfg.Stateless,
		procMgr:      procMgr,
	}, nil
}

// Send runs one goose turn. Output that is not JSON is returned as plain
// text, since older goose builds ignore --output-format.
func (g *GooseAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cmd := process.Command(ctx, g.workDir, g.command, g.buildArgs(msg)...)
	res, err := process.Run(ctx, cmd, g.procMgr)
	if err != nil {
		return Response{
			Error:     fmt.Sprintf("goose command failed: %v", err),
			SessionID: g.sessionName,
		}, err
	}

	resp, err := parseGooseResponse(res.Stdout)
	if err != nil {
		resp = Response{Content: strings.TrimSpace(string(res.Stdout))}
	}
	resp.SessionID = g.sessionName
	g.started = true
	return resp, nil
}

// buildArgs names the session on the first turn and resumes it afterwards.
// Stateless adapters run without a session.
func (g *GooseAdapter) buildArgs(msg Message) []string {
	args := []string{"run", "--text", msg.Content, "--output-format", "json"}

	switch {
	case g.stateless:
		args = append(args, "--no-session")
	case g.started:
		args = append(args, "--name", g.sessionName, "--resume")
	default:
		args = append(args, "--name", g.sessionName)
	}

	if g.provider != "" {
		args = append(args, "--provider", g.provider)
	}
	if g.model != "" {
		args = append(args, "--model", g.model)
	}
	if g.systemPrompt != "" {
		args = append(args, "--system", g.systemPrompt)
	}
	return append(args, g.extraArgs...)
}

// parseGooseResponse accepts a single JSON object or newline-delimited
// objects, joining their content.
func parseGooseResponse(data []byte) (Response, error) {
	var single gooseResponse
	if err := json.Unmarshal(data, &single); err == nil {
		return Response{Content: single.Content}, nil
	}

	var parts []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var r gooseResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &r); err == nil && r.Content != "" {
			parts = append(parts, r.Content)
		}
	}
	if len(parts) == 0 {
		return Response{}, fmt.Errorf("failed to parse goose JSON response")
	}
	return Response{Content: strings.Join(parts, "\n")}, nil
}

// Close is a no-op; goose runs once per message.
func (g *GooseAdapter) Close() error {
	return nil
}

// SessionID returns the session name.
func (g *GooseAdapter) SessionID() string {
	return g.sessionName
}
