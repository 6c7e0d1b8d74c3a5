// Package tools is the local tool executor. It runs the tools the
// decomposer binds (read, write, edit, search, analyze, test, command)
// against one workspace directory.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/process"
)

// Tool names handled by the executor.
const (
	ReadFile    = "read_file"
	WriteFile   = "write_file"
	EditFile    = "edit_file"
	SearchCode  = "search_code"
	AnalyzeCode = "analyze_code"
	RunTests    = "run_tests"
	RunCommand  = "run_command"
)

// Defaults.
const (
	DefaultMaxOutput  = 64 * 1024
	DefaultMaxMatches = 200
)

var (
	// ErrUnknownTool is returned for tool names the executor does not handle.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrOutsideWorkspace is reported for paths that escape the workspace.
	ErrOutsideWorkspace = errors.New("path escapes workspace")
)

// Config configures an Executor.
type Config struct {
	Workspace   string           // Root for every relative path (required)
	TestCommand string           // Overrides test command detection
	Agent       backend.Backend  // Optional; carries out instruction-only edits
	Processes   *process.Manager // Optional subprocess tracking
	MaxOutput   int              // Output bytes kept per call (default 64KiB)
	MaxMatches  int              // search_code match cap (default 200)
	Logger      *slog.Logger
}

// Executor runs tools in a workspace. It is safe for concurrent use.
type Executor struct {
	cfg    Config
	root   string
	logger *slog.Logger
}

// New creates an executor rooted at cfg.Workspace.
func New(cfg Config) (*Executor, error) {
	if cfg.Workspace == "" {
		return nil, errors.New("tools: workspace is required")
	}
	root, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("tools: resolve workspace: %w", err)
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = DefaultMaxMatches
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, root: root, logger: logger}, nil
}

// Names lists the tools the executor handles.
func (e *Executor) Names() []string {
	return []string{ReadFile, WriteFile, EditFile, SearchCode, AnalyzeCode, RunTests, RunCommand}
}

// Execute runs toolName with params. Tool-level failures (missing file, non
// zero exit) are reported in the result; the error return is reserved for
// unknown tools and cancellation.
func (e *Executor) Execute(ctx context.Context, taskID, toolName string, params map[string]any) (observe.ToolResult, error) {
	start := time.Now()
	var (
		res observe.ToolResult
		err error
	)
	switch toolName {
	case ReadFile:
		res = e.readFile(params)
	case WriteFile:
		res = e.writeFile(ctx, params)
	case EditFile:
		res = e.editFile(ctx, params)
	case SearchCode:
		res = e.searchCode(params)
	case AnalyzeCode:
		res = e.analyzeCode(params)
	case RunTests:
		res, err = e.runTests(ctx, params)
	case RunCommand:
		res, err = e.runCommand(ctx, params)
	default:
		return observe.ToolResult{}, fmt.Errorf("%w: %q", ErrUnknownTool, toolName)
	}
	res.Duration = time.Since(start)
	res.Output = clip(res.Output, e.cfg.MaxOutput)

	e.logger.Debug("tool finished",
		"task_id", taskID,
		"tool", toolName,
		"success", res.Success,
		"duration", res.Duration,
	)
	return res, err
}

// resolve maps a workspace-relative path to an absolute one, rejecting
// paths that leave the workspace.
func (e *Executor) resolve(p string) (abs, rel string, err error) {
	if p == "" {
		p = "."
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(e.root, p)
	}
	abs = filepath.Clean(p)
	rel, err = filepath.Rel(e.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return abs, filepath.ToSlash(rel), nil
}

func failure(format string, args ...any) observe.ToolResult {
	return observe.ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// stringsParam reads a []string param that may have passed through JSON.
func stringsParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return observe.Prefix(s, n) + "\n... (truncated)"
}
