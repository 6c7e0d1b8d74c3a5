package tools

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aristath/taskloop/internal/observe"
	"github.com/aristath/taskloop/internal/process"
)

// runCommand runs params["command"] through bash in params["dir"] (default:
// the workspace). A non-zero exit is a failed result, not an error.
func (e *Executor) runCommand(ctx context.Context, params map[string]any) (observe.ToolResult, error) {
	command := strings.TrimSpace(stringParam(params, "command"))
	if command == "" {
		return failure("run_command needs a command"), nil
	}
	dir, _, err := e.resolve(stringParam(params, "dir"))
	if err != nil {
		return failure("%v", err), nil
	}
	return e.shell(ctx, dir, command)
}

// runTests runs the project's test command, narrowed to params["target"]
// when the runner supports it.
func (e *Executor) runTests(ctx context.Context, params map[string]any) (observe.ToolResult, error) {
	command := stringParam(params, "command")
	if command == "" {
		command = e.testCommand(stringParam(params, "target"))
	}
	if command == "" {
		return failure("run_tests: no test runner detected in %s", e.root), nil
	}
	return e.shell(ctx, e.root, command)
}

func (e *Executor) shell(ctx context.Context, dir, command string) (observe.ToolResult, error) {
	cmd := process.Command(ctx, dir, "bash", "-c", command)
	res, err := process.Run(ctx, cmd, e.cfg.Processes)

	out := observe.ToolResult{
		Output:      combine(res.Stdout, res.Stderr),
		CommandsRun: []string{command},
	}
	switch {
	case err == nil:
		out.Success = true
	case ctx.Err() != nil:
		// Let the caller tag deadlines.
		out.Error = fmt.Sprintf("%s: interrupted", command)
		return out, err
	default:
		if code, ok := process.ExitCode(err); ok {
			out.Error = fmt.Sprintf("%s: exit status %d", command, code)
		} else {
			out.Error = fmt.Sprintf("%s: %v", command, err)
		}
	}
	return out, nil
}

// testCommand picks a test command from the files in the workspace.
func (e *Executor) testCommand(target string) string {
	if e.cfg.TestCommand != "" {
		if target != "" {
			return e.cfg.TestCommand + " " + shellQuote(target)
		}
		return e.cfg.TestCommand
	}
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(e.root, name))
		return err == nil
	}
	switch {
	case exists("go.mod"):
		pkg := "./..."
		switch {
		case target == "":
		case strings.HasSuffix(target, "/..."):
			pkg = target
		default:
			dir := path.Dir(filepath.ToSlash(target))
			if strings.HasSuffix(target, "/") {
				dir = strings.TrimSuffix(target, "/")
			}
			pkg = "./" + strings.TrimPrefix(dir, "./")
			if dir == "." {
				pkg = "."
			}
		}
		return "go test " + shellQuote(pkg)
	case exists("Cargo.toml"):
		return "cargo test"
	case exists("package.json"):
		return "npm test --silent"
	case exists("pyproject.toml"), exists("setup.py"), exists("pytest.ini"), exists("tox.ini"):
		if target != "" {
			return "python -m pytest " + shellQuote(target)
		}
		return "python -m pytest"
	case exists("Makefile"):
		return "make test"
	}
	return ""
}

func combine(stdout, stderr []byte) string {
	out := strings.TrimRight(string(stdout), "\n")
	if errText := strings.TrimSpace(string(stderr)); errText != "" {
		if out != "" {
			out += "\n"
		}
		out += errText
	}
	return out
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '_' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
