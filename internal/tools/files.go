package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/taskloop/internal/observe"
)

// readFile returns a file's content, or the entries of a directory.
func (e *Executor) readFile(params map[string]any) observe.ToolResult {
	abs, rel, err := e.resolve(stringParam(params, "path"))
	if err != nil {
		return failure("%v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return failure("read %s: %v", rel, err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return failure("list %s: %v", rel, err)
		}
		var b strings.Builder
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			b.WriteString(name)
			b.WriteByte('\n')
		}
		return observe.ToolResult{Success: true, Output: b.String()}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return failure("read %s: %v", rel, err)
	}
	return observe.ToolResult{Success: true, Output: string(data)}
}

// writeFile writes params["content"] to params["path"]. Without content the
// request is handed to the agent backend when one is configured.
func (e *Executor) writeFile(ctx context.Context, params map[string]any) observe.ToolResult {
	content, hasContent := params["content"].(string)
	if !hasContent {
		return e.delegate(ctx, WriteFile, params)
	}
	abs, rel, err := e.resolve(stringParam(params, "path"))
	if err != nil {
		return failure("%v", err)
	}
	if rel == "." {
		return failure("write_file needs a file path")
	}

	_, statErr := os.Stat(abs)
	created := errors.Is(statErr, fs.ErrNotExist)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return failure("create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return failure("write %s: %v", rel, err)
	}

	res := observe.ToolResult{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), rel)}
	if created {
		res.FilesCreated = []string{rel}
	} else {
		res.FilesModified = []string{rel}
	}
	return res
}

// editFile replaces params["old"] with params["new"] in params["path"]. An
// edit without old/new is handed to the agent backend.
func (e *Executor) editFile(ctx context.Context, params map[string]any) observe.ToolResult {
	old, hasOld := params["old"].(string)
	replacement, hasNew := params["new"].(string)
	if !hasOld || !hasNew {
		return e.delegate(ctx, EditFile, params)
	}
	abs, rel, err := e.resolve(stringParam(params, "path"))
	if err != nil {
		return failure("%v", err)
	}
	if old == "" {
		return failure("edit_file: old text is empty")
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return failure("read %s: %v", rel, err)
	}
	text := string(data)
	n := strings.Count(text, old)
	switch {
	case n == 0:
		return failure("edit_file: text to replace not found in %s", rel)
	case n > 1 && params["all"] != true:
		return failure("edit_file: text to replace occurs %d times in %s; set all=true or add context", n, rel)
	}
	text = strings.ReplaceAll(text, old, replacement)

	info, err := os.Stat(abs)
	if err != nil {
		return failure("stat %s: %v", rel, err)
	}
	if err := os.WriteFile(abs, []byte(text), info.Mode().Perm()); err != nil {
		return failure("write %s: %v", rel, err)
	}
	return observe.ToolResult{
		Success:       true,
		Output:        fmt.Sprintf("replaced %d occurrence(s) in %s", n, rel),
		FilesModified: []string{rel},
	}
}
