package tools

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bitfield/script"

	"github.com/aristath/taskloop/internal/observe"
)

// skipDirs never take part in searches or analysis.
var skipDirs = regexp.MustCompile(`(^|/)(\.git|node_modules|vendor|\.taskloop|target|dist|__pycache__)/`)

// queryPattern turns a keyword query into a case-insensitive pattern that
// matches any of the words. A regex=true param uses the query verbatim.
func queryPattern(query string, isRegex bool) (*regexp.Regexp, error) {
	if isRegex {
		return regexp.Compile(query)
	}
	words := strings.Fields(query)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.Compile("(?i)" + strings.Join(words, "|"))
}

// sourceFiles lists the files under dir, relative to the workspace.
func (e *Executor) sourceFiles(dir string) ([]string, error) {
	files, err := script.FindFiles(dir).RejectRegexp(skipDirs).Slice()
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// searchCode finds lines and file names matching params["query"] under
// params["path"] (default: the workspace).
func (e *Executor) searchCode(params map[string]any) observe.ToolResult {
	query := strings.TrimSpace(stringParam(params, "query"))
	if query == "" {
		return failure("search_code needs a query")
	}
	re, err := queryPattern(query, params["regex"] == true)
	if err != nil {
		return failure("search_code: invalid pattern: %v", err)
	}
	abs, _, err := e.resolve(stringParam(params, "path"))
	if err != nil {
		return failure("%v", err)
	}
	files, err := e.sourceFiles(abs)
	if err != nil {
		return failure("search_code: %v", err)
	}

	var b strings.Builder
	matches := 0
	for _, file := range files {
		if matches >= e.cfg.MaxMatches {
			break
		}
		rel, _ := filepath.Rel(e.root, file)
		rel = filepath.ToSlash(rel)
		if re.MatchString(filepath.Base(rel)) {
			fmt.Fprintf(&b, "%s: (file name)\n", rel)
			matches++
		}

		lineNo := 0
		out, err := script.File(file).FilterScan(func(line string, w io.Writer) {
			lineNo++
			if re.MatchString(line) {
				fmt.Fprintf(w, "%s:%d: %s\n", rel, lineNo, strings.TrimSpace(line))
			}
		}).Slice()
		if err != nil {
			continue
		}
		for _, m := range out {
			if matches >= e.cfg.MaxMatches {
				break
			}
			b.WriteString(m)
			b.WriteByte('\n')
			matches++
		}
	}

	if matches == 0 {
		return observe.ToolResult{Success: true, Output: fmt.Sprintf("no matches for %q", query)}
	}
	fmt.Fprintf(&b, "%d matches for %q", matches, query)
	return observe.ToolResult{Success: true, Output: b.String()}
}

var (
	declPattern = regexp.MustCompile(`^\s*(func|def|class|fn|pub fn|function|type)\s`)
	todoPattern = regexp.MustCompile(`\b(TODO|FIXME|XXX)\b`)
)

type fileStats struct {
	path  string
	lines int
	decls int
	todos int
}

// analyzeCode summarizes a file or directory: line counts, declarations and
// open TODO markers per file.
func (e *Executor) analyzeCode(params map[string]any) observe.ToolResult {
	abs, rel, err := e.resolve(stringParam(params, "path"))
	if err != nil {
		return failure("%v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return failure("analyze %s: %v", rel, err)
	}

	files := []string{abs}
	if info.IsDir() {
		if files, err = e.sourceFiles(abs); err != nil {
			return failure("analyze %s: %v", rel, err)
		}
	}

	var stats []fileStats
	byExt := map[string]int{}
	total := fileStats{}
	for _, file := range files {
		s, err := analyzeFile(file)
		if err != nil {
			continue
		}
		s.path, _ = filepath.Rel(e.root, file)
		s.path = filepath.ToSlash(s.path)
		stats = append(stats, s)
		byExt[strings.TrimPrefix(filepath.Ext(file), ".")]++
		total.lines += s.lines
		total.decls += s.decls
		total.todos += s.todos
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d files, %d lines, %d declarations, %d TODO markers\n",
		rel, len(stats), total.lines, total.decls, total.todos)
	if len(byExt) > 1 {
		exts := make([]string, 0, len(byExt))
		for ext, n := range byExt {
			if ext == "" {
				ext = "(none)"
			}
			exts = append(exts, fmt.Sprintf("%s=%d", ext, n))
		}
		sort.Strings(exts)
		fmt.Fprintf(&b, "by extension: %s\n", strings.Join(exts, " "))
	}

	// Largest files first.
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].lines != stats[j].lines {
			return stats[i].lines > stats[j].lines
		}
		return stats[i].path < stats[j].path
	})
	for i, s := range stats {
		if i == 20 {
			fmt.Fprintf(&b, "... %d more files\n", len(stats)-i)
			break
		}
		fmt.Fprintf(&b, "  %s: %d lines, %d decls, %d todos\n", s.path, s.lines, s.decls, s.todos)
	}
	return observe.ToolResult{Success: true, Output: b.String()}
}

func analyzeFile(path string) (fileStats, error) {
	var s fileStats
	var err error
	if s.lines, err = script.File(path).CountLines(); err != nil {
		return s, err
	}
	if s.decls, err = script.File(path).MatchRegexp(declPattern).CountLines(); err != nil {
		return s, err
	}
	s.todos, err = script.File(path).MatchRegexp(todoPattern).CountLines()
	return s, err
}
