package decompose

import (
	"regexp"
	"strings"

	"github.com/aristath/taskloop/internal/task"
)

// Tool names bound by the heuristic templates.
const (
	ToolSearchCode  = "search_code"
	ToolReadFile    = "read_file"
	ToolAnalyzeCode = "analyze_code"
	ToolEditFile    = "edit_file"
	ToolWriteFile   = "write_file"
	ToolRunTests    = "run_tests"
)

type templateKind int

const (
	kindGeneric templateKind = iota
	kindImplement
	kindFix
	kindRefactor
	kindTest
)

var verbs = map[string]templateKind{
	"implement": kindImplement, "implements": kindImplement, "implementing": kindImplement,
	"add": kindImplement, "adds": kindImplement, "adding": kindImplement,
	"create": kindImplement, "creates": kindImplement, "creating": kindImplement,
	"build": kindImplement, "builds": kindImplement, "building": kindImplement,
	"fix": kindFix, "fixes": kindFix, "fixing": kindFix,
	"debug": kindFix, "debugging": kindFix,
	"repair": kindFix, "repairs": kindFix, "repairing": kindFix,
	"refactor": kindRefactor, "refactors": kindRefactor, "refactoring": kindRefactor,
	"clean": kindRefactor, "cleanup": kindRefactor,
	"test": kindTest, "tests": kindTest, "testing": kindTest,
	"verify": kindTest, "verifies": kindTest, "verifying": kindTest,
}

var (
	wordPattern = regexp.MustCompile(`[a-z]+`)
	filePattern = regexp.MustCompile(`[\w./-]*\w\.(?:go|py|js|jsx|ts|tsx|rs|java|kt|rb|c|h|cc|cpp|hpp|cs|php|swift|md|json|ya?ml|toml|sql|sh)\b`)
)

// step is one entry of a heuristic template. An empty prefix uses the parent
// description verbatim.
type step struct {
	prefix string
	typ    task.Type
	tool   string
}

var templates = map[templateKind][]step{
	kindImplement: {
		{"Analyze requirements for", task.TypeAnalyze, ToolAnalyzeCode},
		{"Read existing code for", task.TypeRead, ToolReadFile},
		{"", task.TypeEdit, ToolEditFile},
		{"Test changes for", task.TypeTest, ToolRunTests},
	},
	kindFix: {
		{"Search for code related to", task.TypeSearch, ToolSearchCode},
		{"Read relevant code for", task.TypeRead, ToolReadFile},
		{"Analyze root cause of", task.TypeAnalyze, ToolAnalyzeCode},
		{"", task.TypeEdit, ToolEditFile},
		{"Test fix for", task.TypeTest, ToolRunTests},
	},
	kindRefactor: {
		{"Analyze current structure for", task.TypeAnalyze, ToolAnalyzeCode},
		{"Identify refactoring targets for", task.TypeRead, ToolReadFile},
		{"", task.TypeEdit, ToolEditFile},
		{"Test behavior after", task.TypeTest, ToolRunTests},
	},
	kindTest: {
		{"Read code under test for", task.TypeRead, ToolReadFile},
		{"Identify test cases for", task.TypeAnalyze, ToolAnalyzeCode},
		{"Write tests for", task.TypeCreate, ToolWriteFile},
		{"Run tests for", task.TypeTest, ToolRunTests},
	},
	kindGeneric: {
		{"Analyze", task.TypeAnalyze, ToolAnalyzeCode},
		{"Carry out", task.TypeEdit, ToolEditFile},
		{"Verify", task.TypeTest, ToolRunTests},
	},
}

// classify returns the template keyed on the first recognized verb.
func classify(description string) templateKind {
	for _, w := range wordPattern.FindAllString(strings.ToLower(description), -1) {
		if kind, ok := verbs[w]; ok {
			return kind
		}
	}
	return kindGeneric
}

// TargetFile extracts the first file path mentioned in a description.
func TargetFile(description string) string {
	return filePattern.FindString(description)
}

// fromTemplates builds the heuristic children for t. Each step depends on the
// previous one and is marked simple so recursion stops at the next level.
func (d *Decomposer) fromTemplates(t *task.Task) []*task.Task {
	steps := templates[classify(t.Description)]
	file := TargetFile(t.Description)
	subject := lowerFirst(t.Description)

	children := make([]*task.Task, 0, len(steps))
	for i, s := range steps {
		desc := t.Description
		if s.prefix != "" {
			desc = s.prefix + " " + subject
		}
		child := task.New(desc, s.typ, t.Priority, task.ComplexitySimple)
		child.Bind(s.tool, toolParams(s, file, t.Description))
		if i > 0 {
			child.DependsOn = []string{children[i-1].ID}
		}
		children = append(children, child)
	}
	return children
}

func toolParams(s step, file, description string) map[string]any {
	params := map[string]any{}
	switch s.tool {
	case ToolSearchCode:
		params["query"] = searchQuery(description, file)
	case ToolReadFile, ToolAnalyzeCode:
		if file != "" {
			params["path"] = file
		} else {
			params["path"] = "."
		}
	case ToolEditFile:
		params["instructions"] = description
		if file != "" {
			params["path"] = file
		}
	case ToolWriteFile:
		params["instructions"] = description
		if tf := testFileFor(file); tf != "" {
			params["path"] = tf
		}
	case ToolRunTests:
		if file != "" {
			params["target"] = file
		}
	}
	return params
}

// testFileFor names the conventional test file for a source file.
func testFileFor(file string) string {
	dir, base := "", file
	if i := strings.LastIndex(file, "/"); i >= 0 {
		dir, base = file[:i+1], file[i+1:]
	}
	switch {
	case strings.HasSuffix(base, "_test.go"), strings.HasPrefix(base, "test_"):
		return file
	case strings.HasSuffix(base, ".go"):
		return dir + strings.TrimSuffix(base, ".go") + "_test.go"
	case strings.HasSuffix(base, ".py"):
		return dir + "test_" + base
	}
	return ""
}

// searchQuery picks the most specific words of a description for a code search.
func searchQuery(description, file string) string {
	if file != "" {
		base := file[strings.LastIndex(file, "/")+1:]
		if dot := strings.IndexByte(base, '.'); dot > 0 {
			base = base[:dot]
		}
		return base
	}
	var words []string
	for _, w := range strings.Fields(description) {
		lw := strings.ToLower(strings.Trim(w, ".,;:!?\"'"))
		if _, isVerb := verbs[lw]; isVerb || stopWords[lw] || len(lw) < 3 {
			continue
		}
		words = append(words, lw)
	}
	return strings.Join(words, " ")
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "when": true, "new": true,
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	// Keep acronyms and identifiers intact
	if len(s) > 1 && s[1] >= 'A' && s[1] <= 'Z' {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
