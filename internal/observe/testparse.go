package observe

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	goTestPass    = regexp.MustCompile(`(?m)^\s*--- PASS:`)
	goTestFail    = regexp.MustCompile(`(?m)^\s*--- FAIL:`)
	goTestSkip    = regexp.MustCompile(`(?m)^\s*--- SKIP:`)
	goPkgOK       = regexp.MustCompile(`(?m)^ok\s+\S+`)
	goPkgFail     = regexp.MustCompile(`(?m)^FAIL\s+\S+`)
	pytestSummary = regexp.MustCompile(`(?m)^=*\s*((?:\d+ \w+(?:, )?)+) in [\d.]+s`)
	pytestCount   = regexp.MustCompile(`(\d+) (passed|failed|skipped|error|errors)`)
	jestSummary   = regexp.MustCompile(`(?m)^Tests:\s+(.+?)\s*$`)
	jestCount     = regexp.MustCompile(`(\d+) (passed|failed|skipped|todo|total)`)
	cargoSummary  = regexp.MustCompile(`test result: \w+\. (\d+) passed; (\d+) failed; (\d+) ignored`)
)

// ParseTestSummary recognizes common test-runner summaries in output.
// Returns nil when the output carries no recognizable summary.
func ParseTestSummary(output string) *TestSummary {
	if m := cargoSummary.FindAllStringSubmatch(output, -1); len(m) > 0 {
		s := &TestSummary{Framework: "cargo"}
		for _, g := range m {
			s.Passed += atoi(g[1])
			s.Failed += atoi(g[2])
			s.Skipped += atoi(g[3])
		}
		s.Total = s.Passed + s.Failed + s.Skipped
		return s
	}

	if m := jestSummary.FindStringSubmatch(output); m != nil {
		s := &TestSummary{Framework: "jest"}
		for _, g := range jestCount.FindAllStringSubmatch(m[1], -1) {
			switch g[2] {
			case "passed":
				s.Passed = atoi(g[1])
			case "failed":
				s.Failed = atoi(g[1])
			case "skipped", "todo":
				s.Skipped += atoi(g[1])
			case "total":
				s.Total = atoi(g[1])
			}
		}
		if s.Total == 0 {
			s.Total = s.Passed + s.Failed + s.Skipped
		}
		return s
	}

	if m := pytestSummary.FindStringSubmatch(output); m != nil {
		s := &TestSummary{Framework: "pytest"}
		for _, g := range pytestCount.FindAllStringSubmatch(m[1], -1) {
			switch g[2] {
			case "passed":
				s.Passed = atoi(g[1])
			case "failed", "error", "errors":
				s.Failed += atoi(g[1])
			case "skipped":
				s.Skipped = atoi(g[1])
			}
		}
		s.Total = s.Passed + s.Failed + s.Skipped
		return s
	}

	passed := len(goTestPass.FindAllString(output, -1))
	failed := len(goTestFail.FindAllString(output, -1))
	skipped := len(goTestSkip.FindAllString(output, -1))
	if passed+failed+skipped > 0 {
		return &TestSummary{Framework: "go", Passed: passed, Failed: failed, Skipped: skipped, Total: passed + failed + skipped}
	}

	// Non-verbose go test only prints per-package lines.
	okPkgs := len(goPkgOK.FindAllString(output, -1))
	failPkgs := len(goPkgFail.FindAllString(output, -1))
	if okPkgs+failPkgs > 0 {
		return &TestSummary{Framework: "go", Passed: okPkgs, Failed: failPkgs, Total: okPkgs + failPkgs}
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
