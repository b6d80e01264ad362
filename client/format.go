package client

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/testomatio/reporter/model"
)

const (
	StepsHeader   = "################[ Steps ]################"
	LogsHeader    = "################[ Logs ]################"
	FailureHeader = "################[ Failure ]################"

	snippetContext = 2
)

var (
	frameRe = regexp.MustCompile(`((?:[A-Za-z]:)?[^\s():'"]+\.[A-Za-z]+):(\d+)`)

	libraryPaths = []string{
		"node_modules/",
		"/go/pkg/mod/",
		"/vendor/",
		"site-packages/",
		"/usr/lib/",
		"/usr/local/lib/",
		"node:internal",
		"<anonymous>",
	}

	userStep      = text.Colors{}
	frameworkStep = text.Colors{text.FgHiBlack}
	hookStep      = text.Colors{text.FgHiBlack, text.Italic}
	failedStep    = text.Colors{text.FgRed}
)

// FormatLogs builds the stack block of a test: steps, then logs, then the
// failure. Empty sections are left out.
func FormatLogs(steps []model.Step, logs string, failure *model.TestError) string {
	var sections []string
	if s := FormatSteps(steps); s != "" {
		sections = append(sections, StepsHeader+"\n"+s)
	}
	if logs = strings.TrimRight(logs, "\n"); strings.TrimSpace(logs) != "" {
		sections = append(sections, LogsHeader+"\n"+logs)
	}
	if f := FormatError(failure); f != "" {
		sections = append(sections, FailureHeader+"\n"+f)
	}
	return strings.Join(sections, "\n\n")
}

// FormatSteps renders the step tree, one indented line per step.
func FormatSteps(steps []model.Step) string {
	var lines []string
	var walk func(steps []model.Step, depth int)
	walk = func(steps []model.Step, depth int) {
		for _, s := range steps {
			line := strings.Repeat("  ", depth) + s.Title
			if s.Duration > 0 {
				line += fmt.Sprintf(" (%s)", formatDuration(s.Duration))
			}
			lines = append(lines, stepColors(s).Sprint(line))
			walk(s.Steps, depth+1)
		}
	}
	walk(steps, 0)
	return strings.Join(lines, "\n")
}

func stepColors(s model.Step) text.Colors {
	if s.Error != nil {
		return failedStep
	}
	switch s.Category {
	case model.StepCategoryFramework:
		return frameworkStep
	case model.StepCategoryHook:
		return hookStep
	default:
		return userStep
	}
}

func formatDuration(ms float64) string {
	if ms < 1000 {
		return strconv.FormatFloat(ms, 'f', -1, 64) + "ms"
	}
	return strconv.FormatFloat(ms/1000, 'f', 2, 64) + "s"
}

// FormatError renders a failure: the message, the diff (or expected and
// actual), a source snippet around the first frame outside of libraries and
// the stack trace.
func FormatError(e *model.TestError) string {
	if e == nil {
		return ""
	}
	var parts []string
	if e.Message != "" {
		parts = append(parts, text.FgRed.Sprint(e.Message))
	}
	switch {
	case e.Diff != "":
		parts = append(parts, e.Diff)
	case e.Expected != "" || e.Actual != "":
		parts = append(parts, fmt.Sprintf("%s\n%s",
			text.FgGreen.Sprint("+ expected: "+e.Expected),
			text.FgRed.Sprint("- actual:   "+e.Actual)))
	}
	if e.Stack != "" {
		if snippet := sourceSnippet(e.Stack); snippet != "" {
			parts = append(parts, snippet)
		}
		parts = append(parts, text.FgHiBlack.Sprint(e.Stack))
	}
	return strings.Join(parts, "\n\n")
}

// sourceSnippet shows the lines around the first stack frame that points
// into a readable file outside of library code.
func sourceSnippet(stack string) string {
	for _, m := range frameRe.FindAllStringSubmatch(stack, -1) {
		file := strings.TrimPrefix(m[1], "file://")
		if isLibraryPath(file) {
			continue
		}
		line, err := strconv.Atoi(m[2])
		if err != nil || line <= 0 {
			continue
		}
		if snippet, ok := readSnippet(file, line); ok {
			return snippet
		}
	}
	return ""
}

func isLibraryPath(file string) bool {
	file = strings.ReplaceAll(file, "\\", "/")
	for _, p := range libraryPaths {
		if strings.Contains(file, p) {
			return true
		}
	}
	return false
}

func readSnippet(file string, line int) (string, bool) {
	f, err := os.Open(file)
	if err != nil {
		return "", false
	}
	defer f.Close()

	from, to := line-snippetContext, line+snippetContext
	width := len(strconv.Itoa(to))
	var out []string
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan() && n <= to; n++ {
		if n < from {
			continue
		}
		marker := "  "
		if n == line {
			marker = "> "
		}
		row := fmt.Sprintf("%s%*d | %s", marker, width, n, scanner.Text())
		if n == line {
			row = text.Bold.Sprint(row)
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return "", false
	}
	return file + ":" + strconv.Itoa(line) + "\n" + strings.Join(out, "\n"), true
}
