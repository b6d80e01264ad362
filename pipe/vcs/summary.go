package vcs

import (
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

// maxFailures is how many failed tests are listed in a comment.
const maxFailures = 20

// Summary renders the markdown comment for a finished run.
func Summary(status model.RunStatus, runURL string, results *pipe.Results) string {
	counts := results.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}

	var sb strings.Builder
	icon := "✅"
	if status == model.RunStatusFailed || counts[model.StatusFailed] > 0 {
		icon = "❌"
	}
	fmt.Fprintf(&sb, "### %s Testomat.io report: %s\n\n", icon, strings.ToUpper(string(orFinished(status))))

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Total", "Passed", "Failed", "Skipped"})
	t.AppendRow(table.Row{total, counts[model.StatusPassed], counts[model.StatusFailed], counts[model.StatusSkipped]})
	sb.WriteString(t.RenderMarkdown())
	sb.WriteString("\n")

	var failed []model.TestData
	for _, test := range results.Tests() {
		if test.Status == model.StatusFailed {
			failed = append(failed, test)
		}
	}
	if len(failed) > 0 {
		sb.WriteString("\n#### Failures\n\n")
		ft := table.NewWriter()
		ft.AppendHeader(table.Row{"Suite", "Test", "Message"})
		for i, test := range failed {
			if i == maxFailures {
				ft.AppendRow(table.Row{"", fmt.Sprintf("... and %d more", len(failed)-maxFailures), ""})
				break
			}
			ft.AppendRow(table.Row{test.SuiteTitle, test.Title, firstLine(failureMessage(test))})
		}
		sb.WriteString(ft.RenderMarkdown())
		sb.WriteString("\n")
	}

	if runURL != "" {
		fmt.Fprintf(&sb, "\n[Full report](%s)\n", runURL)
	}
	return sb.String()
}

func orFinished(s model.RunStatus) model.RunStatus {
	if s == "" {
		return model.RunStatusFinished
	}
	return s
}

func failureMessage(t model.TestData) string {
	if t.Error != nil && t.Error.Message != "" {
		return t.Error.Message
	}
	return t.Message
}

func firstLine(s string) string {
	s = strings.TrimSpace(stripansi.Strip(s))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
