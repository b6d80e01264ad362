package cli

// This file contains the logs command for listing recorded debug logs.

import (
	"fmt"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/testomatio/reporter/history"
	"github.com/urfave/cli/v2"
)

func (a *App) logs(ctx *cli.Context) error {
	limit := ctx.Int("limit")

	entries, err := history.LoadEntries(a.logger, a.historyDir)
	if err != nil {
		return fmt.Errorf("failed to load debug logs: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No debug logs found")
		return nil
	}

	display := entries
	if limit > 0 && limit < len(display) {
		display = display[:limit]
	}

	fmt.Fprintf(a.out, "\n=== Debug logs (%d total) ===\n\n", len(entries))

	t := table.NewWriter()
	t.SetOutputMirror(a.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Index", "Recorded", "Size", "File"})
	for i, e := range display {
		t.AppendRow(table.Row{
			fmt.Sprintf("%d", -i),
			e.Time.Format("2006-01-02 15:04:05"),
			formatSize(e.Size),
			filepath.Base(e.Path),
		})
	}
	t.Render()

	if len(entries) > len(display) {
		fmt.Fprintf(a.out, "\n(showing %d of %d, use --limit to see more)\n", len(display), len(entries))
	}
	fmt.Fprintf(a.out, "\nReplay with: %s replay <index>\n", AppName)
	return nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
