package cli

// This file contains the replay command for resending debug logs.

import (
	"fmt"

	"github.com/testomatio/reporter/history"
	"github.com/testomatio/reporter/replay"
	"github.com/urfave/cli/v2"
)

func (a *App) replay(ctx *cli.Context) error {
	arg, dryRun, err := parseReplayArgs(ctx.Args().Slice())
	if err != nil {
		return err
	}

	path := arg
	if arg == "" || isIndex(arg) {
		entries, err := history.LoadEntries(a.logger, a.historyDir)
		if err != nil {
			return fmt.Errorf("failed to load debug logs: %w", err)
		}
		path, err = resolveDebugLog(entries, arg)
		if err != nil {
			return err
		}
	}

	engine := replay.NewEngine(a.logger, a.replayOpts...)
	res, err := engine.Replay(ctx.Context, path, replay.Options{DryRun: dryRun})
	if err != nil {
		return err
	}

	if res.DryRun {
		fmt.Fprintf(a.out, "%s: %d tests, run %q, %d parse errors (dry run, nothing sent)\n",
			res.Path, res.Tests, res.RunID, res.ParseErrors)
		return nil
	}
	fmt.Fprintf(a.out, "%s: %d tests replayed, %d succeeded, %d failed, %d not reported\n",
		res.Path, res.Tests, res.Succeeded, res.Failed, res.NotReported)
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d tests failed to replay", res.Failed, res.Tests)
	}
	if res.NotReported > 0 {
		return fmt.Errorf("%d of %d tests were not reported", res.NotReported, res.Tests)
	}
	return nil
}
