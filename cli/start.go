package cli

// This file contains the start and finish commands, which split a run across
// several processes.

import (
	"errors"
	"fmt"
	"time"

	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/history"
	"github.com/testomatio/reporter/model"
	"github.com/urfave/cli/v2"
)

var errRunNotCreated = errors.New("run was not created")

func (a *App) start(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	runID, err := a.startRun(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, runID)
	return nil
}

func (a *App) finish(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	runID := ctx.String("run-id")
	if runID == "" {
		runID = cfg.RunID
	}
	if runID == "" {
		ptr, err := history.LoadRun(a.historyDir, time.Now())
		if err != nil {
			if errors.Is(err, history.ErrNoRun) {
				return fmt.Errorf("no run to finish: pass --run-id or set TESTOMATIO_RUN")
			}
			return err
		}
		runID = ptr.RunID
	}

	status := model.ParseRunStatus(ctx.String("status"))
	if !status.IsTerminal() {
		return fmt.Errorf("invalid status %q: use passed, failed or finished", ctx.String("status"))
	}
	if err := a.finishRun(ctx, cfg, runID, status); err != nil {
		return err
	}
	a.forgetRun()
	return nil
}

// startRun creates the run and remembers it for a later finish.
func (a *App) startRun(ctx *cli.Context, cfg *config.Config) (string, error) {
	c, err := a.remoteClient(cfg, runParams(ctx, cfg))
	if err != nil {
		return "", err
	}
	defer c.Close()

	if err := c.CreateRun(ctx.Context, runParams(ctx, cfg)); err != nil {
		return "", err
	}
	// set only once the service confirmed the run
	runID := c.Store().RunID()
	if runID == "" {
		return "", errRunNotCreated
	}

	if err := history.SaveRun(a.historyDir, runID); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to remember current run")
	}
	return runID, nil
}

// finishRun sends the terminal status of an existing run.
func (a *App) finishRun(ctx *cli.Context, cfg *config.Config, runID string, status model.RunStatus) error {
	cfg.RunID = runID
	cfg.Proceed = false

	params := runParams(ctx, cfg)
	c, err := a.remoteClient(cfg, params)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.UpdateRunStatus(ctx.Context, status, params.Parallel)
}

func (a *App) forgetRun() {
	if err := history.ClearRun(a.historyDir); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to clear current run")
	}
}
