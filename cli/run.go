package cli

// This file contains the run command, which wraps a test command in a run.

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"al.essio.dev/pkg/shellescape"
	"github.com/testomatio/reporter/model"
	"github.com/urfave/cli/v2"
)

func (a *App) run(ctx *cli.Context) error {
	args := removeFirstDashDash(ctx.Args().Slice())
	if len(args) == 0 {
		return fmt.Errorf("no command given, usage: %s run -- COMMAND [ARGS...]", AppName)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	runID, err := a.startRun(ctx, cfg)
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("run", runID).
		Str("command", shellescape.QuoteCommand(args)).
		Msg("Starting test command")

	cmd := exec.CommandContext(ctx.Context, args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = a.out
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "TESTOMATIO_RUN="+runID)

	runErr := cmd.Run()
	status := model.RunStatusPassed
	if runErr != nil {
		status = model.RunStatusFailed
	}

	if err := a.finishRun(ctx, cfg, runID, status); err != nil {
		a.logger.Error().Err(err).Str("run", runID).Msg("Failed to finish run")
	}
	a.forgetRun()

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			a.logger.Info().
				Int("exit_code", exitErr.ExitCode()).
				Msg("Tests completed with failures")
			return cli.Exit(fmt.Sprintf("tests failed with exit code %d", exitErr.ExitCode()), exitErr.ExitCode())
		}
		return fmt.Errorf("failed to execute tests: %w", runErr)
	}
	a.logger.Info().Msg("Tests completed successfully")
	return nil
}
