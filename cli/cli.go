package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/testomatio/reporter/history"
	"github.com/testomatio/reporter/replay"
	"github.com/urfave/cli/v2"
)

const AppName = "testomatio-reporter"

type App struct {
	logger     zerolog.Logger
	cli        *cli.App
	out        io.Writer
	historyDir string
	metrics    *metricsServer
	replayOpts []replay.EngineOption
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger:     logger,
		out:        os.Stdout,
		historyDir: history.Dir(),
	}
	app.cli = &cli.App{
		Name:  AppName,
		Usage: "Report test runs to Testomat.io and other destinations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose (debug) logging",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve prometheus metrics on this address while the command runs (e.g. :9090)",
			},
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			if addr := ctx.String("metrics-addr"); addr != "" {
				srv, err := startMetricsServer(app.logger, addr)
				if err != nil {
					return err
				}
				app.metrics = srv
			}
			return nil
		},
		After: func(ctx *cli.Context) error {
			if app.metrics != nil {
				app.metrics.stop()
			}
			return nil
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "start",
		Usage:  "Create a run and print its id",
		Action: app.start,
		Flags:  runFlags(),
		Description: `Create a run on Testomat.io and print its id.

The id is also remembered for an hour, so a later finish command picks it
up without arguments. Pass it to test processes as TESTOMATIO_RUN to report
into the same run.`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "finish",
		Usage:  "Finish a run created by start",
		Action: app.finish,
		Flags: append(connectionFlags(),
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run to finish (default: TESTOMATIO_RUN or the last started run)",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Final status: passed, failed or finished",
				Value: "finished",
			},
			&cli.BoolFlag{
				Name:  "parallel",
				Usage: "Finish a parallel run",
			},
		),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run a test command inside a run",
		ArgsUsage: "-- COMMAND [ARGS...]",
		Action:    app.run,
		Flags:     runFlags(),
		Description: `Create a run, execute the command with TESTOMATIO_RUN set and finish
the run with passed or failed depending on the exit code.

Example:
  testomatio-reporter run --title "Nightly" -- npx playwright test`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "prepare",
		Usage:  "Print the tests selected by a filter",
		Action: app.prepare,
		Flags: append(connectionFlags(),
			&cli.StringFlag{
				Name:     "filter",
				Usage:    "Test filter: tag=, plan=, label= or jira=<id>",
				Required: true,
			},
		),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "replay",
		Usage:           "Resend a run recorded in a debug log",
		ArgsUsage:       "[--dry-run] [PATH|INDEX]",
		Action:          app.replay,
		SkipFlagParsing: true,
		Description: `Resend a run recorded with TESTOMATIO_DEBUG=1.

Arguments:
  0           Replay the latest debug log (default)
  -1          Replay the 2nd latest debug log
  <path>      Replay the given file

Flags:
  --dry-run   Parse and summarize the log without sending anything`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "logs",
		Usage:  "List recorded debug logs",
		Action: app.logs,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
