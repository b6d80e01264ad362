package cli

// This file contains the flags shared by the run lifecycle commands and the
// client they report through.

import (
	"errors"
	"fmt"

	"github.com/testomatio/reporter/client"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
	"github.com/testomatio/reporter/pipe/testomatio"
	"github.com/urfave/cli/v2"
)

var errNoAPIKey = errors.New("api key is required: set TESTOMATIO or pass --api-key")

func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "Project API key",
			EnvVars: []string{"TESTOMATIO"},
		},
		&cli.StringFlag{
			Name:  "url",
			Usage: "Reporting service URL",
		},
		&cli.StringFlag{
			Name:  "config-dir",
			Usage: "Directory holding .env and " + config.ProjectFile,
			Value: ".",
		},
	}
}

func runFlags() []cli.Flag {
	return append(connectionFlags(),
		&cli.StringFlag{
			Name:  "title",
			Usage: "Run title",
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "Environment description, e.g. \"linux,chrome\"",
		},
		&cli.StringFlag{
			Name:  "label",
			Usage: "Run label",
		},
		&cli.StringFlag{
			Name:  "group-title",
			Usage: "Run group to attach the run to",
		},
		&cli.BoolFlag{
			Name:  "shared-run",
			Usage: "Join a run shared between processes with the same title",
		},
		&cli.BoolFlag{
			Name:  "parallel",
			Usage: "Report a run executed by parallel processes",
		},
	)
}

// loadConfig reads the configuration and applies the command line overrides.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String("config-dir"))
	if err != nil {
		return nil, err
	}
	override := func(dst *string, name string) {
		if ctx.IsSet(name) {
			*dst = ctx.String(name)
		}
	}
	override(&cfg.APIKey, "api-key")
	override(&cfg.URL, "url")
	override(&cfg.Title, "title")
	override(&cfg.Env, "env")
	override(&cfg.Label, "label")
	override(&cfg.GroupTitle, "group-title")
	if ctx.IsSet("shared-run") {
		cfg.SharedRun = ctx.Bool("shared-run")
	}
	if cfg.APIKey == "" {
		return nil, errNoAPIKey
	}
	return cfg, nil
}

func runParams(ctx *cli.Context, cfg *config.Config) model.RunParams {
	return model.RunParams{
		RunID:            cfg.RunID,
		Title:            cfg.Title,
		Env:              cfg.Env,
		GroupTitle:       cfg.GroupTitle,
		Label:            cfg.Label,
		Parallel:         ctx.Bool("parallel"),
		SharedRun:        cfg.SharedRun,
		SharedRunTimeout: cfg.SharedRunTimeout,
		JiraID:           cfg.JiraID,
		CIBuildURL:       cfg.CIBuildURL,
	}
}

// remoteClient builds a client reporting only to the Testomat.io pipe. The
// local report pipes belong to the test process, not to these commands.
func (a *App) remoteClient(cfg *config.Config, params model.RunParams) (*client.Client, error) {
	store := pipe.NewStore()
	remote, err := testomatio.New(pipe.Deps{
		Logger: a.logger,
		Config: cfg,
		Store:  store,
		Params: params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build reporting pipe: %w", err)
	}
	if !remote.IsEnabled() {
		return nil, fmt.Errorf("reporting to %s is disabled, check the api key and url", cfg.URL)
	}
	c := client.New(a.logger, cfg, client.WithStore(store), client.WithPipes(remote))
	return c, nil
}
