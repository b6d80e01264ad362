package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func (a *App) prepare(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	c, err := a.remoteClient(cfg, runParams(ctx, cfg))
	if err != nil {
		return err
	}
	defer c.Close()

	tests, err := c.PrepareRun(ctx.Context, ctx.String("filter"))
	if err != nil {
		return err
	}
	for _, t := range tests {
		fmt.Fprintln(a.out, t)
	}
	a.logger.Debug().Int("tests", len(tests)).Msg("Tests selected")
	return nil
}
