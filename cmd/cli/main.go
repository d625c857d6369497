package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/esimtools/esimgate/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login     commands.LoginCmd     `cmd:"" help:"Sign in to the carrier and save a session"`
		Challenge commands.ChallengeCmd `cmd:"" help:"Request an MFA code"`
		Activate  commands.ActivateCmd  `cmd:"" help:"Run the eSIM activation"`
		Status    commands.StatusCmd    `cmd:"" help:"Show the saved session state"`
		Clear     commands.ClearCmd     `cmd:"" help:"Delete the saved session"`
		Debug     bool                  `help:"Enable debug mode."`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
