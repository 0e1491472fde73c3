package cli

import (
	"context"
	"flag"
)

func newLogoutCommand(app *App) *Command {
	cmd := &Command{
		Name:        "logout",
		Description: "Forget the persisted session",
		Flags:       flag.NewFlagSet("logout", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(app.stdout)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return app.withManager(func(ctx context.Context, m SessionManager) error {
			m.Logout(ctx)
			app.printf("logged out\n")
			return nil
		})
	}

	return cmd
}
