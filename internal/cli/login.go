package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/edufolio/adminconsole/internal/auth"
)

func newLoginCommand(app *App) *Command {
	cmd := &Command{
		Name:        "login",
		Description: "Log in as an admin and persist the session",
		Flags:       flag.NewFlagSet("login", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(app.stdout)
	email := cmd.Flags.String("email", "", "Admin email")
	force := cmd.Flags.Bool("force", false, "Log in again even with a valid session")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if strings.TrimSpace(*email) == "" {
			return errors.New("email is required")
		}

		return app.withManager(func(ctx context.Context, m SessionManager) error {
			m.CheckAuth(ctx)
			if s := m.Session(); s.IsAuthenticated && !*force {
				app.printf("already logged in as %s\n", s.User.Email)
				return nil
			}

			password, err := app.readSecret("Password")
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password is required")
			}

			if err := m.Login(ctx, strings.TrimSpace(*email), password); err != nil {
				return fmt.Errorf("login: %s", auth.MessageFor(err))
			}

			app.printf("logged in as %s\n", m.Session().User.Email)
			return nil
		})
	}

	return cmd
}
