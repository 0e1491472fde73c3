package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"

	"github.com/edufolio/adminconsole/internal/auth"
)

var ErrNotLoggedIn = errors.New("not logged in, run login first")

func newPasswdCommand(app *App) *Command {
	cmd := &Command{
		Name:        "passwd",
		Description: "Change the admin password",
		Flags:       flag.NewFlagSet("passwd", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(app.stdout)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		return app.withManager(func(ctx context.Context, m SessionManager) error {
			m.CheckAuth(ctx)
			if !m.Session().IsAuthenticated {
				return ErrNotLoggedIn
			}

			currentPassword, err := app.readSecret("Current password")
			if err != nil {
				return err
			}
			newPassword, err := app.readSecret("New password")
			if err != nil {
				return err
			}
			confirmation, err := app.readSecret("Confirm new password")
			if err != nil {
				return err
			}
			if newPassword == "" {
				return errors.New("new password is required")
			}
			if newPassword != confirmation {
				return errors.New("new password and confirmation do not match")
			}

			payload, err := m.UpdatePassword(ctx, currentPassword, newPassword)
			if err != nil {
				return fmt.Errorf("passwd: %s", auth.MessageFor(err))
			}

			var body struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(payload, &body) == nil && body.Message != "" {
				app.printf("%s\n", body.Message)
			} else {
				app.printf("password updated\n")
			}
			return nil
		})
	}

	return cmd
}
