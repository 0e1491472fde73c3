package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
)

type statusOutput struct {
	Authenticated bool            `json:"authenticated"`
	Check         string          `json:"check"`
	User          json.RawMessage `json:"user"`
}

func newStatusCommand(app *App) *Command {
	cmd := &Command{
		Name:        "status",
		Description: "Verify the persisted session against the API",
		Flags:       flag.NewFlagSet("status", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(app.stdout)
	asJSON := cmd.Flags.Bool("json", false, "Print the status as JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		return app.withManager(func(ctx context.Context, m SessionManager) error {
			result := m.CheckAuth(ctx)
			s := m.Session()

			if *asJSON {
				out := statusOutput{
					Authenticated: s.IsAuthenticated,
					Check:         string(result),
				}
				if s.IsAuthenticated {
					out.User = s.User.Raw()
				}
				b, err := json.Marshal(out)
				if err != nil {
					return fmt.Errorf("marshal status: %w", err)
				}
				app.printf("%s\n", b)
				return nil
			}

			if s.IsAuthenticated {
				app.printf("logged in as %s\n", s.User.Email)
			} else {
				app.printf("not logged in (%s)\n", result)
			}
			return nil
		})
	}

	return cmd
}
