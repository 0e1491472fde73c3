package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/edufolio/adminconsole/internal/auth"

	"golang.org/x/term"
)

// SessionManager is what the commands need from *auth.Manager.
type SessionManager interface {
	Session() auth.Session
	CheckAuth(ctx context.Context) auth.CheckResult
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context)
	UpdatePassword(ctx context.Context, currentPassword, newPassword string) (json.RawMessage, error)
}

// Connector builds the session manager on top of the configured store.
// The returned func releases the store connections.
type Connector func(ctx context.Context) (SessionManager, func(), error)

// App carries what every command shares.
type App struct {
	connect Connector
	stdin   io.Reader
	lines   *bufio.Reader
	stdout  io.Writer
}

func NewApp(connect Connector, stdin io.Reader, stdout io.Writer) *App {
	return &App{
		connect: connect,
		stdin:   stdin,
		lines:   bufio.NewReader(stdin),
		stdout:  stdout,
	}
}

func (a *App) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}

// readSecret reads a line without echo on a terminal, or a plain line otherwise.
func (a *App) readSecret(prompt string) (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		a.printf("%s: ", prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		a.printf("\n")
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.ToLower(prompt), err)
		}
		return string(secret), nil
	}

	line, err := a.lines.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(prompt), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// withManager runs fn against a connected session manager.
func (a *App) withManager(fn func(ctx context.Context, m SessionManager) error) error {
	ctx := context.Background()
	m, closeFn, err := a.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect session store: %w", err)
	}
	defer closeFn()
	return fn(ctx, m)
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

func NewRootCommand(app *App) *Command {
	root := &Command{
		Name:        "console-cli",
		Description: "EduFolio admin console session CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("console-cli", flag.ContinueOnError),
	}

	root.Subcommands["login"] = newLoginCommand(app)
	root.Subcommands["logout"] = newLogoutCommand(app)
	root.Subcommands["status"] = newStatusCommand(app)
	root.Subcommands["passwd"] = newPasswdCommand(app)

	root.Flags.SetOutput(app.stdout)

	return root
}

// Execute runs the subcommand named by args[0].
func (c *Command) Execute(out io.Writer, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		c.usage(out)
		return nil
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	c.usage(out)
	return fmt.Errorf("unknown command: %s", args[0])
}

func (c *Command) usage(out io.Writer) {
	_, _ = fmt.Fprintf(out, "Usage: %s [-env env] [-config path] <command> [args]\n\n", c.Name)
	_, _ = fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(out, "  %-10s %s\n", name, c.Subcommands[name].Description)
	}
}
