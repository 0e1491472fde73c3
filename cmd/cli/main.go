package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/edufolio/adminconsole/internal"
	"github.com/edufolio/adminconsole/internal/apiclient"
	"github.com/edufolio/adminconsole/internal/auth"
	"github.com/edufolio/adminconsole/internal/cli"
	"github.com/edufolio/adminconsole/internal/config"
	"github.com/edufolio/adminconsole/internal/logging"
	"github.com/edufolio/adminconsole/internal/session"

	log "github.com/sirupsen/logrus"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	verbose := flag.Bool("v", false, "log to stdout")
	flag.Parse()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logLevel := cfg.LogLevel
	if !*verbose {
		logLevel = "warn"
	}
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:   cfg.LogsPath,
		LogToStdout:   *verbose,
		LogLevel:      logLevel,
		LogFormatJSON: cfg.LogFormatJSON,
		Environment:   cfg.Environment,
	})
	if cfg.LogsPath == "" {
		// keep stdout for command output
		log.SetOutput(os.Stderr)
	}

	connect := func(ctx context.Context) (cli.SessionManager, func(), error) {
		backends, err := internal.OpenBackends(ctx, cfg, internal.BackendsParams{
			RedisPassword:    os.Getenv("EDUFOLIO_REDIS_PASS"),
			PostgresPassword: os.Getenv("EDUFOLIO_PG_PASS"),
		})
		if err != nil {
			return nil, nil, err
		}

		store, err := session.NewStore(ctx, cfg, backends.Session())
		if err != nil {
			backends.Close()
			return nil, nil, err
		}

		client := apiclient.New(cfg.ApiBaseURL, cfg.ApiTimeout())
		return auth.NewManager(store, client, nil), backends.Close, nil
	}

	app := cli.NewApp(connect, os.Stdin, os.Stdout)
	if err := cli.NewRootCommand(app).Execute(os.Stdout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
