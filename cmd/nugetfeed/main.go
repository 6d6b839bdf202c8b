// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nugetfeed runs and talks to a NuGet package feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/shayne/yargs"
	"tailscale.com/util/must"

	"github.com/yeetrun/nugetfeed/pkg/config"
)

type globalFlagsParsed struct {
	Config   string `flag:"config" help:"Path to nugetfeed.toml (default: search upwards from the working directory)"`
	LogLevel string `flag:"log-level" help:"Override log_level from the config file"`
}

func parseGlobalFlags(args []string) (globalFlagsParsed, []string, error) {
	result, err := yargs.ParseKnownFlags[globalFlagsParsed](args, yargs.KnownFlagsOptions{})
	if err != nil {
		return globalFlagsParsed{}, nil, err
	}
	return result.Flags, result.RemainingArgs, nil
}

// globals is set once in main before any handler runs.
var globals globalFlagsParsed

// loadConfig returns the configuration selected by the global flags.
func loadConfig() (*config.Config, string, error) {
	path := globals.Config
	if path == "" {
		found, err := config.Find(must.Get(os.Getwd()))
		switch {
		case errors.Is(err, os.ErrNotExist):
			path = config.FileName
		case err != nil:
			return nil, "", err
		default:
			path = found
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if globals.LogLevel != "" {
		if _, err := log.ParseLevel(globals.LogLevel); err != nil {
			return nil, "", fmt.Errorf("--log-level: %w", err)
		}
		cfg.LogLevel = globals.LogLevel
	}
	return cfg, path, nil
}

func newLogger(w io.Writer, cfg *config.Config) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          "nugetfeed",
		ReportTimestamp: true,
		Level:           cfg.Level(),
	})
}

func buildHelpConfig() yargs.HelpConfig {
	return yargs.HelpConfig{
		Command: yargs.CommandInfo{
			Name:        "nugetfeed",
			Description: "Host a NuGet v3 package feed and publish packages to it.",
			Examples: []string{
				"nugetfeed serve --listen :8080",
				"nugetfeed push Foo.1.2.3.nupkg --source http://localhost:8080",
				"nugetfeed inspect Foo.1.2.3.nupkg",
				"nugetfeed versions Foo --source http://localhost:8080",
			},
		},
		SubCommands: map[string]yargs.SubCommandInfo{
			"serve": {
				Name:        "serve",
				Description: "Run the feed server",
				Usage:       "[--listen ADDR] [--base-url URL] [--storage fs|sqlite|memory] [--data PATH] [--no-race-check]",
				Examples:    []string{"nugetfeed serve --storage sqlite --data ./feed.db"},
			},
			"push": {
				Name:        "push",
				Description: "Publish package archives to a feed",
				Usage:       "FILE... [--source URL] [--api-key KEY]",
				Examples:    []string{"nugetfeed push ./out/*.nupkg --source https://feed.example"},
			},
			"inspect": {
				Name:        "inspect",
				Description: "Show the identity, storage keys and dependencies of a local package",
				Usage:       "FILE",
			},
			"versions": {
				Name:        "versions",
				Description: "List the published versions of a package",
				Usage:       "ID [--source URL]",
			},
			"init": {
				Name:        "init",
				Description: "Write a default nugetfeed.toml",
				Usage:       "[PATH]",
			},
		},
	}
}

func printCLIError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("error:"), err)
}

func main() {
	flags, remaining, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		printCLIError(os.Stderr, err)
		os.Exit(2)
	}
	globals = flags

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers := map[string]yargs.SubcommandHandler{
		"serve":    handleServe,
		"push":     handlePush,
		"inspect":  handleInspect,
		"versions": handleVersions,
		"init":     handleInit,
	}
	if err := yargs.RunSubcommands(ctx, remaining, buildHelpConfig(), globalFlagsParsed{}, handlers); err != nil {
		printCLIError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// stripCommand drops the subcommand name yargs leaves at the front of args.
func stripCommand(args []string, name string) []string {
	if len(args) > 0 && args[0] == name {
		return args[1:]
	}
	return args
}

func handleInit(_ context.Context, args []string) error {
	args = stripCommand(args, "init")
	if len(args) > 1 {
		return fmt.Errorf("init takes at most one argument")
	}
	path := config.FileName
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Default().Save(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}
