// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Command kinkernel lists, describes and runs cells, and serves them as MCP
// tools.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jllopis/kinkernel/pkg/config"
	"github.com/jllopis/kinkernel/pkg/telemetry"
)

const serviceName = "kinkernel"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	JSON       bool
	Help       bool
}

// app holds what every command needs.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global, rest, err := parseGlobalFlags(args)
	if err != nil {
		printError(stderr, NewInvalidArgumentError(strings.Join(args, " "), err.Error()), false)
		return 2
	}
	if global.Help || len(rest) == 0 {
		printUsage(stdout)
		return 0
	}

	a := &app{flags: global, stdin: stdin, stdout: stdout, stderr: stderr}
	if err := a.dispatch(ctx, rest); err != nil {
		printError(stderr, err, global.JSON)
		return 1
	}
	return 0
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd := args[0]
	switch cmd {
	case "help":
		printUsage(a.stdout)
		return nil
	case "version":
		return a.runVersion()
	}

	cfg, err := config.LoadWithCLI(a.flags.ConfigArgs)
	if err != nil {
		return NewConfigError(err)
	}
	if err := cfg.Validate(); err != nil {
		return NewConfigError(err)
	}
	a.cfg = cfg
	a.logger = telemetry.ConfigureSlog(a.stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
	})
	if err != nil {
		return NewConfigError(err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	switch cmd {
	case "list":
		return a.runList(ctx, args[1:])
	case "schema":
		return a.runSchema(ctx, args[1:])
	case "run":
		return a.runCell(ctx, args[1:])
	case "mcp":
		return a.runMCP(ctx, args[1:])
	default:
		return NewInvalidArgumentError(cmd, fmt.Sprintf("unknown command %q", cmd))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="), strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func (a *app) runVersion() error {
	if a.flags.JSON {
		return writeJSON(a.stdout, map[string]string{"version": version})
	}
	fmt.Fprintln(a.stdout, version)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `kinkernel runs schema-validated cells.

Usage:
  kinkernel [global flags] <command> [args]

Global flags:
  --config <path>      Path to a YAML settings file
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  list                               List local and remote cells
  schema <role> [--output] [--tool] [--yaml]
                                     Print the input schema, the output schema or the tool definition
  run <role> [<json>|-]              Run a cell; input is read from stdin when omitted or "-"
  mcp serve [--http <addr>]          Serve the cells as MCP tools (stdio unless --http is given)
  mcp list                           List the tools of the configured MCP servers
  mcp health                         Ping the configured MCP servers
  version`)
}
