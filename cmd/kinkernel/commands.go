// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/kinkernel/pkg/cell"
	"github.com/jllopis/kinkernel/pkg/config"
	"github.com/jllopis/kinkernel/pkg/errors"
	"github.com/jllopis/kinkernel/pkg/mcp"
	"github.com/jllopis/kinkernel/pkg/mcp/pool"
	"github.com/jllopis/kinkernel/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

type cellInfo struct {
	Role        string `json:"role"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

type serverFailure struct {
	Server string `json:"server"`
	Error  string `json:"error"`
}

func (a *app) runList(ctx context.Context, args []string) error {
	if err := ensureNoArgs(args); err != nil {
		return err
	}
	set, err := a.loadCells(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	infos := make([]cellInfo, 0, len(set.runners))
	for _, fc := range set.catalog.List() {
		infos = append(infos, cellInfo{Role: fc.Name(), Description: fc.Description(), Source: set.sources[fc.Name()]})
	}

	if a.flags.JSON {
		return writeJSON(a.stdout, infos)
	}
	writer := newTabWriter(a.stdout)
	writeRow(writer, "ROLE", "SOURCE", "DESCRIPTION")
	for _, info := range infos {
		writeRow(writer, info.Role, info.Source, info.Description)
	}
	return writer.Flush()
}

func (a *app) runSchema(ctx context.Context, args []string) error {
	cmd := newFlagSet("schema")
	output := cmd.Bool("output", false, "print the output schema")
	asTool := cmd.Bool("tool", false, "print the tool definition")
	asYAML := cmd.Bool("yaml", false, "print YAML instead of JSON")
	positional, err := parseInterleaved(cmd, args)
	if err != nil {
		return NewInvalidArgumentError(strings.Join(args, " "), err.Error())
	}
	if len(positional) != 1 {
		return NewInvalidArgumentError("schema", "usage: kinkernel schema <role> [--output] [--tool] [--yaml]")
	}
	role := positional[0]
	if *output && *asTool {
		return NewInvalidArgumentError("--output --tool", "--output and --tool are exclusive")
	}

	set, err := a.loadCells(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	r, err := set.runner(role)
	if err != nil {
		return err
	}

	var doc string
	switch {
	case *asTool:
		fc, err := set.catalog.Get(role)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(fc.Definition(), "", "  ")
		if err != nil {
			return err
		}
		doc = string(data)
	case *output:
		describer, ok := r.(outputDescriber)
		if !ok {
			return NewCLIError(
				errors.New(errors.CodeNotFound, fmt.Sprintf("cell '%s' does not describe its output", role), nil),
				"output schemas are only known for local cells",
			)
		}
		doc, err = describer.OutputSchemaJSON()
	default:
		doc, err = r.InputSchemaJSON()
	}
	if err != nil {
		return err
	}

	if *asYAML {
		doc, err = jsonToYAML(doc)
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(a.stdout, strings.TrimRight(doc, "\n"))
	return nil
}

func (a *app) runCell(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return NewInvalidArgumentError("run", "usage: kinkernel run <role> [<json>|-]")
	}
	role := args[0]

	var input string
	if len(args) == 2 && args[1] != "-" {
		input = args[1]
	} else {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return errors.New(errors.CodeInvalidInput, "read input from stdin", err)
		}
		input = string(data)
	}

	set, err := a.loadCells(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	r, err := set.runner(role)
	if err != nil {
		return err
	}

	out := r.RunJSON(ctx, strings.TrimSpace(input))
	var resp cell.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return errors.New(errors.CodeMissingContent, fmt.Sprintf("cell %s returned a malformed envelope", role), err)
	}

	if a.flags.JSON {
		fmt.Fprintln(a.stdout, out)
	} else if resp.OK() {
		fmt.Fprintln(a.stdout, resp.Content)
	}
	if !resp.OK() {
		return NewRunError(role, resp.Content)
	}
	return nil
}

func (a *app) runMCP(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return NewInvalidArgumentError("mcp", "usage: kinkernel mcp <serve|list|health>")
	}
	switch args[0] {
	case "serve":
		return a.runMCPServe(ctx, args[1:])
	case "list":
		return a.runMCPList(ctx, args[1:])
	case "health":
		return a.runMCPHealth(ctx, args[1:])
	default:
		return NewInvalidArgumentError(args[0], fmt.Sprintf("unknown mcp command %q", args[0]))
	}
}

func (a *app) runMCPServe(ctx context.Context, args []string) error {
	cmd := newFlagSet("mcp serve")
	httpAddr := cmd.String("http", "", "serve over streamable HTTP on this address")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError(strings.Join(args, " "), err.Error())
	}
	if err := ensureNoArgs(cmd.Args()); err != nil {
		return err
	}
	transport, addr := a.cfg.MCP.Transport, a.cfg.MCP.Addr
	if *httpAddr != "" {
		transport, addr = "http", *httpAddr
	}

	set, err := a.loadCells(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	server := mcp.NewServer(a.cfg.MCP.Name, a.cfg.MCP.Version, mcp.WithServerLogger(a.logger))
	if err := server.RegisterCatalog(set.catalog); err != nil {
		return err
	}

	if hasConfigFile(a.flags.ConfigArgs) {
		watcher, err := config.NewWatcher(a.flags.ConfigArgs, config.WithWatchLogger(a.logger))
		if err != nil {
			return NewConfigError(err)
		}
		watcher.OnChange(func(cfg *config.Config) {
			telemetry.SetLevel(cfg.Log.Level)
			a.logger.Info("configuration reloaded", "log_level", cfg.Log.Level)
		})
		if err := watcher.Start(); err != nil {
			return NewConfigError(err)
		}
		defer watcher.Stop()
	}

	if transport != "http" {
		a.logger.Info("serving cells over mcp stdio", "cells", len(set.runners))
		return server.ServeStdio()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStreamableHTTP(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (a *app) runMCPList(ctx context.Context, args []string) error {
	if err := ensureNoArgs(args); err != nil {
		return err
	}
	set, err := a.loadCells(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	var remotes []cellInfo
	for _, fc := range set.catalog.List() {
		if source := set.sources[fc.Name()]; source != sourceLocal {
			remotes = append(remotes, cellInfo{Role: fc.Name(), Description: fc.Description(), Source: source})
		}
	}
	failures := make([]serverFailure, 0, len(set.failures))
	for server, err := range set.failures {
		failures = append(failures, serverFailure{Server: server, Error: errors.Diagnostic(err)})
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Server < failures[j].Server })

	if a.flags.JSON {
		return writeJSON(a.stdout, map[string]any{"cells": remotes, "failures": failures})
	}
	if len(remotes) == 0 && len(failures) == 0 {
		fmt.Fprintln(a.stdout, "no mcp servers configured")
		return nil
	}
	writer := newTabWriter(a.stdout)
	writeRow(writer, "SERVER", "TOOL", "DESCRIPTION")
	for _, r := range remotes {
		writeRow(writer, r.Source, r.Role, r.Description)
	}
	for _, f := range failures {
		writeRow(writer, f.Server, "ERROR", f.Error)
	}
	return writer.Flush()
}

func (a *app) runMCPHealth(ctx context.Context, args []string) error {
	if err := ensureNoArgs(args); err != nil {
		return err
	}
	p := pool.New()
	defer p.Close()
	for name, server := range a.cfg.MCP.Servers {
		if err := p.Register(name, server); err != nil {
			return NewConfigError(err)
		}
	}

	results, overall := p.CheckAll(ctx)
	if a.flags.JSON {
		if err := writeJSON(a.stdout, map[string]any{"status": overall, "servers": results}); err != nil {
			return err
		}
	} else {
		writer := newTabWriter(a.stdout)
		writeRow(writer, "SERVER", "STATUS", "LATENCY", "MESSAGE")
		for _, r := range results {
			writeRow(writer, r.Server, string(r.Status), r.Latency.Round(time.Millisecond).String(), r.Message)
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}

	if overall != pool.HealthHealthy {
		e := errors.New(errors.CodeUnavailable, fmt.Sprintf("mcp servers are %s", strings.ToLower(string(overall))), nil)
		return NewCLIError(e, "run 'kinkernel mcp list' to see the failing servers")
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	cmd := flag.NewFlagSet(name, flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	return cmd
}

// parseInterleaved parses args allowing flags after positional arguments and
// returns the positional ones in order.
func parseInterleaved(cmd *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := cmd.Parse(args); err != nil {
			return nil, err
		}
		if cmd.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, cmd.Arg(0))
		args = cmd.Args()[1:]
	}
}

func hasConfigFile(args []string) bool {
	for _, arg := range args {
		if arg == "--config" || strings.HasPrefix(arg, "--config=") {
			return true
		}
	}
	return false
}

func jsonToYAML(doc string) (string, error) {
	var value any
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		return "", err
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeJSON(w io.Writer, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func ensureNoArgs(args []string) error {
	if len(args) > 0 {
		return NewInvalidArgumentError(strings.Join(args, " "), fmt.Sprintf("unexpected args: %v", args))
	}
	return nil
}
