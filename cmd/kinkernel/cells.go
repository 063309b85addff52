// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"sort"

	"github.com/jllopis/kinkernel/pkg/builtin"
	"github.com/jllopis/kinkernel/pkg/cell"
	"github.com/jllopis/kinkernel/pkg/mcp"
	"github.com/jllopis/kinkernel/pkg/mcp/pool"
	"github.com/jllopis/kinkernel/pkg/tool"
)

const sourceLocal = "local"

// cellSet is every cell the process can reach: the built-in ones and the
// tools of the configured MCP servers.
type cellSet struct {
	catalog  *tool.Catalog
	runners  map[string]tool.Runner
	sources  map[string]string
	failures map[string]error
	pool     *pool.Pool
}

type outputDescriber interface {
	OutputSchemaJSON() (string, error)
}

func (a *app) loadCells(ctx context.Context) (*cellSet, error) {
	set := &cellSet{
		catalog:  tool.NewCatalog(),
		runners:  make(map[string]tool.Runner),
		sources:  make(map[string]string),
		failures: make(map[string]error),
	}
	for _, c := range builtin.Cells(a.cfg, cell.WithLogger(a.logger)) {
		if err := set.add(c, sourceLocal); err != nil {
			return nil, err
		}
	}

	if len(a.cfg.MCP.Servers) == 0 {
		return set, nil
	}
	names := make([]string, 0, len(a.cfg.MCP.Servers))
	for name := range a.cfg.MCP.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	set.pool = pool.New()
	for _, name := range names {
		if err := set.pool.Register(name, a.cfg.MCP.Servers[name]); err != nil {
			set.failures[name] = err
			continue
		}
		client, err := set.pool.Get(ctx, name)
		if err != nil {
			a.logger.Warn("mcp server unavailable", "server", name, "error", err)
			set.failures[name] = err
			continue
		}
		remotes, err := mcp.RemoteCells(ctx, client, name)
		if err != nil {
			a.logger.Warn("mcp server tools unavailable", "server", name, "error", err)
			set.failures[name] = err
			continue
		}
		for _, rc := range remotes {
			if err := set.add(rc, name); err != nil {
				role, _ := rc.Role()
				a.logger.Warn("remote cell skipped", "server", name, "role", role, "error", err)
			}
		}
	}
	return set, nil
}

func (s *cellSet) add(r tool.Runner, source string) error {
	fc, err := s.catalog.Add(r)
	if err != nil {
		return err
	}
	s.runners[fc.Name()] = r
	s.sources[fc.Name()] = source
	return nil
}

func (s *cellSet) runner(role string) (tool.Runner, error) {
	r, ok := s.runners[role]
	if !ok {
		return nil, NewNotFoundError(role)
	}
	return r, nil
}

func (s *cellSet) Close() error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Close()
}
