// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package cell

import (
	"context"
	"maps"
	"slices"

	"github.com/jllopis/kinkernel/pkg/config"
	"github.com/jllopis/kinkernel/pkg/telemetry"
)

// Args are the constructor arguments of an instance. They are opaque to the
// run contract and reach the execute function through its context.
type Args struct {
	Positional []any
	Keyword    map[string]any
	Env        config.CellConfig
}

// Getenv returns the value of the instance variable named key.
func (a Args) Getenv(key string) (string, bool) {
	return a.Env.Lookup(key)
}

func (a Args) clone() Args {
	return Args{
		Positional: slices.Clone(a.Positional),
		Keyword:    maps.Clone(a.Keyword),
		Env:        config.CellConfig{EnvVars: slices.Clone(a.Env.EnvVars)},
	}
}

type argsKey struct{}

func withArgs(ctx context.Context, args Args) context.Context {
	return context.WithValue(ctx, argsKey{}, args)
}

// ArgsFrom returns the arguments of the instance running ctx.
func ArgsFrom(ctx context.Context) Args {
	args, _ := ctx.Value(argsKey{}).(Args)
	return args
}

// RunID returns the identifier assigned to the current run, or "" outside a run.
func RunID(ctx context.Context) string {
	id, _ := telemetry.RunIDFromContext(ctx)
	return id
}
