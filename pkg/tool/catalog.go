// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jllopis/kinkernel/pkg/errors"
	"github.com/jllopis/kinkernel/pkg/llm"
)

var (
	// ErrDuplicateRole is returned when a role is registered twice.
	ErrDuplicateRole = errors.New(errors.CodeInvalidDefinition, "cell role already registered", nil)
	// ErrUnknownRole is returned when no cell is registered under a role.
	ErrUnknownRole = errors.New(errors.CodeNotFound, "unknown cell role", nil)
)

// Catalog is a role-keyed registry of function cells. It is safe for
// concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	cells map[string]*FunctionCell
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{cells: make(map[string]*FunctionCell)}
}

// Register adds fc under its name.
func (c *Catalog) Register(fc *FunctionCell) error {
	if fc == nil {
		return errors.New(errors.CodeInvalidDefinition, "function cell is nil", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.cells[fc.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRole, fc.Name())
	}
	c.cells[fc.Name()] = fc
	return nil
}

// Add wraps r with New and registers the result.
func (c *Catalog) Add(r Runner) (*FunctionCell, error) {
	fc, err := New(r)
	if err != nil {
		return nil, err
	}
	if err := c.Register(fc); err != nil {
		return nil, err
	}
	return fc, nil
}

// Get returns the cell registered under role.
func (c *Catalog) Get(role string) (*FunctionCell, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fc, ok := c.cells[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return fc, nil
}

// List returns the registered cells sorted by name.
func (c *Catalog) List() []*FunctionCell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*FunctionCell, 0, len(c.cells))
	for _, fc := range c.cells {
		out = append(out, fc)
	}
	slices.SortFunc(out, func(a, b *FunctionCell) int {
		return cmp.Compare(a.name, b.name)
	})
	return out
}

// Definitions returns the tool definitions of every registered cell.
func (c *Catalog) Definitions() []llm.Tool {
	return Definitions(c.List())
}

// Dispatch runs the cell a model asked for and returns the tool message
// answering the call. Error envelopes are returned as content, so the model
// can read the diagnostic; err is set only when the call could not be
// served at all.
func (c *Catalog) Dispatch(ctx context.Context, call llm.ToolCall) (llm.Message, error) {
	fc, err := c.Get(call.Function.Name)
	if err != nil {
		return llm.ToolResult(call, fmt.Sprintf("unknown tool %q", call.Function.Name)), err
	}
	content, err := fc.Invoke(ctx, call.Function.Arguments)
	if err != nil {
		return llm.ToolResult(call, errors.Diagnostic(err)), err
	}
	return llm.ToolResult(call, content), nil
}
