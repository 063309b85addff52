// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package tool exposes cells to function-calling interfaces.
//
// A FunctionCell describes a cell as a function tool (name, description and
// a reference-free parameters schema) and invokes it with the arguments a
// model produced, returning the content of the envelope.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/kinkernel/pkg/errors"
	"github.com/jllopis/kinkernel/pkg/llm"
	"github.com/jllopis/kinkernel/pkg/schema"
)

// Runner is what the adapter needs from a cell. Local cells and remote MCP
// tools both satisfy it.
type Runner interface {
	Role() (string, error)
	Description() (string, error)
	InputSchemaJSON() (string, error)
	RunJSON(ctx context.Context, input string) string
}

// Tool is the generic callable surface shared with other tool sources.
type Tool interface {
	Name() string
	Call(ctx context.Context, input any) (any, error)
}

// FunctionCell adapts a Runner to a function tool.
type FunctionCell struct {
	runner      Runner
	name        string
	description string
	parameters  map[string]any
}

var _ Tool = (*FunctionCell)(nil)

// New describes r as a function tool. The input schema is dereferenced, so
// any error from the schema tooling surfaces here.
func New(r Runner) (*FunctionCell, error) {
	if r == nil {
		return nil, errors.New(errors.CodeInvalidDefinition, "function cell requires a runner", nil)
	}
	name, err := r.Role()
	if err != nil {
		return nil, err
	}
	description, err := r.Description()
	if err != nil {
		return nil, err
	}
	raw, err := r.InputSchemaJSON()
	if err != nil {
		return nil, err
	}

	doc, err := schema.Parse([]byte(raw))
	if err != nil {
		return nil, errors.New(errors.CodeInvalidSchema, fmt.Sprintf("cell %s: invalid input schema", name), err)
	}
	flat, err := schema.Dereference(doc)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidSchema, fmt.Sprintf("cell %s: input schema cannot be dereferenced", name), err)
	}
	params, _ := flat["parameters"].(map[string]any)

	return &FunctionCell{
		runner:      r,
		name:        name,
		description: description,
		parameters:  params,
	}, nil
}

// FromCells wraps each runner, stopping at the first failure.
func FromCells(runners ...Runner) ([]*FunctionCell, error) {
	out := make([]*FunctionCell, 0, len(runners))
	for _, r := range runners {
		fc, err := New(r)
		if err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, nil
}

// Definitions returns the tool definitions of fcs in order.
func Definitions(fcs []*FunctionCell) []llm.Tool {
	defs := make([]llm.Tool, 0, len(fcs))
	for _, fc := range fcs {
		defs = append(defs, fc.Definition())
	}
	return defs
}

func (f *FunctionCell) Name() string        { return f.name }
func (f *FunctionCell) Description() string { return f.description }

// Parameters returns the dereferenced input schema: properties, required
// and type. Callers must not modify it.
func (f *FunctionCell) Parameters() map[string]any {
	return f.parameters
}

// Args returns the properties of the input schema.
func (f *FunctionCell) Args() map[string]any {
	props, _ := f.parameters["properties"].(map[string]any)
	return props
}

// Definition returns the function tool definition of the cell.
func (f *FunctionCell) Definition() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        f.name,
			Description: f.description,
			Parameters:  f.parameters,
		},
	}
}

// Invoke runs the cell with input and returns the envelope content, which
// is the serialized output on success and the diagnostic on error. Input
// may be JSON text ([]byte, json.RawMessage or string) or any value that
// encodes to JSON.
func (f *FunctionCell) Invoke(ctx context.Context, input any) (string, error) {
	env, err := f.run(ctx, input)
	if err != nil {
		return "", err
	}
	return env.content, nil
}

// Call runs the cell and reports error envelopes as EXECUTION_FAILURE
// errors carrying the diagnostic.
func (f *FunctionCell) Call(ctx context.Context, input any) (any, error) {
	env, err := f.run(ctx, input)
	if err != nil {
		return nil, err
	}
	if env.kind == "error" {
		return nil, errors.New(errors.CodeExecutionFailure, env.content, nil).
			WithAttribute("role", f.name)
	}
	return env.content, nil
}

// String renders the cell as a call expression, e.g. "sum()".
func (f *FunctionCell) String() string {
	return f.name + "()"
}

type envelope struct {
	kind    string
	content string
}

func (f *FunctionCell) run(ctx context.Context, input any) (envelope, error) {
	encoded, err := encodeInput(input)
	if err != nil {
		return envelope{}, errors.New(errors.CodeInvalidInput, fmt.Sprintf("cell %s: input could not be encoded as JSON", f.name), err)
	}

	out := f.runner.RunJSON(ctx, encoded)

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		return envelope{}, errors.New(errors.CodeMissingContent, fmt.Sprintf("cell %s returned a result that is not a JSON object", f.name), err).
			WithContext("result", out)
	}
	rawContent, ok := decoded["content"]
	if !ok {
		return envelope{}, errors.New(errors.CodeMissingContent, fmt.Sprintf("the content key is missing in the output of cell %s: %s", f.name, out), nil).
			WithContext("result", out)
	}

	var env envelope
	_ = json.Unmarshal(decoded["type"], &env.kind)
	if err := json.Unmarshal(rawContent, &env.content); err != nil {
		// Non-conforming runners may place structured content; keep its JSON text.
		env.content = string(bytes.TrimSpace(rawContent))
	}
	return env, nil
}

func encodeInput(input any) (string, error) {
	switch value := input.(type) {
	case nil:
		return "{}", nil
	case json.RawMessage:
		return validJSON(value)
	case []byte:
		return validJSON(value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return "{}", nil
		}
		if json.Valid([]byte(trimmed)) {
			return trimmed, nil
		}
		data, err := json.Marshal(value)
		return string(data), err
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func validJSON(data []byte) (string, error) {
	if !json.Valid(data) {
		return "", fmt.Errorf("invalid JSON: %q", data)
	}
	return string(data), nil
}
