// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package cell implements self-describing units of validated computation.
//
// A cell type is declared once with Define: a role, a description, the
// shapes of its input and output, and the function that turns one into the
// other. Instances created from the definition accept raw JSON, validate it,
// execute, validate the result and always answer with a Response envelope.
// Runs on the same instance are serialized; separate instances run
// independently.
package cell

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/jllopis/kinkernel/pkg/errors"
	"github.com/jllopis/kinkernel/pkg/shape"
)

// ResponseType tells success and error envelopes apart.
type ResponseType string

const (
	Success ResponseType = "success"
	Error   ResponseType = "error"
)

// Response is the envelope every run returns. On success Content holds the
// JSON encoding of the output; on error, a human-readable diagnostic.
type Response struct {
	Type    ResponseType `json:"type"`
	Content string       `json:"content"`
}

// OK reports whether r is a success envelope.
func (r Response) OK() bool {
	return r.Type == Success
}

// JSON returns the wire form {"type": ..., "content": ...}.
func (r Response) JSON() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// Succeed wraps serialized output in a success envelope.
func Succeed(content string) Response {
	return Response{Type: Success, Content: content}
}

// Fail wraps the diagnostic of err in an error envelope.
func Fail(err error) Response {
	return Response{Type: Error, Content: errors.Diagnostic(err)}
}

// ExecuteFunc is the unit of logic a cell runs on validated input.
type ExecuteFunc[I, O any] func(ctx context.Context, in I) (O, error)

// Config declares a cell type.
type Config[I, O any] struct {
	Role        string
	Description string
	Input       shape.Shape[I]
	Output      shape.Shape[O]
	Execute     ExecuteFunc[I, O]

	// Timeout bounds Execute for every instance; zero means no bound.
	// Instances can override it with WithTimeout.
	Timeout time.Duration
}

// Definition is a validated cell type. It is immutable and safe to share.
type Definition[I, O any] struct {
	role        string
	description string
	input       shape.Shape[I]
	output      shape.Shape[O]
	execute     ExecuteFunc[I, O]
	timeout     time.Duration
}

// Define validates cfg and returns the cell type it declares. A missing
// field fails with an INVALID_DEFINITION error naming it, so no instance of
// an incomplete type can exist.
func Define[I, O any](cfg Config[I, O]) (*Definition[I, O], error) {
	role := strings.TrimSpace(cfg.Role)
	description := strings.TrimSpace(cfg.Description)

	var missing string
	switch {
	case role == "":
		missing = "role"
	case description == "":
		missing = "description"
	case isNil(cfg.Input):
		missing = "input format"
	case isNil(cfg.Output):
		missing = "output format"
	case cfg.Execute == nil:
		missing = "execute function"
	}
	if missing != "" {
		return nil, errors.Newf(errors.CodeInvalidDefinition, "cell definition is missing %s", missing).
			WithContext("field", missing).
			WithContext("role", role)
	}
	if cfg.Timeout < 0 {
		return nil, errors.Newf(errors.CodeInvalidDefinition, "cell %s: timeout must not be negative", role).
			WithContext("role", role)
	}

	return &Definition[I, O]{
		role:        role,
		description: description,
		input:       cfg.Input,
		output:      cfg.Output,
		execute:     cfg.Execute,
		timeout:     cfg.Timeout,
	}, nil
}

// MustDefine is like Define but panics on error. It suits package-level
// declarations, where an incomplete definition should stop the program.
func MustDefine[I, O any](cfg Config[I, O]) *Definition[I, O] {
	d, err := Define(cfg)
	if err != nil {
		panic(err)
	}
	return d
}

// Role returns the identifying name of the cell type.
func (d *Definition[I, O]) Role() (string, error) {
	if d == nil || d.role == "" {
		return "", errors.New(errors.CodeInvalidDefinition, "role is not defined", nil)
	}
	return d.role, nil
}

// Description returns the human-readable description of the cell type.
func (d *Definition[I, O]) Description() (string, error) {
	if d == nil || d.description == "" {
		return "", errors.New(errors.CodeInvalidDefinition, "description is not defined", nil)
	}
	return d.description, nil
}

// InputSchemaJSON returns the input JSON Schema, indented by two spaces.
func (d *Definition[I, O]) InputSchemaJSON() (string, error) {
	if d == nil || isNil(d.input) {
		return "", errors.New(errors.CodeShapeMissing, "input format is not defined", nil)
	}
	return indentSchema(d.input)
}

// OutputSchemaJSON returns the output JSON Schema, indented by two spaces.
func (d *Definition[I, O]) OutputSchemaJSON() (string, error) {
	if d == nil || isNil(d.output) {
		return "", errors.New(errors.CodeShapeMissing, "output format is not defined", nil)
	}
	return indentSchema(d.output)
}

// New creates an instance with its own execution gate.
func (d *Definition[I, O]) New(opts ...Option) *Cell[I, O] {
	o := options{timeout: d.timeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cell[I, O]{
		def:  d,
		opts: o,
		gate: make(chan struct{}, 1),
	}
}

func indentSchema(s shape.SchemaEmitter) (string, error) {
	raw, err := s.JSONSchema()
	if err != nil {
		return "", errors.New(errors.CodeInvalidSchema, "schema could not be generated", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", errors.New(errors.CodeInvalidSchema, "schema is not valid JSON", err)
	}
	return buf.String(), nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return rv.IsNil()
	}
	return false
}
