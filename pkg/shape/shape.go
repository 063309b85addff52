// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package shape describes the typed values a cell accepts and produces.
//
// A shape can parse a JSON document into a Go value (failing with field-level
// diagnostics), re-validate and encode a Go value, and describe itself as a
// JSON Schema document. Schemas for Go structs are generated with
// invopop/jsonschema, so nested struct types are emitted as named
// definitions under "$defs"; keyword validation is delegated to
// google/jsonschema-go.
package shape

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"strings"

	google "github.com/google/jsonschema-go/jsonschema"
	"github.com/invopop/jsonschema"

	"github.com/jllopis/kinkernel/pkg/schema"
)

// Validator parses raw JSON into a typed value.
type Validator[T any] interface {
	Parse(data []byte) (T, error)
}

// Serializer re-validates a typed value and encodes it as JSON.
type Serializer[T any] interface {
	Serialize(v T) ([]byte, error)
}

// SchemaEmitter describes a shape as a JSON Schema document.
type SchemaEmitter interface {
	Name() string
	JSONSchema() ([]byte, error)
}

// Shape is the full capability set a cell needs from its input and output types.
type Shape[T any] interface {
	Validator[T]
	Serializer[T]
	SchemaEmitter
}

// Checker lets a value enforce invariants that a JSON Schema cannot express.
// A non-nil error is reported as a value error for the whole document.
type Checker interface {
	Validate() error
}

// Model is a Shape backed by a JSON Schema document.
type Model[T any] struct {
	name     string
	raw      []byte
	inlined  schema.Document
	resolved *google.Resolved
}

var _ Shape[struct{}] = (*Model[struct{}])(nil)

// Option tunes schema generation in Of.
type Option func(*options)

type options struct {
	strict bool
}

// Strict makes generated object schemas forbid properties they do not
// declare. By default unknown properties are accepted and dropped on decode.
func Strict() Option {
	return func(o *options) {
		o.strict = true
	}
}

// Of builds a shape for the struct type T.
func Of[T any](opts ...Option) (*Model[T], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}


	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("shape: %s is not a struct type", t)
	}

	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		Anonymous:                 true,
		AllowAdditionalProperties: !o.strict,
	}
	generated := reflector.ReflectFromType(t)
	generated.Version = ""
	generated.Title = t.Name()

	raw, err := json.Marshal(generated)
	if err != nil {
		return nil, fmt.Errorf("shape: encode schema for %s: %w", t, err)
	}
	return newModel[T](t.Name(), raw)
}

// MustOf is like Of but panics on error. It is meant for package-level
// cell definitions, where a broken shape is a programming error.
func MustOf[T any](opts ...Option) *Model[T] {
	m, err := Of[T](opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// FromSchema builds a shape for T from a hand-written JSON Schema document.
// When the document has no title, name is used.
func FromSchema[T any](name string, raw []byte) (*Model[T], error) {
	doc, err := schema.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	if title, _ := doc["title"].(string); title == "" {
		doc["title"] = name
	} else {
		name = title
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("shape: encode schema %s: %w", name, err)
	}
	return newModel[T](name, normalized)
}

func newModel[T any](name string, raw []byte) (*Model[T], error) {
	var compiled google.Schema
	if err := json.Unmarshal(raw, &compiled); err != nil {
		return nil, fmt.Errorf("shape: load schema %s: %w", name, err)
	}
	resolved, err := compiled.Resolve(&google.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("shape: resolve schema %s: %w", name, err)
	}

	doc, err := schema.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	// Self-referencing types cannot be inlined; field diagnostics then fall
	// back to the keyword validator alone.
	inlined, err := schema.Inline(doc)
	if err != nil {
		inlined = nil
	}

	return &Model[T]{
		name:     name,
		raw:      raw,
		inlined:  inlined,
		resolved: resolved,
	}, nil
}

// Name returns the schema title.
func (m *Model[T]) Name() string {
	return m.name
}

// JSONSchema returns the schema document as compact JSON.
func (m *Model[T]) JSONSchema() ([]byte, error) {
	return bytes.Clone(m.raw), nil
}

// Parse decodes data into a T after validating it against the schema.
func (m *Model[T]) Parse(data []byte) (T, error) {
	var zero T

	instance, err := decodeInstance(data)
	if err != nil {
		return zero, m.fail(FieldError{
			Type:  "json_invalid",
			Msg:   "Invalid JSON: " + err.Error(),
			Input: string(data),
		})
	}

	if errs := m.check(instance); len(errs) > 0 {
		return zero, &ValidationError{Title: m.name, Errors: errs}
	}

	var out T
	if err := decodeInto(data, &out); err != nil {
		return zero, m.fail(FieldError{
			Type:  "decode_error",
			Msg:   "Input could not be decoded: " + err.Error(),
			Input: instance,
		})
	}

	if checker, ok := any(&out).(Checker); ok {
		if err := checker.Validate(); err != nil {
			return zero, m.fail(FieldError{
				Type:  "value_error",
				Msg:   "Value error, " + err.Error(),
				Input: instance,
			})
		}
	}
	return out, nil
}

// Serialize validates v against the schema and returns its JSON encoding.
func (m *Model[T]) Serialize(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, m.fail(FieldError{
			Type: "serialization_error",
			Msg:  "Unable to serialize value: " + err.Error(),
		})
	}
	if _, err := m.Parse(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Model[T]) check(instance any) []FieldError {
	var errs []FieldError
	if m.inlined != nil {
		errs = collect(m.inlined, instance, nil)
	}
	if len(errs) == 0 && m.resolved != nil {
		if err := m.resolved.Validate(instance); err != nil {
			errs = append(errs, FieldError{
				Type:  "schema_violation",
				Msg:   err.Error(),
				Input: instance,
			})
		}
	}
	return errs
}

func (m *Model[T]) fail(fe FieldError) error {
	return &ValidationError{Title: m.name, Errors: []FieldError{fe}}
}

func decodeInstance(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing data after JSON value")
	}
	return instance, nil
}

// decodeInto unmarshals an already validated document into out. Numbers
// written with a fraction or exponent but holding an integral value, such as
// 1.0 or 1e2, are rewritten as integers first so they fit integer fields.
func decodeInto(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	canonical, err := json.Marshal(integralNumbers(doc))
	if err != nil {
		return err
	}
	return json.Unmarshal(canonical, out)
}

func integralNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = integralNumbers(item)
		}
	case []any:
		for i, item := range t {
			t[i] = integralNumbers(item)
		}
	case json.Number:
		if !strings.ContainsAny(string(t), ".eE") {
			return t
		}
		f, ok := new(big.Float).SetString(string(t))
		if !ok || !f.IsInt() {
			return t
		}
		i, _ := f.Int(nil)
		return json.Number(i.String())
	}
	return v
}
