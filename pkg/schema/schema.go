// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema flattens JSON Schema documents that use named definitions
// ($defs / $ref) into self-contained documents, and reshapes them into the
// function-call envelope expected by tool-calling LLM APIs.
//
// Documents are plain decoded JSON trees: map[string]any for objects, []any
// for arrays and scalars for everything else. All operations are pure: the
// input document is never mutated.
package schema

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jllopis/kinkernel/pkg/errors"
)

const (
	// RefKey marks a reference node.
	RefKey = "$ref"
	// DefsKey holds the named-definitions table at the document root.
	DefsKey = "$defs"
	// RefPrefix is the fixed root every resolvable reference starts with.
	RefPrefix = "#/$defs/"

	// maxDepth bounds structural nesting plus reference expansion.
	maxDepth = 128
)

var (
	// ErrUnresolvedReference is returned when a reference points nowhere.
	ErrUnresolvedReference = stderrors.New("schema: unresolved reference")
	// ErrMalformedReference is returned for references outside RefPrefix or with a non-string value.
	ErrMalformedReference = stderrors.New("schema: malformed reference")
	// ErrCyclicReference is returned when a definition transitively references itself.
	ErrCyclicReference = stderrors.New("schema: cyclic reference")
	// ErrDepthExceeded is returned when the document nests deeper than the walker allows.
	ErrDepthExceeded = stderrors.New("schema: maximum depth exceeded")
	// ErrMissingTitle is returned when a document has no title to name the tool after.
	ErrMissingTitle = stderrors.New("schema: missing title")
	// ErrInvalidDocument is returned when the input is not a JSON object or the definitions table is not an object.
	ErrInvalidDocument = stderrors.New("schema: invalid document")
)

// Document is a decoded JSON Schema object.
type Document = map[string]any

// Parse decodes a JSON Schema document. The top-level value must be an object.
func Parse(data []byte) (Document, error) {
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&decoded); err != nil {
		return nil, errors.New(errors.CodeInvalidSchema, "schema is not valid JSON", err)
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		return nil, errors.New(errors.CodeInvalidSchema,
			fmt.Sprintf("schema must be a JSON object, got %s", jsonKind(decoded)), ErrInvalidDocument)
	}
	return doc, nil
}

// Dereference resolves every reference in doc and reshapes the result into
// the tool-schema envelope: properties, required and type move under
// "parameters" and title becomes "name". Every other top-level key is kept.
func Dereference(doc Document) (Document, error) {
	inlined, err := Inline(doc)
	if err != nil {
		return nil, err
	}
	return reshape(inlined)
}

// Inline returns a copy of doc with the definitions table removed and every
// reference replaced by the definition it names. The result is guaranteed to
// contain no reference node.
func Inline(doc Document) (Document, error) {
	if doc == nil {
		return nil, errors.New(errors.CodeInvalidSchema, "schema document is nil", ErrInvalidDocument)
	}
	work, _ := deepCopy(doc).(map[string]any)

	rawDefs, hasDefs := work[DefsKey]
	if !hasDefs {
		ref, found, err := findRef(work, 0)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, errors.New(errors.CodeInvalidSchema,
				fmt.Sprintf("reference %q has no definitions table to resolve against", ref),
				ErrUnresolvedReference).WithContext("ref", ref)
		}
		return work, nil
	}

	defs, ok := rawDefs.(map[string]any)
	if !ok && rawDefs != nil {
		return nil, errors.New(errors.CodeInvalidSchema,
			fmt.Sprintf("definitions table must be an object, got %s", jsonKind(rawDefs)), ErrInvalidDocument)
	}
	delete(work, DefsKey)

	r := &resolver{defs: defs, active: make(map[string]bool)}
	out, err := r.walk(work, 0)
	if err != nil {
		return nil, err
	}
	result, _ := out.(map[string]any)
	return result, nil
}

// HasReferences reports whether any node of doc is a reference node. The
// check is structural: string values that merely contain "$ref" do not count.
func HasReferences(doc Document) bool {
	_, found, _ := findRef(doc, 0)
	return found
}

func reshape(doc Document) (Document, error) {
	title, ok := doc["title"].(string)
	if !ok || strings.TrimSpace(title) == "" {
		return nil, errors.New(errors.CodeInvalidSchema, "schema must define a non-empty title", ErrMissingTitle)
	}

	params := Document{}
	for _, key := range []string{"properties", "required", "type"} {
		if value, ok := doc[key]; ok {
			params[key] = value
			delete(doc, key)
		}
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	if _, ok := params["properties"]; !ok {
		params["properties"] = Document{}
	}

	delete(doc, "title")
	doc["name"] = title
	doc["parameters"] = params
	return doc, nil
}

// nodeKind tags the variants a document node can take.
type nodeKind int

const (
	nodeScalar nodeKind = iota
	nodeObject
	nodeArray
	nodeRef
)

func kindOf(node any) nodeKind {
	switch n := node.(type) {
	case map[string]any:
		if _, ok := n[RefKey]; ok {
			return nodeRef
		}
		return nodeObject
	case []any:
		return nodeArray
	default:
		return nodeScalar
	}
}

type resolver struct {
	defs   map[string]any
	active map[string]bool
	chain  []string
}

func (r *resolver) walk(node any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errors.New(errors.CodeInvalidSchema,
			fmt.Sprintf("schema nests deeper than %d levels", maxDepth), ErrDepthExceeded)
	}

	switch kindOf(node) {
	case nodeRef:
		return r.expand(node.(map[string]any), depth)
	case nodeObject:
		obj := node.(map[string]any)
		for key, value := range obj {
			resolved, err := r.walk(value, depth+1)
			if err != nil {
				return nil, err
			}
			obj[key] = resolved
		}
		return obj, nil
	case nodeArray:
		arr := node.([]any)
		for i, item := range arr {
			resolved, err := r.walk(item, depth+1)
			if err != nil {
				return nil, err
			}
			arr[i] = resolved
		}
		return arr, nil
	default:
		return node, nil
	}
}

// expand splices the definition named by node's reference into node. Sibling
// keys are resolved too; keys from the definition win on conflict.
func (r *resolver) expand(node map[string]any, depth int) (any, error) {
	ref, ok := node[RefKey].(string)
	if !ok {
		return nil, errors.New(errors.CodeInvalidSchema,
			fmt.Sprintf("reference value must be a string, got %s", jsonKind(node[RefKey])), ErrMalformedReference)
	}
	delete(node, RefKey)

	if r.active[ref] {
		cycle := append(append([]string{}, r.chain...), ref)
		return nil, errors.New(errors.CodeInvalidSchema,
			fmt.Sprintf("reference %q is cyclic: %s", ref, strings.Join(cycle, " -> ")),
			ErrCyclicReference).WithContext("ref", ref)
	}

	target, err := r.lookup(ref)
	if err != nil {
		return nil, err
	}

	r.active[ref] = true
	r.chain = append(r.chain, ref)
	resolved, err := r.walk(deepCopy(target), depth+1)
	r.chain = r.chain[:len(r.chain)-1]
	delete(r.active, ref)
	if err != nil {
		return nil, err
	}

	definition, ok := resolved.(map[string]any)
	if !ok {
		return nil, errors.New(errors.CodeInvalidSchema,
			fmt.Sprintf("reference %q points at %s, want object", ref, jsonKind(resolved)), ErrMalformedReference)
	}

	for key, value := range node {
		sibling, err := r.walk(value, depth+1)
		if err != nil {
			return nil, err
		}
		node[key] = sibling
	}
	for key, value := range definition {
		node[key] = value
	}
	return node, nil
}

func (r *resolver) lookup(ref string) (any, error) {
	if !strings.HasPrefix(ref, RefPrefix) || len(ref) == len(RefPrefix) {
		return nil, errors.New(errors.CodeInvalidSchema,
			fmt.Sprintf("reference %q must start with %q and name a definition", ref, RefPrefix),
			ErrMalformedReference).WithContext("ref", ref)
	}

	var current any = r.defs
	for _, segment := range strings.Split(strings.TrimPrefix(ref, RefPrefix), "/") {
		segment = unescapePointer(segment)
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, unresolved(ref, segment)
		}
		current, ok = obj[segment]
		if !ok {
			return nil, unresolved(ref, segment)
		}
	}
	return current, nil
}

func unresolved(ref, segment string) error {
	return errors.New(errors.CodeInvalidSchema,
		fmt.Sprintf("reference %q does not resolve: no definition %q", ref, segment),
		ErrUnresolvedReference).WithContext("ref", ref)
}

// findRef performs a structural search for the first reference node.
func findRef(node any, depth int) (string, bool, error) {
	if depth > maxDepth {
		return "", false, errors.New(errors.CodeInvalidSchema,
			fmt.Sprintf("schema nests deeper than %d levels", maxDepth), ErrDepthExceeded)
	}
	switch kindOf(node) {
	case nodeRef:
		ref, _ := node.(map[string]any)[RefKey].(string)
		return ref, true, nil
	case nodeObject:
		for _, value := range node.(map[string]any) {
			if ref, found, err := findRef(value, depth+1); found || err != nil {
				return ref, found, err
			}
		}
	case nodeArray:
		for _, item := range node.([]any) {
			if ref, found, err := findRef(item, depth+1); found || err != nil {
				return ref, found, err
			}
		}
	}
	return "", false, nil
}

func unescapePointer(segment string) string {
	return strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
}

func deepCopy(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for key, value := range n {
			out[key] = deepCopy(value)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return node
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
