// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package shape

import (
	"math"
	"sort"
)

type typeRule struct {
	code string
	msg  string
}

var typeRules = map[string]typeRule{
	"integer": {code: "int_type", msg: "Input should be a valid integer"},
	"number":  {code: "float_type", msg: "Input should be a valid number"},
	"string":  {code: "string_type", msg: "Input should be a valid string"},
	"boolean": {code: "bool_type", msg: "Input should be a valid boolean"},
	"array":   {code: "list_type", msg: "Input should be a valid list"},
	"object":  {code: "dict_type", msg: "Input should be a valid dictionary"},
	"null":    {code: "none_required", msg: "Input should be None"},
}

// collect walks an inlined schema node alongside an instance and reports
// type mismatches, missing required properties and forbidden extras.
// Keywords it does not understand are left to the keyword validator.
func collect(node map[string]any, value any, loc []any) []FieldError {
	types := declaredTypes(node)
	if len(types) > 0 && !matchesAny(types, value) {
		return []FieldError{typeError(types, value, loc)}
	}

	var errs []FieldError
	switch v := value.(type) {
	case map[string]any:
		errs = append(errs, collectObject(node, v, loc)...)
	case []any:
		if items, ok := node["items"].(map[string]any); ok {
			for i, item := range v {
				errs = append(errs, collect(items, item, appendLoc(loc, i))...)
			}
		}
	}
	return errs
}

func collectObject(node map[string]any, obj map[string]any, loc []any) []FieldError {
	var errs []FieldError

	props, _ := node["properties"].(map[string]any)
	required := map[string]bool{}
	if list, ok := node["required"].([]any); ok {
		for _, item := range list {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(props)+len(required))
	for name := range props {
		names = append(names, name)
	}
	for name := range required {
		if _, ok := props[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		fieldValue, present := obj[name]
		if !present {
			if required[name] {
				errs = append(errs, FieldError{
					Loc:   appendLoc(loc, name),
					Type:  "missing",
					Msg:   "Field required",
					Input: obj,
				})
			}
			continue
		}
		if fieldValue == nil && !required[name] {
			continue
		}
		if propSchema, ok := props[name].(map[string]any); ok {
			errs = append(errs, collect(propSchema, fieldValue, appendLoc(loc, name))...)
		}
	}

	if extra, ok := node["additionalProperties"].(bool); ok && !extra {
		var extras []string
		for name := range obj {
			if _, ok := props[name]; !ok {
				extras = append(extras, name)
			}
		}
		sort.Strings(extras)
		for _, name := range extras {
			errs = append(errs, FieldError{
				Loc:   appendLoc(loc, name),
				Type:  "extra_forbidden",
				Msg:   "Extra inputs are not permitted",
				Input: obj[name],
			})
		}
	}
	return errs
}

func declaredTypes(node map[string]any) []string {
	switch t := node["type"].(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func matchesAny(types []string, value any) bool {
	for _, t := range types {
		if matchesType(t, value) {
			return true
		}
	}
	return false
}

func matchesType(t string, value any) bool {
	switch t {
	case "integer":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case "number":
		_, ok := value.(float64)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func typeError(types []string, value any, loc []any) FieldError {
	want := types[0]
	for _, t := range types {
		if t != "null" {
			want = t
			break
		}
	}
	rule, ok := typeRules[want]
	if !ok {
		rule = typeRule{code: want + "_type", msg: "Input should be of type " + want}
	}
	if f, isNumber := value.(float64); want == "integer" && isNumber && f != math.Trunc(f) {
		rule = typeRule{code: "int_from_float", msg: "Input should be a valid integer, got a number with a fractional part"}
	}
	return FieldError{Loc: loc, Type: rule.code, Msg: rule.msg, Input: value}
}

func appendLoc(loc []any, part any) []any {
	out := make([]any, len(loc), len(loc)+1)
	copy(out, loc)
	return append(out, part)
}
