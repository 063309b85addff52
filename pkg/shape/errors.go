// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package shape

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxInputRepr = 60

// FieldError describes one violation at a location inside the document.
// Loc holds property names (string) and array indexes (int); an empty Loc
// refers to the document itself.
type FieldError struct {
	Loc   []any
	Type  string
	Msg   string
	Input any
}

// Path renders Loc as a dotted path.
func (fe FieldError) Path() string {
	parts := make([]string, 0, len(fe.Loc))
	for _, part := range fe.Loc {
		switch p := part.(type) {
		case int:
			parts = append(parts, strconv.Itoa(p))
		default:
			parts = append(parts, fmt.Sprint(p))
		}
	}
	return strings.Join(parts, ".")
}

// ValidationError aggregates the field errors found for one document.
type ValidationError struct {
	Title  string
	Errors []FieldError
}

// Error renders the errors one per location, in the order they were found:
//
//	1 validation error for AddInput
//	x
//	  Input should be a valid integer [type=int_type, input_value="a", input_type=string]
func (e *ValidationError) Error() string {
	var b strings.Builder
	noun := "errors"
	if len(e.Errors) == 1 {
		noun = "error"
	}
	fmt.Fprintf(&b, "%d validation %s for %s", len(e.Errors), noun, e.Title)
	for _, fe := range e.Errors {
		if path := fe.Path(); path != "" {
			b.WriteString("\n")
			b.WriteString(path)
		}
		fmt.Fprintf(&b, "\n  %s [type=%s, input_value=%s, input_type=%s]",
			fe.Msg, fe.Type, reprValue(fe.Input), inputType(fe.Input))
	}
	return b.String()
}

func reprValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	s := string(data)
	if utf8.RuneCountInString(s) > maxInputRepr {
		s = string([]rune(s)[:maxInputRepr]) + "..."
	}
	return s
}

func inputType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
