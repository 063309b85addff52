// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("division by zero")
	ce := New(CodeExecutionFailure, "execution failed", cause)

	if ce.Code != CodeExecutionFailure {
		t.Errorf("expected CodeExecutionFailure, got %v", ce.Code)
	}
	if ce.Message != "execution failed" {
		t.Errorf("expected message 'execution failed', got %q", ce.Message)
	}
	if ce.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(ce, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContextAndAttributes(t *testing.T) {
	ce := New(CodeInvalidInput, "input validation failed", nil)
	ce.WithContext("role", "sum").
		WithContext("stage", "validating-input").
		WithAttribute("cell.role", "sum")

	if ce.Context["role"] != "sum" {
		t.Errorf("expected context role to be 'sum'")
	}
	if ce.Context["stage"] != "validating-input" {
		t.Errorf("expected context stage to be set")
	}
	if ce.Attributes["cell.role"] != "sum" {
		t.Errorf("expected attribute cell.role")
	}
}

func TestWithRecoverable(t *testing.T) {
	ce := New(CodeTimeout, "execution timed out", nil)
	if ce.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}
	ce.WithRecoverable(true)
	if !ce.Recoverable || ce.RecoverableString() != "true" {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		ce       *Error
		expected string
	}{
		{
			name:     "with cause",
			ce:       New(CodeExecutionFailure, "execution failed", errors.New("boom")),
			expected: "[EXECUTION_FAILURE] execution failed: boom",
		},
		{
			name:     "without cause",
			ce:       New(CodeNotFound, "cell not found", nil),
			expected: "[NOT_FOUND] cell not found",
		},
		{
			name:     "formatted",
			ce:       Newf(CodeInvalidDefinition, "cell definition must define a %q", "role"),
			expected: `[INVALID_DEFINITION] cell definition must define a "role"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ce.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "typed error", err: New(CodeInvalidOutput, "bad", nil), expected: CodeInvalidOutput},
		{name: "wrapped typed error", err: fmt.Errorf("outer: %w", New(CodeTimeout, "slow", nil)), expected: CodeTimeout},
		{name: "generic error", err: errors.New("generic error"), expected: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := As(tt.err)
			if tt.expected == "" {
				if ce != nil {
					t.Errorf("expected nil for nil error")
				}
				return
			}
			if ce == nil {
				t.Fatalf("expected non-nil Error")
			}
			if ce.Code != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, ce.Code)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	inner := New(CodeTimeout, "execution exceeded timeout of 10ms", context.DeadlineExceeded)
	outer := New(CodeExecutionFailure, "execution failed", inner)

	if !IsCode(outer, CodeExecutionFailure) {
		t.Errorf("expected outer code to match")
	}
	if !IsCode(outer, CodeTimeout) {
		t.Errorf("expected nested timeout code to match")
	}
	if IsCode(outer, CodeInvalidInput) {
		t.Errorf("did not expect INVALID_INPUT to match")
	}
	if IsCode(errors.New("plain"), CodeInternal) {
		t.Errorf("plain errors carry no code")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Errorf("expected CodeOf plain error to be INTERNAL_ERROR")
	}
}

func TestDiagnostic(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "plain", err: errors.New("General error"), expected: "General error"},
		{name: "typed without cause", err: New(CodeShapeMissing, "input and output formats must be defined", nil), expected: "input and output formats must be defined"},
		{name: "typed with cause", err: New(CodeExecutionFailure, "execution failed", errors.New("General error")), expected: "General error"},
		{
			name:     "nested typed",
			err:      New(CodeExecutionFailure, "execution failed", New(CodeInvalidOutput, "output rejected", errors.New("result missing"))),
			expected: "result missing",
		},
		{
			name:     "timeout keeps its message",
			err:      New(CodeExecutionFailure, "execution failed", New(CodeTimeout, "operation exceeded timeout of 5ms", context.DeadlineExceeded)),
			expected: "operation exceeded timeout of 5ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Diagnostic(tt.err); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	ce := New(CodeExecutionFailure, "execution failed", errors.New("network error"))
	ce.WithContext("role", "weather").
		WithAttribute("retry_count", "1").
		WithRecoverable(true)

	data, err := json.Marshal(ce)
	if err != nil {
		t.Fatalf("unexpected error marshaling: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}

	if result["code"] != "EXECUTION_FAILURE" {
		t.Errorf("expected code 'EXECUTION_FAILURE', got %v", result["code"])
	}
	if result["error"] != "network error" {
		t.Errorf("expected cause text, got %v", result["error"])
	}
	if result["recoverable"] != true {
		t.Errorf("expected recoverable true")
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{CodeNotFound, 404},
		{CodeInvalidInput, 400},
		{CodeInvalidSchema, 400},
		{CodeTimeout, 408},
		{CodeExecutionFailure, 422},
		{CodeInternal, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if ce := New(tt.code, "test", nil); ce.StatusCode != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, ce.StatusCode)
			}
		})
	}
}
