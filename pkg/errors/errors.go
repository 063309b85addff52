// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed errors that classify every failure a cell or
// the schema tooling can report, while keeping the human-readable diagnostic
// separate from the structured context used by logs and telemetry.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies failures for logging, metrics and callers.
type ErrorCode string

const (
	// CodeInternal indicates an unexpected internal failure.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidDefinition indicates a cell type is missing a descriptor field.
	CodeInvalidDefinition ErrorCode = "INVALID_DEFINITION"

	// CodeShapeMissing indicates an input or output shape was absent at call time.
	CodeShapeMissing ErrorCode = "SHAPE_MISSING"

	// CodeInvalidInput indicates the request did not conform to the input shape.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeExecutionFailure indicates the execution step itself failed.
	CodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"

	// CodeInvalidOutput indicates the execution result did not conform to the output shape.
	CodeInvalidOutput ErrorCode = "INVALID_OUTPUT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCanceled indicates the caller gave up before the operation finished.
	CodeCanceled ErrorCode = "CANCELED"

	// CodeUnavailable indicates a remote cell host could not be reached.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeInvalidSchema indicates a schema document could not be dereferenced.
	CodeInvalidSchema ErrorCode = "INVALID_SCHEMA"

	// CodeMissingContent indicates a run result carried no content field.
	CodeMissingContent ErrorCode = "MISSING_CONTENT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	payload := struct {
		Message     string            `json:"message"`
		Code        string            `json:"code"`
		Cause       string            `json:"error,omitempty"`
		Context     map[string]any    `json:"context,omitempty"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		Recoverable bool              `json:"recoverable"`
		StatusCode  int               `json:"status_code"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Context:     e.Context,
		Attributes:  e.Attributes,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	}
	if e.Err != nil {
		payload.Cause = e.Err.Error()
	}
	return json.Marshal(payload)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]any),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf creates a new Error without cause and a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// As returns err as an *Error if one is found in its chain, or wraps it as
// an internal error otherwise.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Code
	}
	return CodeInternal
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var typed *Error
		if !stderrors.As(err, &typed) {
			return false
		}
		if typed.Code == code {
			return true
		}
		err = typed.Err
	}
	return false
}

// Diagnostic returns the human-readable text describing the root failure.
//
// The chain of typed errors is followed down to the first error that is not
// an *Error. Typed errors without a cause, and timeouts (whose cause is a bare
// context error), contribute their own message instead.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if !stderrors.As(err, &typed) {
		return err.Error()
	}
	if typed.Err == nil || typed.Code == CodeTimeout {
		return typed.Message
	}
	return Diagnostic(typed.Err)
}

// codeToStatusCode maps error codes to HTTP-like status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidInput, CodeInvalidSchema:
		return 400
	case CodeTimeout:
		return 408
	case CodeUnavailable:
		return 503
	case CodeInvalidOutput, CodeExecutionFailure:
		return 422
	default:
		return 500
	}
}
