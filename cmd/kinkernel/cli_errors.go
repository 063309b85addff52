// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/kinkernel/pkg/errors"
)

// CLIError wraps a typed error with a hint for the user.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Err: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError reports an unknown cell role.
func NewNotFoundError(role string) *CLIError {
	e := errors.New(errors.CodeNotFound, fmt.Sprintf("cell '%s' not found", role), nil).
		WithContext("role", role)
	return NewCLIError(e, "run 'kinkernel list' to see the available cells")
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg)
	return NewCLIError(e, "run 'kinkernel help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error) *CLIError {
	e := errors.New(errors.CodeInvalidDefinition, "configuration error", err)
	return NewCLIError(e, "check the file passed with --config and any --set overrides")
}

// NewRunError reports a cell run that ended in an error envelope.
func NewRunError(role, diagnostic string) *CLIError {
	e := errors.New(errors.CodeExecutionFailure, diagnostic, nil).
		WithAttribute("role", role)
	return NewCLIError(e, "")
}

// printError writes err to w, as JSON when asJSON is set.
func printError(w io.Writer, err error, asJSON bool) {
	var cliErr *CLIError
	if !stderrors.As(err, &cliErr) {
		typed := errors.As(err)
		if typed == nil {
			typed = errors.New(errors.CodeInternal, err.Error(), nil)
		}
		cliErr = NewCLIError(typed, "")
	}

	if asJSON {
		payload, _ := json.Marshal(map[string]any{
			"error": map[string]string{
				"code":    string(cliErr.Err.Code),
				"message": errors.Diagnostic(cliErr.Err),
				"hint":    cliErr.Hint,
			},
		})
		fmt.Fprintln(w, string(payload))
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", cliErr.Err.Code, errors.Diagnostic(cliErr.Err))
	if cliErr.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", cliErr.Hint)
	}
}
