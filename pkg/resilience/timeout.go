// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience bounds and retries calls that may block: the execution
// step of a cell and requests to remote cell hosts.
package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jllopis/kinkernel/pkg/errors"
)

// WithTimeout runs fn under a deadline of d and returns its result.
//
// fn receives the derived context. If the deadline passes first WithTimeout
// returns a CodeTimeout error without waiting for fn; fn keeps running until
// it observes the cancelled context. A zero or negative d calls fn directly.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, contextError(ctx.Err(), d)
	case res := <-done:
		return res.value, res.err
	}
}

func contextError(err error, d time.Duration) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, fmt.Sprintf("operation exceeded timeout of %s", d), err).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	}
	return errors.New(errors.CodeCanceled, "operation canceled", err)
}
