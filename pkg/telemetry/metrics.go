// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/kinkernel/pkg/errors"
)

// MeterName is the instrumentation scope of cell metrics.
const MeterName = "github.com/jllopis/kinkernel/cell"

// RunMetrics records cell run counts, latencies and failures.
// A nil *RunMetrics is valid and records nothing.
type RunMetrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

// NewRunMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	runs, err := meter.Int64Counter(
		"kinkernel.cell.runs",
		metric.WithDescription("Cell runs by role and outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"kinkernel.cell.run.duration",
		metric.WithDescription("Cell run latency including gate wait"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"kinkernel.cell.errors",
		metric.WithDescription("Cell run failures by role and error code"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{runs: runs, duration: duration, failures: failures}, nil
}

// RecordRun counts one finished run and its latency.
func (m *RunMetrics) RecordRun(ctx context.Context, role, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrCellRole, role),
		attribute.String(AttrCellOutcome, outcome),
	)
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

// RecordError counts a failed run under the error code of err.
func (m *RunMetrics) RecordError(ctx context.Context, role string, err error) {
	if m == nil || err == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCellRole, role),
		attribute.String(AttrErrorCode, string(errors.CodeOf(err))),
	))
}
