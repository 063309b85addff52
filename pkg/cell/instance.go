// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

package cell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kinkernel/pkg/config"
	"github.com/jllopis/kinkernel/pkg/errors"
	"github.com/jllopis/kinkernel/pkg/resilience"
	"github.com/jllopis/kinkernel/pkg/telemetry"
)

const tracerName = "github.com/jllopis/kinkernel/cell"

// Stages a run goes through, reported in logs and span attributes.
const (
	StageGate    = "gate"
	StageShapes  = "shapes"
	StageInput   = "input"
	StageExecute = "execute"
	StageOutput  = "output"
)

var defaultMetrics = sync.OnceValue(func() *telemetry.RunMetrics {
	m, err := telemetry.NewRunMetrics(nil)
	if err != nil {
		slog.Warn("cell metrics disabled", "error", err)
		return nil
	}
	return m
})

type options struct {
	args     Args
	logger   *slog.Logger
	metrics  *telemetry.RunMetrics
	tracer   trace.TracerProvider
	timeout  time.Duration
	noMetric bool
}

// Option configures an instance.
type Option func(*options)

// WithArgs sets the positional constructor arguments.
func WithArgs(args ...any) Option {
	return func(o *options) {
		o.args.Positional = append([]any(nil), args...)
	}
}

// WithKwargs sets the keyword constructor arguments.
func WithKwargs(kwargs map[string]any) Option {
	return func(o *options) {
		o.args.Keyword = kwargs
	}
}

// WithEnv appends environment variables visible through ArgsFrom(ctx).Getenv.
func WithEnv(vars ...config.EnvVar) Option {
	return func(o *options) {
		o.args.Env.EnvVars = append(o.args.Env.EnvVars, vars...)
	}
}

// WithLogger sets the logger; the process default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records runs on m. A nil m disables metrics for the instance.
func WithMetrics(m *telemetry.RunMetrics) Option {
	return func(o *options) {
		o.metrics = m
		o.noMetric = m == nil
	}
}

// WithTracerProvider sets where run spans are created; the global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithTimeout bounds the execute step of this instance, overriding the
// definition. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = max(d, 0)
	}
}

// Cell is an instance of a Definition.
type Cell[I, O any] struct {
	def  *Definition[I, O]
	opts options
	gate chan struct{}
}

// Definition returns the cell type of c.
func (c *Cell[I, O]) Definition() *Definition[I, O] {
	return c.def
}

// Role returns the role of the cell type.
func (c *Cell[I, O]) Role() (string, error) { return c.def.Role() }

// Description returns the description of the cell type.
func (c *Cell[I, O]) Description() (string, error) { return c.def.Description() }

// InputSchemaJSON returns the indented input schema of the cell type.
func (c *Cell[I, O]) InputSchemaJSON() (string, error) { return c.def.InputSchemaJSON() }

// OutputSchemaJSON returns the indented output schema of the cell type.
func (c *Cell[I, O]) OutputSchemaJSON() (string, error) { return c.def.OutputSchemaJSON() }

// RunJSON is Run for callers speaking JSON text on both sides.
func (c *Cell[I, O]) RunJSON(ctx context.Context, input string) string {
	return c.Run(ctx, []byte(input)).JSON()
}

// Run validates input, executes the cell and validates its output.
//
// Run never fails: every problem, including a panic in the execute function
// or a cancelled context, is reported as an error envelope. Concurrent calls
// on the same instance are served one at a time.
func (c *Cell[I, O]) Run(ctx context.Context, input []byte) Response {
	start := time.Now()
	runID := uuid.NewString()
	role := c.def.role

	ctx = telemetry.WithRunID(ctx, runID)
	ctx = withArgs(ctx, c.opts.args.clone())
	ctx, span := c.tracerProvider().Tracer(tracerName).Start(ctx, "Cell.Run",
		trace.WithAttributes(telemetry.CellAttributes(role, runID)...),
	)
	defer span.End()

	if err := c.acquire(ctx); err != nil {
		return c.finish(ctx, span, start, input, StageGate, nil, err)
	}
	defer c.release()

	stage, data, err := c.serve(ctx, input)
	return c.finish(ctx, span, start, input, stage, data, err)
}

// acquire takes the gate, giving up when ctx ends first.
func (c *Cell[I, O]) acquire(ctx context.Context) error {
	select {
	case c.gate <- struct{}{}:
		return nil
	default:
	}
	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.New(errors.CodeCanceled, "run canceled while waiting for the cell", ctx.Err())
	}
}

func (c *Cell[I, O]) release() {
	<-c.gate
}

func (c *Cell[I, O]) serve(ctx context.Context, input []byte) (stage string, data []byte, err error) {
	stage = StageShapes
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeExecutionFailure, fmt.Sprintf("panic during %s: %v", stage, r), nil)
		}
	}()

	d := c.def
	if isNil(d.input) || isNil(d.output) {
		return stage, nil, errors.New(errors.CodeShapeMissing, "input and output formats must be defined", nil)
	}

	stage = StageInput
	in, err := d.input.Parse(input)
	if err != nil {
		return stage, nil, errors.New(errors.CodeInvalidInput, "input validation failed", err)
	}

	stage = StageExecute
	out, err := resilience.WithTimeout(ctx, c.opts.timeout, func(ctx context.Context) (O, error) {
		return c.execute(ctx, in)
	})
	if err != nil {
		if errors.IsCode(err, errors.CodeTimeout) || errors.IsCode(err, errors.CodeCanceled) {
			return stage, nil, err
		}
		return stage, nil, errors.New(errors.CodeExecutionFailure, "execution failed", err)
	}

	stage = StageOutput
	data, err = d.output.Serialize(out)
	if err != nil {
		return stage, nil, errors.New(errors.CodeInvalidOutput, "output validation failed", err)
	}
	return stage, data, nil
}

func (c *Cell[I, O]) execute(ctx context.Context, in I) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.def.execute(ctx, in)
}

func (c *Cell[I, O]) finish(ctx context.Context, span trace.Span, start time.Time, input []byte, stage string, data []byte, err error) Response {
	elapsed := time.Since(start)
	role := c.def.role
	metrics := c.runMetrics()
	logger := c.logger()

	if err == nil {
		resp := Succeed(string(data))
		span.SetAttributes(telemetry.PayloadAttributes(string(input), resp.Content, 0)...)
		span.SetStatus(codes.Ok, "")
		metrics.RecordRun(ctx, role, telemetry.OutcomeSuccess, elapsed)
		logger.DebugContext(ctx, "cell run succeeded",
			"role", role,
			"duration_ms", elapsed.Milliseconds(),
		)
		return resp
	}

	resp := Fail(err)
	code := errors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, resp.Content)
	span.SetAttributes(
		attribute.String(telemetry.AttrCellStage, stage),
		attribute.String(telemetry.AttrErrorCode, string(code)),
	)
	metrics.RecordRun(ctx, role, telemetry.OutcomeError, elapsed)
	metrics.RecordError(ctx, role, err)
	logger.WarnContext(ctx, "cell run failed",
		"role", role,
		"stage", stage,
		"code", code,
		"duration_ms", elapsed.Milliseconds(),
		"error", err,
	)
	return resp
}

func (c *Cell[I, O]) logger() *slog.Logger {
	if c.opts.logger != nil {
		return c.opts.logger
	}
	return slog.Default()
}

func (c *Cell[I, O]) runMetrics() *telemetry.RunMetrics {
	if c.opts.metrics != nil || c.opts.noMetric {
		return c.opts.metrics
	}
	return defaultMetrics()
}

func (c *Cell[I, O]) tracerProvider() trace.TracerProvider {
	if c.opts.tracer != nil {
		return c.opts.tracer
	}
	return otel.GetTracerProvider()
}
