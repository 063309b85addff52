package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/kinkernel/pkg/errors"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumByAttr(t *testing.T, m metricdata.Metrics, key string) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s: expected Sum[int64], got %T", m.Name, m.Data)
	}
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestRunMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewRunMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewRunMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordRun(ctx, "sum", OutcomeSuccess, 2*time.Millisecond)
	m.RecordRun(ctx, "sum", OutcomeSuccess, 4*time.Millisecond)
	m.RecordRun(ctx, "sum", OutcomeError, time.Millisecond)
	m.RecordError(ctx, "sum", errors.New(errors.CodeInvalidInput, "bad input", nil))
	m.RecordError(ctx, "sum", fmt.Errorf("plain"))
	m.RecordError(ctx, "sum", nil)

	got := collect(t, reader)

	runs := sumByAttr(t, got["kinkernel.cell.runs"], AttrCellOutcome)
	if runs[OutcomeSuccess] != 2 || runs[OutcomeError] != 1 {
		t.Fatalf("unexpected runs: %v", runs)
	}

	failures := sumByAttr(t, got["kinkernel.cell.errors"], AttrErrorCode)
	if failures[string(errors.CodeInvalidInput)] != 1 || failures[string(errors.CodeInternal)] != 1 {
		t.Fatalf("unexpected failures: %v", failures)
	}

	hist, ok := got["kinkernel.cell.run.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected histogram, got %T", got["kinkernel.cell.run.duration"].Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Fatalf("expected 3 duration samples, got %d", count)
	}
}

func TestRunMetrics_NilSafe(t *testing.T) {
	var m *RunMetrics
	m.RecordRun(context.Background(), "sum", OutcomeSuccess, time.Millisecond)
	m.RecordError(context.Background(), "sum", errors.New(errors.CodeTimeout, "slow", nil))
}
