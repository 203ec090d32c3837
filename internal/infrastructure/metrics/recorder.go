// Package metrics records pipeline metrics and traces.
// Stages talk to the MetricRecorder and Tracer interfaces; the Prometheus and OpenTelemetry
// implementations are wired by Module, with no-op fallbacks for tests.
package metrics

import (
	"context"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
)

// MetricRecorder records metrics about job, step and table state.
type MetricRecorder interface {
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordTableRows sets the current row count of a store table.
	RecordTableRows(ctx context.Context, table string, rows int64)
	// RecordRowsRemoved counts rows deleted by one cleaning predicate.
	RecordRowsRemoved(ctx context.Context, color model.Color, predicate string, rows int64)
	// RecordPeriodLoaded counts one monthly file ingested into a raw table.
	RecordPeriodLoaded(ctx context.Context, color model.Color)

	// Flush delivers collected metrics to their backend, if any.
	Flush(ctx context.Context) error
}

// Tracer abstracts distributed tracing of job and step executions.
type Tracer interface {
	// StartJobSpan starts a span for a JobExecution.
	// It returns a context carrying the span and a function that ends it.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	// StartStepSpan starts a span for a StepExecution, usually as a child of the job span.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())
	// RecordError records err on the span in ctx.
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds a named event to the span in ctx.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}

// NoOpMetricRecorder discards everything.
type NoOpMetricRecorder struct{}

func NewNoOpMetricRecorder() *NoOpMetricRecorder { return &NoOpMetricRecorder{} }

func (NoOpMetricRecorder) RecordJobStart(context.Context, *model.JobExecution) {}
func (NoOpMetricRecorder) RecordJobEnd(context.Context, *model.JobExecution) {}
func (NoOpMetricRecorder) RecordStepStart(context.Context, *model.StepExecution) {}
func (NoOpMetricRecorder) RecordStepEnd(context.Context, *model.StepExecution) {}
func (NoOpMetricRecorder) RecordTableRows(context.Context, string, int64) {}
func (NoOpMetricRecorder) RecordRowsRemoved(context.Context, model.Color, string, int64) {}
func (NoOpMetricRecorder) RecordPeriodLoaded(context.Context, model.Color) {}
func (NoOpMetricRecorder) Flush(context.Context) error { return nil }

// NoOpTracer discards everything.
type NoOpTracer struct{}

func NewNoOpTracer() *NoOpTracer { return &NoOpTracer{} }

func (NoOpTracer) StartJobSpan(ctx context.Context, _ *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (NoOpTracer) StartStepSpan(ctx context.Context, _ *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (NoOpTracer) RecordError(context.Context, string, error) {}
func (NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var (
	_ MetricRecorder = (*NoOpMetricRecorder)(nil)
	_ Tracer         = (*NoOpTracer)(nil)
)
