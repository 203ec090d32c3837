package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

const instrumentationName = "github.com/tigerroll/taxiemissions"

// OpenTelemetryTracer is an OpenTelemetry implementation of the Tracer interface.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer backed by the given provider.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: provider.Tracer(instrumentationName)}
}

func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job."+execution.JobName, trace.WithAttributes(
		attribute.String("job.execution_id", execution.ID),
		attribute.StringSlice("job.stages", execution.Stages),
	))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("job.status", execution.Status.String()),
			attribute.String("job.exit_status", execution.ExitStatus.String()),
		)
		if execution.Status == model.BatchStatusFailed {
			span.SetStatus(codes.Error, "job failed")
		}
		span.End()
	}
}

func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step."+execution.StepName, trace.WithAttributes(
		attribute.String("step.execution_id", execution.ID),
		attribute.String("job.execution_id", execution.JobExecutionID),
	))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("step.status", execution.Status.String()),
			attribute.String("step.exit_status", execution.ExitStatus.String()),
			attribute.Int64("step.write_count", execution.WriteCount),
		)
		span.End()
	}
}

func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(
		attribute.String("module", module),
		attribute.String("error.kind", exception.KindOf(err).String()),
	))
	span.SetStatus(codes.Error, err.Error())
}

func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(m map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}

// NewTracerProvider builds the provider used by OpenTelemetryTracer.
// With tracing disabled it returns a no-op provider; otherwise spans are batched to an
// OTLP/HTTP collector and flushed when the application stops.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config) (trace.TracerProvider, error) {
	tracing := cfg.Emissions.Tracing
	if !tracing.Enabled {
		return noop.NewTracerProvider(), nil
	}

	var opts []otlptracehttp.Option
	if tracing.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(tracing.OTLPEndpoint))
	}
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, exception.NewBatchError("metrics", exception.KindConfig, "failed to create OTLP trace exporter", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "taxi-emissions"),
			attribute.String("batch.job_name", cfg.Emissions.Batch.JobName),
		)),
	)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Shutting down tracer provider.")
			return provider.Shutdown(ctx)
		},
	})
	logger.Infof("Tracing enabled, exporting spans to %s", tracing.OTLPEndpoint)
	return provider, nil
}

var _ Tracer = (*OpenTelemetryTracer)(nil)
