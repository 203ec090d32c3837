package metrics

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides PrometheusRecorder and OpenTelemetryTracer.
var Module = fx.Options(
	// Provide PrometheusRecorder as a MetricRecorder interface.
	fx.Provide(fx.Annotate(
		NewPrometheusRecorder,
		fx.As(new(MetricRecorder)),
	)),
	fx.Provide(NewTracerProvider),
	// Provide OpenTelemetryTracer as a Tracer interface.
	fx.Provide(fx.Annotate(
		NewOpenTelemetryTracer,
		fx.As(new(Tracer)),
	)),
)
