package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// NewTracerProvider builds a tracer provider tagged with the given service
// name. Exporters are left to the caller to attach via sdktrace.WithBatcher;
// a provider with no exporter still yields a usable no-op-safe Tracer.
func NewTracerProvider(serviceName string, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}
	allOpts := append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	return sdktrace.NewTracerProvider(allOpts...), nil
}

// StartSpanFunc mirrors the function type repository and router code accepts
// so spans can be started without importing otel directly at every call site.
type StartSpanFunc func(ctx context.Context, name string) (context.Context, trace.Span)

// SpanStarter returns a StartSpanFunc bound to the named tracer.
func SpanStarter(tracerName string) StartSpanFunc {
	tracer := otel.Tracer(tracerName)
	return func(ctx context.Context, name string) (context.Context, trace.Span) {
		return tracer.Start(ctx, name)
	}
}
