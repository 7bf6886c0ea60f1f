package telemetry

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ansible/ai-connect-gateway"

// TracerOptions selects where spans are exported.
type TracerOptions struct {
	// Writer receives pretty-printed spans. Nil disables export.
	Writer io.Writer
}

// InitTracer installs the global tracer provider and returns its shutdown function.
func InitTracer(serviceName string, opts TracerOptions, logger *slog.Logger) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.Writer != nil {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(opts.Writer), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized",
		slog.String("service", serviceName),
		slog.Bool("export", opts.Writer != nil),
	)

	return tp.Shutdown, nil
}

// Tracer returns the gateway's named tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
