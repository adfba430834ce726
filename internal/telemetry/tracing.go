package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingOptions configure the span exporter
type TracingOptions struct {
	ServiceName string
	PrettyPrint bool
	Writer      io.Writer // defaults to stderr
}

// InitTracing installs a global tracer provider that writes spans with the
// stdout exporter. The returned function flushes and stops it.
func InitTracing(opts TracingOptions) (func(context.Context) error, error) {
	if opts.ServiceName == "" {
		return nil, fmt.Errorf("telemetry: service name is required")
	}
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(opts.Writer)}
	if opts.PrettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", opts.ServiceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
