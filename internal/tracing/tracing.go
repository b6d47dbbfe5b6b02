// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type Options struct {
	Enabled     bool
	ServiceName string
	// SampleRatio is applied to root spans; children follow their parent.
	SampleRatio float64
	// Writer receives exported spans. Nil means stdout.
	Writer io.Writer
}

type errorHandler struct {
	log *zap.Logger
}

func (h errorHandler) Handle(err error) {
	h.log.Warn("trace error occurred", zap.Error(err))
}

// Setup installs a batching stdout exporter when enabled. The returned
// function flushes and stops the provider; it is a no-op when tracing is off.
func Setup(opts Options, log *zap.Logger) (func(context.Context) error, error) {
	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	exOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if opts.Writer != nil {
		exOpts = append(exOpts, stdouttrace.WithWriter(opts.Writer))
	}
	exporter, err := stdouttrace.New(exOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdouttrace exporter: %w", err)
	}

	ratio := opts.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	name := opts.ServiceName
	if name == "" {
		name = "agingd"
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(errorHandler{log: log.Named("trace")})

	log.Info("tracing enabled", zap.String("service", name), zap.Float64("ratio", ratio))
	return tp.Shutdown, nil
}
