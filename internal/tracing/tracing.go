// Package tracing настраивает OpenTelemetry tracer provider процесса.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Экспортёры спанов.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config описывает параметры трассировки.
type Config struct {
	ServiceName string
	Environment string
	Exporter    string
	// Writer для stdout-экспортёра, по умолчанию os.Stdout.
	Writer io.Writer
}

// ShutdownFunc сбрасывает накопленные спаны и освобождает ресурсы.
type ShutdownFunc func(ctx context.Context) error

// Setup создаёт tracer provider и регистрирует его глобально.
// При Exporter=none возвращается noop provider.
func Setup(ctx context.Context, cfg Config) (trace.TracerProvider, ShutdownFunc, error) {
	exporter := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if exporter == "" || exporter == ExporterNone {
		provider := nooptrace.NewTracerProvider()
		return provider, func(context.Context) error { return nil }, nil
	}
	if exporter != ExporterStdout {
		return nil, nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	spanExporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	environment := cfg.Environment
	if environment == "" {
		environment = "local"
	}
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build tracing resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider, provider.Shutdown, nil
}
