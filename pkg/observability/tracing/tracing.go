// Package tracing sets up OpenTelemetry and records a span per task run.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fluxorio/mstflow/pkg/core/concurrency"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used for task spans
const InstrumentationName = "github.com/fluxorio/mstflow/pkg/core/concurrency"

// Config configures OpenTelemetry
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Exporter is "stdout" or "none". "none" keeps spans in-process only.
	Exporter string

	// SampleRate is the fraction of root tasks traced, 0..1
	SampleRate float64

	Pretty bool
	Writer io.Writer // stdout exporter target, defaults to os.Stdout
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Initialize installs a global tracer provider built from cfg
func Initialize(ctx context.Context, cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if provider != nil {
		return fmt.Errorf("tracing already initialized")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mstflow"
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return fmt.Errorf("sample rate %v out of range [0, 1]", cfg.SampleRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}

	switch cfg.Exporter {
	case "", "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
		if cfg.Pretty {
			exOpts = append(exOpts, stdouttrace.WithPrettyPrint())
		}
		exp, err := stdouttrace.New(exOpts...)
		if err != nil {
			return fmt.Errorf("create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "none":
	default:
		return fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}

	provider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return nil
}

// IsInitialized reports whether Initialize succeeded and Shutdown was not called
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return provider != nil
}

// Shutdown flushes pending spans and uninstalls the provider
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// TaskMiddleware starts a span around every handler run of the named
// processor. A nil tp uses the global provider.
func TaskMiddleware(processor string, tp trace.TracerProvider) concurrency.Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(InstrumentationName)

	return func(next concurrency.Handler) concurrency.Handler {
		return func(ctx context.Context, t concurrency.Task) error {
			ctx, span := tracer.Start(ctx, "task "+t.Op.String(),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("mstflow.processor", processor),
					attribute.String("mstflow.task.id", t.ID),
					attribute.String("mstflow.task.op", t.Op.String()),
					attribute.Bool("mstflow.task.forwarded", t.Forwarded),
					attribute.String("mstflow.conn.id", t.ConnID()),
				),
			)
			defer span.End()
			if w := concurrency.WorkerFrom(ctx); w != "" {
				span.SetAttributes(attribute.String("mstflow.worker", w))
			}

			err := next(ctx, t)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			span.SetStatus(codes.Ok, "")
			return nil
		}
	}
}
