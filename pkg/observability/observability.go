// Package observability wires structured logging and optional OTLP tracing
// for the reconciliation pipeline. Tracing is off unless an endpoint is
// configured; logging always works.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "aquahist"

// Config configures the provider.
type Config struct {
	LogLevel     string // DEBUG, INFO, WARN, ERROR
	OTLPEndpoint string // gRPC endpoint, e.g. "localhost:4317"; empty disables tracing
	BatchTimeout time.Duration
}

// Provider holds the run-scoped logger and, when configured, a tracer.
type Provider struct {
	logger         *slog.Logger
	runID          string
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// New builds a Provider. Every run gets a unique id attached to all log
// records, so interleaved runs against the same database stay separable.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	runID := uuid.NewString()[:8]
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})
	p := &Provider{
		logger: slog.New(handler).With("run_id", runID),
		runID:  runID,
	}

	if cfg.OTLPEndpoint == "" {
		p.tracer = noop.NewTracerProvider().Tracer(serviceName)
		return p, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: otlp exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			attribute.String("run.id", runID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 5 * time.Second
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(serviceName)
	return p, nil
}

// Logger returns the run-scoped logger.
func (p *Provider) Logger() *slog.Logger { return p.logger }

// RunID returns the short id attached to this run's records.
func (p *Provider) RunID() string { return p.runID }

// Tracer returns the configured tracer, a no-op one when tracing is off.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes any buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider == nil {
		return nil
	}
	return p.tracerProvider.Shutdown(ctx)
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
