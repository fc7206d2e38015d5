// Package observer provides optional OpenTelemetry instrumentation for
// the runtime's LLM calls and tool executions. It wraps the Provider
// and ToolExecutor with versions that emit traces and metrics via OTLP
// HTTP exporters; configuration comes from the standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). When the observer is disabled
// the engine runs with the raw collaborators and never touches OTEL.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/ardelia/vigil/observer"

// Instruments holds the OTEL instruments shared by the wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	TokenUsage     metric.Int64Counter
	LLMRequests    metric.Int64Counter
	ToolExecutions metric.Int64Counter
	RoundsTotal    metric.Int64Counter

	LLMDuration  metric.Float64Histogram
	ToolDuration metric.Float64Histogram
}

// Init sets up trace, metric, and log providers with OTLP HTTP
// exporters. Returns a shutdown function to call on exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("vigil")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}
	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	meter := otel.Meter(scopeName)

	tokenUsage, err := meter.Int64Counter("vigil.llm.tokens",
		metric.WithDescription("Token usage by direction"))
	if err != nil {
		return nil, err
	}
	llmRequests, err := meter.Int64Counter("vigil.llm.requests",
		metric.WithDescription("LLM requests by provider and outcome"))
	if err != nil {
		return nil, err
	}
	toolExecs, err := meter.Int64Counter("vigil.tool.executions",
		metric.WithDescription("Tool executions by name"))
	if err != nil {
		return nil, err
	}
	rounds, err := meter.Int64Counter("vigil.rounds",
		metric.WithDescription("Activation rounds completed"))
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("vigil.llm.duration",
		metric.WithDescription("LLM call duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("vigil.tool.duration",
		metric.WithDescription("Tool execution duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:         otel.Tracer(scopeName),
		Meter:          meter,
		Logger:         global.Logger(scopeName),
		TokenUsage:     tokenUsage,
		LLMRequests:    llmRequests,
		ToolExecutions: toolExecs,
		RoundsTotal:    rounds,
		LLMDuration:    llmDuration,
		ToolDuration:   toolDuration,
	}, nil
}
