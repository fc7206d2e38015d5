package observer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	vigil "github.com/ardelia/vigil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps a vigil.Provider with spans, token counters, and
// duration histograms.
func Provider(p vigil.Provider, inst *Instruments) vigil.Provider {
	return &observedProvider{inner: p, inst: inst}
}

type observedProvider struct {
	inner vigil.Provider
	inst  *Instruments
}

func (o *observedProvider) Name() string { return o.inner.Name() }

func (o *observedProvider) Chat(ctx context.Context, req vigil.ChatRequest) (vigil.ChatResponse, error) {
	return o.observe(ctx, "llm.chat", req, func(ctx context.Context) (vigil.ChatResponse, error) {
		return o.inner.Chat(ctx, req)
	})
}

func (o *observedProvider) ChatStream(ctx context.Context, req vigil.ChatRequest, ch chan<- vigil.StreamEvent) (vigil.ChatResponse, error) {
	return o.observe(ctx, "llm.chat_stream", req, func(ctx context.Context) (vigil.ChatResponse, error) {
		return o.inner.ChatStream(ctx, req, ch)
	})
}

func (o *observedProvider) observe(ctx context.Context, span string, req vigil.ChatRequest, call func(context.Context) (vigil.ChatResponse, error)) (vigil.ChatResponse, error) {
	ctx, sp := o.inst.Tracer.Start(ctx, span, trace.WithAttributes(
		attribute.String("llm.provider", o.inner.Name()),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Bool("llm.has_tools", len(req.Tools) > 0),
	))
	defer sp.End()

	start := time.Now()
	resp, err := call(ctx)
	elapsed := time.Since(start).Seconds()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		sp.RecordError(err)
		sp.SetStatus(codes.Error, err.Error())
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", o.inner.Name()),
		attribute.String("outcome", outcome),
	)
	o.inst.LLMRequests.Add(ctx, 1, attrs)
	o.inst.LLMDuration.Record(ctx, elapsed, attrs)
	if err == nil {
		o.inst.TokenUsage.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(
			attribute.String("provider", o.inner.Name()),
			attribute.String("direction", "input"),
		))
		o.inst.TokenUsage.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(
			attribute.String("provider", o.inner.Name()),
			attribute.String("direction", "output"),
		))
		sp.SetAttributes(
			attribute.Int("llm.tokens.input", resp.Usage.InputTokens),
			attribute.Int("llm.tokens.output", resp.Usage.OutputTokens),
			attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		)
	}
	return resp, err
}

// Executor wraps a vigil.ToolExecutor with spans and counters.
func Executor(e vigil.ToolExecutor, inst *Instruments) vigil.ToolExecutor {
	return &observedExecutor{inner: e, inst: inst}
}

type observedExecutor struct {
	inner vigil.ToolExecutor
	inst  *Instruments
}

func (o *observedExecutor) Definitions() []vigil.ToolDefinition {
	return o.inner.Definitions()
}

func (o *observedExecutor) Execute(ctx context.Context, name string, args json.RawMessage) string {
	ctx, sp := o.inst.Tracer.Start(ctx, "tool."+name, trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer sp.End()

	start := time.Now()
	result := o.inner.Execute(ctx, name, args)
	elapsed := time.Since(start).Seconds()

	// Tool failures are in-band strings; the error texture is stable.
	outcome := "ok"
	if strings.HasPrefix(result, "(error:") {
		outcome = "error"
		sp.SetStatus(codes.Error, result)
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", name),
		attribute.String("outcome", outcome),
	)
	o.inst.ToolExecutions.Add(ctx, 1, attrs)
	o.inst.ToolDuration.Record(ctx, elapsed, attrs)
	sp.SetAttributes(attribute.Int("tool.result_chars", len(result)))
	return result
}
