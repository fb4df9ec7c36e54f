package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/shiroai/shiro"

// Metrics records Shiro measurements through an OpenTelemetry meter backed
// by a Prometheus registry. A nil *Metrics records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram

	invocations        metric.Int64Counter
	invocationErrors   metric.Int64Counter
	invocationDuration metric.Float64Histogram

	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter
	toolDuration metric.Float64Histogram

	llmCalls        metric.Int64Counter
	llmErrors       metric.Int64Counter
	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
}

// NewMetrics creates the instruments on a fresh registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)
	m := &Metrics{provider: provider, registry: registry}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.httpRequests, "http.requests", "HTTP requests by route and status"},
		{&m.invocations, "invocations", "Assistant invocations by mode"},
		{&m.invocationErrors, "invocation.errors", "Failed assistant invocations by mode"},
		{&m.toolCalls, "tool.calls", "Tool calls by tool"},
		{&m.toolErrors, "tool.errors", "Failed tool calls by tool"},
		{&m.llmCalls, "llm.calls", "LLM requests by model"},
		{&m.llmErrors, "llm.errors", "Failed LLM requests by model"},
		{&m.llmInputTokens, "llm.tokens.input", "Input tokens sent to the LLM"},
		{&m.llmOutputTokens, "llm.tokens.output", "Output tokens received from the LLM"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.httpDuration, "http.request.duration", "HTTP request duration"},
		{&m.invocationDuration, "invocation.duration", "Assistant invocation duration"},
		{&m.toolDuration, "tool.duration", "Tool call duration"},
		{&m.llmDuration, "llm.duration", "LLM request duration"},
	}
	for _, h := range histograms {
		*h.dst, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordInvocation(ctx context.Context, mode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.invocations.Add(ctx, 1, attrs)
	m.invocationDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.invocationErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}
