package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager owns the tracer provider and the metrics of a process.
type Manager struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	metrics        *Metrics
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	traceWriter io.Writer
}

// WithTraceWriter sends stdout-exported spans to w.
func WithTraceWriter(w io.Writer) Option {
	return func(o *options) {
		o.traceWriter = w
	}
}

// NewManager initializes what cfg enables. A disabled section costs
// nothing: Tracer returns a no-op tracer and Metrics returns nil.
func NewManager(ctx context.Context, cfg Config, opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{config: cfg}
	if cfg.Tracing.Enabled {
		tp, err := InitTracer(ctx, cfg.Tracing, o.traceWriter)
		if err != nil {
			return nil, err
		}
		m.tracerProvider = tp
		slog.Info("Tracing enabled", "exporter", cfg.Tracing.Exporter, "sampling_rate", cfg.Tracing.SamplingRate)
	}
	if cfg.Metrics.Enabled {
		metrics, err := NewMetrics(cfg.Metrics)
		if err != nil {
			_ = m.Shutdown(ctx)
			return nil, err
		}
		m.metrics = metrics
		slog.Info("Metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}
	return m, nil
}

// Tracer returns a named tracer, or a no-op tracer when tracing is off.
func (m *Manager) Tracer(name string) trace.Tracer {
	if m == nil || m.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return otel.Tracer(name)
}

// Metrics returns the recorder, nil when metrics are off.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// MetricsEndpoint returns the path and handler of the metrics endpoint.
// ok is false when metrics are off.
func (m *Manager) MetricsEndpoint() (path string, handler http.Handler, ok bool) {
	if m == nil || m.metrics == nil {
		return "", nil, false
	}
	return m.config.Metrics.Endpoint, m.metrics.Handler(), true
}

// Shutdown flushes pending spans and stops the providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	if m.tracerProvider != nil {
		errs = append(errs, m.tracerProvider.Shutdown(ctx))
	}
	errs = append(errs, m.metrics.Shutdown(ctx))
	return errors.Join(errs...)
}
