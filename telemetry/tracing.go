// Package telemetry provides OpenTelemetry tracing for gateway calls and
// store operations, plus provider setup for the command line client.
package telemetry

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with taskgate-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include request bodies in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from a specific provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Gateway Spans ---

// RequestSpanOptions describes the outcome of a gateway call.
type RequestSpanOptions struct {
	Status    int
	Attempts  int
	Refreshed bool
	RequestID string
	Body      string // Only included if debug=true
}

// StartRequestSpan starts a client span for one gateway call.
func (t *Tracer) StartRequestSpan(ctx context.Context, method, endpoint string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "gateway.call", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("taskgate.endpoint", endpoint),
	)
	return ctx, span
}

// EndRequestSpan ends a gateway span with attributes.
func (t *Tracer) EndRequestSpan(span trace.Span, opts RequestSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("http.response.status_code", opts.Status),
		attribute.Int("taskgate.attempts", opts.Attempts),
		attribute.Bool("taskgate.refreshed", opts.Refreshed),
	}
	if opts.RequestID != "" {
		attrs = append(attrs, attribute.String("taskgate.request_id", opts.RequestID))
	}
	if t.debug && opts.Body != "" {
		attrs = append(attrs, attribute.String("taskgate.body", truncate(opts.Body, 2000)))
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// StartRefreshSpan starts a span for a shared session refresh.
func (t *Tracer) StartRefreshSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "gateway.refresh", trace.WithSpanKind(trace.SpanKindClient))
}

// EndRefreshSpan ends a refresh span.
func (t *Tracer) EndRefreshSpan(span trace.Span, err error) {
	endSpan(span, err)
}

// --- Store Spans ---

// StartStoreSpan starts a span for a task store operation.
func (t *Tracer) StartStoreSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "tasks."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("tasks.op", op))
	return ctx, span
}

// EndStoreSpan ends a store span, recording whether the optimistic change
// was rolled back.
func (t *Tracer) EndStoreSpan(span trace.Span, taskID string, rolledBack bool, err error) {
	if taskID != "" {
		span.SetAttributes(attribute.String("tasks.id", taskID))
	}
	span.SetAttributes(attribute.Bool("tasks.rolled_back", rolledBack))
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectHeaders writes the trace context of ctx into outgoing HTTP headers.
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier. Bus events carry their
// trace context in one.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
