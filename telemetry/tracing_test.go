package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(debug bool) (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracerFromProvider(tp, "test", debug), rec
}

func attr(kvs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range kvs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestGetTracer_NoopFallback(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	assert.NotPanics(t, func() {
		_, span := tr.StartRequestSpan(context.Background(), "GET", "/tasks")
		tr.EndRequestSpan(span, RequestSpanOptions{Status: 200}, nil)
	})
}

func TestRequestSpan(t *testing.T) {
	tr, rec := newRecordingTracer(false)

	_, span := tr.StartRequestSpan(context.Background(), "PATCH", "/tasks/1")
	tr.EndRequestSpan(span, RequestSpanOptions{
		Status:    200,
		Attempts:  2,
		Refreshed: true,
		RequestID: "req-1",
		Body:      "secret",
	}, nil)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "gateway.call", s.Name())

	v, ok := attr(s.Attributes(), "taskgate.attempts")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt64())

	v, ok = attr(s.Attributes(), "taskgate.refreshed")
	require.True(t, ok)
	assert.True(t, v.AsBool())

	_, ok = attr(s.Attributes(), "taskgate.body")
	assert.False(t, ok, "body should not be recorded without debug")
	assert.Equal(t, codes.Ok, s.Status().Code)
}

func TestRequestSpan_DebugBody(t *testing.T) {
	tr, rec := newRecordingTracer(true)

	_, span := tr.StartRequestSpan(context.Background(), "POST", "/tasks")
	tr.EndRequestSpan(span, RequestSpanOptions{Status: 201, Body: `{"title":"x"}`}, nil)

	require.Len(t, rec.Ended(), 1)
	_, ok := attr(rec.Ended()[0].Attributes(), "taskgate.body")
	assert.True(t, ok, "body should be recorded in debug mode")
}

func TestRefreshSpan_Error(t *testing.T) {
	tr, rec := newRecordingTracer(false)

	_, span := tr.StartRefreshSpan(context.Background())
	tr.EndRefreshSpan(span, fmt.Errorf("refresh rejected"))

	require.Len(t, rec.Ended(), 1)
	s := rec.Ended()[0]
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.NotEmpty(t, s.Events(), "expected recorded error event")
}

func TestStoreSpan(t *testing.T) {
	tr, rec := newRecordingTracer(false)

	_, span := tr.StartStoreSpan(context.Background(), "update")
	tr.EndStoreSpan(span, "42", true, fmt.Errorf("boom"))

	require.Len(t, rec.Ended(), 1)
	s := rec.Ended()[0]
	assert.Equal(t, "tasks.update", s.Name())

	v, ok := attr(s.Attributes(), "tasks.rolled_back")
	require.True(t, ok)
	assert.True(t, v.AsBool())

	v, ok = attr(s.Attributes(), "tasks.id")
	require.True(t, ok)
	assert.Equal(t, "42", v.AsString())
}

func TestInjectHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	tr, _ := newRecordingTracer(false)
	ctx, span := tr.StartRequestSpan(context.Background(), "GET", "/tasks")
	defer span.End()

	h := http.Header{}
	InjectHeaders(ctx, h)
	require.NotEmpty(t, h.Get("traceparent"))

	carrier := MapCarrier{}
	InjectContext(ctx, carrier)
	assert.Equal(t, h.Get("traceparent"), carrier.Get("traceparent"))
	assert.NotEmpty(t, carrier.Keys())
}

func TestInitProvider_NoEndpoint(t *testing.T) {
	_, err := InitProvider(context.Background(), ProviderConfig{})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestInitProvider_UnknownProtocol(t *testing.T) {
	_, err := InitProvider(context.Background(), ProviderConfig{
		Endpoint: "localhost:4317",
		Protocol: "carrier-pigeon",
	})
	assert.Error(t, err)
}

func TestInitProvider_HTTP(t *testing.T) {
	p, err := InitProvider(context.Background(), ProviderConfig{
		Endpoint:   "http://localhost:4318",
		Protocol:   ProtocolHTTP,
		APIBaseURL: "https://tasks.example.com",
	})
	require.NoError(t, err)
	defer SetGlobalTracer(nil)

	require.NotNil(t, p.Tracer())
	assert.Same(t, p.Tracer(), GetTracer(), "InitProvider should install the global tracer")

	// No spans were recorded, so shutdown has nothing to export.
	require.NoError(t, p.Shutdown(context.Background()))
	assert.NotSame(t, p.Tracer(), GetTracer(), "Shutdown should uninstall the global tracer")
}

func TestCollectorAddress(t *testing.T) {
	tests := []struct {
		endpoint     string
		wantAddr     string
		wantInsecure bool
		wantErr      bool
	}{
		{endpoint: "localhost:4317", wantAddr: "localhost:4317"},
		{endpoint: "http://collector:4318", wantAddr: "collector:4318", wantInsecure: true},
		{endpoint: "https://otel.example.com", wantAddr: "otel.example.com"},
		{endpoint: " collector:4317 ", wantAddr: "collector:4317"},
		{endpoint: "", wantErr: true},
		{endpoint: "ftp://collector:21", wantErr: true},
		{endpoint: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			addr, insecure, err := collectorAddress(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, addr)
			assert.Equal(t, tt.wantInsecure, insecure)
		})
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), ProviderConfig{
		ServiceVersion: "1.2.3",
		APIBaseURL:     "https://tasks.example.com/api",
	})
	require.NoError(t, err)

	want := map[string]attribute.Value{
		"service.name":    attribute.StringValue(DefaultServiceName),
		"service.version": attribute.StringValue("1.2.3"),
		"server.address":  attribute.StringValue("tasks.example.com"),
		"server.port":     attribute.IntValue(443),
		"url.scheme":      attribute.StringValue("https"),
	}
	got := res.Attributes()
	for key, value := range want {
		v, ok := attr(got, key)
		if assert.True(t, ok, "missing resource attribute %s", key) {
			assert.Equal(t, value.Emit(), v.Emit(), key)
		}
	}
}

func TestAPIAttributes_Unparseable(t *testing.T) {
	assert.Empty(t, apiAttributes("not a url"))
}
