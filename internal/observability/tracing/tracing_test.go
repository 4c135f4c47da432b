package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"dispatchbot/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

// keepSpans survives provider shutdown so spans can be inspected afterwards.
type keepSpans struct{ *tracetest.InMemoryExporter }

func (keepSpans) Shutdown(context.Context) error { return nil }

func TestSetupInstallsProvider(t *testing.T) {
	exp := keepSpans{tracetest.NewInMemoryExporter()}
	orig := newExporter
	t.Cleanup(func() { newExporter = orig })
	newExporter = func(context.Context, ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
		return exp, nil
	}
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Enabled: true, Endpoint: "127.0.0.1:4317", Insecure: true, ServiceName: "dispatchbot", SampleRatio: 1,
	}, "test")
	require.NoError(t, err)

	_, span := otel.Tracer("t").Start(context.Background(), "op")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name)
}

func TestSetupExporterError(t *testing.T) {
	orig := newExporter
	t.Cleanup(func() { newExporter = orig })
	newExporter = func(context.Context, ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
		return nil, errors.New("dial")
	}
	_, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Endpoint: "x:1"}, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "otlp exporter")
}
