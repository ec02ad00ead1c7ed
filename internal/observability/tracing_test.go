package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(context.Background(), TracerConfig{})
	require.NoError(t, err)
	assert.Equal(t, "upstreamguard", tracer.config.ServiceName)
	assert.Nil(t, tracer.provider)

	_, span := tracer.StartSpan(context.Background(), "noop")
	span.End()
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

// Not parallel: enabling tracing installs the global provider.
func TestNewTracer_EnabledWithoutExporter(t *testing.T) {
	tracer, err := NewTracer(context.Background(), TracerConfig{
		Enabled:      true,
		ServiceName:  "gateway-test",
		SamplingRate: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, tracer.provider)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	recorder := tracetest.NewSpanRecorder()
	tracer.provider.RegisterSpanProcessor(recorder)

	_, span := tracer.StartSpan(context.Background(), "sampled")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
	assert.NotNil(t, tracer.Tracer())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	name, ok := spans[0].Resource().Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "gateway-test", name.AsString())
}

func TestCreateSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want string
	}{
		{rate: 1, want: sdktrace.AlwaysSample().Description()},
		{rate: 2, want: sdktrace.AlwaysSample().Description()},
		{rate: 0, want: sdktrace.NeverSample().Description()},
		{rate: -1, want: sdktrace.NeverSample().Description()},
		{rate: 0.25, want: sdktrace.TraceIDRatioBased(0.25).Description()},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, createSampler(tt.rate).Description())
	}
}
