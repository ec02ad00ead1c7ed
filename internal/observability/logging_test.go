package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLogConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  LogConfig
		wantErr bool
	}{
		{name: "default config", config: DefaultLogConfig()},
		{name: "empty config", config: LogConfig{}},
		{name: "console format", config: LogConfig{Level: "debug", Format: "console", Output: "stdout"}},
		{name: "stderr output", config: LogConfig{Level: "WARN", Format: "json", Output: "stderr"}},
		{name: "invalid level", config: LogConfig{Level: "loud"}, wantErr: true},
		{name: "invalid format", config: LogConfig{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func newObservedLogger(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewLoggerFromZap(zap.New(core)), logs
}

func TestLogger_WithAndNamed(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(zapcore.DebugLevel)
	child := logger.Named("breaker").With(String("name", "auth"))

	child.Info("state changed", String("to", "open"))
	child.Debug("probe")

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "breaker", entry.LoggerName)
	assert.Equal(t, "state changed", entry.Message)
	assert.Equal(t, map[string]any{"name": "auth", "to": "open"}, entry.ContextMap())
}

func TestLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(zapcore.WarnLevel)
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown", Error(assert.AnError))

	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, 1, logs.FilterMessage("shown").FilterField(Error(assert.AnError)).Len())
}

func TestLogger_WithContext(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(zapcore.InfoLevel)

	logger.WithContext(context.Background()).Info("no span")
	assert.Empty(t, logs.All()[0].Context)

	provider := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.WithContext(ctx).Info("with span")
	fields := logs.All()[1].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
}

func TestNewLoggerFromZap_Nil(t *testing.T) {
	t.Parallel()

	logger := NewLoggerFromZap(nil)
	require.NotNil(t, logger)
	logger.Info("discarded")
	assert.NoError(t, NopLogger().Sync())
}
