package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vyrodovalexey/upstreamguard/internal/backend"
	"github.com/vyrodovalexey/upstreamguard/internal/circuitbreaker"
)

var errBoom = errors.New("boom")

type fixture struct {
	lb       *backend.LoadBalancer
	breakers *circuitbreaker.Manager
	recorder *tracetest.SpanRecorder
	invoker  *Invoker
}

func newFixture(t *testing.T, cbCfg circuitbreaker.Config, opts ...Option) *fixture {
	t.Helper()

	lb := backend.NewLoadBalancer(backend.LeastConnections, backend.WithCollector(nil))
	breakers := circuitbreaker.NewManager(
		circuitbreaker.WithDefaultConfig(cbCfg),
		circuitbreaker.WithManagerCollector(nil),
	)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	opts = append([]Option{WithTracer(provider.Tracer("test"))}, opts...)
	return &fixture{
		lb:       lb,
		breakers: breakers,
		recorder: recorder,
		invoker:  NewInvoker(lb, breakers, opts...),
	}
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInvoke_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	f := newFixture(t, circuitbreaker.DefaultConfig())
	f.lb.AddInstance("auth", srv.URL, 1)

	status, err := Call(context.Background(), f.invoker, "auth",
		func(ctx context.Context, baseURL string) (int, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/login", http.NoBody)
			if err != nil {
				return 0, err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return 0, err
			}
			defer resp.Body.Close()
			return resp.StatusCode, nil
		})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	spans := f.recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "upstream.invoke", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	v, ok := spanAttr(spans[0], "upstream.instance")
	require.True(t, ok)
	assert.Equal(t, srv.URL, v.AsString())
}

func TestInvoke_ConnectionAccounting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.DefaultConfig())
	inst := f.lb.AddInstance("auth", "http://auth", 1)

	err := f.invoker.Invoke(context.Background(), "auth", func(context.Context, string) error {
		assert.Equal(t, int64(1), inst.ActiveConnections())
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, inst.ActiveConnections())
}

func TestInvoke_SelectionErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.DefaultConfig())
	called := false
	fn := func(context.Context, string) error {
		called = true
		return nil
	}

	err := f.invoker.Invoke(context.Background(), "missing", fn)
	assert.ErrorIs(t, err, backend.ErrServiceNotFound)

	f.lb.AddInstance("auth", "http://auth", 1)
	require.NoError(t, f.lb.MarkInstanceUnhealthy("auth", "http://auth"))
	err = f.invoker.Invoke(context.Background(), "auth", fn)
	assert.ErrorIs(t, err, backend.ErrNoHealthyInstances)

	assert.False(t, called)
	assert.Empty(t, f.breakers.Names(), "no breaker for calls that never reached one")
}

func TestInvoke_CircuitOpens(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.Config{FailureThreshold: 2, ResetTimeout: time.Hour})
	f.lb.AddInstance("billing", "http://billing", 1)
	ctx := context.Background()

	calls := 0
	failing := func(context.Context, string) error {
		calls++
		return errBoom
	}

	assert.ErrorIs(t, f.invoker.Invoke(ctx, "billing", failing), errBoom)
	assert.ErrorIs(t, f.invoker.Invoke(ctx, "billing", failing), errBoom)

	err := f.invoker.Invoke(ctx, "billing", failing)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, calls)

	spans := f.recorder.Ended()
	require.Len(t, spans, 3)
	v, ok := spanAttr(spans[2], "circuit_breaker.rejected")
	require.True(t, ok)
	assert.True(t, v.AsBool())
	assert.Equal(t, codes.Error, spans[2].Status().Code)
}

func TestInvoke_Timeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.Config{Timeout: time.Hour},
		WithTimeouts(map[string]time.Duration{"slow": 20 * time.Millisecond}))
	f.lb.AddInstance("slow", "http://slow", 1)
	f.lb.AddInstance("fast", "http://fast", 1)

	err := f.invoker.Invoke(context.Background(), "slow", func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = f.invoker.Invoke(context.Background(), "fast", func(ctx context.Context, _ string) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.Greater(t, time.Until(deadline), time.Minute, "falls back to the breaker timeout")
		return nil
	})
	require.NoError(t, err)
}

func TestSetTimeouts_IgnoresNonPositive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, circuitbreaker.Config{Timeout: 5 * time.Second})
	f.invoker.SetTimeouts(map[string]time.Duration{"a": 0, "b": time.Second})

	cb := f.breakers.GetOrCreate("a")
	assert.Equal(t, 5*time.Second, f.invoker.timeoutFor("a", cb))
	assert.Equal(t, time.Second, f.invoker.timeoutFor("b", cb))
}
