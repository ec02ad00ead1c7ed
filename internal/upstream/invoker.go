// Package upstream runs outbound calls through the resilience layer: pick an
// instance from the load balancer, guard the call with the service's circuit
// breaker and bound it with the service's timeout.
package upstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/upstreamguard/internal/backend"
	"github.com/vyrodovalexey/upstreamguard/internal/circuitbreaker"
	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

const tracerName = "github.com/vyrodovalexey/upstreamguard/internal/upstream"

// Selector picks an instance for a service.
type Selector interface {
	Select(service string) (*backend.Instance, error)
}

// BreakerProvider returns the breaker guarding a service.
type BreakerProvider interface {
	GetOrCreate(name string) *circuitbreaker.CircuitBreaker
}

// CallFunc performs the actual network call against baseURL.
type CallFunc func(ctx context.Context, baseURL string) error

// Option configures an Invoker.
type Option func(*Invoker)

// WithTracer sets the tracer for call spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(i *Invoker) {
		if tracer != nil {
			i.tracer = tracer
		}
	}
}

// WithLogger sets the invoker's logger.
func WithLogger(logger observability.Logger) Option {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithTimeouts sets per-service call timeouts.
func WithTimeouts(timeouts map[string]time.Duration) Option {
	return func(i *Invoker) {
		i.SetTimeouts(timeouts)
	}
}

// Invoker implements the per-call control flow of the gateway. It never
// retries; callers layer their own policy on top.
type Invoker struct {
	selector Selector
	breakers BreakerProvider
	tracer   trace.Tracer
	logger   observability.Logger

	mu       sync.RWMutex
	timeouts map[string]time.Duration
}

// NewInvoker creates an invoker.
func NewInvoker(selector Selector, breakers BreakerProvider, opts ...Option) *Invoker {
	i := &Invoker{
		selector: selector,
		breakers: breakers,
		tracer:   otel.Tracer(tracerName),
		logger:   observability.NopLogger(),
		timeouts: make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetTimeouts replaces the per-service timeouts. Services without an entry
// use their breaker's Timeout.
func (i *Invoker) SetTimeouts(timeouts map[string]time.Duration) {
	copied := make(map[string]time.Duration, len(timeouts))
	for name, d := range timeouts {
		if d > 0 {
			copied[name] = d
		}
	}
	i.mu.Lock()
	i.timeouts = copied
	i.mu.Unlock()
}

func (i *Invoker) timeoutFor(service string, cb *circuitbreaker.CircuitBreaker) time.Duration {
	i.mu.RLock()
	d, ok := i.timeouts[service]
	i.mu.RUnlock()
	if ok {
		return d
	}
	return cb.Config().Timeout
}

// Invoke selects an instance of service and runs fn against it through the
// service's circuit breaker. Selection errors and errors matching
// circuitbreaker.ErrCircuitOpen are returned without calling fn; otherwise
// fn's error is returned unchanged.
func (i *Invoker) Invoke(ctx context.Context, service string, fn CallFunc) error {
	ctx, span := i.tracer.Start(ctx, "upstream.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("upstream.service", service)),
	)
	defer span.End()

	inst, err := i.selector.Select(service)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "instance selection failed")
		return err
	}
	span.SetAttributes(attribute.String("upstream.instance", inst.URL))

	cb := i.breakers.GetOrCreate(service)
	timeout := i.timeoutFor(service, cb)

	err = cb.Execute(ctx, func(ctx context.Context) error {
		inst.Acquire()
		defer inst.Release()

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx, inst.URL)
	})

	span.SetAttributes(attribute.String("circuit_breaker.state", cb.State().String()))
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		span.SetAttributes(attribute.Bool("circuit_breaker.rejected", true))
		span.SetStatus(codes.Error, "circuit open")
		i.logger.WithContext(ctx).Debug("upstream call rejected by circuit breaker",
			observability.String("service", service),
		)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Call is Invoke for calls that produce a value.
func Call[T any](ctx context.Context, inv *Invoker, service string,
	fn func(ctx context.Context, baseURL string) (T, error),
) (T, error) {
	var result T
	err := inv.Invoke(ctx, service, func(ctx context.Context, baseURL string) error {
		var err error
		result, err = fn(ctx, baseURL)
		return err
	})
	return result, err
}
