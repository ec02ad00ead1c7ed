package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// State represents the state of a circuit breaker.
type State int32

const (
	// StateClosed lets every call through.
	StateClosed State = iota

	// StateOpen rejects calls without invoking them.
	StateOpen

	// StateHalfOpen lets calls through to probe recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half-open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown circuit breaker state %q", text)
	}
	return nil
}

// ErrCircuitOpen is returned when the breaker declines to invoke an operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError carries the breaker name and the remaining cool-down. It matches
// ErrCircuitOpen with errors.Is.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open (retry after %s)", e.Name, e.RetryAfter)
}

// Is reports whether target is ErrCircuitOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Metrics is a point-in-time view of a breaker.
type Metrics struct {
	State           State     `json:"state"`
	FailureCount    uint64    `json:"failureCount"`
	SuccessCount    uint64    `json:"successCount"`
	LastFailureTime time.Time `json:"lastFailureTime,omitzero"`
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithLogger sets the logger for state transitions.
func WithLogger(logger observability.Logger) Option {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithCollector sets the Prometheus collector. A nil collector disables
// metrics.
func WithCollector(c *Collector) Option {
	return func(cb *CircuitBreaker) {
		cb.collector = c
	}
}

// CircuitBreaker guards calls to one upstream service.
//
// State and lastFailureTime are written only while mu is held, so the
// open to half-open check and transition happen exactly once per cool-down
// no matter how many callers race on it. State and the counters are also
// kept in atomics for lock-free reads.
type CircuitBreaker struct {
	name      string
	config    Config
	logger    observability.Logger
	collector *Collector
	now       func() time.Time

	mu              sync.Mutex
	state           atomic.Int32
	failureCount    atomic.Uint64
	successCount    atomic.Uint64
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take
// their defaults.
func NewCircuitBreaker(name string, cfg Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:      name,
		config:    cfg.WithDefaults(),
		logger:    observability.NopLogger(),
		collector: DefaultCollector(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.logger = cb.logger.With(observability.String("circuit_breaker", name))
	cb.collector.recordState(name, StateClosed)
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Config returns a copy of the breaker's configuration.
func (cb *CircuitBreaker) Config() Config {
	return cb.config
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed still reports StateOpen until the next call moves it to half-open.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// Metrics returns a consistent snapshot of state and counters.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		State:           State(cb.state.Load()),
		FailureCount:    cb.failureCount.Load(),
		SuccessCount:    cb.successCount.Load(),
		LastFailureTime: cb.lastFailureTime,
	}
}

// Execute runs fn if the breaker admits the call and records its outcome.
// The error from fn is returned unchanged. When the call is not admitted,
// fn is not invoked and the returned error matches ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// Do runs fn through cb and returns its result.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := State(cb.state.Load())
	cb.lastFailureTime = time.Time{}
	changed := cb.transitionLocked(StateClosed)
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateClosed)
	}
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	from := State(cb.state.Load())
	if from != StateOpen {
		cb.mu.Unlock()
		cb.collector.recordAdmission(cb.name, true)
		return nil
	}

	now := cb.now()
	elapsed := now.Sub(cb.lastFailureTime)
	if elapsed < cb.config.ResetTimeout {
		if cb.config.ExtendOpenOnReject {
			cb.lastFailureTime = now
			elapsed = 0
		}
		cb.mu.Unlock()
		cb.collector.recordAdmission(cb.name, false)
		return &OpenError{Name: cb.name, RetryAfter: cb.config.ResetTimeout - elapsed}
	}

	cb.transitionLocked(StateHalfOpen)
	cb.mu.Unlock()

	cb.collector.recordAdmission(cb.name, true)
	cb.notify(StateOpen, StateHalfOpen)
	return nil
}

func (cb *CircuitBreaker) isSuccessful(err error) bool {
	if cb.config.IsSuccessful != nil {
		return cb.config.IsSuccessful(err)
	}
	return err == nil
}

func (cb *CircuitBreaker) record(err error) {
	if cb.isSuccessful(err) {
		cb.onSuccess()
		return
	}
	cb.onFailure()
}

func (cb *CircuitBreaker) onSuccess() {
	cb.collector.recordOutcome(cb.name, true)

	cb.mu.Lock()
	from := State(cb.state.Load())
	changed := false
	switch from {
	case StateClosed:
		cb.failureCount.Store(0)
	case StateHalfOpen:
		if cb.successCount.Add(1) >= cb.config.SuccessThreshold {
			changed = cb.transitionLocked(StateClosed)
		}
	case StateOpen:
		// A call admitted before the circuit opened finished late; it
		// says nothing about the current cool-down.
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.collector.recordOutcome(cb.name, false)

	cb.mu.Lock()
	from := State(cb.state.Load())
	cb.lastFailureTime = cb.now()
	changed := false
	switch from {
	case StateClosed:
		if cb.failureCount.Add(1) >= cb.config.FailureThreshold {
			changed = cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		changed = cb.transitionLocked(StateOpen)
	case StateOpen:
		// Late failure from an earlier admitted call; the refreshed
		// timestamp restarts the cool-down.
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateOpen)
	}
}

// transitionLocked moves to state `to` and zeroes both counters. It must be
// called with mu held and reports whether the state changed.
func (cb *CircuitBreaker) transitionLocked(to State) bool {
	from := State(cb.state.Load())
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
	if from == to {
		return false
	}
	cb.state.Store(int32(to))
	cb.collector.recordTransition(cb.name, from, to)
	return true
}

func (cb *CircuitBreaker) notify(from, to State) {
	fields := []observability.Field{
		observability.String("from", from.String()),
		observability.String("to", to.String()),
	}
	if to == StateOpen {
		cb.logger.Warn("circuit breaker opened",
			append(fields, observability.Duration("reset_timeout", cb.config.ResetTimeout))...)
	} else {
		cb.logger.Info("circuit breaker state changed", fields...)
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}
