// Package circuitbreaker isolates failing upstream services. Each service
// gets its own breaker that cycles through closed, open and half-open states
// based on the outcome of real calls.
package circuitbreaker

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultFailureThreshold uint64 = 5
	DefaultSuccessThreshold uint64 = 2
	DefaultTimeout                 = 60 * time.Second
	DefaultResetTimeout            = 30 * time.Second
)

// Config holds configuration for a circuit breaker. A breaker copies its
// Config on construction, so later changes to the value have no effect.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that opens the circuit.
	FailureThreshold uint64

	// SuccessThreshold is the number of consecutive successes in the
	// half-open state that closes the circuit.
	SuccessThreshold uint64

	// Timeout bounds a single protected operation. The state machine does
	// not read it; callers such as the upstream invoker apply it.
	Timeout time.Duration

	// ResetTimeout is how long the circuit stays open after the last
	// recorded failure before a call may probe recovery.
	ResetTimeout time.Duration

	// ExtendOpenOnReject makes every rejected call restart the reset
	// timeout. Under steady traffic this keeps the circuit open until
	// callers back off, so it is off by default.
	ExtendOpenOnReject bool

	// IsSuccessful classifies an operation error. Nil means err == nil.
	IsSuccessful func(err error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		SuccessThreshold: DefaultSuccessThreshold,
		Timeout:          DefaultTimeout,
		ResetTimeout:     DefaultResetTimeout,
	}
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	return c
}

// Validate reports configuration values that cannot be defaulted.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("circuit breaker timeout must not be negative: %s", c.Timeout)
	}
	if c.ResetTimeout < 0 {
		return fmt.Errorf("circuit breaker reset timeout must not be negative: %s", c.ResetTimeout)
	}
	return nil
}
