package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// Manager owns one CircuitBreaker per service name. Breakers are created on
// first use and live as long as the manager.
type Manager struct {
	defaults  Config
	logger    observability.Logger
	collector *Collector
	opts      []Option

	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	overrides map[string]Config
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultConfig sets the config for breakers without an override.
func WithDefaultConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		m.defaults = cfg
	}
}

// WithManagerLogger sets the logger handed to every breaker.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerCollector sets the collector handed to every breaker.
func WithManagerCollector(c *Collector) ManagerOption {
	return func(m *Manager) {
		m.collector = c
	}
}

// WithBreakerOptions appends options applied to every created breaker.
func WithBreakerOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.opts = append(m.opts, opts...)
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		defaults:  DefaultConfig(),
		logger:    observability.NopLogger(),
		collector: DefaultCollector(),
		breakers:  make(map[string]*CircuitBreaker),
		overrides: make(map[string]Config),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOverrides replaces the per-service configs. Existing breakers keep
// the config they were created with.
func (m *Manager) SetOverrides(overrides map[string]Config) {
	copied := make(map[string]Config, len(overrides))
	for name, cfg := range overrides {
		copied[name] = cfg
	}

	m.mu.Lock()
	m.overrides = copied
	m.mu.Unlock()
}

// GetOrCreate returns the breaker for name, creating it from the override
// for that name or the manager default.
func (m *Manager) GetOrCreate(name string) *CircuitBreaker {
	return m.getOrCreate(name, nil)
}

// GetOrCreateWithConfig is GetOrCreate with cfg used instead of the
// manager default when no override exists. cfg is ignored if the breaker
// already exists.
func (m *Manager) GetOrCreateWithConfig(name string, cfg Config) *CircuitBreaker {
	return m.getOrCreate(name, &cfg)
}

func (m *Manager) getOrCreate(name string, cfg *Config) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	effective := m.defaults
	if override, ok := m.overrides[name]; ok {
		effective = override
	} else if cfg != nil {
		effective = *cfg
	}

	opts := make([]Option, 0, len(m.opts)+2)
	opts = append(opts, WithLogger(m.logger), WithCollector(m.collector))
	opts = append(opts, m.opts...)

	cb = NewCircuitBreaker(name, effective, opts...)
	m.breakers[name] = cb

	m.logger.Debug("circuit breaker created",
		observability.String("name", name),
		observability.Uint64("failure_threshold", cb.config.FailureThreshold),
		observability.Duration("reset_timeout", cb.config.ResetTimeout),
	)
	return cb
}

// Get returns the breaker for name without creating it.
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

// Names returns the names of all created breakers in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// GetAllMetrics returns a point-in-time copy of every breaker's metrics.
func (m *Manager) GetAllMetrics() map[string]Metrics {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.RUnlock()

	out := make(map[string]Metrics, len(breakers))
	for _, cb := range breakers {
		out[cb.Name()] = cb.Metrics()
	}
	return out
}
