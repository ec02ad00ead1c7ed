package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "upstreamguard"

// Collector holds the Prometheus series written by circuit breakers.
type Collector struct {
	state        *prometheus.GaugeVec
	requests     *prometheus.CounterVec
	failures     *prometheus.CounterVec
	successes    *prometheus.CounterVec
	stateChanges *prometheus.CounterVec
}

var (
	defaultCollector     *Collector
	defaultCollectorOnce sync.Once
)

// DefaultCollector returns the collector registered on the default
// Prometheus registerer.
func DefaultCollector() *Collector {
	defaultCollectorOnce.Do(func() {
		defaultCollector = NewCollector(prometheus.DefaultRegisterer)
	})
	return defaultCollector
}

// NewCollector creates breaker metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "circuit_breaker",
				Name:      "requests_total",
				Help:      "Calls offered to the circuit breaker by admission result",
			},
			[]string{"name", "result"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "circuit_breaker",
				Name:      "failures_total",
				Help:      "Failed operations recorded by the circuit breaker",
			},
			[]string{"name"},
		),
		successes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "circuit_breaker",
				Name:      "successes_total",
				Help:      "Successful operations recorded by the circuit breaker",
			},
			[]string{"name"},
		),
		stateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "circuit_breaker",
				Name:      "state_changes_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
	}
}

func (c *Collector) recordAdmission(name string, allowed bool) {
	if c == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	c.requests.WithLabelValues(name, result).Inc()
}

func (c *Collector) recordOutcome(name string, success bool) {
	if c == nil {
		return
	}
	if success {
		c.successes.WithLabelValues(name).Inc()
		return
	}
	c.failures.WithLabelValues(name).Inc()
}

func (c *Collector) recordState(name string, state State) {
	if c == nil {
		return
	}
	c.state.WithLabelValues(name).Set(float64(state))
}

func (c *Collector) recordTransition(name string, from, to State) {
	if c == nil {
		return
	}
	c.stateChanges.WithLabelValues(name, from.String(), to.String()).Inc()
	c.state.WithLabelValues(name).Set(float64(to))
}
