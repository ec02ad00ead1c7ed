package backend

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "upstreamguard"
	subsystem = "loadbalancer"
)

// Collector holds the Prometheus series written by the load balancer.
type Collector struct {
	selections      *prometheus.CounterVec
	selectionErrors *prometheus.CounterVec
	instanceHealthy *prometheus.GaugeVec
	healthFlips     *prometheus.CounterVec
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

// NewCollector creates load balancer metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "selections_total",
				Help:      "Instances selected per service",
			},
			[]string{"service", "instance", "algorithm"},
		),
		selectionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "selection_errors_total",
				Help:      "Failed selections per service and reason",
			},
			[]string{"service", "reason"},
		),
		instanceHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "instance_healthy",
				Help:      "Whether an instance takes part in selection (1=healthy, 0=unhealthy)",
			},
			[]string{"service", "instance"},
		),
		healthFlips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "health_flips_total",
				Help:      "Instance health changes applied to the load balancer",
			},
			[]string{"service", "instance", "to"},
		),
	}
}

func (c *Collector) recordSelection(service, instance string, algorithm Algorithm) {
	if c == nil {
		return
	}
	c.selections.WithLabelValues(service, instance, string(algorithm)).Inc()
}

func (c *Collector) recordSelectionError(service, reason string) {
	if c == nil {
		return
	}
	c.selectionErrors.WithLabelValues(service, reason).Inc()
}

func (c *Collector) recordHealth(service, instance string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	c.instanceHealthy.WithLabelValues(service, instance).Set(v)
}

func (c *Collector) recordFlip(service, instance string, healthy bool) {
	if c == nil {
		return
	}
	to := "unhealthy"
	if healthy {
		to = "healthy"
	}
	c.healthFlips.WithLabelValues(service, instance, to).Inc()
	c.recordHealth(service, instance, healthy)
}

func (c *Collector) forget(service, instance string) {
	if c == nil {
		return
	}
	c.instanceHealthy.DeleteLabelValues(service, instance)
}
