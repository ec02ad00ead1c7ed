package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "upstreamguard"
	subsystem = "health"
)

// Collector holds the Prometheus series written by the health checker.
type Collector struct {
	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	up            *prometheus.GaugeVec
	ticks         prometheus.Counter
	gateway       *prometheus.GaugeVec
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

// NewCollector creates health metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		probes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "probes_total",
				Help:      "Health probes by service and result",
			},
			[]string{"service", "result"},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "probe_duration_seconds",
				Help:      "Health probe latency",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service"},
		),
		up: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "upstream_up",
				Help:      "Result of the last probe (1=healthy, 0=unhealthy)",
			},
			[]string{"service", "instance"},
		),
		ticks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ticks_total",
				Help:      "Completed probe ticks",
			},
		),
		gateway: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_status",
				Help:      "Aggregated gateway health; the current status is set to 1",
			},
			[]string{"status"},
		),
	}
}

func (c *Collector) recordProbe(service, instance string, healthy bool, d time.Duration) {
	if c == nil {
		return
	}
	result, up := "failure", 0.0
	if healthy {
		result, up = "success", 1
	}
	c.probes.WithLabelValues(service, result).Inc()
	c.probeDuration.WithLabelValues(service).Observe(d.Seconds())
	c.up.WithLabelValues(service, instance).Set(up)
}

func (c *Collector) recordTick(status GatewayHealthStatus) {
	if c == nil {
		return
	}
	c.ticks.Inc()
	for _, s := range []GatewayHealthStatus{GatewayHealthy, GatewayDegraded, GatewayUnhealthy, GatewayUnknown} {
		v := 0.0
		if s == status {
			v = 1
		}
		c.gateway.WithLabelValues(string(s)).Set(v)
	}
}

func (c *Collector) forget(service, instance string) {
	if c == nil {
		return
	}
	c.up.DeleteLabelValues(service, instance)
}
