package backend

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

type service struct {
	name string

	mu        sync.RWMutex
	instances []*Instance

	// cursor is used only by RoundRobin.
	cursor atomic.Uint64
}

// LoadBalancer selects an instance of a named service among its healthy
// instances. It is safe for concurrent use.
type LoadBalancer struct {
	algorithm Algorithm
	logger    observability.Logger
	collector *Collector
	intn      func(n int) int

	mu       sync.RWMutex
	services map[string]*service
}

// Option configures a LoadBalancer.
type Option func(*LoadBalancer)

// WithLogger sets the logger for health flips and topology changes.
func WithLogger(logger observability.Logger) Option {
	return func(lb *LoadBalancer) {
		if logger != nil {
			lb.logger = logger
		}
	}
}

// WithCollector sets the Prometheus collector. Nil disables metrics.
func WithCollector(c *Collector) Option {
	return func(lb *LoadBalancer) {
		lb.collector = c
	}
}

// WithRandom replaces the random source used by WeightedRoundRobin and
// Random. intn must return a value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(lb *LoadBalancer) {
		if intn != nil {
			lb.intn = intn
		}
	}
}

// NewLoadBalancer creates a load balancer with no services. An unknown
// algorithm falls back to RoundRobin.
func NewLoadBalancer(algorithm Algorithm, opts ...Option) *LoadBalancer {
	if _, err := ParseAlgorithm(string(algorithm)); err != nil || algorithm == "" {
		algorithm = RoundRobin
	}
	lb := &LoadBalancer{
		algorithm: algorithm,
		logger:    observability.NopLogger(),
		collector: DefaultCollector(),
		intn:      secureIntn,
		services:  make(map[string]*service),
	}
	for _, opt := range opts {
		opt(lb)
	}
	return lb
}

// Algorithm returns the selection policy.
func (lb *LoadBalancer) Algorithm() Algorithm {
	return lb.algorithm
}

// AddInstance provisions an instance, creating the service if needed. New
// instances start healthy. Adding a URL that already exists updates its
// weight and returns the existing instance.
func (lb *LoadBalancer) AddInstance(serviceName, url string, weight uint32) *Instance {
	svc := lb.getOrCreateService(serviceName)

	svc.mu.Lock()
	defer svc.mu.Unlock()

	for _, inst := range svc.instances {
		if inst.URL == url {
			if weight != 0 {
				inst.Weight = weight
			}
			return inst
		}
	}

	inst := newInstance(InstanceSpec{URL: url, Weight: weight})
	svc.instances = append(svc.instances, inst)
	lb.collector.recordHealth(serviceName, url, true)
	return inst
}

// Update replaces the provisioned topology. Instances whose URL survives keep
// their health flag and connection count, and surviving services keep their
// round-robin cursor. Services missing from services are removed.
func (lb *LoadBalancer) Update(services map[string][]InstanceSpec) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	next := make(map[string]*service, len(services))
	for name, specs := range services {
		svc, ok := lb.services[name]
		if !ok {
			svc = &service{name: name}
		}
		lb.replaceInstances(svc, specs)
		next[name] = svc
	}

	for name, svc := range lb.services {
		if _, ok := next[name]; ok {
			continue
		}
		svc.mu.RLock()
		for _, inst := range svc.instances {
			lb.collector.forget(name, inst.URL)
		}
		svc.mu.RUnlock()
		lb.logger.Info("upstream service removed", observability.String("service", name))
	}

	lb.services = next
}

func (lb *LoadBalancer) replaceInstances(svc *service, specs []InstanceSpec) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	existing := make(map[string]*Instance, len(svc.instances))
	for _, inst := range svc.instances {
		existing[inst.URL] = inst
	}

	instances := make([]*Instance, 0, len(specs))
	for _, spec := range specs {
		if inst, ok := existing[spec.URL]; ok {
			if spec.Weight != 0 {
				inst.Weight = spec.Weight
			}
			instances = append(instances, inst)
			delete(existing, spec.URL)
			continue
		}
		inst := newInstance(spec)
		instances = append(instances, inst)
		lb.collector.recordHealth(svc.name, inst.URL, true)
	}
	for url := range existing {
		lb.collector.forget(svc.name, url)
	}
	svc.instances = instances
}

// GetUpstream returns the URL of the selected instance for serviceName.
func (lb *LoadBalancer) GetUpstream(serviceName string) (string, error) {
	inst, err := lb.Select(serviceName)
	if err != nil {
		return "", err
	}
	return inst.URL, nil
}

// Select returns the selected instance so callers can account connections
// with Acquire and Release.
func (lb *LoadBalancer) Select(serviceName string) (*Instance, error) {
	svc, ok := lb.lookup(serviceName)
	if !ok {
		lb.collector.recordSelectionError(serviceName, "not_found")
		return nil, &ServiceNotFoundError{Service: serviceName}
	}

	svc.mu.RLock()
	healthy := make([]*Instance, 0, len(svc.instances))
	for _, inst := range svc.instances {
		if inst.healthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		total := len(svc.instances)
		svc.mu.RUnlock()
		lb.collector.recordSelectionError(serviceName, "no_healthy_instances")
		return nil, &NoHealthyInstancesError{Service: serviceName, Instances: total}
	}
	inst := lb.algorithm.pick(healthy, &svc.cursor, lb.intn)
	svc.mu.RUnlock()

	lb.collector.recordSelection(serviceName, inst.URL, lb.algorithm)
	return inst, nil
}

// MarkInstanceHealthy returns an instance to selection.
func (lb *LoadBalancer) MarkInstanceHealthy(serviceName, url string) error {
	return lb.setHealthy(serviceName, url, true)
}

// MarkInstanceUnhealthy removes an instance from selection.
func (lb *LoadBalancer) MarkInstanceUnhealthy(serviceName, url string) error {
	return lb.setHealthy(serviceName, url, false)
}

func (lb *LoadBalancer) setHealthy(serviceName, url string, healthy bool) error {
	svc, ok := lb.lookup(serviceName)
	if !ok {
		return &ServiceNotFoundError{Service: serviceName}
	}

	svc.mu.Lock()
	var target *Instance
	for _, inst := range svc.instances {
		if inst.URL == url {
			target = inst
			break
		}
	}
	if target == nil {
		svc.mu.Unlock()
		return fmt.Errorf("%w: %s in service %q", ErrInstanceNotFound, url, serviceName)
	}
	changed := target.healthy != healthy
	target.healthy = healthy
	svc.mu.Unlock()

	if !changed {
		return nil
	}

	lb.collector.recordFlip(serviceName, url, healthy)
	if healthy {
		lb.logger.Info("upstream instance marked healthy",
			observability.String("service", serviceName),
			observability.String("instance", url),
		)
	} else {
		lb.logger.Warn("upstream instance marked unhealthy",
			observability.String("service", serviceName),
			observability.String("instance", url),
		)
	}
	return nil
}

// Services returns the provisioned service names in sorted order.
func (lb *LoadBalancer) Services() []string {
	lb.mu.RLock()
	names := make([]string, 0, len(lb.services))
	for name := range lb.services {
		names = append(names, name)
	}
	lb.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot returns a copy of every service's instances in list order.
func (lb *LoadBalancer) Snapshot() map[string][]InstanceStatus {
	lb.mu.RLock()
	services := make([]*service, 0, len(lb.services))
	for _, svc := range lb.services {
		services = append(services, svc)
	}
	lb.mu.RUnlock()

	out := make(map[string][]InstanceStatus, len(services))
	for _, svc := range services {
		svc.mu.RLock()
		statuses := make([]InstanceStatus, 0, len(svc.instances))
		for _, inst := range svc.instances {
			statuses = append(statuses, InstanceStatus{
				URL:               inst.URL,
				Weight:            inst.Weight,
				Healthy:           inst.healthy,
				ActiveConnections: inst.ActiveConnections(),
			})
		}
		svc.mu.RUnlock()
		out[svc.name] = statuses
	}
	return out
}

func (lb *LoadBalancer) lookup(name string) (*service, bool) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	svc, ok := lb.services[name]
	return svc, ok
}

func (lb *LoadBalancer) getOrCreateService(name string) *service {
	if svc, ok := lb.lookup(name); ok {
		return svc
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()
	if svc, ok := lb.services[name]; ok {
		return svc
	}
	svc := &service{name: name}
	lb.services[name] = svc
	return svc
}
