package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/credentials"

	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// Defaults for Checker options.
const (
	DefaultInterval           = 30 * time.Second
	DefaultTimeout            = 10 * time.Second
	DefaultHealthyThreshold   = 2
	DefaultUnhealthyThreshold = 3
	DefaultConcurrency        = 8
)

// ErrAlreadyMonitoring is returned by StartMonitoring when the loop runs.
var ErrAlreadyMonitoring = errors.New("health monitoring already running")

// InstanceMarker receives health flips. backend.LoadBalancer implements it.
type InstanceMarker interface {
	MarkInstanceHealthy(service, url string) error
	MarkInstanceUnhealthy(service, url string) error
}

// Option configures a Checker.
type Option func(*Checker)

// WithInterval sets the probe period.
func WithInterval(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithTimeout sets the per-probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithThresholds sets how many consecutive successes mark an unhealthy
// instance healthy and how many consecutive failures mark a healthy one
// unhealthy.
func WithThresholds(healthy, unhealthy int) Option {
	return func(c *Checker) {
		c.healthyThreshold = healthy
		c.unhealthyThreshold = unhealthy
	}
}

// WithConcurrency bounds how many probes run at once within a tick.
func WithConcurrency(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMarker connects the checker to the load balancer.
func WithMarker(m InstanceMarker) Option {
	return func(c *Checker) {
		c.marker = m
	}
}

// WithHTTPClient replaces the probe HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithGRPCCredentials sets transport credentials for gRPC probes.
func WithGRPCCredentials(creds credentials.TransportCredentials) Option {
	return func(c *Checker) {
		c.grpcCreds = creds
	}
}

// WithLogger sets the checker's logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCollector sets the Prometheus collector. Nil disables metrics.
func WithCollector(col *Collector) Option {
	return func(c *Checker) {
		c.collector = col
	}
}

// WithClock replaces time.Now for LastCheck timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// Checker probes upstream instances on a timer.
type Checker struct {
	interval           time.Duration
	timeout            time.Duration
	healthyThreshold   int
	unhealthyThreshold int
	concurrency        int
	marker             InstanceMarker
	httpClient         *http.Client
	grpcCreds          credentials.TransportCredentials
	logger             observability.Logger
	collector          *Collector
	now                func() time.Time

	tracker  *flipTracker
	grpcPool *grpcConnPool

	targetsMu sync.RWMutex
	targets   []Target

	snapshotMu sync.RWMutex
	snapshot   []UpstreamHealth

	// tickMu serialises ticks so flips are applied in probe order.
	tickMu sync.Mutex

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChecker creates a checker for targets.
func NewChecker(targets []Target, opts ...Option) *Checker {
	c := &Checker{
		interval:           DefaultInterval,
		timeout:            DefaultTimeout,
		healthyThreshold:   DefaultHealthyThreshold,
		unhealthyThreshold: DefaultUnhealthyThreshold,
		concurrency:        DefaultConcurrency,
		logger:             observability.NopLogger(),
		collector:          DefaultCollector(),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	c.tracker = newFlipTracker(c.healthyThreshold, c.unhealthyThreshold)
	c.grpcPool = newGRPCConnPool(c.grpcCreds, c.logger)
	c.targets = append([]Target(nil), targets...)
	return c
}

// StartMonitoring starts the probe loop. The first tick runs immediately.
// Cancelling ctx stops the loop like StopMonitoring.
func (c *Checker) StartMonitoring(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running {
		return ErrAlreadyMonitoring
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.running = true
	c.cancel = cancel
	c.done = done

	c.logger.Info("health monitoring started",
		observability.Duration("interval", c.interval),
		observability.Int("targets", len(c.Targets())),
	)

	go c.loop(loopCtx, done)
	return nil
}

// StopMonitoring asks the loop to exit and waits for it. A tick in progress
// is allowed to finish.
func (c *Checker) StopMonitoring() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.runMu.Unlock()

	cancel()
	<-done

	c.logger.Info("health monitoring stopped")
}

// IsMonitoring reports whether the loop is running.
func (c *Checker) IsMonitoring() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

// Close stops monitoring and releases gRPC connections.
func (c *Checker) Close() error {
	c.StopMonitoring()
	c.grpcPool.closeAll()
	return nil
}

func (c *Checker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.runMu.Lock()
		if c.done == done {
			c.running = false
		}
		c.runMu.Unlock()
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		// Probes are detached from ctx so a stop request lets the
		// current tick complete.
		c.CheckAll(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckAll runs one probe tick synchronously, replaces the snapshot, applies
// health flips and returns a copy of the new snapshot.
func (c *Checker) CheckAll(ctx context.Context) []UpstreamHealth {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	targets := c.Targets()
	results := make([]UpstreamHealth, len(targets))
	tickID := uuid.NewString()
	logger := c.logger.With(observability.String("tick_id", tickID))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range targets {
		g.Go(func() error {
			results[i] = c.probe(gctx, targets[i])
			return nil
		})
	}
	_ = g.Wait() // probes report failures in their results, never as errors

	c.snapshotMu.Lock()
	c.snapshot = results
	c.snapshotMu.Unlock()

	c.applyFlips(logger, results)

	status := Aggregate(results)
	c.collector.recordTick(status)
	logger.Debug("health tick completed",
		observability.Int("targets", len(results)),
		observability.String("gateway_status", string(status)),
	)

	out := make([]UpstreamHealth, len(results))
	copy(out, results)
	return out
}

func (c *Checker) probe(ctx context.Context, t Target) UpstreamHealth {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var status string
	switch t.Type {
	case ProbeGRPC:
		status = c.probeGRPC(probeCtx, t)
	default:
		status = c.probeHTTP(probeCtx, t)
	}
	elapsed := time.Since(start)

	c.collector.recordProbe(t.Service, t.URL, status == StatusHealthy, elapsed)

	return UpstreamHealth{
		ServiceName:    t.Service,
		URL:            t.URL,
		Status:         status,
		ResponseTimeMs: elapsed.Milliseconds(),
		LastCheck:      c.now(),
	}
}

func (c *Checker) applyFlips(logger observability.Logger, results []UpstreamHealth) {
	for _, r := range results {
		key := instanceKey{service: r.ServiceName, url: r.URL}
		flipped, healthy := c.tracker.observe(key, r.Healthy())
		if !flipped {
			continue
		}

		fields := []observability.Field{
			observability.String("service", r.ServiceName),
			observability.String("instance", r.URL),
			observability.String("status", r.Status),
		}
		if healthy {
			logger.Info("upstream instance recovered", fields...)
		} else {
			logger.Warn("upstream instance failing health checks", fields...)
		}

		if c.marker == nil {
			continue
		}
		var err error
		if healthy {
			err = c.marker.MarkInstanceHealthy(r.ServiceName, r.URL)
		} else {
			err = c.marker.MarkInstanceUnhealthy(r.ServiceName, r.URL)
		}
		if err != nil {
			c.tracker.revert(key, healthy)
			logger.Warn("failed to apply health flip", append(fields, observability.Error(err))...)
		}
	}
}

// GetUpstreamHealth returns a copy of the latest snapshot.
func (c *Checker) GetUpstreamHealth() []UpstreamHealth {
	c.snapshotMu.RLock()
	defer c.snapshotMu.RUnlock()
	if c.snapshot == nil {
		return nil
	}
	out := make([]UpstreamHealth, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}

// CheckGatewayHealth aggregates the latest snapshot. It returns
// GatewayUnknown until the first tick completes.
func (c *Checker) CheckGatewayHealth() GatewayHealthStatus {
	c.snapshotMu.RLock()
	defer c.snapshotMu.RUnlock()
	return Aggregate(c.snapshot)
}

// Targets returns a copy of the probed targets.
func (c *Checker) Targets() []Target {
	c.targetsMu.RLock()
	defer c.targetsMu.RUnlock()
	out := make([]Target, len(c.targets))
	copy(out, c.targets)
	return out
}

// UpdateTargets replaces the probed targets. Hysteresis state and gRPC
// connections of removed targets are dropped; the current snapshot is kept
// until the next tick.
func (c *Checker) UpdateTargets(targets []Target) {
	next := append([]Target(nil), targets...)

	keepKeys := make(map[instanceKey]struct{}, len(next))
	keepAddrs := make(map[string]struct{}, len(next))
	for _, t := range next {
		keepKeys[t.key()] = struct{}{}
		if t.Type == ProbeGRPC {
			if addr, err := grpcAddress(t.URL); err == nil {
				keepAddrs[addr] = struct{}{}
			}
		}
	}

	c.targetsMu.Lock()
	previous := c.targets
	c.targets = next
	c.targetsMu.Unlock()

	for _, t := range previous {
		if _, ok := keepKeys[t.key()]; !ok {
			c.collector.forget(t.Service, t.URL)
		}
	}
	c.tracker.retain(keepKeys)
	c.grpcPool.retain(keepAddrs)

	c.logger.Info("health check targets updated", observability.Int("targets", len(next)))
}
