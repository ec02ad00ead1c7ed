package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vyrodovalexey/upstreamguard/internal/backend"
	"github.com/vyrodovalexey/upstreamguard/internal/circuitbreaker"
	"github.com/vyrodovalexey/upstreamguard/internal/health"
	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// Exporter defaults.
const (
	DefaultInterval = 15 * time.Second
	DefaultTTL      = time.Minute
)

// Document is the JSON shape written to the store.
type Document struct {
	GatewayID       string                              `json:"gatewayId"`
	GeneratedAt     time.Time                           `json:"generatedAt"`
	Status          health.GatewayHealthStatus          `json:"status"`
	Health          []health.UpstreamHealth             `json:"health"`
	CircuitBreakers map[string]circuitbreaker.Metrics   `json:"circuitBreakers"`
	LoadBalancer    map[string][]backend.InstanceStatus `json:"loadBalancer,omitempty"`
}

// HealthSource provides probe results.
type HealthSource interface {
	GetUpstreamHealth() []health.UpstreamHealth
	CheckGatewayHealth() health.GatewayHealthStatus
}

// BreakerSource provides breaker metrics.
type BreakerSource interface {
	GetAllMetrics() map[string]circuitbreaker.Metrics
}

// BalancerSource provides instance lists. Optional.
type BalancerSource interface {
	Snapshot() map[string][]backend.InstanceStatus
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithInterval sets the export period.
func WithInterval(d time.Duration) ExporterOption {
	return func(e *Exporter) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithTTL sets how long an exported document stays valid.
func WithTTL(d time.Duration) ExporterOption {
	return func(e *Exporter) {
		e.ttl = d
	}
}

// WithBalancer includes instance lists in exported documents.
func WithBalancer(src BalancerSource) ExporterOption {
	return func(e *Exporter) {
		e.balancer = src
	}
}

// WithLogger sets the exporter's logger.
func WithLogger(logger observability.Logger) ExporterOption {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now for GeneratedAt.
func WithClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// Exporter periodically writes a Document to a Store. Export failures are
// logged and the next tick tries again.
type Exporter struct {
	gatewayID string
	store     Store
	health    HealthSource
	breakers  BreakerSource
	balancer  BalancerSource
	interval  time.Duration
	ttl       time.Duration
	logger    observability.Logger
	now       func() time.Time

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewExporter creates an exporter publishing under gatewayID.
func NewExporter(
	gatewayID string,
	store Store,
	healthSrc HealthSource,
	breakers BreakerSource,
	opts ...ExporterOption,
) *Exporter {
	e := &Exporter{
		gatewayID: gatewayID,
		store:     store,
		health:    healthSrc,
		breakers:  breakers,
		interval:  DefaultInterval,
		ttl:       DefaultTTL,
		logger:    observability.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build assembles the current document.
func (e *Exporter) Build() Document {
	doc := Document{
		GatewayID:       e.gatewayID,
		GeneratedAt:     e.now().UTC(),
		Status:          e.health.CheckGatewayHealth(),
		Health:          e.health.GetUpstreamHealth(),
		CircuitBreakers: e.breakers.GetAllMetrics(),
	}
	if doc.Health == nil {
		doc.Health = []health.UpstreamHealth{}
	}
	if e.balancer != nil {
		doc.LoadBalancer = e.balancer.Snapshot()
	}
	return doc
}

// Export writes one document.
func (e *Exporter) Export(ctx context.Context) error {
	data, err := json.Marshal(e.Build())
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return e.store.Put(ctx, e.gatewayID, data, e.ttl)
}

// Start exports immediately and then once per interval until Stop or ctx
// cancellation.
func (e *Exporter) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.stoppedCh = make(chan struct{})
	stopCh, stoppedCh := e.stopCh, e.stoppedCh
	e.mu.Unlock()

	go e.loop(ctx, stopCh, stoppedCh)
}

// Stop ends the export loop and waits for it to exit.
func (e *Exporter) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stopCh, stoppedCh := e.stopCh, e.stoppedCh
	e.mu.Unlock()

	close(stopCh)
	<-stoppedCh
}

func (e *Exporter) loop(ctx context.Context, stopCh, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if err := e.Export(ctx); err != nil {
			e.logger.Warn("snapshot export failed",
				observability.String("gateway_id", e.gatewayID),
				observability.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Load reads and decodes the document for gatewayID.
func Load(ctx context.Context, store Store, gatewayID string) (Document, error) {
	var doc Document
	data, err := store.Get(ctx, gatewayID)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode snapshot %s: %w", gatewayID, err)
	}
	return doc, nil
}
