package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/upstreamguard/internal/admin"
	"github.com/vyrodovalexey/upstreamguard/internal/backend"
	"github.com/vyrodovalexey/upstreamguard/internal/circuitbreaker"
	"github.com/vyrodovalexey/upstreamguard/internal/config"
	"github.com/vyrodovalexey/upstreamguard/internal/health"
	"github.com/vyrodovalexey/upstreamguard/internal/observability"
	"github.com/vyrodovalexey/upstreamguard/internal/snapshot"
	"github.com/vyrodovalexey/upstreamguard/internal/upstream"
)

// application holds all process components.
type application struct {
	gatewayID     string
	config        *config.GatewayConfig
	logger        observability.Logger
	tracer        *observability.Tracer
	breakers      *circuitbreaker.Manager
	loadBalancer  *backend.LoadBalancer
	healthChecker *health.Checker
	invoker       *upstream.Invoker
	store         snapshot.Store
	exporter      *snapshot.Exporter
	adminServer   *admin.Server
	reloadMetrics *reloadMetrics
}

// initApplication builds every component from cfg. Metrics owned by the
// process itself register on reg.
func initApplication(
	ctx context.Context,
	cfg *config.GatewayConfig,
	logger observability.Logger,
	reg prometheus.Registerer,
) (*application, error) {
	algorithm, err := backend.ParseAlgorithm(cfg.LoadBalancer.Algorithm)
	if err != nil {
		return nil, err
	}

	tracer, err := observability.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defaults := breakerConfig(circuitbreaker.DefaultConfig(), cfg.CircuitBreaker)
	breakers := circuitbreaker.NewManager(
		circuitbreaker.WithDefaultConfig(defaults),
		circuitbreaker.WithManagerLogger(logger.Named("circuitbreaker")),
	)
	breakers.SetOverrides(breakerOverrides(cfg, defaults))

	lb := backend.NewLoadBalancer(algorithm, backend.WithLogger(logger.Named("loadbalancer")))
	lb.Update(instanceSpecs(cfg))

	checker := health.NewChecker(health.TargetsFromConfig(cfg),
		health.WithInterval(cfg.HealthCheckInterval()),
		health.WithTimeout(cfg.HealthCheck.Timeout.Duration()),
		health.WithThresholds(cfg.HealthCheck.HealthyThreshold, cfg.HealthCheck.UnhealthyThreshold),
		health.WithConcurrency(cfg.HealthCheck.Concurrency),
		health.WithMarker(lb),
		health.WithLogger(logger.Named("health")),
	)

	invoker := upstream.NewInvoker(lb, breakers,
		upstream.WithTracer(tracer.Tracer()),
		upstream.WithLogger(logger.Named("upstream")),
		upstream.WithTimeouts(serviceTimeouts(cfg)),
	)

	app := &application{
		gatewayID:     uuid.NewString(),
		config:        cfg,
		logger:        logger,
		tracer:        tracer,
		breakers:      breakers,
		loadBalancer:  lb,
		healthChecker: checker,
		invoker:       invoker,
		reloadMetrics: newReloadMetrics(reg),
	}

	if cfg.Snapshot.Enabled {
		store, err := newSnapshotStore(ctx, cfg.Snapshot, logger)
		if err != nil {
			_ = tracer.Shutdown(ctx)
			return nil, err
		}
		app.store = store
		app.exporter = snapshot.NewExporter(app.gatewayID, store, checker, breakers,
			snapshot.WithInterval(cfg.Snapshot.Interval.Duration()),
			snapshot.WithTTL(cfg.Snapshot.TTL.Duration()),
			snapshot.WithBalancer(lb),
			snapshot.WithLogger(logger.Named("snapshot")),
		)
	}

	if cfg.Admin.Enabled {
		app.adminServer = admin.NewServer(checker, breakers,
			admin.WithAddress(cfg.Admin.Address),
			admin.WithBalancer(lb),
			admin.WithRateLimit(cfg.Admin.RequestsPerSecond, cfg.Admin.Burst),
			admin.WithLogger(logger.Named("admin")),
		)
	}

	logger.Info("application initialized",
		observability.String("gateway_id", app.gatewayID),
		observability.String("algorithm", algorithm.String()),
		observability.Int("targets", len(checker.Targets())),
		observability.Bool("admin", app.adminServer != nil),
		observability.Bool("snapshot", app.exporter != nil),
	)
	return app, nil
}

// breakerConfig overlays the non-zero fields of c onto base.
func breakerConfig(base circuitbreaker.Config, c *config.CircuitBreakerConfig) circuitbreaker.Config {
	if c == nil {
		return base
	}
	if c.FailureThreshold > 0 {
		base.FailureThreshold = c.FailureThreshold
	}
	if c.SuccessThreshold > 0 {
		base.SuccessThreshold = c.SuccessThreshold
	}
	if c.Timeout > 0 {
		base.Timeout = c.Timeout.Duration()
	}
	if c.ResetTimeout > 0 {
		base.ResetTimeout = c.ResetTimeout.Duration()
	}
	return base
}

// breakerOverrides returns per-service breaker configs for services that
// carry their own circuitBreaker block.
func breakerOverrides(cfg *config.GatewayConfig, defaults circuitbreaker.Config) map[string]circuitbreaker.Config {
	overrides := make(map[string]circuitbreaker.Config)
	for _, svc := range cfg.UpstreamServices {
		if svc.CircuitBreaker != nil {
			overrides[svc.Name] = breakerConfig(defaults, svc.CircuitBreaker)
		}
	}
	return overrides
}

func instanceSpecs(cfg *config.GatewayConfig) map[string][]backend.InstanceSpec {
	specs := make(map[string][]backend.InstanceSpec, len(cfg.UpstreamServices))
	for _, svc := range cfg.UpstreamServices {
		for _, inst := range svc.EffectiveInstances() {
			specs[svc.Name] = append(specs[svc.Name], backend.InstanceSpec{URL: inst.URL, Weight: inst.Weight})
		}
	}
	return specs
}

func serviceTimeouts(cfg *config.GatewayConfig) map[string]time.Duration {
	timeouts := make(map[string]time.Duration)
	for _, svc := range cfg.UpstreamServices {
		if d := svc.Timeout(); d > 0 {
			timeouts[svc.Name] = d
		}
	}
	return timeouts
}

// newSnapshotStore returns a Redis store when configured, otherwise an
// in-process one.
func newSnapshotStore(ctx context.Context, cfg config.SnapshotConfig, logger observability.Logger) (snapshot.Store, error) {
	if cfg.Redis == nil {
		return snapshot.NewMemoryStore(), nil
	}
	store, err := snapshot.NewRedisStore(ctx, snapshot.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Prefix,
	}, logger.Named("snapshot"))
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}
	return store, nil
}
