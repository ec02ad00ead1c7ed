package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/upstreamguard/internal/circuitbreaker"
	"github.com/vyrodovalexey/upstreamguard/internal/config"
	"github.com/vyrodovalexey/upstreamguard/internal/health"
	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// reloadMetrics describes configuration reloads.
type reloadMetrics struct {
	reloadTotal       *prometheus.CounterVec
	reloadLastSuccess prometheus.Gauge
	watcherRunning    prometheus.Gauge
}

func newReloadMetrics(reg prometheus.Registerer) *reloadMetrics {
	factory := promauto.With(reg)
	return &reloadMetrics{
		reloadTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "upstreamguard",
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads by result",
			},
			[]string{"result"},
		),
		reloadLastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "upstreamguard",
				Name:      "config_reload_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful configuration reload",
			},
		),
		watcherRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "upstreamguard",
				Name:      "config_watcher_running",
				Help:      "Whether the config file watcher is running (1=running, 0=stopped)",
			},
		),
	}
}

// startConfigWatcher watches configPath and applies every valid revision.
// A watcher that cannot start is logged and the process runs on the
// initial configuration.
func startConfigWatcher(ctx context.Context, app *application, configPath string) *config.Watcher {
	logger := app.logger
	watcher, err := config.NewWatcher(configPath,
		func(newCfg *config.GatewayConfig) {
			reloadComponents(app, newCfg)
		},
		config.WithWatcherLogger(logger.Named("config")),
		config.WithErrorFunc(func(error) {
			app.reloadMetrics.reloadTotal.WithLabelValues("error").Inc()
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}

	app.reloadMetrics.watcherRunning.Set(1)
	return watcher
}

// reloadComponents applies a new configuration. Instance lists, probe
// targets, breaker overrides and call timeouts are reloaded in place. The
// algorithm, probe interval and thresholds, admin and snapshot settings
// need a restart.
func reloadComponents(app *application, newCfg *config.GatewayConfig) {
	logger := app.logger
	old := app.config

	app.loadBalancer.Update(instanceSpecs(newCfg))
	app.healthChecker.UpdateTargets(health.TargetsFromConfig(newCfg))

	defaults := breakerConfig(circuitbreaker.DefaultConfig(), newCfg.CircuitBreaker)
	app.breakers.SetOverrides(breakerOverrides(newCfg, defaults))
	app.invoker.SetTimeouts(serviceTimeouts(newCfg))

	if restartRequired(old, newCfg) {
		logger.Warn("configuration changes that need a restart were ignored",
			observability.String("algorithm", old.LoadBalancer.Algorithm),
			observability.Int("health_check_interval_seconds", old.HealthCheckIntervalSeconds),
		)
	}

	app.config = newCfg
	app.reloadMetrics.reloadTotal.WithLabelValues("success").Inc()
	app.reloadMetrics.reloadLastSuccess.Set(float64(time.Now().Unix()))

	logger.Info("configuration applied",
		observability.Int("upstreams", len(newCfg.UpstreamServices)),
	)
}

func restartRequired(old, updated *config.GatewayConfig) bool {
	return old.LoadBalancer.Algorithm != updated.LoadBalancer.Algorithm ||
		old.HealthCheckIntervalSeconds != updated.HealthCheckIntervalSeconds ||
		old.HealthCheck != updated.HealthCheck ||
		old.Admin != updated.Admin
}
