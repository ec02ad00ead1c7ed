package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/upstreamguard/internal/config"
	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// shutdownTimeout bounds the whole ordered shutdown.
const shutdownTimeout = 30 * time.Second

// runGateway builds and starts every component, blocks until ctx is done
// and then shuts down.
func runGateway(ctx context.Context, cfg *config.GatewayConfig, configPath string, logger observability.Logger) error {
	app, err := initApplication(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	watcher, err := startApplication(ctx, app, configPath)
	if err != nil {
		shutdownApplication(app, nil)
		return err
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownApplication(app, watcher)
	return nil
}

// startApplication starts monitoring, the admin server, the snapshot
// exporter and the config watcher, in that order.
func startApplication(ctx context.Context, app *application, configPath string) (*config.Watcher, error) {
	if err := app.healthChecker.StartMonitoring(ctx); err != nil {
		return nil, fmt.Errorf("failed to start health monitoring: %w", err)
	}

	if app.adminServer != nil {
		if err := app.adminServer.Start(); err != nil {
			return nil, err
		}
	}

	if app.exporter != nil {
		app.exporter.Start(ctx)
	}

	var watcher *config.Watcher
	if configPath != "" {
		watcher = startConfigWatcher(ctx, app, configPath)
	}
	return watcher, nil
}

// shutdownApplication stops components in reverse dependency order: no
// more reloads, no more admin traffic, a final snapshot, then probes,
// stores and tracing.
func shutdownApplication(app *application, watcher *config.Watcher) {
	logger := app.logger
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
		app.reloadMetrics.watcherRunning.Set(0)
	}

	if app.adminServer != nil {
		if err := app.adminServer.Shutdown(ctx); err != nil {
			logger.Error("failed to stop admin server gracefully", observability.Error(err))
		}
	}

	if app.exporter != nil {
		app.exporter.Stop()
		if err := app.exporter.Export(ctx); err != nil {
			logger.Warn("failed to export final snapshot", observability.Error(err))
		}
	}

	if err := app.healthChecker.Close(); err != nil {
		logger.Error("failed to stop health checker", observability.Error(err))
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			logger.Error("failed to close snapshot store", observability.Error(err))
		}
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("gateway stopped")
}
