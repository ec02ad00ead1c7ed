// Package config holds the gateway configuration model: upstream services,
// health check tuning, load balancer algorithm, circuit breaker defaults and
// the ambient settings for logging, tracing, the admin API and snapshots.
//
// Files are YAML with ${VAR} and ${VAR:-default} substitution:
//
//	cfg, err := config.LoadConfig("gateway.yaml")
//	if err != nil {
//	    return err
//	}
//	cfg.ApplyDefaults()
//	if err := config.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//
// A Watcher reloads the file on change and hands every valid revision to a
// callback. Invalid revisions are logged and ignored.
package config
