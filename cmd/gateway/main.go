// Package main is the entry point for the upstreamguard gateway process.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/upstreamguard/internal/config"
	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	settings
	showVersion bool
}

func main() {
	env, err := loadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	flags, err := parseFlags(flag.CommandLine, os.Args[1:], env)
	if err != nil {
		os.Exit(2)
	}
	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	cfg, err := loadAndValidateConfig(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	applySettings(cfg, flags.settings)

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting upstreamguard",
		observability.String("version", version),
		observability.String("config", flags.ConfigPath),
		observability.Int("upstreams", len(cfg.UpstreamServices)),
		observability.String("algorithm", cfg.LoadBalancer.Algorithm),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runGateway(ctx, cfg, flags.ConfigPath, logger); err != nil {
		logger.Error("gateway failed", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// parseFlags parses args with env as the defaults.
func parseFlags(fs *flag.FlagSet, args []string, env settings) (cliFlags, error) {
	var f cliFlags
	fs.StringVar(&f.ConfigPath, "config", env.ConfigPath, "Path to configuration file")
	fs.StringVar(&f.LogLevel, "log-level", env.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFormat, "log-format", env.LogFormat, "Log format (json, console)")
	fs.StringVar(&f.AdminAddress, "admin-address", env.AdminAddress, "Admin API listen address")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "upstreamguard version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// loadAndValidateConfig loads the file, applies defaults and validates it.
func loadAndValidateConfig(path string) (*config.GatewayConfig, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ApplyDefaults()
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applySettings lets non-empty process settings override the file.
func applySettings(cfg *config.GatewayConfig, s settings) {
	if s.LogLevel != "" {
		cfg.Logging.Level = s.LogLevel
	}
	if s.LogFormat != "" {
		cfg.Logging.Format = s.LogFormat
	}
	if s.AdminAddress != "" {
		cfg.Admin.Address = s.AdminAddress
	}
}
