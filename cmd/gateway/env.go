package main

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces process settings, e.g. GATEWAY_CONFIG_PATH.
const envPrefix = "GATEWAY"

// settings are process-level knobs read from the environment. Command line
// flags override them; non-empty values override the config file.
type settings struct {
	ConfigPath   string `envconfig:"CONFIG_PATH" default:"configs/gateway.yaml"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
	LogFormat    string `envconfig:"LOG_FORMAT"`
	AdminAddress string `envconfig:"ADMIN_ADDRESS"`
}

// loadSettings reads settings from GATEWAY_* environment variables.
func loadSettings() (settings, error) {
	var s settings
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return settings{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return s, nil
}
