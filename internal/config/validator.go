package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError is a single configuration problem at Path.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// HasErrors reports whether any errors were collected.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator checks a GatewayConfig after defaults have been applied.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates cfg with a fresh Validator.
func ValidateConfig(cfg *GatewayConfig) error {
	return NewValidator().Validate(cfg)
}

// Validate returns ValidationErrors when cfg is invalid.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	if cfg.HealthCheckIntervalSeconds <= 0 {
		v.addError("healthCheckIntervalSeconds", "must be positive")
	}

	v.validateAlgorithm(cfg.LoadBalancer.Algorithm)
	v.validateHealthCheck(&cfg.HealthCheck)
	if cfg.CircuitBreaker != nil {
		v.validateCircuitBreaker("circuitBreaker", cfg.CircuitBreaker)
	}
	v.validateUpstreams(cfg.UpstreamServices)
	v.validateAdmin(&cfg.Admin)
	v.validateSnapshot(&cfg.Snapshot)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateAlgorithm(algorithm string) {
	switch algorithm {
	case "", LoadBalancerRoundRobin, LoadBalancerWeightedRoundRobin,
		LoadBalancerLeastConnections, LoadBalancerRandom:
	default:
		v.addError("loadBalancer.algorithm", fmt.Sprintf("unknown algorithm %q", algorithm))
	}
}

func (v *Validator) validateHealthCheck(hc *HealthCheckConfig) {
	if hc.Timeout < 0 {
		v.addError("healthCheck.timeout", "must not be negative")
	}
	if hc.HealthyThreshold < 0 {
		v.addError("healthCheck.healthyThreshold", "must not be negative")
	}
	if hc.UnhealthyThreshold < 0 {
		v.addError("healthCheck.unhealthyThreshold", "must not be negative")
	}
	if hc.Concurrency < 0 {
		v.addError("healthCheck.concurrency", "must not be negative")
	}
}

func (v *Validator) validateCircuitBreaker(path string, cb *CircuitBreakerConfig) {
	if cb.Timeout < 0 {
		v.addError(path+".timeout", "must not be negative")
	}
	if cb.ResetTimeout < 0 {
		v.addError(path+".resetTimeout", "must not be negative")
	}
}

func (v *Validator) validateUpstreams(upstreams []UpstreamService) {
	seen := make(map[string]int, len(upstreams))
	for i := range upstreams {
		svc := &upstreams[i]
		path := fmt.Sprintf("upstreamServices[%d]", i)

		if svc.Name == "" {
			v.addError(path+".name", "is required")
		} else if prev, ok := seen[svc.Name]; ok {
			v.addError(path+".name",
				fmt.Sprintf("duplicate service name %q (also at index %d)", svc.Name, prev))
		} else {
			seen[svc.Name] = i
		}

		if len(svc.Instances) == 0 {
			v.validateURL(path+".baseUrl", svc.BaseURL)
		}
		for j, inst := range svc.Instances {
			v.validateURL(fmt.Sprintf("%s.instances[%d].url", path, j), inst.URL)
		}

		if svc.HealthCheckPath != "" && !strings.HasPrefix(svc.HealthCheckPath, "/") {
			v.addError(path+".healthCheckPath", "must start with '/'")
		}
		switch svc.HealthCheckType {
		case "", ProbeHTTP, ProbeGRPC:
		default:
			v.addError(path+".healthCheckType",
				fmt.Sprintf("unknown probe type %q", svc.HealthCheckType))
		}
		if svc.TimeoutSeconds < 0 {
			v.addError(path+".timeoutSeconds", "must not be negative")
		}
		if svc.CircuitBreaker != nil {
			v.validateCircuitBreaker(path+".circuitBreaker", svc.CircuitBreaker)
		}
	}
}

func (v *Validator) validateURL(path, raw string) {
	if raw == "" {
		v.addError(path, "is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.addError(path, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addError(path, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		v.addError(path, "host is required")
	}
}

func (v *Validator) validateAdmin(a *AdminConfig) {
	if a.RequestsPerSecond < 0 {
		v.addError("admin.requestsPerSecond", "must not be negative")
	}
	if a.Burst < 0 {
		v.addError("admin.burst", "must not be negative")
	}
}

func (v *Validator) validateSnapshot(s *SnapshotConfig) {
	if !s.Enabled {
		return
	}
	if s.Interval <= 0 {
		v.addError("snapshot.interval", "must be positive")
	}
	if s.Redis != nil && s.Redis.Address == "" {
		v.addError("snapshot.redis.address", "is required")
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
