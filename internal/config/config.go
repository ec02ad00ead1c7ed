package config

import (
	"time"

	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// Load balancing algorithm names.
const (
	LoadBalancerRoundRobin         = "round-robin"
	LoadBalancerWeightedRoundRobin = "weighted-round-robin"
	LoadBalancerLeastConnections   = "least-connections"
	LoadBalancerRandom             = "random"
)

// Health probe types.
const (
	ProbeHTTP = "http"
	ProbeGRPC = "grpc"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultHealthCheckIntervalSeconds = 30
	DefaultHealthCheckPath            = "/health"
	DefaultHealthCheckTimeout         = 10 * time.Second
	DefaultHealthyThreshold           = 2
	DefaultUnhealthyThreshold         = 3
	DefaultProbeConcurrency           = 8
	DefaultWeight                     = 1
	DefaultAdminAddress               = ":9090"
	DefaultSnapshotInterval           = 15 * time.Second
	DefaultSnapshotTTL                = time.Minute
	DefaultSnapshotPrefix             = "upstreamguard:snapshot:"
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	// UpstreamServices lists every service the gateway routes to.
	UpstreamServices []UpstreamService `yaml:"upstreamServices" json:"upstreamServices"`

	// HealthCheckIntervalSeconds is the period of the probe loop.
	HealthCheckIntervalSeconds int `yaml:"healthCheckIntervalSeconds" json:"healthCheckIntervalSeconds"`

	HealthCheck    HealthCheckConfig          `yaml:"healthCheck,omitempty" json:"healthCheck,omitempty"`
	LoadBalancer   LoadBalancerConfig         `yaml:"loadBalancer,omitempty" json:"loadBalancer,omitempty"`
	CircuitBreaker *CircuitBreakerConfig      `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	Logging        observability.LogConfig    `yaml:"logging,omitempty" json:"logging,omitempty"`
	Tracing        observability.TracerConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Admin          AdminConfig                `yaml:"admin,omitempty" json:"admin,omitempty"`
	Snapshot       SnapshotConfig             `yaml:"snapshot,omitempty" json:"snapshot,omitempty"`
}

// UpstreamService describes one named upstream.
type UpstreamService struct {
	Name            string `yaml:"name" json:"name"`
	BaseURL         string `yaml:"baseUrl" json:"baseUrl"`
	Weight          uint32 `yaml:"weight,omitempty" json:"weight,omitempty"`
	HealthCheckPath string `yaml:"healthCheckPath,omitempty" json:"healthCheckPath,omitempty"`

	// HealthCheckType selects the probe: "http" (default) or "grpc".
	HealthCheckType string `yaml:"healthCheckType,omitempty" json:"healthCheckType,omitempty"`

	// GRPCService is the service name sent in grpc.health.v1 checks.
	GRPCService string `yaml:"grpcService,omitempty" json:"grpcService,omitempty"`

	// TimeoutSeconds bounds a single call made through the invoker.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`

	// Instances provisions additional instances. When empty, BaseURL and
	// Weight form the single instance of the service.
	Instances []UpstreamInstance `yaml:"instances,omitempty" json:"instances,omitempty"`

	// CircuitBreaker overrides the gateway-wide breaker settings.
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
}

// UpstreamInstance is an explicitly configured instance of a service.
type UpstreamInstance struct {
	URL    string `yaml:"url" json:"url"`
	Weight uint32 `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// EffectiveInstances returns the configured instances, falling back to the
// service's BaseURL.
func (u UpstreamService) EffectiveInstances() []UpstreamInstance {
	if len(u.Instances) > 0 {
		return u.Instances
	}
	return []UpstreamInstance{{URL: u.BaseURL, Weight: u.Weight}}
}

// Timeout returns the per-call timeout, or zero when unset.
func (u UpstreamService) Timeout() time.Duration {
	if u.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// CircuitBreakerConfig is the YAML form of circuit breaker settings.
// Zero values mean "use the default".
type CircuitBreakerConfig struct {
	FailureThreshold uint64   `yaml:"failureThreshold,omitempty" json:"failureThreshold,omitempty"`
	SuccessThreshold uint64   `yaml:"successThreshold,omitempty" json:"successThreshold,omitempty"`
	Timeout          Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	ResetTimeout     Duration `yaml:"resetTimeout,omitempty" json:"resetTimeout,omitempty"`
}

// HealthCheckConfig tunes the probe loop.
type HealthCheckConfig struct {
	Timeout            Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	HealthyThreshold   int      `yaml:"healthyThreshold,omitempty" json:"healthyThreshold,omitempty"`
	UnhealthyThreshold int      `yaml:"unhealthyThreshold,omitempty" json:"unhealthyThreshold,omitempty"`
	Concurrency        int      `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
}

// LoadBalancerConfig selects the process-wide algorithm.
type LoadBalancerConfig struct {
	Algorithm string `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
}

// AdminConfig configures the read-only admin API.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`

	// RequestsPerSecond caps admin traffic; zero disables the limit.
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// SnapshotConfig configures periodic export of health snapshots.
type SnapshotConfig struct {
	Enabled  bool         `yaml:"enabled" json:"enabled"`
	Interval Duration     `yaml:"interval,omitempty" json:"interval,omitempty"`
	TTL      Duration     `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	Prefix   string       `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Redis    *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the Redis snapshot store.
type RedisConfig struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
}

// HealthCheckInterval returns the probe period as a duration.
func (c *GatewayConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

// ApplyDefaults fills unset fields with defaults. It is idempotent.
func (c *GatewayConfig) ApplyDefaults() {
	if c.HealthCheckIntervalSeconds <= 0 {
		c.HealthCheckIntervalSeconds = DefaultHealthCheckIntervalSeconds
	}
	if c.HealthCheck.Timeout <= 0 {
		c.HealthCheck.Timeout = Duration(DefaultHealthCheckTimeout)
	}
	if c.HealthCheck.HealthyThreshold <= 0 {
		c.HealthCheck.HealthyThreshold = DefaultHealthyThreshold
	}
	if c.HealthCheck.UnhealthyThreshold <= 0 {
		c.HealthCheck.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if c.HealthCheck.Concurrency <= 0 {
		c.HealthCheck.Concurrency = DefaultProbeConcurrency
	}
	if c.LoadBalancer.Algorithm == "" {
		c.LoadBalancer.Algorithm = LoadBalancerRoundRobin
	}
	if c.Admin.Address == "" {
		c.Admin.Address = DefaultAdminAddress
	}
	if c.Snapshot.Interval <= 0 {
		c.Snapshot.Interval = Duration(DefaultSnapshotInterval)
	}
	if c.Snapshot.TTL <= 0 {
		c.Snapshot.TTL = Duration(DefaultSnapshotTTL)
	}
	if c.Snapshot.Prefix == "" {
		c.Snapshot.Prefix = DefaultSnapshotPrefix
	}
	if c.Logging.Level == "" {
		c.Logging = observability.DefaultLogConfig()
	}

	for i := range c.UpstreamServices {
		svc := &c.UpstreamServices[i]
		if svc.HealthCheckPath == "" {
			svc.HealthCheckPath = DefaultHealthCheckPath
		}
		if svc.HealthCheckType == "" {
			svc.HealthCheckType = ProbeHTTP
		}
		if svc.Weight == 0 {
			svc.Weight = DefaultWeight
		}
		for j := range svc.Instances {
			if svc.Instances[j].Weight == 0 {
				svc.Instances[j].Weight = DefaultWeight
			}
		}
	}
}

// FindUpstream returns the service with the given name.
func (c *GatewayConfig) FindUpstream(name string) (UpstreamService, bool) {
	for _, svc := range c.UpstreamServices {
		if svc.Name == name {
			return svc, true
		}
	}
	return UpstreamService{}, false
}
