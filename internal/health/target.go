package health

import (
	"strings"

	"github.com/vyrodovalexey/upstreamguard/internal/config"
)

// ProbeType selects how a target is probed.
type ProbeType string

// Probe types.
const (
	ProbeHTTP ProbeType = "http"
	ProbeGRPC ProbeType = "grpc"
)

// Target is one instance to probe.
type Target struct {
	Service string
	URL     string
	Path    string
	Type    ProbeType

	// GRPCService is sent in grpc.health.v1 requests. Empty checks the
	// server as a whole.
	GRPCService string
}

// ProbeURL returns the HTTP probe address. Trailing slashes on the
// instance URL are dropped so "http://a/" and "/health" do not produce "//".
func (t Target) ProbeURL() string {
	return strings.TrimRight(t.URL, "/") + t.Path
}

func (t Target) key() instanceKey {
	return instanceKey{service: t.Service, url: t.URL}
}

type instanceKey struct {
	service string
	url     string
}

// TargetsFromConfig expands every configured service into one target per
// instance. Defaults must already be applied to cfg.
func TargetsFromConfig(cfg *config.GatewayConfig) []Target {
	var targets []Target
	for _, svc := range cfg.UpstreamServices {
		probeType := ProbeHTTP
		if svc.HealthCheckType == config.ProbeGRPC {
			probeType = ProbeGRPC
		}
		for _, inst := range svc.EffectiveInstances() {
			targets = append(targets, Target{
				Service:     svc.Name,
				URL:         inst.URL,
				Path:        svc.HealthCheckPath,
				Type:        probeType,
				GRPCService: svc.GRPCService,
			})
		}
	}
	return targets
}
