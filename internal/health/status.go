package health

import (
	"time"
)

// StatusHealthy is the probe status of a healthy instance. Every other
// status starts with "unhealthy (".
const StatusHealthy = "healthy"

// GatewayHealthStatus aggregates the latest snapshot.
type GatewayHealthStatus string

// Gateway health values.
const (
	GatewayHealthy   GatewayHealthStatus = "healthy"
	GatewayDegraded  GatewayHealthStatus = "degraded"
	GatewayUnhealthy GatewayHealthStatus = "unhealthy"
	GatewayUnknown   GatewayHealthStatus = "unknown"
)

// UpstreamHealth is the result of one probe against one instance.
type UpstreamHealth struct {
	ServiceName    string    `json:"serviceName"`
	URL            string    `json:"url"`
	Status         string    `json:"status"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	LastCheck      time.Time `json:"lastCheck"`
}

// Healthy reports whether the probe succeeded.
func (u UpstreamHealth) Healthy() bool {
	return u.Status == StatusHealthy
}

// Aggregate classifies a snapshot: healthy when every entry is healthy,
// unhealthy when none is, degraded otherwise, unknown when empty.
func Aggregate(snapshot []UpstreamHealth) GatewayHealthStatus {
	if len(snapshot) == 0 {
		return GatewayUnknown
	}
	healthy := 0
	for _, u := range snapshot {
		if u.Healthy() {
			healthy++
		}
	}
	switch healthy {
	case len(snapshot):
		return GatewayHealthy
	case 0:
		return GatewayUnhealthy
	default:
		return GatewayDegraded
	}
}
