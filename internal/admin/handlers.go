package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/upstreamguard/internal/health"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    health.GatewayHealthStatus `json:"status"`
	Upstreams int                        `json:"upstreams"`
	Healthy   int                        `json:"healthy"`
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/upstreams", s.handleUpstreams)
	s.engine.GET("/circuitbreakers", s.handleCircuitBreakers)
	s.engine.GET("/loadbalancer", s.handleLoadBalancer)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:          &promLogger{logger: s.logger},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})))
}

// handleHealthz reports 503 only when every probed instance is unhealthy.
// Degraded and not-yet-probed gateways still serve traffic.
func (s *Server) handleHealthz(c *gin.Context) {
	results := s.health.GetUpstreamHealth()
	resp := HealthResponse{
		Status:    s.health.CheckGatewayHealth(),
		Upstreams: len(results),
	}
	for _, r := range results {
		if r.Healthy() {
			resp.Healthy++
		}
	}

	code := http.StatusOK
	if resp.Status == health.GatewayUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) handleUpstreams(c *gin.Context) {
	results := s.health.GetUpstreamHealth()
	if service := c.Query("service"); service != "" {
		filtered := make([]health.UpstreamHealth, 0, len(results))
		for _, r := range results {
			if r.ServiceName == service {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	if results == nil {
		results = []health.UpstreamHealth{}
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleCircuitBreakers(c *gin.Context) {
	metrics := s.breakers.GetAllMetrics()
	if name := c.Query("name"); name != "" {
		m, ok := metrics[name]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "circuit breaker not found", "name": name})
			return
		}
		c.JSON(http.StatusOK, m)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleLoadBalancer(c *gin.Context) {
	if s.balancer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "load balancer view disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"algorithm": s.balancer.Algorithm(),
		"services":  s.balancer.Snapshot(),
	})
}
