// Package admin exposes a read-only HTTP view of the resilience layer:
// gateway health, per-instance probe results, circuit breaker metrics,
// load balancer instance lists and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/upstreamguard/internal/backend"
	"github.com/vyrodovalexey/upstreamguard/internal/circuitbreaker"
	"github.com/vyrodovalexey/upstreamguard/internal/health"
	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// Server defaults.
const (
	DefaultAddress      = ":9090"
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
)

// ginModeOnce guards the process-wide gin mode.
var ginModeOnce sync.Once

// HealthSource provides probe results and the aggregated gateway status.
type HealthSource interface {
	GetUpstreamHealth() []health.UpstreamHealth
	CheckGatewayHealth() health.GatewayHealthStatus
}

// BreakerSource provides circuit breaker metrics.
type BreakerSource interface {
	GetAllMetrics() map[string]circuitbreaker.Metrics
}

// BalancerSource provides load balancer instance lists.
type BalancerSource interface {
	Algorithm() backend.Algorithm
	Snapshot() map[string][]backend.InstanceStatus
}

// Option configures a Server.
type Option func(*Server)

// WithAddress sets the listen address.
func WithAddress(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.address = addr
		}
	}
}

// WithLogger sets the server's logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithBalancer enables the /loadbalancer endpoint.
func WithBalancer(src BalancerSource) Option {
	return func(s *Server) {
		s.balancer = src
	}
}

// WithRateLimit caps the request rate across all clients. A non-positive
// rps disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = max(int(rps), 1)
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Server is the admin HTTP server.
type Server struct {
	address  string
	logger   observability.Logger
	gatherer prometheus.Gatherer
	health   HealthSource
	breakers BreakerSource
	balancer BalancerSource
	limiter  *rate.Limiter
	engine   *gin.Engine

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates an admin server over the given sources.
func NewServer(healthSrc HealthSource, breakers BreakerSource, opts ...Option) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		address:  DefaultAddress,
		logger:   observability.NopLogger(),
		gatherer: prometheus.DefaultGatherer,
		health:   healthSrc,
		breakers: breakers,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(recovery(s.logger), requestLogger(s.logger))
	if s.limiter != nil {
		s.engine.Use(rateLimit(s.limiter))
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler serving all admin routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the bound address once Start has succeeded, or the
// configured address otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("admin server already running")
	}

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       DefaultReadTimeout,
		ReadHeaderTimeout: DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	s.httpServer = srv
	s.listener = ln

	s.logger.Info("starting admin server", observability.String("address", ln.Addr().String()))

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server failed", observability.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logger.Info("stopping admin server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown admin server: %w", err)
	}
	return nil
}
