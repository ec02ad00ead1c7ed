package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vyrodovalexey/upstreamguard/internal/observability"
)

// maxDrainBytes bounds how much of a probe response body is read before the
// connection is returned to the pool.
const maxDrainBytes = 4 << 10

func unhealthy(detail string) string {
	return "unhealthy (" + detail + ")"
}

// probeHTTP issues GET <url><path>. Any 2xx is healthy.
func (c *Checker) probeHTTP(ctx context.Context, t Target) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.ProbeURL(), http.NoBody)
	if err != nil {
		return unhealthy(err.Error())
	}
	req.Header.Set("User-Agent", "upstreamguard-health-checker")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unhealthy(err.Error())
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return unhealthy(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	return StatusHealthy
}

// probeGRPC calls grpc.health.v1.Health/Check. Only SERVING is healthy.
func (c *Checker) probeGRPC(ctx context.Context, t Target) string {
	addr, err := grpcAddress(t.URL)
	if err != nil {
		return unhealthy(err.Error())
	}

	conn, err := c.grpcPool.get(addr)
	if err != nil {
		return unhealthy(err.Error())
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: t.GRPCService,
	})
	if err != nil {
		c.grpcPool.close(addr)
		return unhealthy(err.Error())
	}

	if status := resp.GetStatus(); status != healthpb.HealthCheckResponse_SERVING {
		return unhealthy("gRPC " + status.String())
	}
	return StatusHealthy
}

// grpcAddress turns an instance URL into a dial target. Bare host:port
// values are accepted as is.
func grpcAddress(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if raw == "" {
			return "", fmt.Errorf("empty gRPC target")
		}
		return raw, nil
	}
	return u.Host, nil
}

// grpcConnPool keeps one client connection per address across ticks.
type grpcConnPool struct {
	creds  credentials.TransportCredentials
	logger observability.Logger

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func newGRPCConnPool(creds credentials.TransportCredentials, logger observability.Logger) *grpcConnPool {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	return &grpcConnPool{
		creds:  creds,
		logger: logger,
		conns:  make(map[string]*grpc.ClientConn),
	}
}

func (p *grpcConnPool) get(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[addr]; ok {
		if state := conn.GetState(); state != connectivity.Shutdown && state != connectivity.TransientFailure {
			return conn, nil
		}
		p.closeLocked(addr, conn)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(p.creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client for %s: %w", addr, err)
	}
	p.conns[addr] = conn
	return conn, nil
}

func (p *grpcConnPool) close(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[addr]; ok {
		p.closeLocked(addr, conn)
	}
}

// retain closes connections whose address is not in keep.
func (p *grpcConnPool) retain(keep map[string]struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, conn := range p.conns {
		if _, ok := keep[addr]; !ok {
			p.closeLocked(addr, conn)
		}
	}
}

func (p *grpcConnPool) closeAll() {
	p.retain(nil)
}

func (p *grpcConnPool) closeLocked(addr string, conn *grpc.ClientConn) {
	if err := conn.Close(); err != nil {
		p.logger.Warn("failed to close gRPC health connection",
			observability.String("addr", addr),
			observability.Error(err),
		)
	}
	delete(p.conns, addr)
}
