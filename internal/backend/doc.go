// Package backend keeps the instances of every upstream service and picks one
// per call.
//
// A LoadBalancer holds an ordered instance list per service name and a single
// process-wide Algorithm. Only healthy instances take part in selection; the
// health checker flips instances with MarkInstanceHealthy and
// MarkInstanceUnhealthy.
//
//	lb := backend.NewLoadBalancer(backend.RoundRobin)
//	lb.AddInstance("auth-service", "http://auth-1:8080", 1)
//	lb.AddInstance("auth-service", "http://auth-2:8080", 1)
//
//	url, err := lb.GetUpstream("auth-service")
//	switch {
//	case errors.Is(err, backend.ErrServiceNotFound):
//	    // unknown service, do not retry
//	case errors.Is(err, backend.ErrNoHealthyInstances):
//	    // transient, retry with backoff
//	}
package backend
