package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the structured errors below.
var (
	ErrServiceNotFound    = errors.New("upstream service not found")
	ErrNoHealthyInstances = errors.New("no healthy upstream instances")
)

// ServiceNotFoundError is returned for a service name the load balancer does
// not know. It indicates a configuration or programming error.
type ServiceNotFoundError struct {
	Service string
}

// Error implements the error interface.
func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("upstream service %q not found", e.Service)
}

// Is reports whether target is ErrServiceNotFound or a ServiceNotFoundError.
func (e *ServiceNotFoundError) Is(target error) bool {
	if target == ErrServiceNotFound {
		return true
	}
	_, ok := target.(*ServiceNotFoundError)
	return ok
}

// NoHealthyInstancesError is returned when every instance of a known service
// is marked unhealthy. The condition is transient.
type NoHealthyInstancesError struct {
	Service   string
	Instances int
}

// Error implements the error interface.
func (e *NoHealthyInstancesError) Error() string {
	return fmt.Sprintf("no healthy instances for upstream service %q (%d configured)", e.Service, e.Instances)
}

// Is reports whether target is ErrNoHealthyInstances or a
// NoHealthyInstancesError.
func (e *NoHealthyInstancesError) Is(target error) bool {
	if target == ErrNoHealthyInstances {
		return true
	}
	_, ok := target.(*NoHealthyInstancesError)
	return ok
}

// ErrInstanceNotFound is returned by the health mutators for a URL that is
// not registered under the service.
var ErrInstanceNotFound = errors.New("upstream instance not found")
