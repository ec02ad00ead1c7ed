package backend

import (
	"sync/atomic"
)

// Instance is one addressable endpoint of an upstream service.
type Instance struct {
	URL    string
	Weight uint32

	// healthy is guarded by the owning service's lock.
	healthy     bool
	connections atomic.Int64
}

// InstanceSpec describes an instance to provision.
type InstanceSpec struct {
	URL    string
	Weight uint32
}

// InstanceStatus is a point-in-time view of an instance.
type InstanceStatus struct {
	URL               string `json:"url"`
	Weight            uint32 `json:"weight"`
	Healthy           bool   `json:"healthy"`
	ActiveConnections int64  `json:"activeConnections"`
}

func newInstance(spec InstanceSpec) *Instance {
	weight := spec.Weight
	if weight == 0 {
		weight = 1
	}
	return &Instance{URL: spec.URL, Weight: weight, healthy: true}
}

// Acquire records the start of a call on the instance.
func (i *Instance) Acquire() {
	i.connections.Add(1)
}

// Release records the end of a call started with Acquire.
func (i *Instance) Release() {
	i.connections.Add(-1)
}

// ActiveConnections returns the number of calls in flight.
func (i *Instance) ActiveConnections() int64 {
	return i.connections.Load()
}
