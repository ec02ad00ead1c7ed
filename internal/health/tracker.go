package health

import (
	"sync"
)

// flipTracker applies hysteresis to probe results. An instance starts
// healthy, becomes unhealthy after unhealthyThreshold consecutive failed
// probes and healthy again after healthyThreshold consecutive successes.
type flipTracker struct {
	healthyThreshold   int
	unhealthyThreshold int

	mu     sync.Mutex
	states map[instanceKey]*trackedState
}

type trackedState struct {
	healthy   bool
	successes int
	failures  int
}

func newFlipTracker(healthyThreshold, unhealthyThreshold int) *flipTracker {
	if healthyThreshold < 1 {
		healthyThreshold = 1
	}
	if unhealthyThreshold < 1 {
		unhealthyThreshold = 1
	}
	return &flipTracker{
		healthyThreshold:   healthyThreshold,
		unhealthyThreshold: unhealthyThreshold,
		states:             make(map[instanceKey]*trackedState),
	}
}

// observe records a probe result and reports whether the instance's
// classification flipped, along with the classification after the update.
func (f *flipTracker) observe(key instanceKey, ok bool) (flipped, healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, exists := f.states[key]
	if !exists {
		st = &trackedState{healthy: true}
		f.states[key] = st
	}

	if ok {
		st.failures = 0
		st.successes++
		if !st.healthy && st.successes >= f.healthyThreshold {
			st.healthy = true
			st.successes = 0
			return true, true
		}
		return false, st.healthy
	}

	st.successes = 0
	st.failures++
	if st.healthy && st.failures >= f.unhealthyThreshold {
		st.healthy = false
		st.failures = 0
		return true, false
	}
	return false, st.healthy
}

// revert undoes a flip that could not be applied. The run counter is left
// one short of the threshold so the next matching result flips again.
func (f *flipTracker) revert(key instanceKey, healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.states[key]
	if !ok || st.healthy != healthy {
		return
	}
	st.healthy = !healthy
	st.successes = 0
	st.failures = 0
	if healthy {
		st.successes = f.healthyThreshold - 1
	} else {
		st.failures = f.unhealthyThreshold - 1
	}
}

// retain drops state for instances not in keep.
func (f *flipTracker) retain(keep map[instanceKey]struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.states {
		if _, ok := keep[key]; !ok {
			delete(f.states, key)
		}
	}
}
