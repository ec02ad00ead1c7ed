package backend

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand/v2"
	"sync/atomic"
)

// Algorithm names a selection policy.
type Algorithm string

// Supported algorithms.
const (
	RoundRobin         Algorithm = "round-robin"
	WeightedRoundRobin Algorithm = "weighted-round-robin"
	LeastConnections   Algorithm = "least-connections"
	Random             Algorithm = "random"
)

// ParseAlgorithm converts a configuration value to an Algorithm. The empty
// string selects RoundRobin.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case "":
		return RoundRobin, nil
	case RoundRobin, WeightedRoundRobin, LeastConnections, Random:
		return a, nil
	default:
		return "", fmt.Errorf("unknown load balancing algorithm %q", s)
	}
}

// String implements fmt.Stringer.
func (a Algorithm) String() string {
	return string(a)
}

// pick selects from a non-empty list of healthy instances.
func (a Algorithm) pick(healthy []*Instance, cursor *atomic.Uint64, intn func(int) int) *Instance {
	switch a {
	case WeightedRoundRobin:
		return pickWeighted(healthy, intn)
	case LeastConnections:
		return pickLeastConnections(healthy)
	case Random:
		return healthy[intn(len(healthy))]
	default:
		return pickRoundRobin(healthy, cursor)
	}
}

// pickRoundRobin uses a cursor that keeps counting across calls, so the
// rotation stays fair when the healthy set changes size.
func pickRoundRobin(healthy []*Instance, cursor *atomic.Uint64) *Instance {
	n := cursor.Add(1) - 1
	return healthy[n%uint64(len(healthy))]
}

// pickWeighted draws r uniformly from [1, totalWeight] and returns the first
// instance whose cumulative weight reaches r. Each pick is independent, so
// this is weighted random selection rather than a strict rotation.
func pickWeighted(healthy []*Instance, intn func(int) int) *Instance {
	var total uint64
	for _, inst := range healthy {
		total += uint64(inst.Weight)
	}
	if total == 0 {
		return healthy[intn(len(healthy))]
	}

	r := uint64(intn(int(total))) + 1
	var cumulative uint64
	for _, inst := range healthy {
		cumulative += uint64(inst.Weight)
		if cumulative >= r {
			return inst
		}
	}
	return healthy[len(healthy)-1]
}

// pickLeastConnections breaks ties by list order.
func pickLeastConnections(healthy []*Instance) *Instance {
	best := healthy[0]
	bestConns := best.ActiveConnections()
	for _, inst := range healthy[1:] {
		if conns := inst.ActiveConnections(); conns < bestConns {
			best, bestConns = inst, conns
		}
	}
	return best
}

// secureIntn returns a uniform integer in [0, n) from crypto/rand, falling
// back to math/rand if the system source fails.
func secureIntn(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return mathrand.IntN(n)
	}
	return int(v.Int64())
}
