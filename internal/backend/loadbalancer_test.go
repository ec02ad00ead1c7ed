package backend

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allAlgorithms = []Algorithm{RoundRobin, WeightedRoundRobin, LeastConnections, Random}

func newTestLB(algorithm Algorithm, opts ...Option) *LoadBalancer {
	opts = append([]Option{WithCollector(NewCollector(prometheus.NewRegistry()))}, opts...)
	return NewLoadBalancer(algorithm, opts...)
}

// sequence returns a deterministic intn that replays values modulo n.
func sequence(values ...int) func(int) int {
	var mu sync.Mutex
	i := 0
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		v := values[i%len(values)]
		i++
		return v % n
	}
}

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	for _, a := range allAlgorithms {
		got, err := ParseAlgorithm(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	got, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, RoundRobin, got)

	_, err = ParseAlgorithm("fastest")
	assert.Error(t, err)

	assert.Equal(t, RoundRobin, NewLoadBalancer("fastest", WithCollector(nil)).Algorithm())
}

func TestGetUpstream_ServiceNotFound(t *testing.T) {
	t.Parallel()

	lb := newTestLB(RoundRobin)

	_, err := lb.GetUpstream("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotFound)

	var notFound *ServiceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Service)
	assert.NotErrorIs(t, err, ErrNoHealthyInstances)
}

func TestGetUpstream_NoHealthyInstances(t *testing.T) {
	t.Parallel()

	for _, algorithm := range allAlgorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			t.Parallel()

			lb := newTestLB(algorithm)
			lb.AddInstance("users", "http://users-1:8080", 1)
			lb.AddInstance("users", "http://users-2:8080", 3)
			require.NoError(t, lb.MarkInstanceUnhealthy("users", "http://users-1:8080"))
			require.NoError(t, lb.MarkInstanceUnhealthy("users", "http://users-2:8080"))

			for i := 0; i < 10; i++ {
				_, err := lb.GetUpstream("users")
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNoHealthyInstances)

				var noHealthy *NoHealthyInstancesError
				require.ErrorAs(t, err, &noHealthy)
				assert.Equal(t, 2, noHealthy.Instances)
			}
		})
	}
}

func TestRoundRobin_CoversAllInstances(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 3, 5, 8} {
		t.Run(fmt.Sprintf("%d instances", n), func(t *testing.T) {
			t.Parallel()

			lb := newTestLB(RoundRobin)
			for i := 0; i < n; i++ {
				lb.AddInstance("svc", fmt.Sprintf("http://svc-%d:8080", i), 1)
			}
			// Start from an arbitrary cursor position.
			for i := 0; i < 7; i++ {
				_, _ = lb.GetUpstream("svc")
			}

			seen := make(map[string]int, n)
			for i := 0; i < n; i++ {
				url, err := lb.GetUpstream("svc")
				require.NoError(t, err)
				seen[url]++
			}
			assert.Len(t, seen, n)
			for url, count := range seen {
				assert.Equal(t, 1, count, url)
			}
		})
	}
}

func TestRoundRobin_SkipsUnhealthy(t *testing.T) {
	t.Parallel()

	lb := newTestLB(RoundRobin)
	lb.AddInstance("svc", "http://a", 1)
	lb.AddInstance("svc", "http://b", 1)
	lb.AddInstance("svc", "http://c", 1)
	require.NoError(t, lb.MarkInstanceUnhealthy("svc", "http://b"))

	for i := 0; i < 20; i++ {
		url, err := lb.GetUpstream("svc")
		require.NoError(t, err)
		assert.NotEqual(t, "http://b", url)
	}
}

func TestRoundRobin_Concurrent(t *testing.T) {
	t.Parallel()

	lb := newTestLB(RoundRobin)
	for i := 0; i < 4; i++ {
		lb.AddInstance("svc", fmt.Sprintf("http://svc-%d", i), 1)
	}

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				url, err := lb.GetUpstream("svc")
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				counts[url]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, counts, 4)
	for url, c := range counts {
		assert.Equal(t, 200, c, url)
	}
}

func TestWeightedRoundRobin_CumulativeWalk(t *testing.T) {
	t.Parallel()

	// Weights 1, 3, 6 partition [1, 10] into {1}, {2..4}, {5..10}.
	tests := []struct {
		draw int
		want string
	}{
		{draw: 0, want: "http://a"},
		{draw: 1, want: "http://b"},
		{draw: 3, want: "http://b"},
		{draw: 4, want: "http://c"},
		{draw: 9, want: "http://c"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("draw %d", tt.draw), func(t *testing.T) {
			t.Parallel()

			lb := newTestLB(WeightedRoundRobin, WithRandom(sequence(tt.draw)))
			lb.AddInstance("svc", "http://a", 1)
			lb.AddInstance("svc", "http://b", 3)
			lb.AddInstance("svc", "http://c", 6)

			url, err := lb.GetUpstream("svc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, url)
		})
	}
}

func TestWeightedRoundRobin_Distribution(t *testing.T) {
	t.Parallel()

	lb := newTestLB(WeightedRoundRobin)
	lb.AddInstance("svc", "http://light", 1)
	lb.AddInstance("svc", "http://heavy", 9)

	counts := make(map[string]int)
	for i := 0; i < 5000; i++ {
		url, err := lb.GetUpstream("svc")
		require.NoError(t, err)
		counts[url]++
	}

	assert.Greater(t, counts["http://heavy"], counts["http://light"]*4)
	assert.Positive(t, counts["http://light"])
}

func TestWeightedRoundRobin_OnlyHealthyWeightsCount(t *testing.T) {
	t.Parallel()

	lb := newTestLB(WeightedRoundRobin, WithRandom(sequence(0, 5, 9)))
	lb.AddInstance("svc", "http://down", 100)
	lb.AddInstance("svc", "http://up", 1)
	require.NoError(t, lb.MarkInstanceUnhealthy("svc", "http://down"))

	for i := 0; i < 3; i++ {
		url, err := lb.GetUpstream("svc")
		require.NoError(t, err)
		assert.Equal(t, "http://up", url)
	}
}

func TestLeastConnections(t *testing.T) {
	t.Parallel()

	lb := newTestLB(LeastConnections)
	a := lb.AddInstance("svc", "http://a", 1)
	b := lb.AddInstance("svc", "http://b", 1)
	c := lb.AddInstance("svc", "http://c", 1)

	// Ties go to the first instance in list order.
	url, err := lb.GetUpstream("svc")
	require.NoError(t, err)
	assert.Equal(t, "http://a", url)

	a.Acquire()
	a.Acquire()
	b.Acquire()
	url, err = lb.GetUpstream("svc")
	require.NoError(t, err)
	assert.Equal(t, "http://c", url)

	c.Acquire()
	c.Acquire()
	url, err = lb.GetUpstream("svc")
	require.NoError(t, err)
	assert.Equal(t, "http://b", url)

	a.Release()
	a.Release()
	assert.Zero(t, a.ActiveConnections())
	url, err = lb.GetUpstream("svc")
	require.NoError(t, err)
	assert.Equal(t, "http://a", url)
}

func TestRandom_UsesHealthyIndex(t *testing.T) {
	t.Parallel()

	lb := newTestLB(Random, WithRandom(sequence(0, 1, 2, 3)))
	lb.AddInstance("svc", "http://a", 1)
	lb.AddInstance("svc", "http://b", 1)
	lb.AddInstance("svc", "http://c", 1)
	require.NoError(t, lb.MarkInstanceUnhealthy("svc", "http://a"))

	var got []string
	for i := 0; i < 4; i++ {
		url, err := lb.GetUpstream("svc")
		require.NoError(t, err)
		got = append(got, url)
	}
	assert.Equal(t, []string{"http://b", "http://c", "http://b", "http://c"}, got)
}

func TestMarkInstance(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)
	lb := NewLoadBalancer(RoundRobin, WithCollector(collector))
	lb.AddInstance("svc", "http://a", 1)

	require.NoError(t, lb.MarkInstanceUnhealthy("svc", "http://a"))
	require.NoError(t, lb.MarkInstanceUnhealthy("svc", "http://a"))
	_, err := lb.GetUpstream("svc")
	assert.ErrorIs(t, err, ErrNoHealthyInstances)

	require.NoError(t, lb.MarkInstanceHealthy("svc", "http://a"))
	url, err := lb.GetUpstream("svc")
	require.NoError(t, err)
	assert.Equal(t, "http://a", url)

	assert.ErrorIs(t, lb.MarkInstanceHealthy("missing", "http://a"), ErrServiceNotFound)
	assert.ErrorIs(t, lb.MarkInstanceHealthy("svc", "http://zzz"), ErrInstanceNotFound)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.healthFlips.WithLabelValues("svc", "http://a", "unhealthy")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.healthFlips.WithLabelValues("svc", "http://a", "healthy")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.instanceHealthy.WithLabelValues("svc", "http://a")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.selectionErrors.WithLabelValues("svc", "no_healthy_instances")))
}

func TestAddInstance_Idempotent(t *testing.T) {
	t.Parallel()

	lb := newTestLB(RoundRobin)
	first := lb.AddInstance("svc", "http://a", 1)
	second := lb.AddInstance("svc", "http://a", 4)

	assert.Same(t, first, second)
	assert.Equal(t, uint32(4), first.Weight)
	assert.Len(t, lb.Snapshot()["svc"], 1)

	zero := lb.AddInstance("svc", "http://b", 0)
	assert.Equal(t, uint32(1), zero.Weight)
}

func TestUpdate_PreservesState(t *testing.T) {
	t.Parallel()

	lb := newTestLB(RoundRobin)
	a := lb.AddInstance("users", "http://a", 1)
	lb.AddInstance("users", "http://b", 1)
	lb.AddInstance("orders", "http://o", 1)
	require.NoError(t, lb.MarkInstanceUnhealthy("users", "http://a"))
	a.Acquire()

	lb.Update(map[string][]InstanceSpec{
		"users":  {{URL: "http://a", Weight: 2}, {URL: "http://c"}},
		"search": {{URL: "http://s", Weight: 1}},
	})

	assert.Equal(t, []string{"search", "users"}, lb.Services())

	snap := lb.Snapshot()
	require.Len(t, snap["users"], 2)
	assert.Equal(t, InstanceStatus{URL: "http://a", Weight: 2, Healthy: false, ActiveConnections: 1}, snap["users"][0])
	assert.Equal(t, InstanceStatus{URL: "http://c", Weight: 1, Healthy: true}, snap["users"][1])

	_, err := lb.GetUpstream("orders")
	assert.ErrorIs(t, err, ErrServiceNotFound)

	url, err := lb.GetUpstream("users")
	require.NoError(t, err)
	assert.Equal(t, "http://c", url)
}

func TestErrors_Messages(t *testing.T) {
	t.Parallel()

	notFound := &ServiceNotFoundError{Service: "x"}
	assert.Equal(t, `upstream service "x" not found`, notFound.Error())
	assert.True(t, errors.Is(notFound, &ServiceNotFoundError{}))

	noHealthy := &NoHealthyInstancesError{Service: "x", Instances: 2}
	assert.Contains(t, noHealthy.Error(), "2 configured")
	assert.True(t, errors.Is(noHealthy, &NoHealthyInstancesError{}))
}

func TestSecureIntn(t *testing.T) {
	t.Parallel()

	assert.Zero(t, secureIntn(0))
	assert.Zero(t, secureIntn(1))

	seen := make(map[int]int)
	for i := 0; i < 2000; i++ {
		v := secureIntn(5)
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 5)
		seen[v]++
	}
	assert.Len(t, seen, 5, "every value in range is produced")
}
