package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlipTracker(t *testing.T) {
	t.Parallel()

	f := newFlipTracker(2, 3)
	key := instanceKey{service: "svc", url: "http://a"}

	steps := []struct {
		ok          bool
		wantFlipped bool
		wantHealthy bool
	}{
		{ok: false, wantHealthy: true},
		{ok: false, wantHealthy: true},
		{ok: true, wantHealthy: true}, // success resets the failure run
		{ok: false, wantHealthy: true},
		{ok: false, wantHealthy: true},
		{ok: false, wantFlipped: true, wantHealthy: false},
		{ok: false, wantHealthy: false},
		{ok: true, wantHealthy: false},
		{ok: false, wantHealthy: false}, // failure resets the success run
		{ok: true, wantHealthy: false},
		{ok: true, wantFlipped: true, wantHealthy: true},
	}

	for i, step := range steps {
		flipped, healthy := f.observe(key, step.ok)
		assert.Equal(t, step.wantFlipped, flipped, "step %d", i)
		assert.Equal(t, step.wantHealthy, healthy, "step %d", i)
	}
}

func TestFlipTracker_MinimumThresholds(t *testing.T) {
	t.Parallel()

	f := newFlipTracker(0, -1)
	key := instanceKey{service: "svc", url: "http://a"}

	flipped, healthy := f.observe(key, false)
	assert.True(t, flipped)
	assert.False(t, healthy)

	flipped, healthy = f.observe(key, true)
	assert.True(t, flipped)
	assert.True(t, healthy)
}

func TestFlipTracker_Retain(t *testing.T) {
	t.Parallel()

	f := newFlipTracker(1, 1)
	a := instanceKey{service: "svc", url: "http://a"}
	b := instanceKey{service: "svc", url: "http://b"}

	f.observe(a, false)
	f.observe(b, false)
	f.retain(map[instanceKey]struct{}{b: {}})

	// a starts over as healthy; b remembers it is unhealthy.
	flipped, _ := f.observe(a, true)
	assert.False(t, flipped)
	flipped, healthy := f.observe(b, true)
	assert.True(t, flipped)
	assert.True(t, healthy)
}

func TestFlipTracker_Revert(t *testing.T) {
	t.Parallel()

	f := newFlipTracker(2, 3)
	key := instanceKey{service: "svc", url: "http://a"}

	f.observe(key, false)
	f.observe(key, false)
	flipped, healthy := f.observe(key, false)
	assert.True(t, flipped)
	assert.False(t, healthy)

	f.revert(key, false)
	flipped, healthy = f.observe(key, false)
	assert.True(t, flipped, "one more failure re-flips")
	assert.False(t, healthy)

	f.observe(key, true)
	flipped, healthy = f.observe(key, true)
	assert.True(t, flipped)
	assert.True(t, healthy)

	f.revert(key, true)
	flipped, healthy = f.observe(key, true)
	assert.True(t, flipped, "one more success re-flips")
	assert.True(t, healthy)

	f.revert(key, false)
	flipped, healthy = f.observe(key, true)
	assert.False(t, flipped, "revert of a stale classification is ignored")
	assert.True(t, healthy)

	f.revert(instanceKey{service: "svc", url: "http://gone"}, false)
}
