package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_BurstEmitsOnce(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	t0 := time.Now()

	// First edge is clean, the burst inside the window is discarded.
	assert.True(t, d.Allow(t0))
	assert.False(t, d.Allow(t0.Add(5*time.Millisecond)))
	assert.False(t, d.Allow(t0.Add(20*time.Millisecond)))
	assert.False(t, d.Allow(t0.Add(49*time.Millisecond)))

	// Past the window a new clean edge fires.
	assert.True(t, d.Allow(t0.Add(51*time.Millisecond)))
}

func TestDebouncer_WindowResetsFromFirstCleanEdge(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	t0 := time.Now()

	assert.True(t, d.Allow(t0))
	// Discarded edges must not extend the window.
	assert.False(t, d.Allow(t0.Add(40*time.Millisecond)))
	assert.True(t, d.Allow(t0.Add(60*time.Millisecond)),
		"window is measured from the first clean edge, not the last raw edge")
}

func TestDebouncer_ZeroWindowPassesAll(t *testing.T) {
	d := NewDebouncer(0)
	t0 := time.Now()
	for i := 0; i < 5; i++ {
		assert.True(t, d.Allow(t0.Add(time.Duration(i)*time.Microsecond)))
	}
}

func TestHysteresis_SingleCrossingWhileHigh(t *testing.T) {
	h := NewHysteresis(128)

	// Cross upward once, then stay high: exactly one trigger.
	assert.False(t, h.Observe(0))
	assert.True(t, h.Observe(200))
	assert.False(t, h.Observe(255))
	assert.False(t, h.Observe(128))
	assert.False(t, h.Observe(129))
}

func TestHysteresis_RearmsBelowThreshold(t *testing.T) {
	h := NewHysteresis(128)

	assert.True(t, h.Observe(200))
	assert.False(t, h.Observe(130))

	// Must fall below threshold before the next rising crossing fires.
	assert.False(t, h.Observe(50))
	assert.True(t, h.Observe(128), "value equal to threshold counts as high")
}

func TestHysteresis_StartsHigh(t *testing.T) {
	h := NewHysteresis(100)

	// First observation already above threshold is a crossing.
	assert.True(t, h.Observe(255))
}
