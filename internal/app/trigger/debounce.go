package trigger

import (
	"sync"
	"time"
)

// Debouncer suppresses raw edges arriving within a window of the first
// clean edge. The first edge wins; followers inside the window are
// discarded outright, and the window is measured from that first edge.
// State is per source instance, never shared.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
}

// NewDebouncer creates a debouncer with the given window. A zero window
// passes every edge through.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Allow reports whether an edge observed at t is a clean edge.
func (d *Debouncer) Allow(t time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.window <= 0 {
		return true
	}
	if !d.last.IsZero() && t.Sub(d.last) < d.window {
		return false
	}
	d.last = t
	return true
}

// Hysteresis turns a stream of channel values into rising threshold
// crossings. A crossing fires once; the value must fall back below the
// threshold before the next crossing can fire, which prevents chatter at
// the boundary. Only the latest observed value matters, so packet loss and
// reordering cannot corrupt the state.
type Hysteresis struct {
	mu        sync.Mutex
	threshold int
	high      bool
}

// NewHysteresis creates a hysteresis latch for the given threshold.
func NewHysteresis(threshold int) *Hysteresis {
	return &Hysteresis{threshold: threshold}
}

// Observe feeds a channel value and reports whether it constitutes a new
// rising crossing.
func (h *Hysteresis) Observe(value int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if value >= h.threshold {
		if h.high {
			return false
		}
		h.high = true
		return true
	}
	h.high = false
	return false
}
