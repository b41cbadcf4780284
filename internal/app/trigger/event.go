// Package trigger provides the trigger sources, signal filtering and the
// single ordered event channel consumed by the playback state machine.
package trigger

import (
	"time"

	"github.com/NicholasTracy/CueBeam/internal/domain/media"
)

// SourceType identifies the input modality that produced an event.
type SourceType string

const (
	SourceGPIO   SourceType = "gpio"
	SourceArtNet SourceType = "artnet"
	SourceSACN   SourceType = "sacn"
	SourceManual SourceType = "manual"
)

// Kind classifies the raw signal shape behind an event.
type Kind int

const (
	KindPulse      Kind = iota // Discrete edge (contact closure, manual fire)
	KindLevelCross             // Channel value crossed a threshold upward
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPulse:
		return "pulse"
	case KindLevelCross:
		return "level-cross"
	default:
		return "unknown"
	}
}

// Event is a clean, debounced trigger. Consumed exactly once by the state
// machine and never persisted.
type Event struct {
	Source   SourceType
	Kind     Kind
	Category media.Category // Requested category; sources other than manual always request event clips
	Cue      string         // Named cue, empty for "pick any event entry"
	Value    int            // Source-specific payload (channel value), 0 for pulses
	At       time.Time      // Monotonic timestamp
}

// Health describes the current status of an armed trigger source.
type Health struct {
	Source  SourceType
	Armed   bool
	Detail  string // Listen address, pin, universe/channel
	LastErr string // Most recent failure, empty when healthy
	Dropped uint64 // Malformed packets discarded (diagnostics only)
}
