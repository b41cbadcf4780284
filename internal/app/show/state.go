// Package show runs the playback state machine: an idle loop on screen at
// all times, interrupted by triggered and random clips.
package show

import "time"

// State represents the controller state.
type State int

const (
	StateIdle          State = iota // Background loop playing
	StatePlayingEvent               // A triggered clip is playing
	StatePlayingRandom              // A randomly scheduled clip is playing
	StateStopped                    // Playback halted by operator or fatal engine fault
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlayingEvent:
		return "event"
	case StatePlayingRandom:
		return "random"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the machine for external readers.
type Snapshot struct {
	State State
	Clip  string // path of the playing clip, empty when stopped
	Cue   string // cue name when an event clip is playing
	Since time.Time
}

// Elapsed reports how long the machine has been in its current state.
// Best-effort: derived from wall clock, not from engine playback position.
func (s Snapshot) Elapsed() time.Duration {
	if s.Since.IsZero() {
		return 0
	}
	return time.Since(s.Since)
}
