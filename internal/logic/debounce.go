// Package logic contains pure state-tracking logic for GPIO inputs.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the logical state of an input.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// Debouncer tracks one input and reports debounced transitions.
type Debouncer struct {
	duration time.Duration

	// Current stable (debounced) state
	stable State
	// Pending state during debounce
	pending State
	// Time when pending state was first observed
	pendingSince time.Time
	// Whether we have established a baseline
	baselined bool

	transitions int
}

// NewDebouncer creates a debouncer requiring a state to hold for d before it
// is accepted.
func NewDebouncer(d time.Duration) *Debouncer {
	return &Debouncer{duration: d}
}

// Process takes a new sample and returns the new stable state and true if a
// debounced transition occurred. No transition is reported while the
// baseline is being established.
func (d *Debouncer) Process(on bool, now time.Time) (State, bool) {
	newState := boolToState(on)

	// First time seeing this input
	if !d.baselined {
		if d.pending != newState {
			// Start observing, or state changed during baseline: restart
			d.pending = newState
			d.pendingSince = now
		}
		if now.Sub(d.pendingSince) >= d.duration {
			d.stable = newState
			d.baselined = true
			d.pending = ""
		}
		return d.stable, false
	}

	// Already baselined - detect transitions
	if newState == d.stable {
		// No change from stable state, clear any pending
		d.pending = ""
		return d.stable, false
	}

	// State differs from stable
	if d.pending != newState {
		d.pending = newState
		d.pendingSince = now
	}

	// Same pending state, check debounce
	if now.Sub(d.pendingSince) >= d.duration {
		d.stable = newState
		d.pending = ""
		d.transitions++
		return d.stable, true
	}
	return d.stable, false
}

// IsBaselined returns whether the debouncer has established a baseline.
func (d *Debouncer) IsBaselined() bool {
	return d.baselined
}

// State returns the current stable state ("" before baseline).
func (d *Debouncer) State() State {
	return d.stable
}

// Transitions returns the number of debounced transitions since startup.
func (d *Debouncer) Transitions() int {
	return d.transitions
}

func boolToState(b bool) State {
	if b {
		return StateOn
	}
	return StateOff
}
