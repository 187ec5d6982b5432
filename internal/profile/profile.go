// Package profile defines actuation profiles and the read-only store they are
// loaded into.
//
// A profile is a named on/off pattern with a repeat policy and start/end
// delays. Profiles are immutable once loaded; the store hands out copies.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is the output state of a pattern step.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// Forever is the Repeat value meaning "run until cancelled".
const Forever Repeat = -1

// Repeat is the number of passes over a pattern, or Forever.
type Repeat int

// IsForever reports whether r runs until cancelled.
func (r Repeat) IsForever() bool { return r == Forever }

func (r Repeat) String() string {
	if r.IsForever() {
		return "~"
	}
	return strconv.Itoa(int(r))
}

// parseRepeat accepts a positive integer (number or numeric string) or one of
// the forever sentinels "~", "infinite", "forever".
func parseRepeat(s string) (Repeat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "~", "infinite", "forever":
		return Forever, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid repeat %q", s)
	}
	return Repeat(n), nil
}

// UnmarshalJSON accepts 3, "3", "~" and "infinite".
func (r *Repeat) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*r = Repeat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid repeat %s", b)
	}
	v, err := parseRepeat(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Step is one element of a pattern: drive the output to State and hold it
// for Duration.
type Step struct {
	State    State
	Duration time.Duration
}

// Profile is a named actuation pattern.
type Profile struct {
	Name       string
	Repeat     Repeat
	DelayStart time.Duration
	DelayEnd   time.Duration
	Pattern    []Step
}

// PassDuration returns the time one pass over the pattern takes, excluding delays.
func (p Profile) PassDuration() time.Duration {
	var d time.Duration
	for _, s := range p.Pattern {
		d += s.Duration
	}
	return d
}

// MaxStep returns the longest single step, which bounds cancellation latency.
func (p Profile) MaxStep() time.Duration {
	var m time.Duration
	for _, s := range p.Pattern {
		if s.Duration > m {
			m = s.Duration
		}
	}
	return m
}

// TotalDuration returns the run time of a finite profile:
// delay_start + repeat*(pass + delay_end). It returns 0 for Forever.
func (p Profile) TotalDuration() time.Duration {
	if p.Repeat.IsForever() {
		return 0
	}
	return p.DelayStart + time.Duration(p.Repeat)*(p.PassDuration()+p.DelayEnd)
}

// clone returns a copy that shares no memory with p.
func (p Profile) clone() Profile {
	c := p
	if p.Pattern != nil {
		c.Pattern = make([]Step, len(p.Pattern))
		copy(c.Pattern, p.Pattern)
	}
	return c
}

// Validate checks the invariants a profile must satisfy before it can run.
func (p Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile has no name")
	}
	if !p.Repeat.IsForever() && p.Repeat <= 0 {
		return fmt.Errorf("profile %q: repeat must be positive or ~, got %d", p.Name, p.Repeat)
	}
	if p.DelayStart < 0 || p.DelayEnd < 0 {
		return fmt.Errorf("profile %q: delays must not be negative", p.Name)
	}
	for i, s := range p.Pattern {
		if s.State != StateOn && s.State != StateOff {
			return fmt.Errorf("profile %q: step %d: unknown state %q", p.Name, i, s.State)
		}
		if s.Duration < 0 {
			return fmt.Errorf("profile %q: step %d: negative duration", p.Name, i)
		}
	}
	// A forever profile whose pass takes no time would spin without yielding.
	if p.Repeat.IsForever() && p.PassDuration()+p.DelayEnd == 0 {
		return fmt.Errorf("profile %q: repeats forever but a pass takes no time", p.Name)
	}
	return nil
}
