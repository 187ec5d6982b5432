package gpio

import (
	"errors"
	"sync"
	"time"
)

// Write is a single recorded pin write.
type Write struct {
	Level Level
	At    time.Time
}

// FakePin is a test double that records writes.
// It is safe for concurrent use.
type FakePin struct {
	// Now stamps each write; defaults to time.Now.
	Now func() time.Time

	// WriteHook, if set, is consulted before every write with the index of
	// the write and its level. A non-nil return fails the write.
	WriteHook func(n int, level Level) error

	mu       sync.Mutex
	writes   []Write
	attempts int
	level    Level
	released bool
}

// NewFakePin creates a FakePin stamping writes with now (nil = time.Now).
func NewFakePin(now func() time.Time) *FakePin {
	return &FakePin{Now: now}
}

// Write records the level.
func (f *FakePin) Write(level Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.attempts
	f.attempts++
	if f.WriteHook != nil {
		if err := f.WriteHook(n, level); err != nil {
			return err
		}
	}
	if f.released {
		return errors.New("pin released")
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	f.writes = append(f.writes, Write{Level: level, At: now()})
	f.level = level
	return nil
}

// Release marks the pin released and drives it low.
func (f *FakePin) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = Low
	f.released = true
	return nil
}

// Writes returns a copy of the recorded writes.
func (f *FakePin) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// Level returns the last level written.
func (f *FakePin) Level() Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// Released reports whether Release was called.
func (f *FakePin) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// FakeInput is a test double that returns scripted values.
type FakeInput struct {
	// Samples contains scripted values to return.
	// Each call to Read() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeInput creates a FakeInput with the given samples.
func NewFakeInput(samples ...bool) *FakeInput {
	return &FakeInput{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeInput) Read() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	v := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return v, nil
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.Closed = true
	return nil
}

// FakeOpener hands out fake lines keyed by offset.
type FakeOpener struct {
	Pins   map[int]*FakePin
	Inputs map[int]*FakeInput

	// Now is passed to pins created on demand.
	Now func() time.Time

	// OutputError, if set, is returned by Output.
	OutputError error
}

// NewFakeOpener creates an empty FakeOpener.
func NewFakeOpener() *FakeOpener {
	return &FakeOpener{
		Pins:   make(map[int]*FakePin),
		Inputs: make(map[int]*FakeInput),
	}
}

// Output returns the fake pin for offset, creating it if needed.
func (o *FakeOpener) Output(offset int) (Pin, error) {
	if o.OutputError != nil {
		return nil, o.OutputError
	}
	p, ok := o.Pins[offset]
	if !ok {
		p = NewFakePin(o.Now)
		o.Pins[offset] = p
	}
	return p, nil
}

// Input returns the fake input for offset, creating an idle one if needed.
func (o *FakeOpener) Input(offset int, activeLow bool) (Input, error) {
	in, ok := o.Inputs[offset]
	if !ok {
		in = NewFakeInput(false)
		o.Inputs[offset] = in
	}
	return in, nil
}
