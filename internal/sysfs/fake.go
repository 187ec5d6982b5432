package sysfs

import (
	"errors"
	"sync"
)

// FakeReader returns scripted samples. It is safe for concurrent use.
type FakeReader struct {
	mu      sync.Mutex
	samples []float64
	err     error
	reads   int
}

// NewFakeReader creates a FakeReader. Once the samples run out the last one
// repeats.
func NewFakeReader(samples ...float64) *FakeReader {
	return &FakeReader{samples: samples}
}

// Read returns the next sample, or the scripted error.
func (f *FakeReader) Read() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.samples) == 0 {
		return 0, errors.New("no samples configured")
	}
	v := f.samples[0]
	if len(f.samples) > 1 {
		f.samples = f.samples[1:]
	}
	return v, nil
}

// SetError makes every later Read fail with err; nil restores samples.
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Set replaces the remaining samples.
func (f *FakeReader) Set(samples ...float64) {
	f.mu.Lock()
	f.samples = samples
	f.mu.Unlock()
}

// Reads returns how many times Read was called.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// FakeOpener hands out fake readers keyed by Source.String().
type FakeOpener struct {
	Readers map[string]*FakeReader

	// OpenError, if set, is returned by Open.
	OpenError error
}

// NewFakeOpener creates an empty FakeOpener.
func NewFakeOpener() *FakeOpener {
	return &FakeOpener{Readers: make(map[string]*FakeReader)}
}

// Open returns the reader registered for src, creating one reading 0.
func (o *FakeOpener) Open(src Source) (Reader, error) {
	if o.OpenError != nil {
		return nil, o.OpenError
	}
	r, ok := o.Readers[src.String()]
	if !ok {
		r = NewFakeReader(0)
		o.Readers[src.String()] = r
	}
	return r, nil
}
