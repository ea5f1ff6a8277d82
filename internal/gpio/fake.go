package gpio

import (
	"errors"
	"sync"
)

// FakeOutput is a test double that records every level written to it.
// Safe for concurrent use: motor timer callbacks write from their own goroutines.
type FakeOutput struct {
	mu sync.Mutex

	level   Level
	history []Level
	highs   int
	closed  bool

	// SetError, if set, is returned by SetHigh and SetLow without changing the level.
	SetError error
}

// NewFakeOutput creates a FakeOutput that starts low.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// SetHigh records a high level.
func (f *FakeOutput) SetHigh() error {
	return f.set(High)
}

// SetLow records a low level.
func (f *FakeOutput) SetLow() error {
	return f.set(Low)
}

func (f *FakeOutput) set(l Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	if l == High && f.level == Low {
		f.highs++
	}
	f.level = l
	f.history = append(f.history, l)
	return nil
}

// Close drives the line low and marks it closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = Low
	f.closed = true
	return nil
}

// Level returns the current level.
func (f *FakeOutput) Level() Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// Rises returns how many low→high transitions have been written.
func (f *FakeOutput) Rises() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.highs
}

// History returns a copy of every level written, in order.
func (f *FakeOutput) History() []Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Level(nil), f.history...)
}

// Closed reports whether Close was called.
func (f *FakeOutput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeInput is a test double that returns scripted levels.
type FakeInput struct {
	// Samples contains scripted levels to return.
	// Each call to Read() consumes the next sample.
	Samples []Level

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeInput creates a FakeInput with the given samples.
func NewFakeInput(samples []Level) *FakeInput {
	return &FakeInput{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeInput) Read() (Level, error) {
	if f.ReadError != nil {
		return Low, f.ReadError
	}

	if len(f.Samples) == 0 {
		return Low, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds the input to the first sample.
func (f *FakeInput) Reset() {
	f.index = 0
	f.Closed = false
}
