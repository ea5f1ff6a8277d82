// Package button turns raw samples of an active-low push button into
// debounced press events.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package button

import "time"

// Press is the kind of a completed button press.
type Press string

const (
	None  Press = ""
	Short Press = "SHORT"
	Long  Press = "LONG"
)

// Default timings.
const (
	DefaultDebounce  = 50 * time.Millisecond
	DefaultLongPress = 3 * time.Second
)

// Sample is a single reading of the button line.
type Sample struct {
	High bool // line level; the button pulls it low while pressed
	Time time.Time
}

// Counts tracks classified presses since startup.
type Counts struct {
	Short   int
	Long    int
	Bounces int
}

// Detector classifies high→low→high cycles of the button line.
type Detector struct {
	debounce  time.Duration
	longPress time.Duration

	lastHigh  bool
	pressedAt time.Time
	counts    Counts
}

// NewDetector creates a detector. The line is assumed released (high) at start.
func NewDetector(debounce, longPress time.Duration) *Detector {
	return &Detector{
		debounce:  debounce,
		longPress: longPress,
		lastHigh:  true,
	}
}

// Process takes a new sample and returns the completed press, if any.
// A press is only reported on release.
func (d *Detector) Process(s Sample) Press {
	switch {
	case d.lastHigh && !s.High:
		d.lastHigh = false
		d.pressedAt = s.Time
		return None

	case !d.lastHigh && s.High:
		d.lastHigh = true
		held := s.Time.Sub(d.pressedAt)
		d.pressedAt = time.Time{}

		if held < d.debounce {
			d.counts.Bounces++
			return None
		}
		if held <= d.longPress {
			d.counts.Short++
			return Short
		}
		d.counts.Long++
		return Long
	}

	return None
}

// Pressed reports whether the button is currently held down.
func (d *Detector) Pressed() bool {
	return !d.lastHigh
}

// CountsSnapshot returns a copy of the press counters.
func (d *Detector) CountsSnapshot() Counts {
	return d.counts
}
