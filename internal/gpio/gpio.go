// Package gpio provides digital input and output lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Level is the electrical level of a line.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Output drives a single digital output line (relay, LED).
type Output interface {
	// SetHigh asserts the line.
	SetHigh() error

	// SetLow de-asserts the line.
	SetLow() error

	// Close drives the line low and releases it.
	Close() error
}

// Input reads a single digital input line.
type Input interface {
	// Read returns the raw level of the line.
	Read() (Level, error)

	// Close releases the line.
	Close() error
}

// Default pin definitions (BCM numbering)
const (
	DefaultChip      = "gpiochip0"
	DefaultPinRelay  = 17 // spreader motor relay
	DefaultPinLED    = 27 // activity/status LED
	DefaultPinButton = 22 // manual feed button, active low
)
