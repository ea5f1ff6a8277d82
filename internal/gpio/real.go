//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealOutput drives an output line through the Linux GPIO character device.
type RealOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealOutput requests the pin as an output that starts low.
func NewRealOutput(chipName string, pin int) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}

	return &RealOutput{chip: chip, line: line}, nil
}

// SetHigh asserts the line.
func (o *RealOutput) SetHigh() error {
	if err := o.line.SetValue(1); err != nil {
		return fmt.Errorf("set pin high: %w", err)
	}
	return nil
}

// SetLow de-asserts the line.
func (o *RealOutput) SetLow() error {
	if err := o.line.SetValue(0); err != nil {
		return fmt.Errorf("set pin low: %w", err)
	}
	return nil
}

// Close drives the line low, then reconfigures it as an input with pull-down
// (Raspberry Pi boot default) so the relay cannot latch on across a reboot.
func (o *RealOutput) Close() error {
	var errs []error

	if o.line != nil {
		if err := o.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive pin low: %w", err))
		}
		if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin: %w", err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin: %w", err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealInput reads an input line with pull-up (button wired to ground).
type RealInput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealInput requests the pin as an input with pull-up.
func NewRealInput(chipName string, pin int) (*RealInput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request input pin %d: %w", pin, err)
	}

	return &RealInput{chip: chip, line: line}, nil
}

// Read returns the raw level of the line.
func (i *RealInput) Read() (Level, error) {
	v, err := i.line.Value()
	if err != nil {
		return Low, fmt.Errorf("read pin: %w", err)
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

// Close releases the line, leaving it as an input with pull-down.
func (i *RealInput) Close() error {
	var errs []error

	if i.line != nil {
		if err := i.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin: %w", err))
		}
		if err := i.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin: %w", err))
		}
	}
	if i.chip != nil {
		if err := i.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
