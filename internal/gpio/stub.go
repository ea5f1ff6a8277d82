//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(chipName string, pin int) (*RealOutput, error) {
	return nil, errUnsupported
}

func (o *RealOutput) SetHigh() error { return errUnsupported }
func (o *RealOutput) SetLow() error  { return errUnsupported }
func (o *RealOutput) Close() error   { return nil }

// RealInput is not available on non-Linux platforms.
type RealInput struct{}

// NewRealInput returns an error on non-Linux platforms.
func NewRealInput(chipName string, pin int) (*RealInput, error) {
	return nil, errUnsupported
}

func (i *RealInput) Read() (Level, error) { return Low, errUnsupported }
func (i *RealInput) Close() error         { return nil }
