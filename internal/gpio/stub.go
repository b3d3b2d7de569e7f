//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealChip is not available on non-Linux platforms.
type RealChip struct{}

// OpenChip returns an error on non-Linux platforms.
func OpenChip(name string) (*RealChip, error) {
	return nil, errUnsupported
}

// Output is not implemented on non-Linux platforms.
func (c *RealChip) Output(offset int, initial bool) (*RealOutput, error) {
	return nil, errUnsupported
}

// Interrupt is not implemented on non-Linux platforms.
func (c *RealChip) Interrupt(offset int) (*RealInterrupt, error) {
	return nil, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (c *RealChip) Close() error {
	return nil
}

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// Set is not implemented on non-Linux platforms.
func (o *RealOutput) Set(high bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (o *RealOutput) Close() error {
	return nil
}

// RealInterrupt is not available on non-Linux platforms.
type RealInterrupt struct{}

// Events returns nil on non-Linux platforms.
func (i *RealInterrupt) Events() <-chan struct{} {
	return nil
}

// Asserted is not implemented on non-Linux platforms.
func (i *RealInterrupt) Asserted() (bool, error) {
	return false, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (i *RealInterrupt) Close() error {
	return nil
}
