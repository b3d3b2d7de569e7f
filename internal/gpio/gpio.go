// Package gpio provides the controller's power, reset and interrupt lines
// with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// DefaultChip is the GPIO chip used when none is configured.
const DefaultChip = "gpiochip0"

// Output drives a single output line.
type Output interface {
	// Set drives the line high (true) or low.
	Set(high bool) error

	// Close releases the line.
	Close() error
}

// Interrupt is an active-low interrupt input.
type Interrupt interface {
	// Events receives a value on every falling edge. Edges that arrive
	// while a previous one is unread are merged.
	Events() <-chan struct{}

	// Asserted reports whether the line is currently held low.
	Asserted() (bool, error)

	// Close releases the line.
	Close() error
}

// Power sequences the controller's regulator and reset lines.
type Power struct {
	Regulator Output // optional
	Reset     Output
}

// SetPower powers the controller up (regulator on, reset released) or down
// (regulator off, reset asserted).
func (p *Power) SetPower(on bool) error {
	if p.Regulator != nil {
		if err := p.Regulator.Set(on); err != nil {
			return fmt.Errorf("set regulator %v: %w", on, err)
		}
	}
	if err := p.Reset.Set(on); err != nil {
		return fmt.Errorf("set reset line %v: %w", on, err)
	}
	return nil
}

// Close releases both lines.
func (p *Power) Close() error {
	var errs []error
	if p.Regulator != nil {
		if err := p.Regulator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close regulator: %w", err))
		}
	}
	if p.Reset != nil {
		if err := p.Reset.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reset: %w", err))
		}
	}
	return errors.Join(errs...)
}
