//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealChip opens lines on a Linux GPIO character device.
type RealChip struct {
	chip *gpiocdev.Chip
}

// OpenChip opens the named GPIO chip.
func OpenChip(name string) (*RealChip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealChip{chip: chip}, nil
}

// Output requests offset as an output driven to initial.
func (c *RealChip) Output(offset int, initial bool) (*RealOutput, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(boolToValue(initial)))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", offset, err)
	}
	return &RealOutput{line: line, offset: offset}, nil
}

// Interrupt requests offset as a pulled-up input reporting falling edges.
func (c *RealChip) Interrupt(offset int) (*RealInterrupt, error) {
	ri := &RealInterrupt{events: make(chan struct{}, 1)}
	line, err := c.chip.RequestLine(offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(ri.handle),
	)
	if err != nil {
		return nil, fmt.Errorf("request interrupt pin %d: %w", offset, err)
	}
	ri.line = line
	return ri, nil
}

// Close releases the chip. Lines must be closed separately.
func (c *RealChip) Close() error {
	if err := c.chip.Close(); err != nil {
		return fmt.Errorf("close chip: %w", err)
	}
	return nil
}

// RealOutput drives one line.
type RealOutput struct {
	line   *gpiocdev.Line
	offset int
}

// Set drives the line.
func (o *RealOutput) Set(high bool) error {
	if err := o.line.SetValue(boolToValue(high)); err != nil {
		return fmt.Errorf("set pin %d: %w", o.offset, err)
	}
	return nil
}

// Close reconfigures the line as an input before releasing it, so the pin
// is left floating at its boot default.
func (o *RealOutput) Close() error {
	if err := o.line.Reconfigure(gpiocdev.AsInput); err != nil {
		o.line.Close()
		return fmt.Errorf("reconfigure pin %d: %w", o.offset, err)
	}
	return o.line.Close()
}

// RealInterrupt reports falling edges of one line.
type RealInterrupt struct {
	line   *gpiocdev.Line
	events chan struct{}
}

func (i *RealInterrupt) handle(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventFallingEdge {
		return
	}
	select {
	case i.events <- struct{}{}:
	default:
	}
}

// Events returns the edge channel.
func (i *RealInterrupt) Events() <-chan struct{} {
	return i.events
}

// Asserted reports whether the line reads low.
func (i *RealInterrupt) Asserted() (bool, error) {
	v, err := i.line.Value()
	if err != nil {
		return false, fmt.Errorf("read interrupt pin: %w", err)
	}
	return v == 0, nil
}

// Close releases the line.
func (i *RealInterrupt) Close() error {
	return i.line.Close()
}

func boolToValue(b bool) int {
	if b {
		return 1
	}
	return 0
}
