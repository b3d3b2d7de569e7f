//go:build linux

package input

import (
	"context"
	"fmt"

	evdev "github.com/holoplot/go-evdev"
)

// EvdevSlide reads slide switch events from an input device.
type EvdevSlide struct {
	dev            *evdev.InputDevice
	transitionCode uint16
}

// OpenSlide opens the input device at path.
func OpenSlide(path string, transitionCode uint16) (*EvdevSlide, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open slide device %s: %w", path, err)
	}
	return &EvdevSlide{dev: dev, transitionCode: transitionCode}, nil
}

// Run sends the current slide state, then one state per slide event, until
// ctx is done or the device fails. Close the device to unblock a pending
// read.
func (s *EvdevSlide) Run(ctx context.Context, out chan<- SlideState) error {
	var state SlideState
	if sw, err := s.dev.State(evdev.EV_SW); err == nil {
		state.Open = sw[evdev.EvCode(SwitchKeypadSlide)]
		state.Transitioning = sw[evdev.EvCode(s.transitionCode)]
	}
	if !send(ctx, out, state) {
		return ctx.Err()
	}

	for {
		ev, err := s.dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read slide event: %w", err)
		}
		if ev.Type != evdev.EV_SW {
			continue
		}
		next, ok := state.Apply(uint16(ev.Code), s.transitionCode, ev.Value)
		if !ok {
			continue
		}
		state = next
		if !send(ctx, out, state) {
			return ctx.Err()
		}
	}
}

// Close releases the device.
func (s *EvdevSlide) Close() error {
	return s.dev.Close()
}

func send(ctx context.Context, out chan<- SlideState, s SlideState) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
