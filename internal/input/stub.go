//go:build !linux

package input

import (
	"context"
	"errors"

	"github.com/sweeney/keypad-monitor/internal/keypad"
)

var errUnsupported = errors.New("input: not supported on this platform (requires Linux)")

// DefaultUinputPath is the uinput control node.
const DefaultUinputPath = "/dev/uinput"

// UinputInjector is not available on non-Linux platforms.
type UinputInjector struct{}

// NewUinputInjector returns an error on non-Linux platforms.
func NewUinputInjector(path, name string) (*UinputInjector, error) {
	return nil, errUnsupported
}

// Inject is not implemented on non-Linux platforms.
func (u *UinputInjector) Inject(ev keypad.Event) error { return errUnsupported }

// Sync is not implemented on non-Linux platforms.
func (u *UinputInjector) Sync() error { return errUnsupported }

// SetName is not implemented on non-Linux platforms.
func (u *UinputInjector) SetName(name string) error { return errUnsupported }

// Name returns an empty name on non-Linux platforms.
func (u *UinputInjector) Name() string { return "" }

// Close is not implemented on non-Linux platforms.
func (u *UinputInjector) Close() error { return nil }

// EvdevSlide is not available on non-Linux platforms.
type EvdevSlide struct{}

// OpenSlide returns an error on non-Linux platforms.
func OpenSlide(path string, transitionCode uint16) (*EvdevSlide, error) {
	return nil, errUnsupported
}

// Run is not implemented on non-Linux platforms.
func (s *EvdevSlide) Run(ctx context.Context, out chan<- SlideState) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (s *EvdevSlide) Close() error { return nil }
