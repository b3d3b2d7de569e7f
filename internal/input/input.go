// Package input delivers decoded key events to the host input subsystem and
// watches the slide switch that gates the keypad.
package input

import (
	"sync"

	"github.com/sweeney/keypad-monitor/internal/keypad"
)

// DeviceNames are the keyboard layout variants the device can advertise.
var DeviceNames = []string{
	"stmpe_keypad",
	"stmpe_azerty_keypad",
	"stmpe_qwertz_keypad",
}

// SelectName maps a 1-based layout variant to a device name; anything out
// of range selects the first.
func SelectName(variant int) string {
	if variant > 0 && variant <= len(DeviceNames) {
		return DeviceNames[variant-1]
	}
	return DeviceNames[0]
}

// Injector receives filtered key events.
type Injector interface {
	// Inject delivers one key transition.
	Inject(ev keypad.Event) error

	// Sync marks the end of a batch.
	Sync() error

	// SetName changes the advertised device name.
	SetName(name string) error

	// Name returns the advertised device name.
	Name() string

	// Close removes the device.
	Close() error
}

// Injected is one call recorded by FakeInjector.
type Injected struct {
	Event keypad.Event
	Sync  bool
}

// FakeInjector is a test double that records delivered events.
type FakeInjector struct {
	mu     sync.Mutex
	calls  []Injected
	name   string
	closed bool

	// InjectError, if set, will be returned by Inject()
	InjectError error
}

// NewFakeInjector creates a FakeInjector advertising the default name.
func NewFakeInjector() *FakeInjector {
	return &FakeInjector{name: DeviceNames[0]}
}

// Inject records ev.
func (f *FakeInjector) Inject(ev keypad.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InjectError != nil {
		return f.InjectError
	}
	f.calls = append(f.calls, Injected{Event: ev})
	return nil
}

// Sync records a sync marker.
func (f *FakeInjector) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Injected{Sync: true})
	return nil
}

// SetName records the name.
func (f *FakeInjector) SetName(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = name
	return nil
}

// Name returns the last name set.
func (f *FakeInjector) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// Close marks the injector closed.
func (f *FakeInjector) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeInjector) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Calls returns every recorded call, sync markers included.
func (f *FakeInjector) Calls() []Injected {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Injected(nil), f.calls...)
}

// Events returns the recorded key events without sync markers.
func (f *FakeInjector) Events() []keypad.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []keypad.Event
	for _, c := range f.calls {
		if !c.Sync {
			out = append(out, c.Event)
		}
	}
	return out
}

// Reset forgets every recorded call.
func (f *FakeInjector) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
