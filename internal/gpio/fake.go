package gpio

import "sync"

// FakeOutput is a test double that records every value driven.
type FakeOutput struct {
	mu sync.Mutex

	// History contains every value passed to Set, oldest first.
	History []bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error

	// OnSet, if set, is called after each successful Set.
	OnSet func(high bool)
}

// Set records the value.
func (f *FakeOutput) Set(high bool) error {
	f.mu.Lock()
	if f.SetError != nil {
		f.mu.Unlock()
		return f.SetError
	}
	f.History = append(f.History, high)
	hook := f.OnSet
	f.mu.Unlock()

	if hook != nil {
		hook(high)
	}
	return nil
}

// Value returns the last value driven, false if none.
func (f *FakeOutput) Value() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.History) == 0 {
		return false
	}
	return f.History[len(f.History)-1]
}

// Values returns a copy of History.
func (f *FakeOutput) Values() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.History...)
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// FakeInterrupt is a test double for an interrupt line.
type FakeInterrupt struct {
	mu       sync.Mutex
	events   chan struct{}
	asserted []bool

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Asserted()
	ReadError error
}

// NewFakeInterrupt creates an idle FakeInterrupt.
func NewFakeInterrupt() *FakeInterrupt {
	return &FakeInterrupt{events: make(chan struct{}, 1)}
}

// Trigger signals a falling edge.
func (f *FakeInterrupt) Trigger() {
	select {
	case f.events <- struct{}{}:
	default:
	}
}

// HoldAsserted scripts the values returned by the next calls to Asserted.
// Once exhausted, the line reads released.
func (f *FakeInterrupt) HoldAsserted(values ...bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asserted = append(f.asserted, values...)
}

// Events returns the edge channel.
func (f *FakeInterrupt) Events() <-chan struct{} {
	return f.events
}

// Asserted returns the next scripted level.
func (f *FakeInterrupt) Asserted() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.asserted) == 0 {
		return false, nil
	}
	v := f.asserted[0]
	f.asserted = f.asserted[1:]
	return v, nil
}

// Close marks the line as closed.
func (f *FakeInterrupt) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
