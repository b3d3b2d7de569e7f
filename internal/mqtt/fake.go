package mqtt

import (
	"sync"

	"github.com/sweeney/keypad-monitor/internal/keypad"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	systemEvents   []SystemEvent
	systemPayloads [][]byte
	stats          []keypad.StatsReport

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// PublishStatsError, if set, will be returned by PublishStats.
	PublishStatsError error

	closed    bool
	connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// PublishStats records the stats tick.
func (f *FakePublisher) PublishStats(report keypad.StatsReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishStatsError != nil {
		return f.PublishStatsError
	}
	f.stats = append(f.stats, report)
	return nil
}

// SystemEvents returns the recorded system events in order.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemEventNames returns the Event field of every recorded system event.
func (f *FakePublisher) SystemEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, e := range f.systemEvents {
		names = append(names, e.Event)
	}
	return names
}

// SystemPayloads returns the JSON payloads for system events.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Stats returns the recorded stats ticks.
func (f *FakePublisher) Stats() []keypad.StatsReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]keypad.StatsReport(nil), f.stats...)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systemEvents = nil
	f.systemPayloads = nil
	f.stats = nil
	f.closed = false
	f.PublishSystemError = nil
	f.PublishStatsError = nil
	f.connected = false
}
