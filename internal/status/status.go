// Package status provides a thread-safe status tracker for the keypad-monitor daemon.
// It is written by the device loop and read by HTTP handlers and MQTT events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/keypad-monitor/internal/keypad"
)

// Config contains daemon configuration for display.
type Config struct {
	Broker               string
	HTTPAddr             string
	ScanFrequency        int
	InadvertentTimeoutMs int64
	CheckIntervalMs      int64
	SlideDevice          string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Enabled       bool
	DeviceName    string
	HealthState   string
	ResetCount    int
	DownKeys      int
	Counters      keypad.Counters
	LastKeypress  time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Healthy reports whether the controller is in normal operation.
func (s Snapshot) Healthy() bool {
	return s.HealthState == "" || s.HealthState == "NORMAL"
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// UpdateKeypad sets the keypad state. Called by the device loop after every
// dispatch, stats tick and enable change.
func (t *Tracker) UpdateKeypad(enabled bool, downKeys int, counters keypad.Counters, lastKeypress time.Time) {
	t.mu.Lock()
	t.snap.Enabled = enabled
	t.snap.DownKeys = downKeys
	t.snap.Counters = counters
	t.snap.LastKeypress = lastKeypress
	t.mu.Unlock()
}

// SetHealth sets the recovery state and cumulative reset count.
func (t *Tracker) SetHealth(state string, resetCount int) {
	t.mu.Lock()
	t.snap.HealthState = state
	t.snap.ResetCount = resetCount
	t.mu.Unlock()
}

// SetDeviceName sets the advertised input device name.
func (t *Tracker) SetDeviceName(name string) {
	t.mu.Lock()
	t.snap.DeviceName = name
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
