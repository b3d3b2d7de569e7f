package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/keypad-monitor/internal/keypad"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Broker: "tcp://localhost:1883", HTTPAddr: ":8080", InadvertentTimeoutMs: 200}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.InadvertentTimeoutMs != 200 {
		t.Errorf("Config.InadvertentTimeoutMs: got %d, want 200", snap.Config.InadvertentTimeoutMs)
	}
	if snap.Enabled {
		t.Error("expected Enabled=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if !snap.Healthy() {
		t.Error("expected Healthy before any health state is reported")
	}
}

func TestUpdateKeypadAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	last := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tr.UpdateKeypad(true, 2, keypad.Counters{KeysPressed: 7, Interrupts: 9}, last)

	snap := tr.Snapshot()
	if !snap.Enabled {
		t.Error("expected Enabled=true")
	}
	if snap.DownKeys != 2 {
		t.Errorf("DownKeys: got %d, want 2", snap.DownKeys)
	}
	if snap.Counters.KeysPressed != 7 {
		t.Errorf("Counters.KeysPressed: got %d, want 7", snap.Counters.KeysPressed)
	}
	if !snap.LastKeypress.Equal(last) {
		t.Errorf("LastKeypress: got %v", snap.LastKeypress)
	}
}

func TestSetHealth(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetHealth("AWAITING_COMMS", 3)
	snap := tr.Snapshot()
	if snap.Healthy() {
		t.Error("expected unhealthy while awaiting comms")
	}
	if snap.ResetCount != 3 {
		t.Errorf("ResetCount: got %d, want 3", snap.ResetCount)
	}

	tr.SetHealth("NORMAL", 3)
	if !tr.Snapshot().Healthy() {
		t.Error("expected healthy")
	}
}

func TestSetDeviceNameAndMQTT(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetDeviceName("stmpe_qwertz_keypad")
	tr.SetMQTTConnected(true)

	snap := tr.Snapshot()
	if snap.DeviceName != "stmpe_qwertz_keypad" {
		t.Errorf("DeviceName: got %q", snap.DeviceName)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Now().Add(-5 * time.Minute)
	tr := NewTracker(start, Config{})

	uptime := tr.Snapshot().Uptime()
	if uptime < 5*time.Minute || uptime > 5*time.Minute+time.Second {
		t.Errorf("Uptime: got %v, want ~5m", uptime)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.UpdateKeypad(true, 1, keypad.Counters{}, time.Time{})

	snap := tr.Snapshot()
	tr.UpdateKeypad(false, 0, keypad.Counters{}, time.Time{})

	if !snap.Enabled || snap.DownKeys != 1 {
		t.Error("snapshot should not change after tracker update")
	}
}

func testSnapshot() Snapshot {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return Snapshot{
		Enabled:     true,
		DeviceName:  "stmpe_keypad",
		HealthState: "NORMAL",
		ResetCount:  1,
		DownKeys:    0,
		Counters: keypad.Counters{
			KeysPressed: 4,
			KeyTime:     400 * time.Millisecond,
			HighKeyTime: 150 * time.Millisecond,
			LowKeyTime:  50 * time.Millisecond,
		},
		StartTime: start,
		Now:       start.Add(90 * time.Second),
		Config:    Config{Broker: "tcp://broker:1883", HTTPAddr: ":8080", ScanFrequency: 60, InadvertentTimeoutMs: 200},
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(testSnapshot())

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status
	if !s.Enabled || !s.Healthy {
		t.Errorf("enabled/healthy: got %v/%v", s.Enabled, s.Healthy)
	}
	if s.HealthState != "NORMAL" {
		t.Errorf("HealthState: got %q", s.HealthState)
	}
	if s.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds: got %d, want 90", s.UptimeSeconds)
	}
	if s.Counters.AverageMs != 100 || s.Counters.LongestMs != 150 || s.Counters.ShortestMs != 50 {
		t.Errorf("unexpected counters: %+v", s.Counters)
	}
	if s.Event != "" || s.Reason != "" {
		t.Error("web status should have no event/reason")
	}
	if s.LastKeypress != "" {
		t.Errorf("LastKeypress should be omitted, got %q", s.LastKeypress)
	}
	if s.Config.InadvertentTimeoutMs != 200 {
		t.Errorf("Config.InadvertentTimeoutMs: got %d", s.Config.InadvertentTimeoutMs)
	}
	if !strings.Contains(string(data), "\n  ") {
		t.Error("web status should be indented")
	}
}

func TestFormatJSONUnknownHealth(t *testing.T) {
	snap := testSnapshot()
	snap.HealthState = ""

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.HealthState != "UNKNOWN" {
		t.Errorf("HealthState: got %q, want UNKNOWN", parsed.Status.HealthState)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	data := FormatStatusEvent(testSnapshot(), "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("event/reason: got %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
	if strings.Contains(string(data), "\n") {
		t.Error("event payload should be compact")
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(testSnapshot(), "STARTUP", "")
	if strings.Contains(string(data), `"reason"`) {
		t.Errorf("reason should be omitted: %s", data)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.UpdateKeypad(i%2 == 0, i, keypad.Counters{KeysPressed: i}, time.Now())
			tr.SetHealth("NORMAL", i)
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
