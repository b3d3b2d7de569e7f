package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Enabled       bool         `json:"enabled"`
	Healthy       bool         `json:"healthy"`
	HealthState   string       `json:"health_state"`
	ResetCount    int          `json:"reset_count"`
	DownKeys      int          `json:"down_keys"`
	DeviceName    string       `json:"device_name"`
	LastKeypress  string       `json:"last_keypress,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counters      CountersJSON `json:"counters"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountersJSON is the JSON representation of the keypad counters. Reading
// it does not consume them.
type CountersJSON struct {
	Interrupts   int   `json:"interrupts"`
	KeysPressed  int   `json:"keys_pressed"`
	MultiKey     int   `json:"multi_key"`
	ExtraKey     int   `json:"extra_keys"`
	StuckKeys    int   `json:"stuck_keys"`
	ResetCount   int   `json:"resets"`
	LongestMs    int64 `json:"longest_press_ms"`
	ShortestMs   int64 `json:"shortest_press_ms"`
	AverageMs    int64 `json:"avg_press_ms"`
	TotalPressMs int64 `json:"total_press_ms"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker               string `json:"broker"`
	HTTPAddr             string `json:"http_addr"`
	ScanFrequency        int    `json:"scan_frequency"`
	InadvertentTimeoutMs int64  `json:"inadvertent_timeout_ms"`
	CheckIntervalMs      int64  `json:"check_interval_ms"`
	SlideDevice          string `json:"slide_device,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	state := snap.HealthState
	if state == "" {
		state = "UNKNOWN"
	}
	c := snap.Counters

	inner := StatusInner{
		Enabled:       snap.Enabled,
		Healthy:       snap.Healthy(),
		HealthState:   state,
		ResetCount:    snap.ResetCount,
		DownKeys:      snap.DownKeys,
		DeviceName:    snap.DeviceName,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counters: CountersJSON{
			Interrupts:   c.Interrupts,
			KeysPressed:  c.KeysPressed,
			MultiKey:     c.MultiKey,
			ExtraKey:     c.ExtraKey,
			StuckKeys:    c.StuckKeys,
			ResetCount:   c.ResetCount,
			LongestMs:    c.HighKeyTime.Milliseconds(),
			ShortestMs:   c.LowKeyTime.Milliseconds(),
			AverageMs:    c.AvgKeyTime().Milliseconds(),
			TotalPressMs: c.KeyTime.Milliseconds(),
		},
		Config: ConfigJSON{
			Broker:               snap.Config.Broker,
			HTTPAddr:             snap.Config.HTTPAddr,
			ScanFrequency:        snap.Config.ScanFrequency,
			InadvertentTimeoutMs: snap.Config.InadvertentTimeoutMs,
			CheckIntervalMs:      snap.Config.CheckIntervalMs,
			SlideDevice:          snap.Config.SlideDevice,
		},
	}
	if !snap.LastKeypress.IsZero() {
		inner.LastKeypress = snap.LastKeypress.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
