// Package mqtt provides MQTT telemetry publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/keypad-monitor/internal/keypad"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "devices/keypad"

// System event names.
const (
	EventStartup         = "STARTUP"
	EventShutdown        = "SHUTDOWN"
	EventEnabled         = "ENABLED"
	EventDisabled        = "DISABLED"
	EventStuckKey        = "STUCK_KEY"
	EventControllerReset = "CONTROLLER_RESET"
	EventReconnected     = "RECONNECTED"
)

// Topics holds the topics derived from a prefix.
type Topics struct {
	System string
	Stats  string
}

// NewTopics derives the topics under prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		System: prefix + "/system",
		Stats:  prefix + "/stats",
	}
}

// Publisher publishes telemetry to MQTT. Key events are never published.
type Publisher interface {
	// PublishSystem sends a lifecycle event to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishSystem(event SystemEvent) error

	// PublishStats sends one stats tick.
	PublishStats(report keypad.StatsReport) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a lifecycle event (startup, shutdown, enable,
// stuck key, controller reset).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g., "SIGTERM", "SLIDE" (optional)
	Count      int    // reset count or stuck-key episodes (optional)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Count:     event.Count,
		},
	}
	return json.Marshal(payload)
}

// StatsPayload is the MQTT payload of a stats tick.
type StatsPayload struct {
	Stats StatsPayloadInner `json:"stats"`
}

// StatsPayloadInner mirrors the periodic stats line.
type StatsPayloadInner struct {
	Timestamp           string `json:"timestamp"`
	Interrupts          int    `json:"interrupts"`
	ExtraKeys           int    `json:"extra_keys"`
	KeysPressed         int    `json:"keys_pressed"`
	MultiKey            int    `json:"multi_key"`
	StuckKeys           int    `json:"stuck_keys"`
	Resets              int    `json:"resets"`
	DownKeys            int    `json:"down_keys"`
	InadvertentDetected int    `json:"inadvertent_detected"`
}

// FormatStatsPayload creates the JSON payload for a stats tick.
func FormatStatsPayload(r keypad.StatsReport) ([]byte, error) {
	return json.Marshal(StatsPayload{
		Stats: StatsPayloadInner{
			Timestamp:           r.Timestamp.UTC().Format(time.RFC3339),
			Interrupts:          r.Counters.Interrupts,
			ExtraKeys:           r.Counters.ExtraKey,
			KeysPressed:         r.Counters.KeysPressed,
			MultiKey:            r.Counters.MultiKey,
			StuckKeys:           r.Counters.StuckKeys,
			Resets:              r.Counters.ResetCount,
			DownKeys:            r.DownKeys,
			InadvertentDetected: r.InadvertentDetected,
		},
	})
}
