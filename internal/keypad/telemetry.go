package keypad

import (
	"fmt"
	"strings"
	"time"
)

// Counters is the consumable set of aggregate statistics.
type Counters struct {
	ResetCount  int
	Interrupts  int
	KeysPressed int
	StuckKeys   int
	MultiKey    int
	ExtraKey    int
	KeyTime     time.Duration
	LowKeyTime  time.Duration
	HighKeyTime time.Duration
}

// AvgKeyTime returns the mean press duration, or zero when nothing was pressed.
func (c Counters) AvgKeyTime() time.Duration {
	if c.KeysPressed == 0 {
		return 0
	}
	return c.KeyTime / time.Duration(c.KeysPressed)
}

// TrackedKey holds the inadvertent-filter tallies of one tracked key.
type TrackedKey struct {
	Key      Key
	Detected int
	Blocked  int
}

// KeyCount holds the press count of a key configured for count reporting.
type KeyCount struct {
	Key   Key
	Count int
}

// CounterReport is the diagnostic view returned by ConsumeCounters.
type CounterReport struct {
	Counters
	DownKeys         int
	TotalAdjacent    int
	TotalInadvertent int
	Tracked          []TrackedKey
	Pressed          []KeyCount
}

// String renders the report in the diagnostic dump format.
func (r CounterReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "reset count = %d\n", r.ResetCount)
	fmt.Fprintf(&b, "stuck keys = %d\n", r.StuckKeys)
	fmt.Fprintf(&b, "total keys pressed = %d\n", r.KeysPressed)
	fmt.Fprintf(&b, "total multi-key = %d\n", r.MultiKey)
	fmt.Fprintf(&b, "total extra_keys = %d\n", r.ExtraKey)
	fmt.Fprintf(&b, "total down keys = %d\n", r.DownKeys)
	fmt.Fprintf(&b, "total interrupts = %d\n", r.Interrupts)
	fmt.Fprintf(&b, "longest key press = %d\n", r.HighKeyTime.Milliseconds())
	fmt.Fprintf(&b, "shortest key press = %d\n", r.LowKeyTime.Milliseconds())
	fmt.Fprintf(&b, "avg key press = %d\n", r.AvgKeyTime().Milliseconds())
	fmt.Fprintf(&b, "total key time = %d\n", r.KeyTime.Milliseconds())
	fmt.Fprintf(&b, "total adjacent key = %d\n", r.TotalAdjacent)
	fmt.Fprintf(&b, "total inadvertent = %d\n", r.TotalInadvertent)
	for _, t := range r.Tracked {
		fmt.Fprintf(&b, "total inadv key 0x%X detected = %d\n", t.Key, t.Detected)
		fmt.Fprintf(&b, "total inadv key 0x%X blocked = %d\n", t.Key, t.Blocked)
	}
	for _, p := range r.Pressed {
		fmt.Fprintf(&b, "total 0x%X key pressed = %d\n", p.Key, p.Count)
	}
	return b.String()
}

// eventLog is a fixed-capacity ring that overwrites its oldest entry.
// Not safe for concurrent use; the owning Keypad serialises access.
type eventLog struct {
	buf   [EventLogSize]LogEntry
	head  int // next write position
	count int
}

func (l *eventLog) push(e LogEntry) {
	l.buf[l.head] = e
	l.head = (l.head + 1) % EventLogSize
	if l.count < EventLogSize {
		l.count++
	}
}

// entries returns the logged events oldest first.
func (l *eventLog) entries() []LogEntry {
	out := make([]LogEntry, l.count)
	start := (l.head - l.count + EventLogSize) % EventLogSize
	for i := 0; i < l.count; i++ {
		out[i] = l.buf[(start+i)%EventLogSize]
	}
	return out
}

// FormatEventLog renders log entries with key ids shifted by offset.
func FormatEventLog(entries []LogEntry, offset uint8) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "0x%04X %s %d.%06d\n",
			int(e.Key)+int(offset), e.Type, e.Time.Unix(), e.Time.Nanosecond()/1000)
	}
	return b.String()
}
