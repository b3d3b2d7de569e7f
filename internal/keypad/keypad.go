package keypad

import (
	"fmt"
	"time"
)

// Keypad owns the key state table, counters, event log and the pending
// inadvertent slot. It is not safe for concurrent use; a single owner must
// serialise every call.
type Keypad struct {
	keys    [MaxKeys]KeyState
	keymap  [KeymapSize]Key
	timeout time.Duration

	downKeys     int
	counters     Counters
	log          eventLog
	logOffset    uint8
	pending      *pendingPress
	lastKeypress time.Time
	stuck        bool

	// filter notes collected during one drain session
	hits    []AdjacentHit
	blocked []Key
}

// New builds the key state table from a layout. logOffset is the session
// offset applied to key ids when the event log is rendered.
func New(layout Layout, logOffset uint8) (*Keypad, error) {
	k := &Keypad{
		keymap:    layout.Keymap,
		timeout:   layout.InadvertentTimeout,
		logOffset: logOffset,
	}
	if k.timeout <= 0 {
		k.timeout = DefaultInadvertentTimeout
	}
	for i := range k.keys {
		k.keys[i].Up = true
	}

	for code, key := range layout.Keymap {
		if err := checkKey(key); err != nil {
			return nil, fmt.Errorf("keymap code %d: %w", code, err)
		}
		if key != 0 {
			k.keys[key].Code = ScanCode(code)
		}
	}

	if layout.Grid != nil {
		for row := range layout.Grid {
			for col, key := range layout.Grid[row] {
				if err := checkKey(key); err != nil {
					return nil, fmt.Errorf("physical keymap row %d col %d: %w", row+1, col+1, err)
				}
			}
		}
		adj, err := BuildAdjacency(*layout.Grid, layout.SkipVerticalSelf)
		if err != nil {
			return nil, err
		}
		for key, neighbours := range adj {
			k.keys[key].Adjacent = neighbours
		}
	}

	flags := []struct {
		keys []Key
		set  func(*KeyState)
	}{
		{layout.CheckInadvertent, func(s *KeyState) { s.CheckInadvertent = true }},
		{layout.Modifiers, func(s *KeyState) { s.Modifier = true }},
		{layout.ReportCount, func(s *KeyState) { s.ReportCount = true }},
	}
	for _, f := range flags {
		for _, key := range f.keys {
			if err := checkKey(key); err != nil {
				return nil, err
			}
			f.set(&k.keys[key])
		}
	}

	return k, nil
}

func checkKey(key Key) error {
	if int(key) >= MaxKeys {
		return fmt.Errorf("key 0x%X out of range", key)
	}
	return nil
}

// InadvertentTimeout returns the delayed-commit timeout of the filter.
func (k *Keypad) InadvertentTimeout() time.Duration {
	return k.timeout
}

// Key returns a copy of a key's state.
func (k *Keypad) Key(key Key) KeyState {
	s := k.keys[key]
	s.Adjacent = append([]Key(nil), s.Adjacent...)
	return s
}

// DownCount returns the number of keys currently recorded down.
func (k *Keypad) DownCount() int {
	return k.downKeys
}

// DownKeys lists the keys currently recorded down in id order.
func (k *Keypad) DownKeys() []Key {
	var out []Key
	for i := range k.keys {
		if !k.keys[i].Up {
			out = append(out, Key(i))
		}
	}
	return out
}

// NoteInterrupt counts a serviced controller interrupt.
func (k *Keypad) NoteInterrupt() {
	k.counters.Interrupts++
}

// NoteReset counts a detected controller reset.
func (k *Keypad) NoteReset() {
	k.counters.ResetCount++
}

// Counters returns the current counters without consuming them.
func (k *Keypad) Counters() Counters {
	return k.counters
}

// ConsumeCounters returns the diagnostic counter report and zeroes every
// counter. Key states and adjacency are left untouched.
func (k *Keypad) ConsumeCounters() CounterReport {
	r := CounterReport{
		Counters: k.counters,
		DownKeys: k.downKeys,
	}
	for i := range k.keys {
		s := &k.keys[i]
		r.TotalAdjacent += s.AdjacentDetected
		r.TotalInadvertent += s.Inadvertent
		if s.CheckInadvertent {
			r.Tracked = append(r.Tracked, TrackedKey{Key: Key(i), Detected: s.AdjacentDetected, Blocked: s.Inadvertent})
		}
		if s.ReportCount {
			r.Pressed = append(r.Pressed, KeyCount{Key: Key(i), Count: s.Count})
		}
	}

	for i := range k.keys {
		k.keys[i].Count = 0
		k.keys[i].AdjacentDetected = 0
		k.keys[i].Inadvertent = 0
	}
	k.counters = Counters{}

	return r
}

// LogEntries returns the event log oldest first, with raw key ids.
func (k *Keypad) LogEntries() []LogEntry {
	return k.log.entries()
}

// EventLog renders the event log with obfuscated key ids.
func (k *Keypad) EventLog() string {
	return FormatEventLog(k.log.entries(), k.logOffset)
}

// ForceRelease releases every key recorded down and returns the synthetic
// releases to deliver. Any pending inadvertent press is dropped.
func (k *Keypad) ForceRelease(now time.Time) []Event {
	k.pending = nil

	var out []Event
	for i := range k.keys {
		if k.keys[i].Up {
			continue
		}
		tr := Transition{
			Type:    EventUp,
			Code:    k.keys[i].Code,
			Key:     Key(i),
			Time:    now,
			WasDown: true,
		}
		k.setUp(tr.Key, true)
		k.record(tr)
		out = append(out, tr.event())
	}
	return out
}

// setUp flips a key's up flag and keeps the down-key count in step.
func (k *Keypad) setUp(key Key, up bool) {
	s := &k.keys[key]
	if s.Up == up {
		return
	}
	s.Up = up
	if up {
		k.downKeys--
	} else {
		k.downKeys++
	}
}

// record logs an accepted transition and folds it into the counters.
func (k *Keypad) record(tr Transition) {
	k.log.push(LogEntry{Key: tr.Key, Type: tr.Type, Time: tr.Time})

	s := &k.keys[tr.Key]
	if tr.Type == EventDown {
		s.Count++
		s.DownTime = tr.Time
		k.counters.KeysPressed++
		return
	}

	s.UpTime = tr.Time
	if !tr.WasDown {
		return
	}
	d := s.UpTime.Sub(s.DownTime)
	k.counters.KeyTime += d
	if d > k.counters.HighKeyTime {
		k.counters.HighKeyTime = d
	}
	if d < k.counters.LowKeyTime || k.counters.LowKeyTime == 0 {
		k.counters.LowKeyTime = d
	}
}

func (tr Transition) event() Event {
	return Event{Key: tr.Key, Code: tr.Code, Type: tr.Type, Time: tr.Time}
}
