package keypad

import (
	"iter"
	"time"
)

// maxDrainBatches bounds one drain session against a controller that never
// reports an empty FIFO.
const maxDrainBatches = 64

// ScanSource reads one batch of scan-FIFO cells. Empty slots are already
// dropped by the source.
type ScanSource interface {
	ReadScan() ([]Cell, error)
}

// DebounceAction tells the owner of the inadvertent timer what to do with it
// after a scan.
type DebounceAction int

const (
	DebounceNone DebounceAction = iota
	DebounceArm
	DebounceCancel
)

// ScanResult is the outcome of one interrupt's drain session.
type ScanResult struct {
	// Batches holds the events to deliver, one slice per FIFO read; each
	// batch is followed by a sync marker.
	Batches  [][]Event
	Accepted int
	Pressed  int
	Released int
	Debounce DebounceAction
	// Adjacent lists presses seen next to a held key; Blocked lists keys
	// whose parked press was dropped as inadvertent.
	Adjacent []AdjacentHit
	Blocked  []Key
}

// Batches lazily drains src. Each step yields the accepted transitions of
// one FIFO read; the sequence ends after a read accepts nothing, or after a
// read error which is yielded once.
func (k *Keypad) Batches(src ScanSource, now func() time.Time) iter.Seq2[[]Transition, error] {
	return func(yield func([]Transition, error) bool) {
		for i := 0; i < maxDrainBatches; i++ {
			cells, err := src.ReadScan()
			if err != nil {
				yield(nil, err)
				return
			}
			batch := k.decodeBatch(cells, now())
			if len(batch) == 0 {
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// decodeBatch maps cells to keys, drops repeated presses of keys already
// down and updates the up/down state of accepted transitions.
func (k *Keypad) decodeBatch(cells []Cell, now time.Time) []Transition {
	var out []Transition
	for _, c := range cells {
		if c.Row >= KeymapRows || c.Col >= KeymapCols {
			continue
		}
		code := MatrixScanCode(c.Row, c.Col)
		key := k.keymap[code]
		if key == 0 {
			continue
		}

		s := &k.keys[key]
		if c.Type == EventDown && !s.Up {
			continue
		}

		tr := Transition{
			Type:    c.Type,
			Row:     c.Row,
			Col:     c.Col,
			Code:    code,
			Key:     key,
			Time:    now,
			WasDown: !s.Up,
		}
		k.setUp(key, c.Type == EventUp)
		out = append(out, tr)
	}
	return out
}

// HandleScan runs one drain session: every accepted transition passes the
// inadvertent filter, is logged and counted, and survivors are returned for
// delivery. On a read error the events decoded so far are returned with the
// error and the session bookkeeping is skipped.
func (k *Keypad) HandleScan(src ScanSource, now func() time.Time) (res ScanResult, err error) {
	k.hits, k.blocked = nil, nil
	defer func() {
		res.Adjacent, res.Blocked = k.hits, k.blocked
		k.hits, k.blocked = nil, nil
	}()

	for batch, rerr := range k.Batches(src, now) {
		if rerr != nil {
			return res, rerr
		}

		var events []Event
		for _, tr := range batch {
			if tr.Type == EventDown {
				res.Pressed++
			} else {
				res.Released++
			}

			deliver, action := k.filter(tr)
			if action != DebounceNone {
				res.Debounce = action
			}
			k.record(tr)
			if deliver {
				events = append(events, tr.event())
			}
			k.lastKeypress = tr.Time
		}
		res.Accepted += len(batch)
		if len(events) > 0 {
			res.Batches = append(res.Batches, events)
		}
	}

	if total := res.Pressed + res.Released; total > 1 {
		k.counters.ExtraKey += total - 1
	}
	if res.Pressed > 0 && k.downKeys > 1 {
		k.counters.MultiKey++
	}

	return res, nil
}
