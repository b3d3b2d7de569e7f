package keypad

import "time"

// pendingPress is the single slot holding a suppressed press.
type pendingPress struct {
	code ScanCode
}

// AdjacentHit records a press seen while a neighbouring key was down.
type AdjacentHit struct {
	Key        Key
	Adjacent   Key
	Suppressed bool
}

// adjacentDown returns the first neighbour of key, in adjacency order, that
// is currently down.
func (k *Keypad) adjacentDown(key Key) (Key, bool) {
	for _, n := range k.keys[key].Adjacent {
		if !k.keys[n].Up {
			return n, true
		}
	}
	return 0, false
}

// filter decides whether an accepted transition is delivered now.
//
// A press next to a held non-modifier key is parked in the pending slot when
// the key is tracked for inadvertent presses; a newer parked press replaces
// the older one. A release of the parked key within the timeout drops both.
func (k *Keypad) filter(tr Transition) (bool, DebounceAction) {
	s := &k.keys[tr.Key]

	if tr.Type == EventDown {
		adj, ok := k.adjacentDown(tr.Key)
		if !ok {
			return true, DebounceNone
		}
		s.AdjacentDetected++
		hit := AdjacentHit{Key: tr.Key, Adjacent: adj}
		if s.CheckInadvertent && !k.keys[adj].Modifier {
			k.pending = &pendingPress{code: tr.Code}
			hit.Suppressed = true
			k.hits = append(k.hits, hit)
			return false, DebounceArm
		}
		k.hits = append(k.hits, hit)
		return true, DebounceNone
	}

	if k.pending != nil && k.pending.code == tr.Code {
		k.pending = nil
		s.Inadvertent++
		k.blocked = append(k.blocked, tr.Key)
		return false, DebounceCancel
	}
	return true, DebounceNone
}

// Pending reports the scan code parked in the inadvertent slot.
func (k *Keypad) Pending() (ScanCode, bool) {
	if k.pending == nil {
		return 0, false
	}
	return k.pending.code, true
}

// DebounceExpired is called when the inadvertent timer fires. The parked
// press, if any, is returned for late delivery and the slot is cleared.
func (k *Keypad) DebounceExpired(now time.Time) (Event, bool) {
	p := k.pending
	if p == nil {
		return Event{}, false
	}
	k.pending = nil

	key := k.keymap[p.code]
	if !k.keys[key].CheckInadvertent {
		return Event{}, false
	}
	return Event{Key: key, Code: p.code, Type: EventDown, Time: now, Late: true}, true
}
