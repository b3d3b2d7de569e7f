package keypad

import "time"

// StatsReport is produced by every tick of the stats timer.
type StatsReport struct {
	Timestamp           time.Time
	Counters            Counters
	DownKeys            int
	InadvertentDetected int

	// Rearm is set while keys are down or there was activity within the
	// last ActivityWindow.
	Rearm bool
	// StuckEpisode is set on the tick that first sees keys held for
	// StuckKeyTime; it does not repeat until the keys are all released.
	StuckEpisode bool
	// Stuck lists the held keys on every tick the condition holds.
	Stuck []Key
}

// StatsTick evaluates the liveness and stuck-key condition.
func (k *Keypad) StatsTick(now time.Time) StatsReport {
	r := StatsReport{Timestamp: now, DownKeys: k.downKeys}
	for i := range k.keys {
		if k.keys[i].CheckInadvertent {
			r.InadvertentDetected += k.keys[i].AdjacentDetected
		}
	}

	idle := now.Sub(k.lastKeypress)
	r.Rearm = idle < ActivityWindow || k.downKeys > 0

	if k.downKeys == 0 {
		k.stuck = false
	} else if idle >= StuckKeyTime {
		if !k.stuck {
			k.stuck = true
			k.counters.StuckKeys++
			r.StuckEpisode = true
		}
		r.Stuck = k.DownKeys()
	}

	r.Counters = k.counters
	return r
}

// LastKeypress returns the time of the last accepted transition.
func (k *Keypad) LastKeypress() time.Time {
	return k.lastKeypress
}
