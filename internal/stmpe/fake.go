package stmpe

import (
	"errors"
	"sync"

	"github.com/sweeney/keypad-monitor/internal/keypad"
)

// Write is one recorded register write on a FakeBus.
type Write struct {
	Reg  byte
	Data []byte
}

// FakeBus is a test double that emulates the controller's register file.
type FakeBus struct {
	mu     sync.Mutex
	regs   [256]byte
	scans  [][DataLength]byte
	writes []Write

	// Err, if set, fails every transfer.
	Err error
	// ChipIDFailures is the number of identity reads that return 0 before
	// the real identity is reported.
	ChipIDFailures int
}

// NewFakeBus creates a FakeBus whose identity register holds ChipID.
func NewFakeBus() *FakeBus {
	f := &FakeBus{}
	f.regs[RegChipID] = ChipID
	return f
}

// Tx emulates one transfer.
func (f *FakeBus) Tx(w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	if len(w) == 0 {
		return errors.New("fake bus: empty write")
	}
	reg := w[0]

	if len(w) > 1 {
		data := append([]byte(nil), w[1:]...)
		f.writes = append(f.writes, Write{Reg: reg, Data: data})
		for i, b := range data {
			f.regs[int(reg)+i] = b
		}
	}
	if r == nil {
		return nil
	}

	switch reg {
	case RegKPCData:
		f.readScan(r)
	case RegChipID:
		if f.ChipIDFailures > 0 {
			f.ChipIDFailures--
			r[0] = 0
			return nil
		}
		copy(r, f.regs[reg:])
	default:
		copy(r, f.regs[reg:])
	}
	return nil
}

func (f *FakeBus) readScan(r []byte) {
	for i := range r {
		r[i] = 0xff
	}
	if len(f.scans) == 0 {
		return
	}
	copy(r, f.scans[0][:])
	f.scans = f.scans[1:]
}

// QueueScan appends one scan-data read holding cells. Unused slots read as
// no key.
func (f *FakeBus) QueueScan(cells ...keypad.Cell) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, EncodeScan(cells...))
}

// PendingScans returns the number of queued scan reads not yet consumed.
func (f *FakeBus) PendingScans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scans)
}

// SetReg sets a register value directly.
func (f *FakeBus) SetReg(reg, val byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[reg] = val
}

// Reg returns a register value.
func (f *FakeBus) Reg(reg byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[reg]
}

// Writes returns the recorded writes in order.
func (f *FakeBus) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// ClearWrites forgets the recorded writes.
func (f *FakeBus) ClearWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

// SimulateReset returns every register except the identity to its power-on
// value of zero, as an unexpected controller reset does.
func (f *FakeBus) SimulateReset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.regs[RegChipID]
	f.regs = [256]byte{}
	f.regs[RegChipID] = id
}

// EncodeScan builds a scan-data read from cells; at most DataSlots are used.
func EncodeScan(cells ...keypad.Cell) [DataLength]byte {
	var data [DataLength]byte
	for i := range data {
		data[i] = 0xff
	}
	for i, c := range cells {
		if i == DataSlots {
			break
		}
		b := c.Row&dataRowMask | (c.Col&dataColMask)<<dataColShift
		if c.Type == keypad.EventUp {
			b |= dataUpBit
		}
		data[i] = b
	}
	return data
}
