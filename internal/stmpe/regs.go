// Package stmpe implements the register protocol of the STMPE keypad
// controller over a two-phase bus transfer.
package stmpe

// Register addresses.
const (
	RegChipID      = 0x00
	RegIntCtrl     = 0x04
	RegIntEnMask   = 0x06
	RegIntSta      = 0x08
	RegGPIOSetLow  = 0x10
	RegGPIOSetDir  = 0x19
	RegKPCRow      = 0x30
	RegKPCCol      = 0x31
	RegKPCCtrlLow  = 0x33
	RegKPCCtrlMid  = 0x34
	RegKPCCtrlHigh = 0x35
	RegKPCCmd      = 0x36
	RegKPCData     = 0x3a
)

// ChipID is the identity reported by a responsive controller.
const ChipID = 0xc1

// Interrupt bits of RegIntEnMask and RegIntSta.
const (
	IntWakeup   = 0x01
	IntKeypad   = 0x02
	IntOverflow = 0x04
	IntGPIO     = 0x08
	IntCombo    = 0x10
)

// ExpectedIntMask is the interrupt-enable value Configure programs. Any other
// value read back means the controller lost its configuration.
const ExpectedIntMask = IntKeypad | IntOverflow

const (
	intCtrlGlobalEnable = 0x01
	cmdScanEnable       = 0x01
)

// Scan data layout.
const (
	// DataLength is the size of one RegKPCData read.
	DataLength = 5
	// DataSlots is the number of leading bytes that carry transitions.
	DataSlots = 3

	dataNoKeyMask = 0x78
	dataUpBit     = 0x80
	dataRowMask   = 0x07
	dataColShift  = 3
	dataColMask   = 0x0f
)

// scan frequency codes for RegKPCCtrlHigh, keyed by the configured rate
// (275 means 2.75 Hz).
var scanFrequencies = map[int]byte{
	60:  0x00,
	30:  0x01,
	15:  0x02,
	275: 0x03,
}

// ValidScanFrequency reports whether hz is a rate the controller supports.
func ValidScanFrequency(hz int) bool {
	_, ok := scanFrequencies[hz]
	return ok
}
