package stmpe

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweeney/keypad-monitor/internal/keypad"
)

var (
	// ErrIO wraps every failed bus transfer.
	ErrIO = errors.New("stmpe: i/o error")
	// ErrUnknownChip is returned when the identity register holds an
	// unexpected value.
	ErrUnknownChip = errors.New("stmpe: unknown chip id")
)

// Bus performs one combined write-then-read transfer with the controller.
// r may be nil for a pure write.
type Bus interface {
	Tx(w, r []byte) error
}

// Config holds the scan parameters programmed by Configure.
type Config struct {
	RowMask       uint8
	ColumnMask    uint16
	ScanCount     uint8 // 0..15
	Debounce      uint8 // 0..127
	ScanFrequency int   // 60, 30, 15 or 275

	// ResetDetect enables the reset canary: controller GPIO ResetDetectGPIO
	// is driven high and drops when the controller resets.
	ResetDetect     bool
	ResetDetectGPIO uint8 // 0..7
}

// Chip drives one controller. It is not safe for concurrent use.
type Chip struct {
	bus    Bus
	config Config
	logger *zap.SugaredLogger
}

// NewChip creates a Chip on bus.
func NewChip(bus Bus, config Config, logger *zap.SugaredLogger) *Chip {
	return &Chip{bus: bus, config: config, logger: logger}
}

// ReadReg reads a single register.
func (c *Chip) ReadReg(reg byte) (byte, error) {
	var buf [1]byte
	if err := c.ReadBlock(reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadBlock reads len(out) consecutive registers starting at reg.
func (c *Chip) ReadBlock(reg byte, out []byte) error {
	if err := c.bus.Tx([]byte{reg}, out); err != nil {
		return fmt.Errorf("%w: read register 0x%02x: %v", ErrIO, reg, err)
	}
	return nil
}

// WriteReg writes a single register.
func (c *Chip) WriteReg(reg, val byte) error {
	return c.WriteBlock(reg, []byte{val})
}

// WriteBlock writes data to consecutive registers starting at reg.
func (c *Chip) WriteBlock(reg byte, data []byte) error {
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg)
	w = append(w, data...)
	if err := c.bus.Tx(w, nil); err != nil {
		return fmt.Errorf("%w: write register 0x%02x: %v", ErrIO, reg, err)
	}
	return nil
}

// ChipID reads the identity register.
func (c *Chip) ChipID() (byte, error) {
	return c.ReadReg(RegChipID)
}

// Probe checks that a controller with the expected identity responds.
func (c *Chip) Probe() error {
	id, err := c.ChipID()
	if err != nil {
		return err
	}
	if id != ChipID {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownChip, id)
	}
	return nil
}

// Configure programs the full scan configuration and enables scanning. It
// stops at the first failed write.
func (c *Chip) Configure() error {
	cfg := c.config

	freq, ok := scanFrequencies[cfg.ScanFrequency]
	if !ok {
		c.logger.Errorf("Unsupported keypad scan frequency %d, using 60", cfg.ScanFrequency)
		freq = scanFrequencies[60]
	}

	type write struct {
		reg  byte
		data []byte
	}
	var seq []write
	if cfg.ResetDetect {
		bit := byte(1) << cfg.ResetDetectGPIO
		seq = append(seq,
			write{RegGPIOSetDir, []byte{bit}},
			write{RegGPIOSetLow, []byte{bit}},
		)
	}
	seq = append(seq,
		write{RegKPCRow, []byte{cfg.RowMask}},
		write{RegKPCCol, []byte{byte(cfg.ColumnMask), byte(cfg.ColumnMask >> 8)}},
		write{RegKPCCtrlLow, []byte{cfg.ScanCount << 4}},
		write{RegKPCCtrlMid, []byte{cfg.Debounce << 1}},
		write{RegKPCCtrlHigh, []byte{freq}},
		write{RegIntEnMask, []byte{ExpectedIntMask}},
		write{RegIntCtrl, []byte{intCtrlGlobalEnable}},
		write{RegKPCCmd, []byte{cmdScanEnable}},
	)

	for _, w := range seq {
		if err := c.WriteBlock(w.reg, w.data); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}
	return nil
}

// InterruptStatus reads the pending interrupt sources.
func (c *Chip) InterruptStatus() (byte, error) {
	return c.ReadReg(RegIntSta)
}

// Healthy reports whether the interrupt-enable register still holds the
// value Configure wrote.
func (c *Chip) Healthy() (bool, error) {
	v, err := c.ReadReg(RegIntEnMask)
	if err != nil {
		return false, err
	}
	return v == ExpectedIntMask, nil
}

// ReadScan reads one batch of the scan FIFO. Slots holding no key are
// dropped.
func (c *Chip) ReadScan() ([]keypad.Cell, error) {
	var data [DataLength]byte
	if err := c.ReadBlock(RegKPCData, data[:]); err != nil {
		return nil, err
	}
	return DecodeScan(data), nil
}

// DecodeScan extracts the transitions of one scan-data read.
func DecodeScan(data [DataLength]byte) []keypad.Cell {
	var cells []keypad.Cell
	for _, b := range data[:DataSlots] {
		if b&dataNoKeyMask == dataNoKeyMask {
			continue
		}
		cell := keypad.Cell{
			Type: keypad.EventDown,
			Row:  b & dataRowMask,
			Col:  (b >> dataColShift) & dataColMask,
		}
		if b&dataUpBit != 0 {
			cell.Type = keypad.EventUp
		}
		cells = append(cells, cell)
	}
	return cells
}
