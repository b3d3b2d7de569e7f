// Package keypad contains the pure key-decoding logic for the matrix keypad.
// This package has NO external dependencies (no bus, GPIO, uinput or timers).
// Time is always injectable via time.Time parameters.
package keypad

import (
	"errors"
	"time"
)

// Table sizes and timing constants.
const (
	MaxKeys      = 255
	MaxAdjacent  = 6
	EventLogSize = 100

	// Physical key-placement grid.
	GridRows = 4
	GridCols = 10

	// Matrix keymap addressed by scan code.
	KeymapRows = 8
	KeymapCols = 8
	KeymapSize = KeymapRows * KeymapCols
	RowShift   = 3

	DefaultInadvertentTimeout = 200 * time.Millisecond
	StatsInterval             = 5 * time.Second
	ActivityWindow            = 5 * time.Second
	StuckKeyTime              = 10 * time.Second
)

// ErrTooManyAdjacent is returned when a key would get more neighbours than
// MaxAdjacent.
var ErrTooManyAdjacent = errors.New("keypad: too many adjacent keys")

// Key is a logical key identifier. Zero means "no key".
type Key uint8

// ScanCode is the matrix position code (row<<RowShift + col).
type ScanCode uint8

// MatrixScanCode computes a scan code from a matrix position.
func MatrixScanCode(row, col uint8) ScanCode {
	return ScanCode(row<<RowShift + col)
}

// EventType distinguishes key presses from releases.
type EventType int

const (
	EventUp EventType = iota
	EventDown
)

func (t EventType) String() string {
	if t == EventDown {
		return "DOWN"
	}
	return "UP"
}

// Cell is one decoded scan-FIFO slot as reported by the controller.
type Cell struct {
	Type EventType
	Row  uint8
	Col  uint8
}

// Transition is an accepted key transition after keymap lookup and
// de-duplication.
type Transition struct {
	Type EventType
	Row  uint8
	Col  uint8
	Code ScanCode
	Key  Key
	Time time.Time
	// WasDown reports, for a release, that the key was recorded down.
	WasDown bool
}

// Event is a key event handed to the input subsystem.
type Event struct {
	Key  Key
	Code ScanCode
	Type EventType
	Time time.Time
	// Late is set for a suppressed press delivered after the inadvertent
	// timeout expired.
	Late bool
}

// KeyState is the per-key entry of the key state table.
type KeyState struct {
	Up       bool
	DownTime time.Time
	UpTime   time.Time
	Code     ScanCode
	Count    int

	Adjacent []Key

	Modifier         bool
	CheckInadvertent bool
	ReportCount      bool

	AdjacentDetected int
	Inadvertent      int
}

// Grid is the physical key-placement table. Zero cells are blank.
type Grid [GridRows][GridCols]Key

// Layout is the static key configuration supplied at startup.
type Layout struct {
	// Keymap maps scan codes to logical keys.
	Keymap [KeymapSize]Key
	// Grid is nil when no physical table is configured; the adjacency check
	// is then unavailable.
	Grid *Grid
	// SkipVerticalSelf applies the same-key check to vertical neighbours too.
	SkipVerticalSelf bool

	CheckInadvertent []Key
	Modifiers        []Key
	ReportCount      []Key

	InadvertentTimeout time.Duration
}

// LogEntry is one record of the circular event log.
type LogEntry struct {
	Key  Key
	Type EventType
	Time time.Time
}
