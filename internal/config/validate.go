package config

import (
	"fmt"
	"strings"

	"github.com/sweeney/keypad-monitor/internal/keypad"
	"github.com/sweeney/keypad-monitor/internal/stmpe"
)

// maxPhysicalKeys bounds the physical keymap entries.
const maxPhysicalKeys = 255

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid setting. It matches ErrInvalid.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalid
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) addf(field, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) rangeCheck(field string, val, lo, hi int) {
	if val < lo || val > hi {
		v.addf(field, "%d out of range %d..%d", val, lo, hi)
	}
}

func (v *validator) keys(field string, ids []int) {
	for i, id := range ids {
		v.rangeCheck(fmt.Sprintf("%s[%d]", field, i), id, 1, keypad.MaxKeys-1)
	}
}

// Validate checks every setting. It returns ValidationErrors, which matches
// ErrInvalid.
func (c *Config) Validate() error {
	v := &validator{}

	if c.GPIO.Reset < 0 {
		v.addf("gpio.reset", "line is required")
	}
	if c.GPIO.Interrupt < 0 {
		v.addf("gpio.interrupt", "line is required")
	}
	if c.GPIO.Chip == "" {
		v.addf("gpio.chip", "chip is required")
	}

	ctl := c.Controller
	v.rangeCheck("controller.row_mask", ctl.RowMask, 0, 0xff)
	v.rangeCheck("controller.column_mask", ctl.ColumnMask, 0, 0xffff)
	v.rangeCheck("controller.scan_count", ctl.ScanCount, 0, 15)
	v.rangeCheck("controller.debounce", ctl.Debounce, 0, 127)
	if !stmpe.ValidScanFrequency(ctl.ScanFrequency) {
		v.addf("controller.scan_frequency", "%d is not one of 60, 30, 15, 275", ctl.ScanFrequency)
	}
	if ctl.ResetDetectGPIO != -1 {
		v.rangeCheck("controller.reset_detect_gpio", ctl.ResetDetectGPIO, 0, 7)
	}

	seen := make(map[[2]int]bool)
	for i, kc := range c.Keymap {
		field := fmt.Sprintf("keymap[%d]", i)
		v.rangeCheck(field+".row", kc.Row, 0, keypad.KeymapRows-1)
		v.rangeCheck(field+".col", kc.Col, 0, keypad.KeymapCols-1)
		v.rangeCheck(field+".key", kc.Key, 1, keypad.MaxKeys-1)
		if seen[[2]int{kc.Row, kc.Col}] {
			v.addf(field, "duplicate cell %d,%d", kc.Row, kc.Col)
		}
		seen[[2]int{kc.Row, kc.Col}] = true
	}

	if len(c.PhysicalKeymap) > maxPhysicalKeys {
		v.addf("physical_keymap", "%d entries, at most %d allowed", len(c.PhysicalKeymap), maxPhysicalKeys)
	}
	seen = make(map[[2]int]bool)
	for i, kc := range c.PhysicalKeymap {
		field := fmt.Sprintf("physical_keymap[%d]", i)
		v.rangeCheck(field+".row", kc.Row, 1, keypad.GridRows)
		v.rangeCheck(field+".col", kc.Col, 1, keypad.GridCols)
		v.rangeCheck(field+".key", kc.Key, 0, keypad.MaxKeys-1)
		if seen[[2]int{kc.Row, kc.Col}] {
			v.addf(field, "duplicate cell %d,%d", kc.Row, kc.Col)
		}
		seen[[2]int{kc.Row, kc.Col}] = true
	}

	v.keys("check_inadvertent", c.CheckInadvertent)
	v.keys("modifier_keys", c.ModifierKeys)
	v.keys("key_count", c.KeyCount)

	if c.InadvertentTimeout < 0 {
		v.addf("inadvertent_timeout", "must not be negative")
	}
	h := c.Health
	if h.CheckInterval < 0 {
		v.addf("health.check_interval", "must not be negative")
	}
	if h.RetryInterval <= 0 {
		v.addf("health.retry_interval", "must be positive")
	}
	if h.MaxRetryInterval < h.RetryInterval {
		v.addf("health.max_retry_interval", "must not be below retry_interval")
	}
	if h.MaxAttempts < 0 {
		v.addf("health.max_attempts", "must not be negative")
	}
	if h.Settle < 0 {
		v.addf("health.settle", "must not be negative")
	}
	if c.MQTT.BufferSize < 0 {
		v.addf("mqtt.buffer_size", "must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addf("log.level", "unknown level %q", c.Log.Level)
	}

	// The adjacency map can only be checked once the tables are sane.
	if len(v.errs) == 0 {
		if _, err := keypad.New(c.Layout(), 1); err != nil {
			v.addf("physical_keymap", "%v", err)
		}
	}

	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}
