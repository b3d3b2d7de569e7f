// Package health detects unexpected controller resets and drives the
// power-cycle and reconfigure recovery sequence.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrGaveUp is returned when the controller did not report its identity
// within the configured number of attempts.
var ErrGaveUp = errors.New("health: controller did not come back")

// State is the recovery state.
type State int32

const (
	Normal State = iota
	PowerCycling
	AwaitingComms
	Reconfiguring
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case PowerCycling:
		return "POWER_CYCLING"
	case AwaitingComms:
		return "AWAITING_COMMS"
	case Reconfiguring:
		return "RECONFIGURING"
	default:
		return "UNKNOWN"
	}
}

// Chip is the part of the controller the monitor needs.
type Chip interface {
	Healthy() (bool, error)
	ChipID() (byte, error)
	Configure() error
}

// Power switches the controller's supply.
type Power interface {
	SetPower(on bool) error
}

// Config controls the recovery sequence.
type Config struct {
	ExpectedID byte
	// Settle is waited after powering down and again after powering up.
	Settle time.Duration
	// RetryInterval is the first wait between identity polls; it doubles up
	// to MaxRetryInterval.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	// MaxAttempts bounds the identity polls; 0 polls until the context ends.
	MaxAttempts int
}

// DefaultConfig matches the usual controller timing.
func DefaultConfig(expectedID byte) Config {
	return Config{
		ExpectedID:       expectedID,
		Settle:           20 * time.Millisecond,
		RetryInterval:    time.Second,
		MaxRetryInterval: time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Monitor runs health checks and recovery. Check and Recover must be called
// from a single goroutine; State and ResetCount are safe from any goroutine.
type Monitor struct {
	chip   Chip
	power  Power
	config Config
	logger *zap.SugaredLogger
	sleep  SleepFunc

	state  atomic.Int32
	resets atomic.Int64

	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to State)
}

// NewMonitor creates a Monitor in the Normal state.
func NewMonitor(chip Chip, power Power, config Config, logger *zap.SugaredLogger) *Monitor {
	if config.MaxRetryInterval < config.RetryInterval {
		config.MaxRetryInterval = config.RetryInterval
	}
	return &Monitor{
		chip:   chip,
		power:  power,
		config: config,
		logger: logger,
		sleep:  Sleep,
	}
}

// SetSleep replaces the wait used between recovery steps.
func (m *Monitor) SetSleep(fn SleepFunc) {
	m.sleep = fn
}

// State returns the current recovery state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// ResetCount returns the number of detected resets since start.
func (m *Monitor) ResetCount() int {
	return int(m.resets.Load())
}

// Check reads the controller status and recovers it when its configuration
// was lost. It reports whether a reset was detected. A failed status read is
// treated as a reset.
func (m *Monitor) Check(ctx context.Context) (bool, error) {
	ok, err := m.chip.Healthy()
	if err != nil {
		m.logger.Warnf("Status read failed: %v", err)
	}
	if ok {
		return false, nil
	}
	return true, m.Recover(ctx)
}

// Recover counts a reset and runs the full recovery sequence.
func (m *Monitor) Recover(ctx context.Context) error {
	n := m.resets.Add(1)
	m.logger.Errorf("Keypad reset!! Count: %d", n)

	m.transition(PowerCycling)
	if err := m.power.SetPower(false); err != nil {
		m.logger.Errorf("Failed to disable keypad power: %v", err)
	}
	if err := m.sleep(ctx, m.config.Settle); err != nil {
		return err
	}
	if err := m.power.SetPower(true); err != nil {
		m.logger.Errorf("Failed to enable keypad power: %v", err)
	}
	if err := m.sleep(ctx, m.config.Settle); err != nil {
		return err
	}

	m.transition(AwaitingComms)
	if err := m.awaitChip(ctx); err != nil {
		return err
	}

	m.transition(Reconfiguring)
	if err := m.chip.Configure(); err != nil {
		return fmt.Errorf("reconfigure after reset: %w", err)
	}
	m.logger.Infof("Keypad Controller - Reconfigured")

	m.transition(Normal)
	return nil
}

// awaitChip polls the identity register with exponential backoff.
func (m *Monitor) awaitChip(ctx context.Context) error {
	interval := m.config.RetryInterval
	for attempt := 1; ; attempt++ {
		id, err := m.chip.ChipID()
		if err == nil && id == m.config.ExpectedID {
			return nil
		}
		m.logger.Errorf("Unable to communicate with Keypad IC (attempt %d)", attempt)

		if m.config.MaxAttempts > 0 && attempt >= m.config.MaxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrGaveUp, attempt)
		}
		if err := m.sleep(ctx, interval); err != nil {
			return err
		}
		interval *= 2
		if interval > m.config.MaxRetryInterval {
			interval = m.config.MaxRetryInterval
		}
	}
}

func (m *Monitor) transition(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.logger.Debugf("Health state %s -> %s", from, to)
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

// Sleep waits for d using a real timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
