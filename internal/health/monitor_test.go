package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/keypad-monitor/internal/gpio"
	"github.com/sweeney/keypad-monitor/internal/stmpe"
)

type rig struct {
	bus    *stmpe.FakeBus
	chip   *stmpe.Chip
	reg    *gpio.FakeOutput
	reset  *gpio.FakeOutput
	mon    *Monitor
	sleeps []time.Duration
	states []State
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	r := &rig{
		bus:   stmpe.NewFakeBus(),
		reg:   &gpio.FakeOutput{},
		reset: &gpio.FakeOutput{},
	}
	r.chip = stmpe.NewChip(r.bus, stmpe.Config{RowMask: 0x0f, ColumnMask: 0xff, ScanFrequency: 60}, zap.NewNop().Sugar())
	require.NoError(t, r.chip.Configure())
	r.bus.ClearWrites()

	r.mon = NewMonitor(r.chip, &gpio.Power{Regulator: r.reg, Reset: r.reset}, cfg, zap.NewNop().Sugar())
	r.mon.SetSleep(func(ctx context.Context, d time.Duration) error {
		r.sleeps = append(r.sleeps, d)
		return ctx.Err()
	})
	r.mon.OnTransition = func(from, to State) { r.states = append(r.states, to) }
	return r
}

func TestCheckHealthyDoesNothing(t *testing.T) {
	r := newRig(t, DefaultConfig(stmpe.ChipID))

	reset, err := r.mon.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, reset)
	assert.Equal(t, 0, r.mon.ResetCount())
	assert.Empty(t, r.bus.Writes())
	assert.Empty(t, r.reg.Values())
}

func TestCheckRecoversFromReset(t *testing.T) {
	r := newRig(t, DefaultConfig(stmpe.ChipID))
	r.bus.SimulateReset()

	reset, err := r.mon.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Equal(t, 1, r.mon.ResetCount())
	assert.Equal(t, Normal, r.mon.State())
	assert.Equal(t, []State{PowerCycling, AwaitingComms, Reconfiguring, Normal}, r.states)

	// power down, then up
	assert.Equal(t, []bool{false, true}, r.reg.Values())
	assert.Equal(t, []bool{false, true}, r.reset.Values())
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 20 * time.Millisecond}, r.sleeps)

	// full configuration reapplied
	assert.Len(t, r.bus.Writes(), 8)
	ok, err := r.chip.Healthy()
	require.NoError(t, err)
	assert.True(t, ok)

	// a second check sees a healthy controller
	reset, err = r.mon.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, reset)
	assert.Equal(t, 1, r.mon.ResetCount())
}

func TestCheckCountsEachMismatch(t *testing.T) {
	r := newRig(t, DefaultConfig(stmpe.ChipID))

	for i := 1; i <= 3; i++ {
		r.bus.SimulateReset()
		_, err := r.mon.Check(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, r.mon.ResetCount())
	}
}

func TestAwaitChipBacksOff(t *testing.T) {
	cfg := DefaultConfig(stmpe.ChipID)
	cfg.RetryInterval = 100 * time.Millisecond
	cfg.MaxRetryInterval = 300 * time.Millisecond
	r := newRig(t, cfg)
	r.bus.SimulateReset()
	r.bus.ChipIDFailures = 4

	_, err := r.mon.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{
		20 * time.Millisecond, 20 * time.Millisecond,
		100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond,
	}, r.sleeps)
	assert.Equal(t, Normal, r.mon.State())
}

func TestAwaitChipGivesUp(t *testing.T) {
	cfg := DefaultConfig(stmpe.ChipID)
	cfg.MaxAttempts = 3
	r := newRig(t, cfg)
	r.bus.SimulateReset()
	r.bus.ChipIDFailures = 10

	_, err := r.mon.Check(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, AwaitingComms, r.mon.State())
	assert.Equal(t, 7, r.bus.ChipIDFailures)
	assert.Empty(t, r.bus.Writes(), "no reconfiguration without comms")
}

func TestRecoverHonoursCancellation(t *testing.T) {
	r := newRig(t, DefaultConfig(stmpe.ChipID))
	r.bus.SimulateReset()
	r.bus.ChipIDFailures = 1 << 30

	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	r.mon.SetSleep(func(ctx context.Context, d time.Duration) error {
		polls++
		if polls == 5 {
			cancel()
		}
		return ctx.Err()
	})

	_, err := r.mon.Check(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, r.mon.ResetCount())
}

func TestStatusReadErrorIsTreatedAsReset(t *testing.T) {
	r := newRig(t, DefaultConfig(stmpe.ChipID))
	r.bus.Err = errors.New("nack")

	cfg := DefaultConfig(stmpe.ChipID)
	cfg.MaxAttempts = 1
	r.mon.config = cfg

	reset, err := r.mon.Check(context.Background())
	assert.True(t, reset)
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, 1, r.mon.ResetCount())
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
