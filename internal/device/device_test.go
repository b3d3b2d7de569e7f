package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/sweeney/keypad-monitor/internal/gpio"
	"github.com/sweeney/keypad-monitor/internal/health"
	"github.com/sweeney/keypad-monitor/internal/input"
	"github.com/sweeney/keypad-monitor/internal/keypad"
	"github.com/sweeney/keypad-monitor/internal/mqtt"
	"github.com/sweeney/keypad-monitor/internal/status"
	"github.com/sweeney/keypad-monitor/internal/stmpe"
)

var testStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func keyAt(row, col uint8) keypad.Key { return keypad.Key(10*row + col + 1) }

func down(row, col uint8) keypad.Cell { return keypad.Cell{Type: keypad.EventDown, Row: row, Col: col} }
func up(row, col uint8) keypad.Cell   { return keypad.Cell{Type: keypad.EventUp, Row: row, Col: col} }

func testLayout() keypad.Layout {
	var l keypad.Layout
	g := &keypad.Grid{}
	for row := uint8(0); row < 2; row++ {
		for col := uint8(0); col < 3; col++ {
			l.Keymap[keypad.MatrixScanCode(row, col)] = keyAt(row, col)
			g[row][col] = keyAt(row, col)
		}
	}
	l.Grid = g
	l.CheckInadvertent = []keypad.Key{keyAt(0, 1)}
	return l
}

type rig struct {
	bus       *stmpe.FakeBus
	chip      *stmpe.Chip
	regulator *gpio.FakeOutput
	reset     *gpio.FakeOutput
	irq       *gpio.FakeInterrupt
	resetIRQ  *gpio.FakeInterrupt
	inj       *input.FakeInjector
	pub       *mqtt.FakePublisher
	tracker   *status.Tracker
	clock     *FakeClock
	slide     chan input.SlideState
	dev       *Device

	cancel context.CancelFunc
	errc   chan error
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	r := &rig{
		bus:       stmpe.NewFakeBus(),
		regulator: &gpio.FakeOutput{},
		reset:     &gpio.FakeOutput{},
		irq:       gpio.NewFakeInterrupt(),
		resetIRQ:  gpio.NewFakeInterrupt(),
		inj:       input.NewFakeInjector(),
		pub:       mqtt.NewFakePublisher(),
		tracker:   status.NewTracker(testStart, status.Config{}),
		clock:     NewFakeClock(testStart),
		slide:     make(chan input.SlideState),
		errc:      make(chan error, 1),
	}
	r.chip = stmpe.NewChip(r.bus, stmpe.Config{RowMask: 0x03, ColumnMask: 0x07, ScanFrequency: 60}, zap.NewNop().Sugar())

	kp, err := keypad.New(testLayout(), 1)
	require.NoError(t, err)

	power := &gpio.Power{Regulator: r.regulator, Reset: r.reset}
	mon := health.NewMonitor(r.chip, power, health.DefaultConfig(stmpe.ChipID), logger)
	mon.SetSleep(func(ctx context.Context, time.Duration) error { return ctx.Err() })

	r.dev = New(Deps{
		Keypad:    kp,
		Chip:      r.chip,
		Power:     power,
		IRQ:       r.irq,
		ResetIRQ:  r.resetIRQ,
		Health:    mon,
		Injector:  r.inj,
		Publisher: r.pub,
		Tracker:   r.tracker,
		Slide:     r.slide,
		Clock:     r.clock,
		Sleep:     func(ctx context.Context, time.Duration) error { return ctx.Err() },
		Logger:    logger,
	}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.errc <- r.dev.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-r.errc
	})

	r.sync(t)
	return r
}

func enabledRig(t *testing.T) *rig {
	t.Helper()
	return newRig(t, Config{EnableOnStart: true})
}

// sync waits until the loop has finished everything queued before it.
func (r *rig) sync(t *testing.T) {
	t.Helper()
	_, err := r.dev.Enabled(context.Background())
	require.NoError(t, err)
}

// edge raises the controller interrupt and waits for it to be serviced.
func (r *rig) edge(t *testing.T, irq *gpio.FakeInterrupt) {
	t.Helper()
	irq.Trigger()
	require.Eventually(t, func() bool { return len(irq.Events()) == 0 }, time.Second, time.Millisecond)
	r.sync(t)
}

// scan queues one FIFO read of cells and services a keypad interrupt.
func (r *rig) scan(t *testing.T, cells ...keypad.Cell) {
	t.Helper()
	r.bus.SetReg(stmpe.RegIntSta, stmpe.IntKeypad)
	r.bus.QueueScan(cells...)
	r.edge(t, r.irq)
}

func (r *rig) advance(t *testing.T, d time.Duration) {
	t.Helper()
	r.clock.Advance(d)
	r.sync(t)
}

func TestEnableOnStart(t *testing.T) {
	r := enabledRig(t)

	assert.Equal(t, []bool{true}, r.regulator.Values())
	assert.Equal(t, []bool{true}, r.reset.Values())
	assert.Len(t, r.bus.Writes(), 8, "full configuration written")
	assert.Equal(t, []string{mqtt.EventEnabled}, r.pub.SystemEventNames())
	assert.Equal(t, ReasonStartup, r.pub.SystemEvents()[0].Reason)

	snap := r.tracker.Snapshot()
	assert.True(t, snap.Enabled)
	assert.Equal(t, "NORMAL", snap.HealthState)
	assert.Equal(t, "stmpe_keypad", snap.DeviceName)
}

func TestDisabledOnStartByDefault(t *testing.T) {
	r := newRig(t, Config{})

	on, err := r.dev.Enabled(context.Background())
	require.NoError(t, err)
	assert.False(t, on)
	assert.Empty(t, r.regulator.Values())
	assert.Empty(t, r.bus.Writes())
}

func TestKeyPressAndReleaseInjected(t *testing.T) {
	r := enabledRig(t)

	r.scan(t, down(0, 0))
	calls := r.inj.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, keypad.Event{Key: keyAt(0, 0), Code: keypad.MatrixScanCode(0, 0), Type: keypad.EventDown, Time: testStart}, calls[0].Event)
	assert.True(t, calls[1].Sync)

	keys, err := r.dev.DownKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []keypad.Key{keyAt(0, 0)}, keys)
	assert.Equal(t, 1, r.tracker.Snapshot().DownKeys)

	r.clock.Advance(80 * time.Millisecond)
	r.scan(t, up(0, 0))
	events := r.inj.Events()
	require.Len(t, events, 2)
	assert.Equal(t, keypad.EventUp, events[1].Type)

	keys, err = r.dev.DownKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	// key events never leave the device
	assert.Equal(t, []string{mqtt.EventEnabled}, r.pub.SystemEventNames())
}

func TestSpuriousInterruptIsCounted(t *testing.T) {
	r := enabledRig(t)

	r.bus.SetReg(stmpe.RegIntSta, 0)
	r.edge(t, r.irq)

	assert.Empty(t, r.inj.Calls())
	rep, err := r.dev.ConsumeCounters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Interrupts)
}

func TestAssertedLineRepeatsDispatch(t *testing.T) {
	r := enabledRig(t)

	r.irq.HoldAsserted(true, true)
	r.scan(t, down(0, 0))

	rep, err := r.dev.ConsumeCounters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Interrupts)
	assert.Len(t, r.inj.Events(), 1, "later passes find an empty FIFO")
}

func TestAssertedLineRepeatIsBounded(t *testing.T) {
	r := enabledRig(t)

	stuck := make([]bool, 20)
	for i := range stuck {
		stuck[i] = true
	}
	r.irq.HoldAsserted(stuck...)
	r.scan(t)

	rep, err := r.dev.ConsumeCounters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDispatch, rep.Interrupts)
}

func TestInterruptLineReadErrorStopsRepeat(t *testing.T) {
	r := enabledRig(t)

	r.irq.ReadError = errors.New("line gone")
	r.scan(t, down(0, 0))

	rep, err := r.dev.ConsumeCounters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Interrupts)
	assert.Len(t, r.inj.Events(), 1)
}

func TestAdjacentPressCommittedAfterTimeout(t *testing.T) {
	r := enabledRig(t)

	r.scan(t, down(0, 0))
	r.clock.Advance(30 * time.Millisecond)
	r.scan(t, down(0, 1))
	require.Len(t, r.inj.Events(), 1, "press next to a held key is parked")

	r.advance(t, keypad.DefaultInadvertentTimeout)
	events := r.inj.Events()
	require.Len(t, events, 2)
	assert.Equal(t, keyAt(0, 1), events[1].Key)
	assert.True(t, events[1].Late)
	assert.True(t, r.inj.Calls()[len(r.inj.Calls())-1].Sync)
}

func TestAdjacentPressReleasedEarlyIsBlocked(t *testing.T) {
	r := enabledRig(t)

	r.scan(t, down(0, 0))
	r.scan(t, down(0, 1))
	r.clock.Advance(50 * time.Millisecond)
	r.scan(t, up(0, 1))

	r.advance(t, keypad.DefaultInadvertentTimeout)
	assert.Len(t, r.inj.Events(), 1, "only the held key's press is delivered")

	rep, err := r.dev.ConsumeCounters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TotalInadvertent)
}

func TestStatsPublishedAndStuckKeyReported(t *testing.T) {
	r := enabledRig(t)

	r.scan(t, down(0, 0))

	r.advance(t, keypad.StatsInterval)
	require.Len(t, r.pub.Stats(), 1)
	assert.Equal(t, 1, r.pub.Stats()[0].DownKeys)
	assert.Equal(t, []string{mqtt.EventEnabled}, r.pub.SystemEventNames())

	r.advance(t, keypad.StatsInterval)
	require.Len(t, r.pub.Stats(), 2)
	assert.Equal(t, []string{mqtt.EventEnabled, mqtt.EventStuckKey}, r.pub.SystemEventNames())
	assert.Equal(t, 1, r.pub.SystemEvents()[1].Count)

	r.advance(t, keypad.StatsInterval)
	assert.Len(t, r.pub.Stats(), 3)
	assert.Equal(t, []string{mqtt.EventEnabled, mqtt.EventStuckKey}, r.pub.SystemEventNames(), "one event per episode")
}

func TestStatsTimerStopsWhenIdle(t *testing.T) {
	r := enabledRig(t)

	r.scan(t, down(0, 0))
	r.scan(t, up(0, 0))

	r.advance(t, keypad.StatsInterval)
	assert.Len(t, r.pub.Stats(), 1)
	assert.Equal(t, 0, r.clock.Pending())

	r.advance(t, keypad.StatsInterval)
	assert.Len(t, r.pub.Stats(), 1)

	// the next press arms it again
	r.scan(t, down(0, 2))
	assert.Equal(t, 1, r.clock.Pending())
}

func TestPeriodicCheckRecoversReset(t *testing.T) {
	r := newRig(t, Config{EnableOnStart: true, CheckInterval: time.Second})

	r.advance(t, time.Second)
	assert.Equal(t, []string{mqtt.EventEnabled}, r.pub.SystemEventNames(), "healthy controller")

	r.bus.SimulateReset()
	r.advance(t, time.Second)
	require.Equal(t, []string{mqtt.EventEnabled, mqtt.EventControllerReset}, r.pub.SystemEventNames())
	ev := r.pub.SystemEvents()[1]
	assert.Equal(t, "PERIODIC", ev.Reason)
	assert.Equal(t, 1, ev.Count)
	assert.Equal(t, 1, r.dev.ResetCount())
	assert.Equal(t, 1, r.tracker.Snapshot().ResetCount)

	ok, err := r.dev.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "configuration reapplied")

	rep, err := r.dev.ConsumeCounters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ResetCount)

	// still checking
	assert.Equal(t, 1, r.clock.Pending())
}

func TestResetInterruptTriggersRecovery(t *testing.T) {
	r := enabledRig(t)

	r.bus.SimulateReset()
	r.edge(t, r.resetIRQ)

	require.Equal(t, []string{mqtt.EventEnabled, mqtt.EventControllerReset}, r.pub.SystemEventNames())
	assert.Equal(t, "RESET_IRQ", r.pub.SystemEvents()[1].Reason)
	assert.Equal(t, stmpe.ExpectedIntMask, r.bus.Reg(stmpe.RegIntEnMask))
}

func TestResetTelemetryIsBounded(t *testing.T) {
	r := newRig(t, Config{EnableOnStart: true, ResetReportLimit: 3})

	for i := 0; i < 4; i++ {
		r.bus.SimulateReset()
		r.edge(t, r.resetIRQ)
	}

	var resets []mqtt.SystemEvent
	for _, ev := range r.pub.SystemEvents() {
		if ev.Event == mqtt.EventControllerReset {
			resets = append(resets, ev)
		}
	}
	require.Len(t, resets, 2)
	assert.Equal(t, 2, resets[1].Count)
	assert.Equal(t, 4, r.dev.ResetCount())
}

func TestDisableReleasesHeldKeys(t *testing.T) {
	r := enabledRig(t)

	r.scan(t, down(0, 0))
	r.scan(t, down(1, 2))
	r.inj.Reset()

	require.NoError(t, r.dev.SetEnabled(context.Background(), false))

	events := r.inj.Events()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, keypad.EventUp, ev.Type)
	}
	assert.False(t, r.regulator.Value())
	assert.Equal(t, []string{mqtt.EventEnabled, mqtt.EventDisabled}, r.pub.SystemEventNames())
	assert.Equal(t, 0, r.clock.Pending(), "timers stopped")
	assert.False(t, r.tracker.Snapshot().Enabled)

	keys, err := r.dev.DownKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	// interrupts are ignored while disabled
	r.bus.QueueScan(down(0, 0))
	r.irq.Trigger()
	r.sync(t)
	assert.Equal(t, 1, r.bus.PendingScans())
}

func TestSetEnabledIsIdempotent(t *testing.T) {
	r := enabledRig(t)

	require.NoError(t, r.dev.SetEnabled(context.Background(), true))
	assert.Len(t, r.regulator.Values(), 1)
	assert.Equal(t, []string{mqtt.EventEnabled}, r.pub.SystemEventNames())
}

func TestEnableReportsConfigureError(t *testing.T) {
	r := newRig(t, Config{})

	r.bus.Err = errors.New("bus gone")
	err := r.dev.SetEnabled(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, stmpe.ErrIO)

	on, err := r.dev.Enabled(context.Background())
	require.NoError(t, err)
	assert.True(t, on, "keypad stays enabled so a later check can recover it")
}

func TestEnableCancelledDuringSettlePowersDown(t *testing.T) {
	regulator, reset := &gpio.FakeOutput{}, &gpio.FakeOutput{}
	bus := stmpe.NewFakeBus()
	chip := stmpe.NewChip(bus, stmpe.Config{ScanFrequency: 60}, zap.NewNop().Sugar())
	power := &gpio.Power{Regulator: regulator, Reset: reset}
	kp, err := keypad.New(testLayout(), 1)
	require.NoError(t, err)

	d := New(Deps{
		Keypad:   kp,
		Chip:     chip,
		Power:    power,
		IRQ:      gpio.NewFakeInterrupt(),
		Health:   health.NewMonitor(chip, power, health.DefaultConfig(stmpe.ChipID), zap.NewNop().Sugar()),
		Injector: input.NewFakeInjector(),
		Clock:    NewFakeClock(testStart),
		Sleep:    func(ctx context.Context, time.Duration) error { return ctx.Err() },
		Logger:   zaptest.NewLogger(t).Sugar(),
	}, Config{EnableOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx), context.Canceled)

	assert.Equal(t, []bool{true, false}, regulator.Values())
	assert.Equal(t, []bool{true, false}, reset.Values())
	assert.Empty(t, bus.Writes(), "not configured")
}

func TestAcceptedRequestAlwaysCompletes(t *testing.T) {
	r := enabledRig(t)

	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ran := false
		err := r.dev.do(ctx, func(context.Context) {
			cancel()
			ran = true
		})
		require.NoError(t, err, "request %d", i)
		assert.True(t, ran)
	}
}

func TestEnableServicesAlreadyAssertedLine(t *testing.T) {
	r := newRig(t, Config{})

	r.bus.SetReg(stmpe.RegIntSta, stmpe.IntKeypad)
	r.bus.QueueScan(down(0, 0))
	r.irq.HoldAsserted(true)

	require.NoError(t, r.dev.SetEnabled(context.Background(), true))
	assert.Len(t, r.inj.Events(), 1)
}

func TestSlideSwitchGatesKeypad(t *testing.T) {
	r := newRig(t, Config{})

	r.slide <- input.SlideState{Open: true}
	r.sync(t)
	on, err := r.dev.Enabled(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, ReasonSlide, r.pub.SystemEvents()[0].Reason)

	r.slide <- input.SlideState{Open: true, Transitioning: true}
	r.sync(t)
	on, err = r.dev.Enabled(context.Background())
	require.NoError(t, err)
	assert.False(t, on)

	s, err := r.dev.SlideState(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Transitioning)
}

func TestSelectName(t *testing.T) {
	r := enabledRig(t)

	require.NoError(t, r.dev.SelectName(context.Background(), 2))
	assert.Equal(t, "stmpe_azerty_keypad", r.inj.Name())
	assert.Equal(t, "stmpe_azerty_keypad", r.tracker.Snapshot().DeviceName)

	require.NoError(t, r.dev.SelectName(context.Background(), 9))
	assert.Equal(t, "stmpe_keypad", r.inj.Name())
}

func TestStatusReadsController(t *testing.T) {
	r := enabledRig(t)

	ok, err := r.dev.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	r.bus.SimulateReset()
	ok, err = r.dev.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.dev.SetEnabled(context.Background(), false))
	r.bus.Err = errors.New("powered down")
	ok, err = r.dev.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCountersAndEventLog(t *testing.T) {
	r := enabledRig(t)

	r.scan(t, down(0, 0))
	r.clock.Advance(100 * time.Millisecond)
	r.scan(t, up(0, 0))

	rep, err := r.dev.ConsumeCounters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.KeysPressed)
	assert.Equal(t, 100*time.Millisecond, rep.KeyTime)

	rep, err = r.dev.ConsumeCounters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.KeysPressed)
	assert.Equal(t, 0, r.tracker.Snapshot().Counters.KeysPressed)

	log, err := r.dev.EventLog(context.Background())
	require.NoError(t, err)
	assert.Contains(t, log, "DOWN")
	assert.Contains(t, log, "UP")
}

func TestShutdownDisablesKeypad(t *testing.T) {
	r := enabledRig(t)
	r.scan(t, down(0, 0))

	r.cancel()
	err := <-r.errc
	r.errc <- err // for cleanup
	assert.ErrorIs(t, err, context.Canceled)

	names := r.pub.SystemEventNames()
	assert.Equal(t, mqtt.EventDisabled, names[len(names)-1])
	assert.Equal(t, ReasonShutdown, r.pub.SystemEvents()[len(names)-1].Reason)
	assert.False(t, r.regulator.Value())
	assert.Equal(t, keypad.EventUp, r.inj.Events()[1].Type)

	_, err = r.dev.Enabled(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
