// Package device runs the keypad as a single-owner event loop. Interrupts,
// timers, the slide switch and every external request are serialised by
// one goroutine, which alone touches the key state and the controller.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/keypad-monitor/internal/gpio"
	"github.com/sweeney/keypad-monitor/internal/health"
	"github.com/sweeney/keypad-monitor/internal/input"
	"github.com/sweeney/keypad-monitor/internal/keypad"
	"github.com/sweeney/keypad-monitor/internal/mqtt"
	"github.com/sweeney/keypad-monitor/internal/status"
	"github.com/sweeney/keypad-monitor/internal/stmpe"
)

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = errors.New("device: loop stopped")

// Defaults for Config.
const (
	DefaultMaxDispatch      = 8
	DefaultResetReportLimit = 50
	DefaultSettle           = 20 * time.Millisecond
)

// Reasons attached to enable changes.
const (
	ReasonStartup  = "STARTUP"
	ReasonShutdown = "SHUTDOWN"
	ReasonSlide    = "SLIDE"
	ReasonRequest  = "REQUEST"
)

// Chip is the controller as seen by the loop.
type Chip interface {
	keypad.ScanSource
	InterruptStatus() (byte, error)
	Configure() error
	Healthy() (bool, error)
}

// Power switches the controller's supply.
type Power interface {
	SetPower(on bool) error
}

// Health checks for and recovers from controller resets.
type Health interface {
	Check(ctx context.Context) (bool, error)
	ResetCount() int
	State() health.State
}

// Config tunes the loop.
type Config struct {
	// Settle is waited between powering up and configuring.
	Settle time.Duration
	// CheckInterval is the period of the health check while enabled; 0
	// disables periodic checks.
	CheckInterval time.Duration
	// MaxDispatch bounds the dispatch passes per interrupt while the line
	// stays asserted.
	MaxDispatch int
	// ResetReportLimit stops CONTROLLER_RESET events once the cumulative
	// reset count reaches it.
	ResetReportLimit int
	EnableOnStart    bool
}

// Deps are the collaborators of a Device. Publisher, Tracker, ResetIRQ,
// Slide, Clock and Sleep are optional.
type Deps struct {
	Keypad    *keypad.Keypad
	Chip      Chip
	Power     Power
	IRQ       gpio.Interrupt
	ResetIRQ  gpio.Interrupt
	Health    Health
	Injector  input.Injector
	Publisher mqtt.Publisher
	Tracker   *status.Tracker
	Slide     <-chan input.SlideState
	Clock     Clock
	Sleep     health.SleepFunc
	Logger    *zap.SugaredLogger
}

// Device owns the keypad state and the controller.
type Device struct {
	Deps
	cfg Config

	requests chan func(context.Context)
	done     chan struct{}

	// owned by the loop
	enabled  bool
	slide    input.SlideState
	irqC     <-chan struct{}
	resetC   <-chan struct{}
	debounce Timer
	stats    Timer
	check    Timer
}

// New creates a Device. Run must be called to start it.
func New(deps Deps, cfg Config) *Device {
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.Sleep == nil {
		deps.Sleep = health.Sleep
	}
	if cfg.MaxDispatch <= 0 {
		cfg.MaxDispatch = DefaultMaxDispatch
	}
	if cfg.ResetReportLimit <= 0 {
		cfg.ResetReportLimit = DefaultResetReportLimit
	}
	return &Device{
		Deps:     deps,
		cfg:      cfg,
		requests: make(chan func(context.Context)),
		done:     make(chan struct{}),
	}
}

// Run services the device until ctx is done. On return the keypad has been
// disabled: held keys are released and the controller is powered down.
func (d *Device) Run(ctx context.Context) error {
	defer close(d.done)

	if d.cfg.EnableOnStart {
		d.setEnabled(ctx, true, ReasonStartup)
	}
	d.updateTracker()

	for {
		select {
		case <-ctx.Done():
			d.setEnabled(context.WithoutCancel(ctx), false, ReasonShutdown)
			return ctx.Err()
		case fn := <-d.requests:
			fn(ctx)
		case <-d.irqC:
			d.serviceInterrupt()
		case <-d.resetC:
			d.Logger.Warnf("Reset detect interrupt")
			d.checkHealth(ctx, "RESET_IRQ")
		case <-timerC(d.debounce):
			d.debounceFired()
		case <-timerC(d.stats):
			d.statsTick()
		case <-timerC(d.check):
			d.check = nil
			d.checkHealth(ctx, "PERIODIC")
			if d.enabled && d.check == nil {
				d.check = d.Clock.NewTimer(d.cfg.CheckInterval)
			}
		case s, ok := <-d.Slide:
			if !ok {
				d.Slide = nil
				continue
			}
			d.slide = s
			d.setEnabled(ctx, s.KeypadEnabled(), ReasonSlide)
		}
	}
}

func timerC(t Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

// do runs fn on the loop and waits for it.
func (d *Device) do(ctx context.Context, fn func(context.Context)) error {
	finished := make(chan struct{})
	req := func(lctx context.Context) {
		defer close(finished)
		fn(lctx)
	}
	select {
	case d.requests <- req:
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once accepted, the loop runs fn to completion.
	<-finished
	return nil
}

// serviceInterrupt emulates a level-triggered interrupt: dispatch repeats
// while the line stays asserted, up to MaxDispatch passes.
func (d *Device) serviceInterrupt() {
	for pass := 1; ; pass++ {
		d.Keypad.NoteInterrupt()
		if err := d.dispatch(); err != nil {
			d.Logger.Warnf("Error handling keypad interrupt: %v", err)
		}
		if pass >= d.cfg.MaxDispatch {
			break
		}
		asserted, err := d.IRQ.Asserted()
		if err != nil {
			d.Logger.Warnf("Interrupt line read failed: %v", err)
			break
		}
		if !asserted {
			break
		}
	}
	d.updateTracker()
}

func (d *Device) dispatch() error {
	st, err := d.Chip.InterruptStatus()
	if err != nil {
		return fmt.Errorf("read interrupt status: %w", err)
	}
	if st == 0 {
		d.Logger.Warnf("No interrupt source")
		return nil
	}
	if st&stmpe.IntOverflow != 0 {
		d.Logger.Errorf("Keypad overflow interrupt")
	}
	if st&stmpe.IntKeypad != 0 {
		return d.handleKeypress()
	}
	return nil
}

func (d *Device) handleKeypress() error {
	res, err := d.Keypad.HandleScan(d.Chip, d.Clock.Now)

	for _, h := range res.Adjacent {
		if h.Suppressed {
			d.Logger.Infof("Adjacent key: delay injection")
		} else {
			d.Logger.Infof("Adjacent key detected")
		}
		d.Logger.Debugf("key 0x%X down next to 0x%X", h.Key, h.Adjacent)
	}
	for range res.Blocked {
		d.Logger.Infof("Inadvertent key: blocked")
	}
	for _, batch := range res.Batches {
		d.deliver(batch)
	}

	switch res.Debounce {
	case keypad.DebounceArm:
		d.stopTimer(&d.debounce)
		d.debounce = d.Clock.NewTimer(d.Keypad.InadvertentTimeout())
	case keypad.DebounceCancel:
		d.stopTimer(&d.debounce)
	}

	if res.Accepted > 0 && d.stats == nil {
		d.stats = d.Clock.NewTimer(keypad.StatsInterval)
	}

	if err != nil {
		return fmt.Errorf("read keypad data: %w", err)
	}
	return nil
}

// deliver injects one batch followed by a sync marker.
func (d *Device) deliver(events []keypad.Event) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		if err := d.Injector.Inject(ev); err != nil {
			d.Logger.Warnf("Inject failed: %v", err)
		}
	}
	if err := d.Injector.Sync(); err != nil {
		d.Logger.Warnf("Sync failed: %v", err)
	}
}

func (d *Device) debounceFired() {
	d.debounce = nil
	ev, ok := d.Keypad.DebounceExpired(d.Clock.Now())
	if !ok {
		return
	}
	d.Logger.Infof("Adjacent key: inject key")
	d.deliver([]keypad.Event{ev})
	d.updateTracker()
}

func (d *Device) statsTick() {
	d.stats = nil
	r := d.Keypad.StatsTick(d.Clock.Now())
	c := r.Counters

	d.Logger.Infof("STATS: ints: %d ex:%d kp: %d mk:%d sk:%d rc: %d dc: %d ik: %d",
		c.Interrupts, c.ExtraKey, c.KeysPressed, c.MultiKey, c.StuckKeys, c.ResetCount,
		r.DownKeys, r.InadvertentDetected)
	if d.Publisher != nil {
		if err := d.Publisher.PublishStats(r); err != nil {
			d.Logger.Warnf("Failed to publish stats: %v", err)
		}
	}

	if r.StuckEpisode {
		d.Logger.Errorf("Stuck keys detected")
		d.publish(mqtt.SystemEvent{Timestamp: r.Timestamp, Event: mqtt.EventStuckKey, Count: c.StuckKeys})
	}
	if len(r.Stuck) > 0 {
		d.Logger.Warnf("Stuck key count: %d", len(r.Stuck))
		for _, k := range r.Stuck {
			d.Logger.Debugf("stuck key 0x%X", k)
		}
	}

	if r.Rearm && d.enabled {
		d.stats = d.Clock.NewTimer(keypad.StatsInterval)
	}
	d.updateTracker()
}

// checkHealth runs a health check while enabled; a powered-down controller
// is never checked.
func (d *Device) checkHealth(ctx context.Context, source string) {
	if !d.enabled {
		return
	}
	reset, err := d.Health.Check(ctx)
	if reset {
		d.Keypad.NoteReset()
		n := d.Health.ResetCount()
		if n < d.cfg.ResetReportLimit {
			d.publish(mqtt.SystemEvent{Timestamp: d.Clock.Now(), Event: mqtt.EventControllerReset, Reason: source, Count: n})
		}
	}
	if err != nil {
		d.Logger.Errorf("Reset recovery failed: %v", err)
	}
	d.updateTracker()
}

func (d *Device) setEnabled(ctx context.Context, on bool, reason string) error {
	if on {
		return d.enable(ctx, reason)
	}
	d.disable(reason)
	return nil
}

func (d *Device) enable(ctx context.Context, reason string) error {
	if d.enabled {
		return nil
	}

	var errs []error
	if err := d.Power.SetPower(true); err != nil {
		d.Logger.Errorf("Failed to enable keypad power: %v", err)
		errs = append(errs, err)
	}
	if err := d.Sleep(ctx, d.cfg.Settle); err != nil {
		if perr := d.Power.SetPower(false); perr != nil {
			d.Logger.Errorf("Failed to disable keypad power: %v", perr)
		}
		return err
	}
	if err := d.Chip.Configure(); err != nil {
		d.Logger.Errorf("Failed to configure the keypad: %v", err)
		errs = append(errs, err)
	}

	d.irqC = d.IRQ.Events()
	drain(d.irqC)
	if d.ResetIRQ != nil {
		d.resetC = d.ResetIRQ.Events()
		drain(d.resetC)
	}
	if d.cfg.CheckInterval > 0 {
		d.check = d.Clock.NewTimer(d.cfg.CheckInterval)
	}
	d.enabled = true
	d.Logger.Infof("Keypad enabled (%s)", reason)
	d.publish(mqtt.SystemEvent{Timestamp: d.Clock.Now(), Event: mqtt.EventEnabled, Reason: reason})

	// A level-triggered line already low fires at once.
	if asserted, err := d.IRQ.Asserted(); err == nil && asserted {
		d.serviceInterrupt()
	}
	d.updateTracker()
	return errors.Join(errs...)
}

func (d *Device) disable(reason string) {
	if !d.enabled {
		return
	}

	d.stopTimer(&d.stats)
	d.stopTimer(&d.debounce)
	d.stopTimer(&d.check)
	d.irqC, d.resetC = nil, nil

	if err := d.Power.SetPower(false); err != nil {
		d.Logger.Errorf("Failed to disable keypad power: %v", err)
	}

	released := d.Keypad.ForceRelease(d.Clock.Now())
	d.deliver(released)

	d.enabled = false
	d.Logger.Infof("Keypad disabled (%s), released %d keys", reason, len(released))
	d.publish(mqtt.SystemEvent{Timestamp: d.Clock.Now(), Event: mqtt.EventDisabled, Reason: reason})
	d.updateTracker()
}

func (d *Device) stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func drain(c <-chan struct{}) {
	select {
	case <-c:
	default:
	}
}

func (d *Device) publish(ev mqtt.SystemEvent) {
	if d.Publisher == nil {
		return
	}
	if err := d.Publisher.PublishSystem(ev); err != nil {
		d.Logger.Warnf("Failed to publish %s: %v", ev.Event, err)
	}
}

func (d *Device) updateTracker() {
	if d.Tracker == nil {
		return
	}
	d.Tracker.UpdateKeypad(d.enabled, d.Keypad.DownCount(), d.Keypad.Counters(), d.Keypad.LastKeypress())
	d.Tracker.SetHealth(d.Health.State().String(), d.Health.ResetCount())
	d.Tracker.SetDeviceName(d.Injector.Name())
}

// SetEnabled powers the keypad up or down. Errors configuring the controller
// are returned but leave the keypad enabled.
func (d *Device) SetEnabled(ctx context.Context, on bool) error {
	var err error
	if rerr := d.do(ctx, func(lctx context.Context) {
		err = d.setEnabled(lctx, on, ReasonRequest)
	}); rerr != nil {
		return rerr
	}
	return err
}

// Enabled reports whether the keypad is enabled.
func (d *Device) Enabled(ctx context.Context) (bool, error) {
	var on bool
	err := d.do(ctx, func(context.Context) { on = d.enabled })
	return on, err
}

// DownKeys returns the keys currently held, in ascending order.
func (d *Device) DownKeys(ctx context.Context) ([]keypad.Key, error) {
	var keys []keypad.Key
	err := d.do(ctx, func(context.Context) { keys = d.Keypad.DownKeys() })
	return keys, err
}

// Status reports whether the controller still holds its interrupt
// configuration. A disabled keypad reports false without touching the bus.
func (d *Device) Status(ctx context.Context) (bool, error) {
	var ok bool
	var err error
	if rerr := d.do(ctx, func(context.Context) {
		if d.enabled {
			ok, err = d.Chip.Healthy()
		}
	}); rerr != nil {
		return false, rerr
	}
	return ok, err
}

// ResetCount returns the cumulative number of controller resets.
func (d *Device) ResetCount() int {
	return d.Health.ResetCount()
}

// ConsumeCounters returns the diagnostic counters and zeroes them.
func (d *Device) ConsumeCounters(ctx context.Context) (keypad.CounterReport, error) {
	var r keypad.CounterReport
	err := d.do(ctx, func(context.Context) {
		r = d.Keypad.ConsumeCounters()
		d.updateTracker()
	})
	return r, err
}

// EventLog renders the obfuscated event log.
func (d *Device) EventLog(ctx context.Context) (string, error) {
	var s string
	err := d.do(ctx, func(context.Context) { s = d.Keypad.EventLog() })
	return s, err
}

// SelectName switches the advertised keyboard layout name.
func (d *Device) SelectName(ctx context.Context, variant int) error {
	name := input.SelectName(variant)
	var err error
	if rerr := d.do(ctx, func(context.Context) {
		if name == d.Injector.Name() {
			return
		}
		if err = d.Injector.SetName(name); err == nil {
			d.Logger.Infof("Keyboard layout: %s", name)
			d.updateTracker()
		}
	}); rerr != nil {
		return rerr
	}
	return err
}

// SlideState returns the last slide switch state seen.
func (d *Device) SlideState(ctx context.Context) (input.SlideState, error) {
	var s input.SlideState
	err := d.do(ctx, func(context.Context) { s = d.slide })
	return s, err
}
