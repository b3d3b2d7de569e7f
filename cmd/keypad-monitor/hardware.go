package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/keypad-monitor/internal/config"
	"github.com/sweeney/keypad-monitor/internal/gpio"
	"github.com/sweeney/keypad-monitor/internal/health"
	"github.com/sweeney/keypad-monitor/internal/stmpe"
)

// hardware is the controller bus and its host lines.
type hardware struct {
	bus      *stmpe.I2CBus
	lines    *gpio.RealChip
	power    *gpio.Power
	irq      gpio.Interrupt
	resetIRQ gpio.Interrupt // nil when not wired
}

func openHardware(cfg *config.Config) (_ *hardware, err error) {
	hw := &hardware{power: &gpio.Power{}}
	defer func() {
		if err != nil {
			hw.Close()
		}
	}()

	if hw.bus, err = stmpe.OpenI2C(cfg.Bus.Name, cfg.Bus.Address); err != nil {
		return nil, err
	}
	if hw.lines, err = gpio.OpenChip(cfg.GPIO.Chip); err != nil {
		return nil, err
	}

	// The controller stays powered down until the keypad is enabled.
	reset, err := hw.lines.Output(cfg.GPIO.Reset, false)
	if err != nil {
		return nil, fmt.Errorf("reset line: %w", err)
	}
	hw.power.Reset = reset
	if cfg.GPIO.Regulator >= 0 {
		reg, err := hw.lines.Output(cfg.GPIO.Regulator, false)
		if err != nil {
			return nil, fmt.Errorf("regulator line: %w", err)
		}
		hw.power.Regulator = reg
	}

	irq, err := hw.lines.Interrupt(cfg.GPIO.Interrupt)
	if err != nil {
		return nil, fmt.Errorf("interrupt line: %w", err)
	}
	hw.irq = irq
	if cfg.GPIO.ResetDetect >= 0 {
		rd, err := hw.lines.Interrupt(cfg.GPIO.ResetDetect)
		if err != nil {
			return nil, fmt.Errorf("reset detect line: %w", err)
		}
		hw.resetIRQ = rd
	}
	return hw, nil
}

func (hw *hardware) Close() error {
	var errs []error
	if hw.resetIRQ != nil {
		errs = append(errs, hw.resetIRQ.Close())
	}
	if hw.irq != nil {
		errs = append(errs, hw.irq.Close())
	}
	errs = append(errs, hw.power.Close())
	if hw.lines != nil {
		errs = append(errs, hw.lines.Close())
	}
	if hw.bus != nil {
		errs = append(errs, hw.bus.Close())
	}
	return errors.Join(errs...)
}

// probe powers the controller, checks its identity and powers it down
// again. It returns the identity read. A read failure may be retried; an
// unexpected identity wraps stmpe.ErrUnknownChip.
func probe(ctx context.Context, chip *stmpe.Chip, power health.Power, settle time.Duration) (byte, error) {
	if err := power.SetPower(true); err != nil {
		return 0, err
	}
	defer power.SetPower(false)

	if err := health.Sleep(ctx, settle); err != nil {
		return 0, err
	}
	id, err := chip.ChipID()
	if err != nil {
		return 0, fmt.Errorf("read chip id: %w", err)
	}
	if id != stmpe.ChipID {
		return id, fmt.Errorf("%w: 0x%02x", stmpe.ErrUnknownChip, id)
	}
	return id, nil
}
