// Command keypad-monitor decodes an STMPE keypad controller, filters
// inadvertent presses and injects the result as a virtual keyboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/keypad-monitor/internal/config"
	"github.com/sweeney/keypad-monitor/internal/device"
	"github.com/sweeney/keypad-monitor/internal/health"
	"github.com/sweeney/keypad-monitor/internal/input"
	"github.com/sweeney/keypad-monitor/internal/keypad"
	"github.com/sweeney/keypad-monitor/internal/mqtt"
	"github.com/sweeney/keypad-monitor/internal/status"
	"github.com/sweeney/keypad-monitor/internal/stmpe"
	"github.com/sweeney/keypad-monitor/internal/web"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Configuration file (.yaml, .yml or .toml)")
	flag.String("log-level", "", "Override log.level (debug, info, warn, error)")
	flag.String("http", "", `Override http.addr ("off" disables)`)
	flag.String("broker", "", `Override mqtt.broker ("off" disables)`)
	probeOnly := flag.Bool("probe", false, "Print the controller identity and exit")

	flag.Parse()

	overrides := make(map[string]string)
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level", "http", "broker":
			overrides[f.Name] = f.Value.String()
		}
	})

	if err := run(*configPath, overrides, *probeOnly); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyOverrides applies command-line settings over the file.
func applyOverrides(cfg *config.Config, overrides map[string]string) {
	if v, ok := overrides["log-level"]; ok {
		cfg.Log.Level = v
	}
	if v, ok := overrides["http"]; ok {
		if v == "off" {
			v = ""
		}
		cfg.HTTP.Addr = v
	}
	if v, ok := overrides["broker"]; ok {
		if v == "off" {
			v = ""
		}
		cfg.MQTT.Broker = v
	}
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if lvl.Level() == zap.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func run(configPath string, overrides map[string]string, probeOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(overrides) > 0 {
		applyOverrides(cfg, overrides)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	hw, err := openHardware(cfg)
	if err != nil {
		return fmt.Errorf("init hardware: %w", err)
	}
	defer hw.Close()

	chip := stmpe.NewChip(hw.bus, cfg.ChipConfig(), logger)

	id, err := probe(context.Background(), chip, hw.power, cfg.Health.Settle.D())
	if probeOnly {
		fmt.Printf("controller id: 0x%02x\n", id)
		return err
	}
	if err != nil {
		return fmt.Errorf("probe controller: %w", err)
	}
	logger.Infof("controller id: 0x%02x", id)

	kp, err := keypad.New(cfg.Layout(), uint8(rand.IntN(255)+1))
	if err != nil {
		return fmt.Errorf("init keypad: %w", err)
	}

	injector, err := input.NewUinputInjector(input.DefaultUinputPath, input.DeviceNames[0])
	if err != nil {
		return fmt.Errorf("init uinput: %w", err)
	}
	defer injector.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:               cfg.MQTT.Broker,
		HTTPAddr:             cfg.HTTP.Addr,
		ScanFrequency:        cfg.Controller.ScanFrequency,
		InadvertentTimeoutMs: cfg.InadvertentTimeout.D().Milliseconds(),
		CheckIntervalMs:      cfg.Health.CheckInterval.D().Milliseconds(),
		SlideDevice:          cfg.Slide.Device,
	})
	tracker.SetDeviceName(injector.Name())

	a := &app{tracker: tracker, logger: logger, now: time.Now}

	if cfg.MQTT.Broker != "" {
		publisher, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			TopicPrefix:        cfg.MQTT.TopicPrefix,
			BufferSize:         cfg.MQTT.BufferSize,
			OnConnectionChange: tracker.SetMQTTConnected,
		}, logger)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer publisher.Close()
		a.pub = publisher
		a.conn = publisher
	}

	monitor := health.NewMonitor(chip, hw.power, cfg.HealthConfig(), logger)
	monitor.OnTransition = func(from, to health.State) {
		logger.Infof("controller health: %s -> %s", from, to)
		tracker.SetHealth(to.String(), monitor.ResetCount())
	}

	deps := device.Deps{
		Keypad:    kp,
		Chip:      chip,
		Power:     hw.power,
		IRQ:       hw.irq,
		ResetIRQ:  hw.resetIRQ,
		Health:    monitor,
		Injector:  injector,
		Publisher: a.pub,
		Tracker:   tracker,
		Logger:    logger,
	}

	if cfg.Slide.Device != "" {
		slide, err := input.OpenSlide(cfg.Slide.Device, cfg.Slide.TransitionCode)
		if err != nil {
			return fmt.Errorf("open slide switch: %w", err)
		}
		defer slide.Close()
		slideC := make(chan input.SlideState)
		a.slide = slide
		a.slideC = slideC
		deps.Slide = slideC
	}

	a.dev = device.New(deps, device.Config{
		Settle:        cfg.Health.Settle.D(),
		CheckInterval: cfg.Health.CheckInterval.D(),
		EnableOnStart: cfg.EnableOnStart,
	})

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, a.dev, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Infof("http status server listening on %s", cfg.HTTP.Addr)
	}

	logger.Infof("started: bus=%s addr=0x%02x scan=%dHz broker=%q enable_on_start=%v",
		cfg.Bus.Name, cfg.Bus.Address, cfg.Controller.ScanFrequency, cfg.MQTT.Broker, cfg.EnableOnStart)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return a.run(sigCh)
}
