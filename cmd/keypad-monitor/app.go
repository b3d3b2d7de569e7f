package main

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/keypad-monitor/internal/device"
	"github.com/sweeney/keypad-monitor/internal/input"
	"github.com/sweeney/keypad-monitor/internal/mqtt"
	"github.com/sweeney/keypad-monitor/internal/status"
)

// slideSource streams slide switch states until ctx is done.
type slideSource interface {
	Run(ctx context.Context, out chan<- input.SlideState) error
}

// app runs the device loop between the STARTUP and SHUTDOWN events.
type app struct {
	dev     *device.Device
	pub     mqtt.Publisher        // optional
	conn    mqtt.ConnectionStatus // optional
	tracker *status.Tracker
	slide   slideSource // optional
	slideC  chan<- input.SlideState
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func (a *app) run(sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.publishLifecycle(mqtt.EventStartup, "")

	if a.slide != nil {
		go func() {
			if err := a.slide.Run(ctx, a.slideC); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Errorf("Slide switch listener stopped: %v", err)
			}
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- a.dev.Run(ctx) }()

	s := <-sig
	a.logger.Infof("received %v, shutting down", s)
	cancel()
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Errorf("device loop: %v", err)
	}

	a.publishLifecycle(mqtt.EventShutdown, signalName(s))
	return nil
}

// publishLifecycle sends a retained event carrying the full status snapshot.
func (a *app) publishLifecycle(event, reason string) {
	if a.pub == nil {
		return
	}
	if a.conn != nil {
		a.tracker.SetMQTTConnected(a.conn.IsConnected())
	}
	snap := a.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  a.now(),
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := a.pub.PublishSystem(ev); err != nil {
		a.logger.Warnf("failed to publish %s event: %v", event, err)
	} else {
		a.logger.Infof("published %s event", event)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
