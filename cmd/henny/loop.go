package main

import (
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/henny/internal/button"
	"github.com/sweeney/henny/internal/feeder"
	"github.com/sweeney/henny/internal/gpio"
	"github.com/sweeney/henny/internal/mqtt"
	"github.com/sweeney/henny/internal/status"
	"github.com/sweeney/henny/internal/store"
)

// loopDeps are the collaborators owned by the control loop.
type loopDeps struct {
	feeder    *feeder.Orchestrator
	store     *store.Store
	button    gpio.Input
	detector  *button.Detector
	publisher mqtt.Publisher
	mqtt      mqtt.ConnectionStatus // nil when unknown
	tracker   *status.Tracker       // nil disables status updates
	tickEvery time.Duration         // feeding schedule cadence
	now       func() time.Time
}

// channels feed the control loop.
type channels struct {
	tick     <-chan time.Time
	requests <-chan feeder.Request
	reloads  <-chan struct{}
	sig      <-chan os.Signal
}

// runLoop is the only goroutine that touches the scheduler, the button
// detector and store mutations. It returns after a shutdown signal.
func runLoop(d loopDeps, ch channels) error {
	var lastFeedTick time.Time

	for {
		select {
		case s := <-ch.sig:
			log.Printf("received %v, shutting down", s)
			shutdown(d, signalName(s))
			return nil

		case <-ch.tick:
			t := d.now()

			level, err := d.button.Read()
			if err != nil {
				log.Printf("button read error: %v", err)
			} else if press := d.detector.Process(button.Sample{High: level == gpio.High, Time: t}); press != button.None {
				log.Printf("button: %s press", press)
				d.feeder.HandleButton(press)
				updateTracker(d, t)
			}

			if lastFeedTick.IsZero() || t.Sub(lastFeedTick) >= d.tickEvery {
				lastFeedTick = t
				d.feeder.Tick(t)
				updateTracker(d, t)
			}

		case req := <-ch.requests:
			rep := d.feeder.Execute(req.Command)
			req.Respond(rep)
			if req.Command.Kind != feeder.CmdStatus {
				updateTracker(d, d.now())
			}

		case <-ch.reloads:
			changed, err := d.store.Reload()
			if err != nil {
				log.Printf("config reload: %v", err)
				continue
			}
			if changed {
				log.Printf("config reloaded from %s", d.store.Path())
				d.feeder.RefreshReadyLED()
				updateTracker(d, d.now())
			}
		}
	}
}

func updateTracker(d loopDeps, t time.Time) {
	if d.tracker == nil {
		return
	}
	d.tracker.Update(d.feeder.Report(t), d.detector.CountsSnapshot())
	if d.mqtt != nil {
		d.tracker.SetMQTT(mqttInfo(d.mqtt))
	}
}

func shutdown(d loopDeps, reason string) {
	if err := d.feeder.Stop(); err != nil {
		log.Printf("stop motor: %v", err)
	}
	if err := d.store.Flush(); err != nil {
		log.Printf("flush config: %v", err)
	}

	event := mqtt.SystemEvent{
		Timestamp: d.now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if d.tracker != nil {
		updateTracker(d, event.Timestamp)
		event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
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

// bufferState is implemented by publishers that queue while offline.
type bufferState interface {
	Buffered() int
	Dropped() int
}

func mqttInfo(s mqtt.ConnectionStatus) status.MQTTInfo {
	info := status.MQTTInfo{Connected: s.IsConnected()}
	if b, ok := s.(bufferState); ok {
		info.Buffered = b.Buffered()
		info.Dropped = b.Dropped()
	}
	return info
}

// guard runs fn and turns a panic or error into an emergency stop followed
// by a pause, so the supervisor restarts a process with the motor off.
func guard(emergencyStop func() error, restartDelay time.Duration, sleep func(time.Duration), fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("control loop panic: %v", r)
		}
		if err == nil {
			return
		}
		log.Printf("fatal: %v; stopping motor", err)
		if stopErr := emergencyStop(); stopErr != nil {
			log.Printf("emergency stop: %v", stopErr)
		}
		sleep(restartDelay)
	}()
	return fn()
}
