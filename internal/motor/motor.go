// Package motor owns the spreader relay, the activity LED and the safety
// timer. It converts a requested mass into a bounded run and guarantees the
// motor never runs twice at once or past its ceiling.
//
// The deadline and LED callbacks run on the clock's timer goroutines. They
// only touch Controller fields under mu (and the LED under ledMu); every
// other package is driven from the control loop alone.
package motor

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sweeney/henny/internal/gpio"
)

var (
	// ErrBusy is returned when a run is requested while the motor is running.
	ErrBusy = errors.New("motor: already running")

	// ErrUncalibrated is returned by Spread when no calibration rate is stored.
	ErrUncalibrated = errors.New("motor: spreader not calibrated")

	// ErrZeroRun is returned when the computed run time is zero.
	ErrZeroRun = errors.New("motor: zero-length run")
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultBlinkPeriod  = 250 * time.Millisecond
	CalibrationDuration = 10 * time.Second
	TestDuration        = 3 * time.Second
)

// StopReason records why a run ended.
type StopReason string

const (
	StopDeadline  StopReason = "deadline"
	StopRequested StopReason = "requested"
	StopEmergency StopReason = "emergency"
)

// Calibration provides the current dispensing rate.
type Calibration interface {
	// CalibrationRate returns grams dispensed per 10 s of run time; <= 0 means uncalibrated.
	CalibrationRate() float64
}

// Recorder observes motor activity. Implementations must be safe for
// concurrent use.
type Recorder interface {
	MotorStarted(d time.Duration, clamped bool)
	MotorStopped(reason StopReason, ran time.Duration)
}

// Config holds the controller's timing parameters.
type Config struct {
	Timeout     time.Duration // safety ceiling for a single run
	BlinkPeriod time.Duration // activity LED toggle period
}

// Run describes an accepted activation.
type Run struct {
	Requested time.Duration // before clamping
	Duration  time.Duration
	Clamped   bool
	StartedAt time.Time
	StopAt    time.Time
}

// Status is a read-only snapshot of the controller.
type Status struct {
	Running     bool
	Calibrated  bool
	Rate        float64
	StartedAt   time.Time
	StopAt      time.Time
	Timeout     time.Duration
	Activations int
}

// Controller is the single owner of the spreader hardware.
type Controller struct {
	relay gpio.Output
	led   gpio.Output
	clock clockwork.Clock
	cal   Calibration
	rec   Recorder
	cfg   Config

	mu          sync.Mutex
	running     bool
	session     uint64
	startedAt   time.Time
	stopAt      time.Time
	deadline    clockwork.Timer
	blinkStop   chan struct{}
	activations int

	ledMu   sync.Mutex
	ledOn   bool
	readyOn bool // solid LED state while idle
}

// New creates a Controller. The relay and LED are driven low before anything
// else so a restart never inherits a running motor.
func New(relay, led gpio.Output, clock clockwork.Clock, cal Calibration, cfg Config) (*Controller, error) {
	if err := relay.SetLow(); err != nil {
		return nil, fmt.Errorf("de-assert relay: %w", err)
	}
	if err := led.SetLow(); err != nil {
		return nil, fmt.Errorf("clear led: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BlinkPeriod <= 0 {
		cfg.BlinkPeriod = DefaultBlinkPeriod
	}

	return &Controller{
		relay: relay,
		led:   led,
		clock: clock,
		cal:   cal,
		cfg:   cfg,
	}, nil
}

// SetRecorder attaches an activity recorder.
func (c *Controller) SetRecorder(r Recorder) {
	c.mu.Lock()
	c.rec = r
	c.mu.Unlock()
}

// Spread runs the motor long enough to dispense grams at the stored rate.
// The run is clamped to the safety ceiling; clamping is reported, not refused.
func (c *Controller) Spread(grams float64) (Run, error) {
	if c.Running() {
		return Run{}, ErrBusy
	}
	rate := c.cal.CalibrationRate()
	if rate <= 0 {
		return Run{}, ErrUncalibrated
	}

	requested := runTime(grams, rate)
	run, err := c.activate(requested)
	if err != nil {
		return Run{}, err
	}
	log.Printf("motor: spreading %.1fg (rate %.1fg/10s, run %v, clamped=%v)", grams, rate, run.Duration, run.Clamped)
	return run, nil
}

// CalibrationRun runs the motor for a fixed duration, clamped to the ceiling.
func (c *Controller) CalibrationRun(d time.Duration) (Run, error) {
	run, err := c.activate(d)
	if err != nil {
		return Run{}, err
	}
	log.Printf("motor: fixed run for %v", run.Duration)
	return run, nil
}

func (c *Controller) activate(requested time.Duration) (Run, error) {
	d := requested
	clamped := false
	if d < 0 {
		d = 0
	}
	if d > c.cfg.Timeout {
		d = c.cfg.Timeout
		clamped = true
	}
	if d == 0 {
		return Run{}, ErrZeroRun
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return Run{}, ErrBusy
	}

	if err := c.relay.SetHigh(); err != nil {
		if lowErr := c.relay.SetLow(); lowErr != nil {
			log.Printf("motor: relay de-assert after failed start: %v", lowErr)
		}
		return Run{}, fmt.Errorf("assert relay: %w", err)
	}

	now := c.clock.Now()
	c.running = true
	c.session++
	c.activations++
	c.startedAt = now
	c.stopAt = now.Add(d)

	id := c.session
	c.deadline = c.clock.AfterFunc(d, func() { c.expire(id) })
	c.startBlinkLocked()

	if c.rec != nil {
		c.rec.MotorStarted(d, clamped)
	}

	return Run{
		Requested: requested,
		Duration:  d,
		Clamped:   clamped,
		StartedAt: now,
		StopAt:    c.stopAt,
	}, nil
}

// expire is the deadline callback. A deadline left over from an earlier
// session is ignored.
func (c *Controller) expire(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.session != id {
		return
	}
	if err := c.stopLocked(StopDeadline, c.stopAt.Sub(c.startedAt)); err != nil {
		log.Printf("motor: stop at deadline: %v", err)
	}
}

// Stop ends the current run. Calling it while idle is harmless.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(StopRequested, c.clock.Since(c.startedAt))
}

// EmergencyStop forces the relay low whatever the controller believes its
// state to be. Safe to call from any goroutine, including deferred recovery.
func (c *Controller) EmergencyStop() error {
	log.Printf("motor: EMERGENCY STOP")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(StopEmergency, c.clock.Since(c.startedAt))
}

func (c *Controller) stopLocked(reason StopReason, ran time.Duration) error {
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}

	// Always drive the relay low, even when already idle.
	err := c.relay.SetLow()
	if err != nil {
		err = fmt.Errorf("de-assert relay: %w", err)
	}

	if !c.running {
		return err
	}

	c.stopBlinkLocked()
	c.running = false
	log.Printf("motor: stopped (%s) after %v", reason, ran)
	if c.rec != nil {
		c.rec.MotorStopped(reason, ran)
	}
	return err
}

func (c *Controller) startBlinkLocked() {
	stop := make(chan struct{})
	c.blinkStop = stop
	ticker := c.clock.NewTicker(c.cfg.BlinkPeriod)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				c.toggleLED(stop)
			}
		}
	}()
}

// toggleLED flips the LED unless the blink has been cancelled. Checking stop
// under ledMu means no toggle can land after stopBlinkLocked restored the LED.
func (c *Controller) toggleLED(stop <-chan struct{}) {
	c.ledMu.Lock()
	defer c.ledMu.Unlock()
	select {
	case <-stop:
		return
	default:
	}
	c.ledOn = !c.ledOn
	c.writeLEDLocked(c.ledOn)
}

func (c *Controller) stopBlinkLocked() {
	if c.blinkStop != nil {
		close(c.blinkStop)
		c.blinkStop = nil
	}
	c.ledMu.Lock()
	c.ledOn = c.readyOn
	c.writeLEDLocked(c.readyOn)
	c.ledMu.Unlock()
}

func (c *Controller) writeLEDLocked(on bool) {
	var err error
	if on {
		err = c.led.SetHigh()
	} else {
		err = c.led.SetLow()
	}
	if err != nil {
		log.Printf("motor: led write: %v", err)
	}
}

// SetReadyLED sets the solid LED state shown while idle. While a run is in
// progress the LED keeps blinking and the new state applies when it ends.
func (c *Controller) SetReadyLED(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledMu.Lock()
	defer c.ledMu.Unlock()
	c.readyOn = on
	if !c.running {
		c.ledOn = on
		c.writeLEDLocked(on)
	}
}

// Running reports whether the motor is running.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// RunTimeFor returns the clamped run time Spread would use for grams, zero
// when uncalibrated.
func (c *Controller) RunTimeFor(grams float64) time.Duration {
	rate := c.cal.CalibrationRate()
	if rate <= 0 {
		return 0
	}
	d := runTime(grams, rate)
	if d > c.cfg.Timeout {
		return c.cfg.Timeout
	}
	return d
}

// runTime converts grams at rate (grams per 10 s) to a run time. Results too
// large for a Duration saturate so the clamp still applies; NaN and negative
// inputs give zero.
func runTime(grams, rate float64) time.Duration {
	secs := grams / rate * 10
	switch {
	case math.IsNaN(secs) || secs <= 0:
		return 0
	case secs >= math.MaxInt64/float64(time.Second):
		return math.MaxInt64
	}
	return time.Duration(secs * float64(time.Second))
}

// Status returns a snapshot without side effects.
func (c *Controller) Status() Status {
	rate := c.cal.CalibrationRate()
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Running:     c.running,
		Calibrated:  rate > 0,
		Rate:        rate,
		Timeout:     c.cfg.Timeout,
		Activations: c.activations,
	}
	if c.running {
		s.StartedAt = c.startedAt
		s.StopAt = c.stopAt
	}
	return s
}

// Close stops the motor and releases the outputs.
func (c *Controller) Close() error {
	var errs []error
	if err := c.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := c.relay.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close relay: %w", err))
	}
	if err := c.led.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close led: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
