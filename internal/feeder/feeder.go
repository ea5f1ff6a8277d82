// Package feeder is the single funnel for every feed request. Scheduled
// ticks, button presses and remote commands all end up here; the package
// applies the feeding policy, drives the motor and keeps the bookkeeping.
//
// An Orchestrator is not safe for concurrent use. The control loop owns it
// and remote callers reach it through a Dispatcher.
package feeder

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sweeney/henny/internal/button"
	"github.com/sweeney/henny/internal/feed"
	"github.com/sweeney/henny/internal/journal"
	"github.com/sweeney/henny/internal/metrics"
	"github.com/sweeney/henny/internal/motor"
	"github.com/sweeney/henny/internal/schedule"
	"github.com/sweeney/henny/internal/store"
)

// ErrInvalidAmount is returned for a manual feed of zero or fewer grams.
var ErrInvalidAmount = errors.New("feeder: amount must be positive")

// Source identifies what triggered a motor run.
type Source string

const (
	SourceSchedule    Source = "schedule"
	SourceButton      Source = "button"
	SourceRemote      Source = "remote"
	SourceCalibration Source = "calibration"
	SourceTest        Source = "test"
)

// Result describes an accepted feed request.
type Result struct {
	ID     string
	Source Source
	Grams  float64 // 0 for fixed-duration runs
	Run    motor.Run

	// StoreErr is set when the run started but the bookkeeping could not be
	// persisted. Memory already reflects the feed.
	StoreErr error
}

// Options carries the optional collaborators of an Orchestrator.
type Options struct {
	Clock    clockwork.Clock  // defaults to the real clock
	Location *time.Location   // defaults to time.Local
	Journal  *journal.Journal // nil disables the run journal
	Metrics  *metrics.Recorder
	Sink     EventSink
}

// Orchestrator coordinates the scheduler, the feed calculator and the motor.
type Orchestrator struct {
	store   *store.Store
	motor   *motor.Controller
	sched   *schedule.Scheduler
	journal *journal.Journal
	metrics *metrics.Recorder
	sink    EventSink
	clock   clockwork.Clock
	loc     *time.Location

	skippedSlot string // slot already skipped; not retried in its window
	newID       func() string
}

// New creates an Orchestrator.
func New(st *store.Store, m *motor.Controller, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Orchestrator{
		store:   st,
		motor:   m,
		sched:   schedule.New(st),
		journal: opts.Journal,
		metrics: opts.Metrics,
		sink:    opts.Sink,
		clock:   opts.Clock,
		loc:     opts.Location,
		newID:   uuid.NewString,
	}
}

// Now returns the current time in the feeder's location.
func (o *Orchestrator) Now() time.Time {
	return o.clock.Now().In(o.loc)
}

// Scheduler exposes the scheduler for read-only queries.
func (o *Orchestrator) Scheduler() *schedule.Scheduler {
	return o.sched
}

// Tick runs one scheduling pass: daily rollover, then a feed if now falls
// in an open slot. A slot skipped because the motor was busy or the spreader
// uncalibrated is not retried.
func (o *Orchestrator) Tick(now time.Time) {
	now = now.In(o.loc)

	if _, err := o.sched.RolloverIfNewDay(now); err != nil {
		log.Printf("feeder: %v", err)
	}

	if !o.sched.IsFeedingTimeNow(now) {
		return
	}
	slot := now.Format("2006-01-02T15")
	if slot == o.skippedSlot {
		return
	}

	grams := o.SessionGrams(now)
	if grams <= 0 {
		o.skip(SourceSchedule, 0, ReasonNoBirds, now)
		o.skippedSlot = slot
		return
	}

	log.Printf("feeder: scheduled feed at %s: %dg", now.Format("15:04"), grams)
	if _, err := o.spread(SourceSchedule, float64(grams), now); err != nil {
		o.skippedSlot = slot
	}
}

// SessionGrams returns the amount fed by one scheduled session at now.
func (o *Orchestrator) SessionGrams(now time.Time) int {
	return feed.SessionFeedGrams(o.DailyGrams(now), o.sched.SessionsPerDay(now))
}

// DailyGrams returns today's feed target.
func (o *Orchestrator) DailyGrams(now time.Time) int {
	return feed.DailyFeedGrams(o.store.Flock(), o.store.Policy(), feed.SeasonOf(now), now)
}

// RequestManualFeed feeds grams now, outside the schedule. Exclusivity and
// the session bookkeeping still apply.
func (o *Orchestrator) RequestManualFeed(source Source, grams float64) (Result, error) {
	now := o.Now()
	if grams <= 0 {
		o.metrics.IncFeed(string(source), "rejected")
		return Result{}, ErrInvalidAmount
	}
	log.Printf("feeder: manual feed (%s): %.0fg", source, grams)
	return o.spread(source, grams, now)
}

// RequestCalibrationRun runs the motor for the fixed calibration period.
// Scheduler state is not touched.
func (o *Orchestrator) RequestCalibrationRun() (Result, error) {
	return o.fixedRun(SourceCalibration, motor.CalibrationDuration)
}

// RequestTestRun runs the motor briefly to check the wiring.
func (o *Orchestrator) RequestTestRun() (Result, error) {
	return o.fixedRun(SourceTest, motor.TestDuration)
}

// SaveCalibration stores the grams measured after a calibration run as the
// new rate. The calibration run lasts 10 s, so the measurement is the rate.
func (o *Orchestrator) SaveCalibration(measured float64) error {
	if err := o.store.SaveCalibration(measured, o.Now()); err != nil {
		return err
	}
	log.Printf("feeder: calibration saved: %.1fg/10s", measured)
	return nil
}

// ResetDailyCount zeroes today's session count.
func (o *Orchestrator) ResetDailyCount() error {
	return o.sched.ResetDailyCount()
}

// HandleButton acts on a completed button press: short feeds the manual
// amount, long starts a calibration run.
func (o *Orchestrator) HandleButton(p button.Press) {
	var err error
	switch p {
	case button.Short:
		_, err = o.RequestManualFeed(SourceButton, float64(o.store.ManualFeedGrams()))
	case button.Long:
		_, err = o.RequestCalibrationRun()
	default:
		return
	}
	if err != nil {
		log.Printf("feeder: button %s: %v", p, err)
	}
}

// Stop ends the current run.
func (o *Orchestrator) Stop() error {
	return o.motor.Stop()
}

// EmergencyStop forces the motor off.
func (o *Orchestrator) EmergencyStop() error {
	return o.motor.EmergencyStop()
}

// RefreshReadyLED shows the ready indicator when the spreader is calibrated.
func (o *Orchestrator) RefreshReadyLED() {
	o.motor.SetReadyLED(o.store.CalibrationRate() > 0)
}

func (o *Orchestrator) spread(source Source, grams float64, now time.Time) (Result, error) {
	run, err := o.motor.Spread(grams)
	if err != nil {
		o.skip(source, grams, reasonFor(err), now)
		if reasonFor(err) == ReasonFailed {
			log.Printf("feeder: %s feed: %v", source, err)
		}
		return Result{}, err
	}

	res := Result{ID: o.newID(), Source: source, Grams: grams, Run: run}
	o.started(res, now)

	if err := o.sched.RecordFeeding(now); err != nil {
		log.Printf("feeder: %v", err)
		res.StoreErr = err
	}
	return res, nil
}

func (o *Orchestrator) fixedRun(source Source, d time.Duration) (Result, error) {
	now := o.Now()
	run, err := o.motor.CalibrationRun(d)
	if err != nil {
		o.skip(source, 0, reasonFor(err), now)
		if reasonFor(err) == ReasonFailed {
			log.Printf("feeder: %s run: %v", source, err)
		}
		return Result{}, err
	}
	res := Result{ID: o.newID(), Source: source, Run: run}
	o.started(res, now)
	return res, nil
}

func (o *Orchestrator) started(res Result, now time.Time) {
	o.metrics.IncFeed(string(res.Source), "started")

	if o.journal != nil {
		err := o.journal.Append(context.Background(), journal.Entry{
			ID:       res.ID,
			Time:     now,
			Source:   string(res.Source),
			Grams:    res.Grams,
			Duration: res.Run.Duration,
			Clamped:  res.Run.Clamped,
		})
		if err != nil {
			log.Printf("feeder: journal: %v", err)
		}
	}

	if res.Run.Clamped {
		log.Printf("feeder: run clamped from %v to %v", res.Run.Requested, res.Run.Duration)
	}

	o.publish(Event{
		ID:       res.ID,
		Type:     EventFeedStarted,
		Source:   res.Source,
		Grams:    res.Grams,
		Duration: res.Run.Duration,
		Clamped:  res.Run.Clamped,
		Time:     now,
	})
}

func (o *Orchestrator) skip(source Source, grams float64, reason string, now time.Time) {
	log.Printf("feeder: %s feed skipped: %s", source, reason)
	o.metrics.IncFeed(string(source), reason)
	o.publish(Event{
		ID:     o.newID(),
		Type:   EventFeedSkipped,
		Source: source,
		Grams:  grams,
		Reason: reason,
		Time:   now,
	})
}

func (o *Orchestrator) publish(ev Event) {
	if o.sink != nil {
		o.sink.PublishFeed(ev)
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, motor.ErrBusy):
		return ReasonBusy
	case errors.Is(err, motor.ErrUncalibrated):
		return ReasonUncalibrated
	case errors.Is(err, motor.ErrZeroRun):
		return ReasonZeroRun
	default:
		return ReasonFailed
	}
}
