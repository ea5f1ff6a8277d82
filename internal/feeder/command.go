package feeder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/henny/internal/motor"
	"github.com/sweeney/henny/internal/store"
)

// CommandKind names a remote operation.
type CommandKind string

const (
	CmdFeed            CommandKind = "feed"
	CmdCalibrate       CommandKind = "calibrate"
	CmdSaveCalibration CommandKind = "save_calibration"
	CmdTestMotor       CommandKind = "test_motor"
	CmdStop            CommandKind = "stop"
	CmdAddChicks       CommandKind = "add_chicks"
	CmdRemoveChicks    CommandKind = "remove_chicks"
	CmdUpdateConfig    CommandKind = "update_config"
	CmdResetDaily      CommandKind = "reset_daily"
	CmdStatus          CommandKind = "status"
)

// Command is a request from a remote surface (HTTP or MQTT).
type Command struct {
	Kind   CommandKind
	Source Source // SourceRemote when empty

	Grams     float64        // CmdFeed: amount; CmdSaveCalibration: measured grams
	Count     int            // CmdAddChicks
	BirthDate time.Time      // CmdAddChicks
	Index     int            // CmdRemoveChicks
	Settings  store.Settings // CmdUpdateConfig
}

// Reply is the synchronous answer to a Command.
type Reply struct {
	OK      bool
	Message string
	Result  *Result // set for started runs
	Report  *Report // set for CmdStatus
	Err     error
}

func fail(err error, format string, args ...any) Reply {
	return Reply{Message: fmt.Sprintf(format, args...), Err: err}
}

// Execute runs cmd on the control loop.
func (o *Orchestrator) Execute(cmd Command) Reply {
	src := cmd.Source
	if src == "" {
		src = SourceRemote
	}

	switch cmd.Kind {
	case CmdFeed:
		res, err := o.RequestManualFeed(src, cmd.Grams)
		if err != nil {
			return fail(err, "feeding failed: %s", describe(err))
		}
		r := Reply{OK: true, Message: fmt.Sprintf("feeding %.0fg for %v", cmd.Grams, res.Run.Duration), Result: &res}
		if res.Run.Clamped {
			r.Message += " (clamped to safety limit)"
		}
		return r

	case CmdCalibrate:
		res, err := o.RequestCalibrationRun()
		if err != nil {
			return fail(err, "calibration failed: %s", describe(err))
		}
		return Reply{OK: true, Message: fmt.Sprintf("calibration run started (%v); weigh the feed and save", res.Run.Duration), Result: &res}

	case CmdTestMotor:
		res, err := o.RequestTestRun()
		if err != nil {
			return fail(err, "test run failed: %s", describe(err))
		}
		return Reply{OK: true, Message: fmt.Sprintf("test run started (%v)", res.Run.Duration), Result: &res}

	case CmdSaveCalibration:
		if err := o.SaveCalibration(cmd.Grams); err != nil {
			return fail(err, "calibration not saved: %v", err)
		}
		o.RefreshReadyLED()
		return Reply{OK: true, Message: fmt.Sprintf("calibration saved: %.1fg per 10 seconds", cmd.Grams)}

	case CmdStop:
		if err := o.Stop(); err != nil {
			return fail(err, "stop failed: %v", err)
		}
		return Reply{OK: true, Message: "motor stopped"}

	case CmdAddChicks:
		if err := o.store.AddChickGroup(cmd.Count, cmd.BirthDate, o.Now()); err != nil {
			return fail(err, "chicks not added: %v", err)
		}
		return Reply{OK: true, Message: fmt.Sprintf("added %d chicks", cmd.Count)}

	case CmdRemoveChicks:
		ok, err := o.store.RemoveChickGroup(cmd.Index)
		if err != nil {
			return fail(err, "chick group not removed: %v", err)
		}
		if !ok {
			return Reply{Message: "invalid group index"}
		}
		return Reply{OK: true, Message: "chick group removed"}

	case CmdUpdateConfig:
		if err := o.store.Update(cmd.Settings); err != nil {
			return fail(err, "configuration not updated: %v", err)
		}
		return Reply{OK: true, Message: "configuration updated"}

	case CmdResetDaily:
		if err := o.ResetDailyCount(); err != nil {
			return fail(err, "reset failed: %v", err)
		}
		return Reply{OK: true, Message: "daily counter reset"}

	case CmdStatus:
		rep := o.Report(o.Now())
		return Reply{OK: true, Report: &rep}
	}

	return Reply{Message: fmt.Sprintf("unknown command %q", cmd.Kind)}
}

func describe(err error) string {
	switch {
	case errors.Is(err, motor.ErrBusy):
		return "spreader busy"
	case errors.Is(err, motor.ErrUncalibrated):
		return "spreader not calibrated"
	case errors.Is(err, ErrInvalidAmount):
		return "amount must be positive"
	default:
		return err.Error()
	}
}

// Request is a Command waiting for the control loop.
type Request struct {
	Command Command
	reply   chan Reply
}

// Respond delivers the reply. It never blocks.
func (r Request) Respond(rep Reply) {
	r.reply <- rep
}

// Dispatcher carries commands from remote surfaces into the control loop.
type Dispatcher struct {
	ch chan Request
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{ch: make(chan Request)}
}

// Requests is received from by the control loop.
func (d *Dispatcher) Requests() <-chan Request {
	return d.ch
}

// Do sends cmd to the control loop and waits for its reply.
func (d *Dispatcher) Do(ctx context.Context, cmd Command) (Reply, error) {
	req := Request{Command: cmd, reply: make(chan Reply, 1)}
	select {
	case d.ch <- req:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
