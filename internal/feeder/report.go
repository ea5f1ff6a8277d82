package feeder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/henny/internal/feed"
	"github.com/sweeney/henny/internal/motor"
	"github.com/sweeney/henny/internal/store"
)

// Report is the feeder's state for display.
type Report struct {
	Time   time.Time
	Season feed.Season

	DailyTarget       int
	SessionGrams      int
	SessionsPerDay    int
	SessionsCompleted int
	FedGrams          int     // completed sessions at today's session amount
	DispensedToday    float64 // from the run journal, all sources
	ProgressPercent   int     // capped at 100
	NextFeed          string  // HH:MM
	LastFeed          time.Time

	Schedule []Slot
	Flock    feed.Summary
	Chicks   []ChickView

	Motor           motor.Status
	Calibration     []store.CalibrationEntry
	LastCalibration time.Time
	ManualFeedGrams int
	SeasonFactor    bool
}

// Slot is one scheduled session.
type Slot struct {
	Time      string // HH:00
	Grams     int
	Completed bool
}

// ChickView is a chick group as displayed.
type ChickView struct {
	Index   int
	Count   int
	AgeDays int
}

// Report builds the display state at now.
func (o *Orchestrator) Report(now time.Time) Report {
	now = now.In(o.loc)
	season := feed.SeasonOf(now)
	daily := o.DailyGrams(now)
	times := o.sched.FeedingTimes(season)
	session := feed.SessionFeedGrams(daily, len(times))
	completed := o.sched.SessionsCompleted()

	r := Report{
		Time:              now,
		Season:            season,
		DailyTarget:       daily,
		SessionGrams:      session,
		SessionsPerDay:    len(times),
		SessionsCompleted: completed,
		FedGrams:          completed * session,
		LastFeed:          o.sched.LastFeedTime(),
		Flock:             feed.Summarize(o.store.Flock(), now),
		Motor:             o.motor.Status(),
		Calibration:       o.store.CalibrationHistory(),
		LastCalibration:   o.store.LastCalibration(),
		ManualFeedGrams:   o.store.ManualFeedGrams(),
		SeasonFactor:      o.store.Policy().SeasonFactor,
	}

	if daily > 0 {
		r.ProgressPercent = min(100, r.FedGrams*100/daily)
	}

	h, m := o.sched.NextFeedingTime(now)
	r.NextFeed = fmt.Sprintf("%02d:%02d", h, m)

	for i, hour := range times {
		r.Schedule = append(r.Schedule, Slot{
			Time:      fmt.Sprintf("%02d:00", hour),
			Grams:     session,
			Completed: i < completed,
		})
	}

	for _, c := range o.store.ChickGroups(now) {
		r.Chicks = append(r.Chicks, ChickView{Index: c.Index, Count: c.Count, AgeDays: c.AgeDays})
	}

	if o.journal != nil {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		total, err := o.journal.GramsSince(context.Background(), midnight)
		if err != nil {
			log.Printf("feeder: journal: %v", err)
		}
		r.DispensedToday = total
	}

	return r
}
