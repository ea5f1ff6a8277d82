// Package schedule decides when the flock is fed: seasonal feeding time
// tables, the "is it feeding time now" check with its cooldown, and the daily
// session bookkeeping.
package schedule

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/henny/internal/feed"
)

const (
	// DefaultSessions is used when the configured session count has no table row.
	DefaultSessions = 3

	// Cooldown suppresses automatic feeds after any recorded feed.
	Cooldown = 30 * time.Minute

	// MatchMinutes is the last minute past a slot hour that still matches it.
	MatchMinutes = 2

	// MaxPollInterval is the longest tick period that cannot step over a
	// slot's match window.
	MaxPollInterval = MatchMinutes * time.Minute
)

// timetables maps season and sessions per day to slot hours.
var timetables = map[feed.Season]map[int][]int{
	feed.Summer: {
		4: {6, 10, 15, 19},
		3: {7, 13, 18},
	},
	feed.Winter: {
		3: {8, 13, 17}, // later start for short days
		2: {9, 16},
	},
	feed.Spring: {
		3: {7, 12, 17},
		2: {8, 16},
	},
	feed.Autumn: {
		3: {7, 13, 18},
		2: {8, 16},
	},
}

// State is the persisted per-day bookkeeping.
type State struct {
	LastFeedTime      time.Time // zero when never fed
	DailySessionCount int
	LastResetDay      int // day of month, 0 when never reset
}

// Store persists State and provides the feeding policy.
type Store interface {
	Policy() feed.Policy
	ScheduleState() State
	SetScheduleState(State) error
}

// Scheduler owns the temporal feeding policy. It is not safe for concurrent
// use; the control loop is its only caller.
type Scheduler struct {
	store Store
}

// New creates a Scheduler backed by store.
func New(store Store) *Scheduler {
	return &Scheduler{store: store}
}

// ValidatePollInterval rejects a feeding tick period that could skip a slot.
func ValidatePollInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("schedule: poll interval must be positive, got %v", d)
	}
	if d > MaxPollInterval {
		return fmt.Errorf("schedule: poll interval %v exceeds the %v feeding window", d, MaxPollInterval)
	}
	return nil
}

// FeedingTimes returns the slot hours for the season.
func (s *Scheduler) FeedingTimes(season feed.Season) []int {
	table, ok := timetables[season]
	if !ok {
		table = timetables[feed.Spring]
	}
	n := s.store.Policy().SessionsPerSeason[season]
	if times, ok := table[n]; ok {
		return append([]int(nil), times...)
	}
	return append([]int(nil), table[DefaultSessions]...)
}

// SessionsPerDay returns the number of slots for now's season.
func (s *Scheduler) SessionsPerDay(now time.Time) int {
	return len(s.FeedingTimes(feed.SeasonOf(now)))
}

// NextFeedingTime returns the first slot strictly after now. When no slot
// remains today it returns the first slot, which is tomorrow's.
func (s *Scheduler) NextFeedingTime(now time.Time) (hour, minute int) {
	times := s.FeedingTimes(feed.SeasonOf(now))
	if len(times) == 0 {
		return 0, 0
	}
	current := now.Hour()*60 + now.Minute()
	for _, h := range times {
		if h*60 > current {
			return h, 0
		}
	}
	return times[0], 0
}

// IsFeedingTimeNow reports whether now falls in a slot's match window and no
// feed has been recorded within the cooldown.
func (s *Scheduler) IsFeedingTimeNow(now time.Time) bool {
	if now.Minute() > MatchMinutes {
		return false
	}
	for _, h := range s.FeedingTimes(feed.SeasonOf(now)) {
		if now.Hour() == h {
			return !s.RecentlyFed(now, Cooldown)
		}
	}
	return false
}

// RecentlyFed reports whether a feed was recorded less than window before now.
// A last feed time after now (clock stepped back) also counts as recent.
func (s *Scheduler) RecentlyFed(now time.Time, window time.Duration) bool {
	last := s.store.ScheduleState().LastFeedTime
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < window
}

// RecordFeeding stores now as the last feed and counts the session.
func (s *Scheduler) RecordFeeding(now time.Time) error {
	st := s.store.ScheduleState()
	st.LastFeedTime = now
	st.DailySessionCount++
	if err := s.store.SetScheduleState(st); err != nil {
		return fmt.Errorf("record feeding: %w", err)
	}
	return nil
}

// RolloverIfNewDay resets the session count the first time it sees a new
// day of month. It returns true when it reset.
func (s *Scheduler) RolloverIfNewDay(now time.Time) (bool, error) {
	st := s.store.ScheduleState()
	if st.LastResetDay == now.Day() {
		return false, nil
	}
	log.Printf("schedule: new day (%d), resetting session count from %d", now.Day(), st.DailySessionCount)
	st.DailySessionCount = 0
	st.LastResetDay = now.Day()
	if err := s.store.SetScheduleState(st); err != nil {
		return true, fmt.Errorf("daily rollover: %w", err)
	}
	return true, nil
}

// ResetDailyCount zeroes today's session count on operator request.
func (s *Scheduler) ResetDailyCount() error {
	st := s.store.ScheduleState()
	st.DailySessionCount = 0
	if err := s.store.SetScheduleState(st); err != nil {
		return fmt.Errorf("reset daily count: %w", err)
	}
	return nil
}

// SessionsCompleted returns today's recorded session count.
func (s *Scheduler) SessionsCompleted() int {
	return s.store.ScheduleState().DailySessionCount
}

// LastFeedTime returns the last recorded feed, zero when never fed.
func (s *Scheduler) LastFeedTime() time.Time {
	return s.store.ScheduleState().LastFeedTime
}
