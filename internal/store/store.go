// Package store persists the feeder's configuration and state as a YAML
// file. Reads never fail: missing keys take their defaults. Writes replace
// the whole file; a failed write keeps the in-memory state and the next
// mutation (or Flush) tries again.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/henny/internal/feed"
	"github.com/sweeney/henny/internal/schedule"
)

var (
	// ErrWrite wraps every failure to persist the file.
	ErrWrite = errors.New("store: write failed")

	// ErrInvalid is returned for rejected mutations.
	ErrInvalid = errors.New("store: invalid value")

	errNoChange = errors.New("no change")
)

// Store holds the configuration in memory and mirrors it to disk.
type Store struct {
	path string

	mu          sync.RWMutex
	cfg         Config
	dirty       bool   // memory is ahead of disk
	lastWritten []byte // content of our last successful write

	// OnWriteError, if set, is called after a failed write.
	OnWriteError func(error)
}

// Open loads path over the defaults. A missing file is created.
func Open(path string) (*Store, error) {
	s := &Store{path: path, cfg: Defaults()}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("store: %s not found, writing defaults", path)
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg, err := decode(data)
	if err != nil {
		log.Printf("store: %s unreadable, using defaults: %v", path, err)
		return s, nil
	}
	s.cfg = cfg
	s.lastWritten = data
	return s, nil
}

func decode(data []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Defaults(), fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the file. It returns false when the content is what this
// store last wrote, so our own writes do not echo back.
func (s *Store) Reload() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bytes.Equal(data, s.lastWritten) {
		return false, nil
	}
	cfg, err := decode(data)
	if err != nil {
		return false, err
	}
	s.cfg = cfg
	s.lastWritten = data
	s.dirty = false
	return true, nil
}

// Flush retries a pending write.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.saveLocked()
}

// Dirty reports whether memory holds changes that are not on disk.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Snapshot returns a deep copy of the configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.clone()
}

func (s *Store) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the whole file via a temp file and rename.
func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		return s.writeFailedLocked(fmt.Errorf("encode: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".henny-*.yaml")
	if err != nil {
		return s.writeFailedLocked(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return s.writeFailedLocked(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return s.writeFailedLocked(err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return s.writeFailedLocked(err)
	}

	s.dirty = false
	s.lastWritten = data
	return nil
}

func (s *Store) writeFailedLocked(err error) error {
	s.dirty = true
	err = fmt.Errorf("%w: %s: %w", ErrWrite, s.path, err)
	log.Printf("store: %v", err)
	if s.OnWriteError != nil {
		s.OnWriteError(err)
	}
	return err
}

// mutate applies fn and persists the result. A validation error from fn
// leaves memory untouched.
func (s *Store) mutate(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg.clone()
	if err := fn(&next); errors.Is(err, errNoChange) {
		return nil
	} else if err != nil {
		return err
	}
	s.cfg = next
	return s.saveLocked()
}

// CalibrationRate implements motor.Calibration.
func (s *Store) CalibrationRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Spreader.GramsPer10s
}

// CalibrationHistory returns saved calibrations, oldest first.
func (s *Store) CalibrationHistory() []CalibrationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CalibrationEntry(nil), s.cfg.Spreader.History...)
}

// LastCalibration returns when the rate was last saved, zero if never.
func (s *Store) LastCalibration() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Spreader.LastCalibration
}

// SaveCalibration stores rate as the current calibration and appends it to
// the history, evicting the oldest entry beyond MaxCalibrationHistory.
func (s *Store) SaveCalibration(rate float64, at time.Time) error {
	if rate <= 0 {
		return fmt.Errorf("%w: calibration rate must be positive, got %g", ErrInvalid, rate)
	}
	return s.mutate(func(c *Config) error {
		c.Spreader.GramsPer10s = rate
		c.Spreader.LastCalibration = at
		c.Spreader.History = append(c.Spreader.History, CalibrationEntry{Rate: rate, Timestamp: at})
		if n := len(c.Spreader.History); n > MaxCalibrationHistory {
			c.Spreader.History = c.Spreader.History[n-MaxCalibrationHistory:]
		}
		return nil
	})
}

// Policy implements schedule.Store.
func (s *Store) Policy() feed.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := feed.Policy{
		SeasonFactor:      s.cfg.Feeding.SeasonFactor,
		SessionsPerSeason: make(map[feed.Season]int, len(feed.Seasons)),
	}
	for _, season := range feed.Seasons {
		p.SessionsPerSeason[season] = s.cfg.Feeding.DailyFeedings[string(season)]
	}
	return p
}

// ScheduleState implements schedule.Store.
func (s *Store) ScheduleState() schedule.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schedule.State{
		LastFeedTime:      s.cfg.Schedule.LastFeedTime,
		DailySessionCount: s.cfg.Schedule.DailyCounter,
		LastResetDay:      s.cfg.Schedule.LastResetDay,
	}
}

// SetScheduleState implements schedule.Store. The state is kept in memory
// even when the write fails.
func (s *Store) SetScheduleState(st schedule.State) error {
	return s.mutate(func(c *Config) error {
		c.Schedule = ScheduleConfig{
			LastFeedTime: st.LastFeedTime,
			DailyCounter: st.DailySessionCount,
			LastResetDay: st.LastResetDay,
		}
		return nil
	})
}

// Flock returns the flock composition. Groups with an unparseable birth date
// are skipped.
func (s *Store) Flock() feed.Flock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := feed.Flock{
		Adults:           s.cfg.Flock.Adults,
		BaseFeedPerAdult: s.cfg.Flock.BaseFeedPerAdult,
	}
	for i, g := range s.cfg.Flock.Chicks {
		birth, err := time.ParseInLocation(DateLayout, g.BirthDate, time.Local)
		if err != nil {
			log.Printf("store: chick group %d: bad birth date %q", i, g.BirthDate)
			continue
		}
		f.Chicks = append(f.Chicks, feed.ChickGroup{Count: g.Count, BirthDate: birth})
	}
	return f
}

// ChickStatus is a configured chick group with its age at a given time.
// Index is the group's position in the file, as RemoveChickGroup takes it.
type ChickStatus struct {
	Index   int
	Count   int
	AgeDays int
}

// ChickGroups returns the chick groups with their ages at now. Groups with an
// unparseable birth date are left out but keep their place in the numbering.
func (s *Store) ChickGroups(now time.Time) []ChickStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ChickStatus
	for i, g := range s.cfg.Flock.Chicks {
		birth, err := time.ParseInLocation(DateLayout, g.BirthDate, time.Local)
		if err != nil {
			continue
		}
		out = append(out, ChickStatus{Index: i, Count: g.Count, AgeDays: feed.AgeDays(birth, now)})
	}
	return out
}

// AddChickGroup appends a group of count chicks born on birth.
func (s *Store) AddChickGroup(count int, birth, now time.Time) error {
	if count <= 0 {
		return fmt.Errorf("%w: chick count must be positive, got %d", ErrInvalid, count)
	}
	if dayNumber(birth) > dayNumber(now) {
		return fmt.Errorf("%w: birth date %s is in the future", ErrInvalid, birth.Format(DateLayout))
	}
	return s.mutate(func(c *Config) error {
		c.Flock.Chicks = append(c.Flock.Chicks, ChickGroup{
			Count:     count,
			BirthDate: birth.Format(DateLayout),
		})
		return nil
	})
}

func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return feed.DaysFromCivil(y, m, d)
}

// RemoveChickGroup removes the group at index i. It reports false when i is
// out of range.
func (s *Store) RemoveChickGroup(i int) (bool, error) {
	removed := false
	err := s.mutate(func(c *Config) error {
		if i < 0 || i >= len(c.Flock.Chicks) {
			return errNoChange
		}
		c.Flock.Chicks = append(c.Flock.Chicks[:i], c.Flock.Chicks[i+1:]...)
		removed = true
		return nil
	})
	return removed, err
}

// Settings is a partial update of the flock and feeding configuration. Nil
// fields are left unchanged.
type Settings struct {
	Adults           *int                `json:"adults,omitempty"`
	BaseFeedPerAdult *int                `json:"base_feed_per_adult,omitempty"`
	SeasonFactor     *bool               `json:"season_factor,omitempty"`
	DailyFeedings    map[feed.Season]int `json:"daily_feedings,omitempty"`
	ManualFeedGrams  *int                `json:"manual_feed_grams,omitempty"`
}

// Validate checks every field that is set.
func (u Settings) Validate() error {
	if u.Adults != nil && *u.Adults < 0 {
		return fmt.Errorf("%w: adults must not be negative", ErrInvalid)
	}
	if u.BaseFeedPerAdult != nil && *u.BaseFeedPerAdult <= 0 {
		return fmt.Errorf("%w: base feed per adult must be positive", ErrInvalid)
	}
	if u.ManualFeedGrams != nil && *u.ManualFeedGrams <= 0 {
		return fmt.Errorf("%w: manual feed grams must be positive", ErrInvalid)
	}
	for season, n := range u.DailyFeedings {
		if !validSeason(season) {
			return fmt.Errorf("%w: unknown season %q", ErrInvalid, season)
		}
		if n <= 0 {
			return fmt.Errorf("%w: %s feedings must be positive", ErrInvalid, season)
		}
	}
	return nil
}

func validSeason(s feed.Season) bool {
	for _, known := range feed.Seasons {
		if s == known {
			return true
		}
	}
	return false
}

// Update applies a partial settings change.
func (s *Store) Update(u Settings) error {
	if err := u.Validate(); err != nil {
		return err
	}
	return s.mutate(func(c *Config) error {
		if u.Adults != nil {
			c.Flock.Adults = *u.Adults
		}
		if u.BaseFeedPerAdult != nil {
			c.Flock.BaseFeedPerAdult = *u.BaseFeedPerAdult
		}
		if u.SeasonFactor != nil {
			c.Feeding.SeasonFactor = *u.SeasonFactor
		}
		if u.ManualFeedGrams != nil {
			c.Feeding.ManualFeedGrams = *u.ManualFeedGrams
		}
		for season, n := range u.DailyFeedings {
			c.Feeding.DailyFeedings[string(season)] = n
		}
		return nil
	})
}

// ManualFeedGrams returns the amount fed by a short button press.
func (s *Store) ManualFeedGrams() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Feeding.ManualFeedGrams
}

// MotorTimeout returns the motor safety ceiling.
func (s *Store) MotorTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.cfg.Hardware.MotorTimeoutSeconds) * time.Second
}

// Location returns the configured site.
func (s *Store) Location() LocationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Location
}
