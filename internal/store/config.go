package store

import (
	"time"

	"github.com/sweeney/henny/internal/feed"
)

// DateLayout is the on-disk format of chick birth dates.
const DateLayout = "2006-01-02"

// MaxCalibrationHistory bounds the stored calibration history.
const MaxCalibrationHistory = 10

// Config is the persisted state of the feeder.
type Config struct {
	Flock    FlockConfig    `yaml:"flock"`
	Feeding  FeedingConfig  `yaml:"feeding"`
	Hardware HardwareConfig `yaml:"hardware"`
	Spreader SpreaderConfig `yaml:"spreader"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Location LocationConfig `yaml:"location"`
}

type FlockConfig struct {
	Adults           int          `yaml:"adults"`
	BaseFeedPerAdult int          `yaml:"base_feed_per_adult"`
	Chicks           []ChickGroup `yaml:"chicks"`
}

// ChickGroup is a batch of chicks as stored on disk.
type ChickGroup struct {
	Count     int    `yaml:"count"`
	BirthDate string `yaml:"birth_date"` // DateLayout
}

type FeedingConfig struct {
	SeasonFactor    bool           `yaml:"season_factor"`
	DailyFeedings   map[string]int `yaml:"daily_feedings"` // keyed by season name
	ManualFeedGrams int            `yaml:"manual_feed_grams"`
}

type HardwareConfig struct {
	MotorTimeoutSeconds int `yaml:"motor_timeout_seconds"`
}

type SpreaderConfig struct {
	GramsPer10s     float64            `yaml:"grams_per_10s"` // <= 0 means uncalibrated
	LastCalibration time.Time          `yaml:"last_calibration,omitempty"`
	History         []CalibrationEntry `yaml:"calibration_history"`
}

// CalibrationEntry is one saved calibration, oldest first in the history.
type CalibrationEntry struct {
	Rate      float64   `yaml:"rate"`
	Timestamp time.Time `yaml:"timestamp"`
}

type ScheduleConfig struct {
	LastFeedTime time.Time `yaml:"last_feed_time,omitempty"`
	DailyCounter int       `yaml:"daily_counter"`
	LastResetDay int       `yaml:"last_reset_day"`
}

type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Timezone  string  `yaml:"timezone"`
}

// Defaults returns the configuration used for any key missing from the file.
func Defaults() Config {
	return Config{
		Flock: FlockConfig{
			Adults:           6,
			BaseFeedPerAdult: feed.DefaultBaseFeedPerAdult,
		},
		Feeding: FeedingConfig{
			SeasonFactor: true,
			DailyFeedings: map[string]int{
				string(feed.Winter): 3,
				string(feed.Spring): 3,
				string(feed.Summer): 4,
				string(feed.Autumn): 3,
			},
			ManualFeedGrams: 25,
		},
		Hardware: HardwareConfig{
			MotorTimeoutSeconds: 30,
		},
		Location: LocationConfig{
			Latitude:  51.5,
			Longitude: -0.12,
			Timezone:  "Europe/London",
		},
	}
}

// clone returns a deep copy of c.
func (c Config) clone() Config {
	out := c
	out.Flock.Chicks = append([]ChickGroup(nil), c.Flock.Chicks...)
	out.Spreader.History = append([]CalibrationEntry(nil), c.Spreader.History...)
	out.Feeding.DailyFeedings = make(map[string]int, len(c.Feeding.DailyFeedings))
	for k, v := range c.Feeding.DailyFeedings {
		out.Feeding.DailyFeedings[k] = v
	}
	return out
}
