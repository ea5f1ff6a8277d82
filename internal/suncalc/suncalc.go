// Package suncalc computes daylight times for the coop's location.
package suncalc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// ErrNoDaylight is returned where the sun does not rise or set.
var ErrNoDaylight = errors.New("suncalc: no sunrise or sunset on this day")

// Daylight holds one day's sun events in the calculator's location.
type Daylight struct {
	CivilDawn time.Time
	Sunrise   time.Time
	Sunset    time.Time
	CivilDusk time.Time
}

// Length returns the time between sunrise and sunset.
func (d Daylight) Length() time.Duration {
	return d.Sunset.Sub(d.Sunrise)
}

// Calc calculates and caches daylight times per calendar date.
type Calc struct {
	observer astral.Observer
	loc      *time.Location

	mu    sync.RWMutex
	cache map[string]Daylight
}

// New creates a Calc. A nil loc means time.Local.
func New(latitude, longitude float64, loc *time.Location) *Calc {
	if loc == nil {
		loc = time.Local
	}
	return &Calc{
		observer: astral.Observer{Latitude: latitude, Longitude: longitude},
		loc:      loc,
		cache:    make(map[string]Daylight),
	}
}

// On returns the daylight times for date's calendar day. It fails where the
// sun does not rise or set that day.
func (c *Calc) On(date time.Time) (Daylight, error) {
	date = date.In(c.loc)
	key := date.Format("2006-01-02")

	c.mu.RLock()
	d, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	d, err := c.calculate(date)
	if err != nil {
		return Daylight{}, err
	}

	c.mu.Lock()
	c.cache[key] = d
	c.mu.Unlock()
	return d, nil
}

func (c *Calc) calculate(date time.Time) (Daylight, error) {
	dawn, err := astral.Dawn(c.observer, date, astral.DepressionCivil)
	if err != nil {
		return Daylight{}, fmt.Errorf("civil dawn: %w", err)
	}
	sunrise, err := astral.Sunrise(c.observer, date)
	if err != nil {
		return Daylight{}, fmt.Errorf("sunrise: %w", err)
	}
	sunset, err := astral.Sunset(c.observer, date)
	if err != nil {
		return Daylight{}, fmt.Errorf("sunset: %w", err)
	}
	dusk, err := astral.Dusk(c.observer, date, astral.DepressionCivil)
	if err != nil {
		return Daylight{}, fmt.Errorf("civil dusk: %w", err)
	}
	if sunrise.IsZero() || sunset.IsZero() || !sunset.After(sunrise) {
		return Daylight{}, ErrNoDaylight
	}

	return Daylight{
		CivilDawn: dawn.In(c.loc),
		Sunrise:   sunrise.In(c.loc),
		Sunset:    sunset.In(c.loc),
		CivilDusk: dusk.In(c.loc),
	}, nil
}
