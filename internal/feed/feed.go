// Package feed computes feed quantities from flock composition and season.
// This package has NO external dependencies and performs no I/O.
// Time is always injectable via time.Time parameters.
package feed

import "time"

// DefaultBaseFeedPerAdult is the daily ration of an adult bird in grams.
const DefaultBaseFeedPerAdult = 120

// ChickGroup is a batch of chicks hatched on the same day.
type ChickGroup struct {
	Count     int
	BirthDate time.Time // calendar date; the clock part is ignored
}

// Flock is the composition of the flock.
type Flock struct {
	Adults           int
	BaseFeedPerAdult int
	Chicks           []ChickGroup
}

// Policy controls seasonal behaviour.
type Policy struct {
	SeasonFactor      bool
	SessionsPerSeason map[Season]int
}

// ChickAge is a chick group with its current age.
type ChickAge struct {
	Count   int
	AgeDays int
}

// PerChickGrams returns the daily ration of one chick of the given age.
// Non-decreasing in age and never above the adult baseline.
func PerChickGrams(ageDays int) int {
	switch {
	case ageDays < 7:
		return 15 // starter feed
	case ageDays < 21:
		return 30
	case ageDays < 42:
		return 50
	case ageDays < 84:
		return 80
	default:
		return DefaultBaseFeedPerAdult
	}
}

// ChickAges returns the age of every chick group at now.
func ChickAges(groups []ChickGroup, now time.Time) []ChickAge {
	ages := make([]ChickAge, 0, len(groups))
	for _, g := range groups {
		ages = append(ages, ChickAge{Count: g.Count, AgeDays: AgeDays(g.BirthDate, now)})
	}
	return ages
}

// DailyFeedGrams returns the total daily ration for the flock, truncated to whole grams.
func DailyFeedGrams(flock Flock, policy Policy, season Season, now time.Time) int {
	base := flock.BaseFeedPerAdult
	if base <= 0 {
		base = DefaultBaseFeedPerAdult
	}

	total := float64(flock.Adults * base)
	for _, c := range ChickAges(flock.Chicks, now) {
		total += float64(c.Count * PerChickGrams(c.AgeDays))
	}

	if policy.SeasonFactor {
		total *= season.Factor()
	}

	return int(total)
}

// SessionFeedGrams splits a daily ration over the day's sessions.
func SessionFeedGrams(dailyGrams, sessionsPerDay int) int {
	if sessionsPerDay == 0 {
		return dailyGrams
	}
	return dailyGrams / sessionsPerDay
}

// AgeDistribution counts chicks per growth stage.
type AgeDistribution struct {
	Weeks0To3     int
	Weeks3To6     int
	Weeks6To12    int
	YoungChickens int
}

// Summary describes the flock for display.
type Summary struct {
	Adults       int
	TotalChicks  int
	TotalBirds   int
	Distribution AgeDistribution
}

// Summarize counts birds by growth stage.
func Summarize(flock Flock, now time.Time) Summary {
	s := Summary{Adults: flock.Adults}
	for _, c := range ChickAges(flock.Chicks, now) {
		s.TotalChicks += c.Count
		switch {
		case c.AgeDays < 21:
			s.Distribution.Weeks0To3 += c.Count
		case c.AgeDays < 42:
			s.Distribution.Weeks3To6 += c.Count
		case c.AgeDays < 84:
			s.Distribution.Weeks6To12 += c.Count
		default:
			s.Distribution.YoungChickens += c.Count
		}
	}
	s.TotalBirds = s.Adults + s.TotalChicks
	return s
}
