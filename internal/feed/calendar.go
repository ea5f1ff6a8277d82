package feed

import (
	"strings"
	"time"
)

// Season of the year, derived from the calendar month.
type Season string

const (
	Winter Season = "winter"
	Spring Season = "spring"
	Summer Season = "summer"
	Autumn Season = "autumn"
)

// Seasons lists every season in calendar order starting with winter.
var Seasons = []Season{Winter, Spring, Summer, Autumn}

// SeasonOf returns the meteorological season of t's month.
func SeasonOf(t time.Time) Season {
	switch t.Month() {
	case time.December, time.January, time.February:
		return Winter
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	default:
		return Autumn
	}
}

// Factor is the seasonal multiplier applied to the daily ration.
func (s Season) Factor() float64 {
	switch s {
	case Winter:
		return 1.15 // cold weather
	case Spring:
		return 1.05 // laying season
	case Summer:
		return 0.95
	default:
		return 1.0
	}
}

// Title returns the season name capitalised for display.
func (s Season) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// AgeDays returns the whole calendar days from birth to now, never negative.
// Both dates are taken in their own location, so a birth date parsed as UTC
// and a local now still compare by calendar day.
func AgeDays(birth, now time.Time) int {
	by, bm, bd := birth.Date()
	ny, nm, nd := now.Date()
	days := DaysFromCivil(ny, nm, nd) - DaysFromCivil(by, bm, bd)
	if days < 0 {
		return 0
	}
	return days
}

// DaysFromCivil returns the number of days since 1970-01-01 for a proleptic
// Gregorian date. Leap years are accounted for by the 400-year era arithmetic.
func DaysFromCivil(y int, m time.Month, d int) int {
	if m <= time.February {
		y--
	}
	era := y / 400
	if y < 0 && y%400 != 0 {
		era--
	}
	yoe := y - era*400
	mp := (int(m) + 9) % 12
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}
