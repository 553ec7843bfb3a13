// Package marketclock provides NYSE session arithmetic: phase
// detection, open/close boundaries and time-until-open, all in ET.
package marketclock

import (
	"time"
)

// ET is the US Eastern time zone used by NYSE.
var ET *time.Location

func init() {
	var err error
	ET, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback: fixed EST offset if tz database is not available.
		ET = time.FixedZone("EST", -5*60*60)
	}
}

// Phase is the market session state at a point in time.
type Phase string

const (
	PreMarket  Phase = "PRE_MARKET"
	Regular    Phase = "REGULAR"
	PostMarket Phase = "POST_MARKET"
	Closed     Phase = "CLOSED"
)

// NowET returns the current time in ET.
func NowET() time.Time {
	return time.Now().In(ET)
}

// OpenTime returns the NYSE regular-session open (9:30 AM ET) for a given date.
func OpenTime(date time.Time) time.Time {
	d := date.In(ET)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, ET)
}

// CloseTime returns the NYSE regular-session close (4:00 PM ET) for a given date.
func CloseTime(date time.Time) time.Time {
	d := date.In(ET)
	return time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, ET)
}

// PremarketStart returns the pre-market session start (4:00 AM ET).
func PremarketStart(date time.Time) time.Time {
	d := date.In(ET)
	return time.Date(d.Year(), d.Month(), d.Day(), 4, 0, 0, 0, ET)
}

// PostMarketEnd returns the post-market session end (8:00 PM ET).
func PostMarketEnd(date time.Time) time.Time {
	d := date.In(ET)
	return time.Date(d.Year(), d.Month(), d.Day(), 20, 0, 0, 0, ET)
}

// IsTradingDay reports whether t falls on a weekday. Exchange holidays
// are not modeled; the risk manager's trading-hours check is the
// operator-facing gate.
func IsTradingDay(t time.Time) bool {
	wd := t.In(ET).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// PhaseAt returns the session phase at the given time.
func PhaseAt(t time.Time) Phase {
	t = t.In(ET)
	if !IsTradingDay(t) {
		return Closed
	}
	switch {
	case t.Before(PremarketStart(t)):
		return Closed
	case t.Before(OpenTime(t)):
		return PreMarket
	case t.Before(CloseTime(t)):
		return Regular
	case t.Before(PostMarketEnd(t)):
		return PostMarket
	default:
		return Closed
	}
}

// MinutesUntilOpen returns the minutes until the next regular-session
// open. During PRE_MARKET this is the countdown the analyst reports;
// at other times it looks ahead to the next trading day's open.
func MinutesUntilOpen(t time.Time) int {
	t = t.In(ET)
	open := OpenTime(t)
	if !t.Before(open) || !IsTradingDay(t) {
		// Roll forward to the next trading day's open.
		next := t.AddDate(0, 0, 1)
		for !IsTradingDay(next) {
			next = next.AddDate(0, 0, 1)
		}
		open = OpenTime(next)
	}
	return int(open.Sub(t).Minutes())
}

// NextTradingDay returns the next weekday strictly after t.
func NextTradingDay(t time.Time) time.Time {
	next := t.In(ET).AddDate(0, 0, 1)
	for !IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// TradingDaysBetween counts weekdays in (from, to]. Used by the
// executor's position-timeout rule.
func TradingDaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	days := 0
	for d := from.In(ET).AddDate(0, 0, 1); !d.After(to.In(ET)); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days++
		}
	}
	return days
}
