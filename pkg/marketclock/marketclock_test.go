package marketclock

import (
	"testing"
	"time"
)

// et builds a time on a known Tuesday (2025-03-11) unless a date is given.
func et(hour, min int) time.Time {
	return time.Date(2025, 3, 11, hour, min, 0, 0, ET)
}

func TestPhaseAt(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want Phase
	}{
		{"before premarket", et(3, 59), Closed},
		{"premarket start", et(4, 0), PreMarket},
		{"just before open", et(9, 29), PreMarket},
		{"open", et(9, 30), Regular},
		{"midday", et(13, 0), Regular},
		{"just before close", et(15, 59), Regular},
		{"close", et(16, 0), PostMarket},
		{"evening", et(19, 59), PostMarket},
		{"late night", et(20, 0), Closed},
		{"saturday", time.Date(2025, 3, 15, 12, 0, 0, 0, ET), Closed},
		{"sunday", time.Date(2025, 3, 16, 12, 0, 0, 0, ET), Closed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PhaseAt(tt.at); got != tt.want {
				t.Errorf("PhaseAt(%s) = %s, want %s", tt.at, got, tt.want)
			}
		})
	}
}

func TestMinutesUntilOpen(t *testing.T) {
	// 9:00 on a trading day: 30 minutes to the bell.
	if got := MinutesUntilOpen(et(9, 0)); got != 30 {
		t.Errorf("expected 30 minutes, got %d", got)
	}
	// After the open the countdown targets the next trading day.
	got := MinutesUntilOpen(et(10, 0))
	want := int(OpenTime(et(0, 0).AddDate(0, 0, 1)).Sub(et(10, 0)).Minutes())
	if got != want {
		t.Errorf("expected %d minutes to next open, got %d", want, got)
	}
	// Friday evening rolls to Monday.
	friday := time.Date(2025, 3, 14, 18, 0, 0, 0, ET)
	monday := time.Date(2025, 3, 17, 9, 30, 0, 0, ET)
	if got := MinutesUntilOpen(friday); got != int(monday.Sub(friday).Minutes()) {
		t.Errorf("friday→monday countdown wrong: %d", got)
	}
}

func TestTradingDaysBetween(t *testing.T) {
	mon := time.Date(2025, 3, 10, 10, 0, 0, 0, ET)
	tests := []struct {
		name string
		to   time.Time
		want int
	}{
		{"same day", mon, 0},
		{"next day", mon.AddDate(0, 0, 1), 1},
		{"wednesday", mon.AddDate(0, 0, 2), 2},
		{"over the weekend", mon.AddDate(0, 0, 7), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TradingDaysBetween(mon, tt.to); got != tt.want {
				t.Errorf("TradingDaysBetween = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNextTradingDaySkipsWeekend(t *testing.T) {
	friday := time.Date(2025, 3, 14, 12, 0, 0, 0, ET)
	next := NextTradingDay(friday)
	if next.Weekday() != time.Monday {
		t.Errorf("expected Monday, got %s", next.Weekday())
	}
}
