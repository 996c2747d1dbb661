package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// DayLayout is the ISO date layout used for day keys and file names.
const DayLayout = "2006-01-02"

// TradingDay truncates t to midnight of its IST calendar day.
func TradingDay(t time.Time) time.Time {
	t = t.In(IndiaLocation)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, IndiaLocation)
}

// SameDay reports whether a and b fall on the same IST calendar day.
func SameDay(a, b time.Time) bool {
	return TradingDay(a).Equal(TradingDay(b))
}

// DayKey formats t as an ISO date in IST.
func DayKey(t time.Time) string {
	return t.In(IndiaLocation).Format(DayLayout)
}

// IsWeekend reports whether t falls on Saturday or Sunday in IST.
func IsWeekend(t time.Time) bool {
	wd := t.In(IndiaLocation).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// MarketOpen returns 09:15 IST on the day of t.
func MarketOpen(t time.Time) time.Time {
	d := TradingDay(t)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 15, 0, 0, IndiaLocation)
}

// MarketClose returns 15:30 IST on the day of t.
func MarketClose(t time.Time) time.Time {
	d := TradingDay(t)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, IndiaLocation)
}

// SessionStarted reports whether the cash session has opened on t's day.
func SessionStarted(t time.Time) bool {
	return !t.Before(MarketOpen(t))
}

// IsMarketOpen reports whether t is inside regular trading hours on a weekday.
func IsMarketOpen(t time.Time) bool {
	if IsWeekend(t) {
		return false
	}
	return SessionStarted(t) && t.Before(MarketClose(t))
}

// NextMarketOpen returns the next market opening time after t.
func NextMarketOpen(t time.Time) time.Time {
	next := MarketOpen(t)
	if t.After(next) {
		next = next.AddDate(0, 0, 1)
	}

	// Skip weekends
	for IsWeekend(next) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

// SessionExpiry returns 06:00 IST on the day after t, when Kite access tokens lapse.
func SessionExpiry(t time.Time) time.Time {
	d := TradingDay(t).AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), 6, 0, 0, 0, IndiaLocation)
}
