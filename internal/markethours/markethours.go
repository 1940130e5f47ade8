// Package markethours answers whether the spot forex market is trading.
//
// The week runs from Sunday 22:00 UTC (Sydney open) to Friday 22:00 UTC
// (New York close). Days listed in holidays.go are closed all day.
package markethours

import (
	"fmt"
	"time"
)

// Weekly session boundaries in UTC.
const (
	OpenWeekday  = time.Sunday
	CloseWeekday = time.Friday
	SessionHour  = 22
)

// IsMarketOpen reports whether t falls inside the trading week and is not
// a holiday.
func IsMarketOpen(t time.Time) bool {
	u := t.UTC()
	if IsHoliday(u) {
		return false
	}
	switch u.Weekday() {
	case time.Saturday:
		return false
	case OpenWeekday:
		return u.Hour() >= SessionHour
	case CloseWeekday:
		return u.Hour() < SessionHour
	default:
		return true
	}
}

// NextOpen returns the first instant at or after t when the market is open.
// If the market is open at t, t itself is returned.
func NextOpen(t time.Time) time.Time {
	u := t.UTC()
	if IsMarketOpen(u) {
		return u
	}
	// Walk forward hour by hour from the next whole hour; a closed stretch
	// never spans more than a weekend plus a holiday.
	c := u.Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 24*10; i++ {
		if IsMarketOpen(c) {
			return c
		}
		c = c.Add(time.Hour)
	}
	return c
}

// WeekClose returns the Friday 22:00 UTC that ends the trading week
// containing t.
func WeekClose(t time.Time) time.Time {
	u := t.UTC()
	days := (int(CloseWeekday) - int(u.Weekday()) + 7) % 7
	c := time.Date(u.Year(), u.Month(), u.Day()+days, SessionHour, 0, 0, 0, time.UTC)
	if !c.After(u) {
		c = c.AddDate(0, 0, 7)
	}
	return c
}

// TimeUntilOpen returns how long until the market next opens; 0 when open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t.UTC())
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market open, week closes in %s", fmtDur(WeekClose(t).Sub(t.UTC())))
	}
	next := NextOpen(t)
	return fmt.Sprintf("Market closed, opens %s %s UTC (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t.UTC())))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
