package markethours

import "time"

// Full-day closures observed by the interbank market, as UTC calendar days.
var holidays = []struct {
	month time.Month
	day   int
}{
	{time.December, 25}, // Christmas
	{time.January, 1},   // New Year
}

// IsHoliday reports whether the UTC calendar day of t is a closure.
func IsHoliday(t time.Time) bool {
	u := t.UTC()
	for _, h := range holidays {
		if u.Month() == h.month && u.Day() == h.day {
			return true
		}
	}
	return false
}
