package markethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestIsMarketOpen(t *testing.T) {
	// 2026-10-16 is a Friday.
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"friday before close", utc(2026, time.October, 16, 21, 59), true},
		{"friday at close", utc(2026, time.October, 16, 22, 0), false},
		{"saturday", utc(2026, time.October, 17, 12, 0), false},
		{"sunday before open", utc(2026, time.October, 18, 21, 59), false},
		{"sunday at open", utc(2026, time.October, 18, 22, 0), true},
		{"midweek", utc(2026, time.October, 21, 3, 0), true},
		{"christmas", utc(2026, time.December, 25, 12, 0), false},
		{"new year", utc(2027, time.January, 1, 9, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMarketOpen(tt.at))
		})
	}
}

func TestIsMarketOpen_UsesUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// Saturday 06:00 JST is Friday 21:00 UTC.
	assert.True(t, IsMarketOpen(time.Date(2026, time.October, 17, 6, 0, 0, 0, tokyo)))
}

func TestNextOpen(t *testing.T) {
	open := utc(2026, time.October, 21, 3, 15)
	assert.Equal(t, open, NextOpen(open))

	assert.Equal(t, utc(2026, time.October, 18, 22, 0), NextOpen(utc(2026, time.October, 17, 8, 30)))
	// 2025-12-25 is a Thursday; trading resumes at midnight.
	assert.Equal(t, utc(2025, time.December, 26, 0, 0), NextOpen(utc(2025, time.December, 25, 5, 0)))
	assert.Equal(t, time.Duration(0), TimeUntilOpen(open))
}

func TestWeekClose(t *testing.T) {
	assert.Equal(t, utc(2026, time.October, 23, 22, 0), WeekClose(utc(2026, time.October, 19, 10, 0)))
	assert.Equal(t, utc(2026, time.October, 16, 22, 0), WeekClose(utc(2026, time.October, 16, 10, 0)))
	assert.Equal(t, utc(2026, time.October, 23, 22, 0), WeekClose(utc(2026, time.October, 16, 22, 0)))
}

func TestStatusString(t *testing.T) {
	assert.Contains(t, StatusString(utc(2026, time.October, 16, 20, 0)), "closes in 2h0m")
	assert.Contains(t, StatusString(utc(2026, time.October, 17, 22, 0)), "opens Sun 22:00 UTC (24h0m)")
}
