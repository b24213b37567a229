package discount

import (
	"time"

	"github.com/go-faster/errors"
)

// DayLayout is the calendar-day format accepted for expiry dates.
const DayLayout = "2006-01-02"

// EndOfDay returns the last instant of day's calendar date in loc, at
// microsecond precision so that it round-trips through timestamptz.
func EndOfDay(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Microsecond), loc)
}

// Expired reports whether now falls after the expiry day that ends at until.
// until carries microsecond precision, so the day is over only once the
// next day has started.
func Expired(until, now time.Time) bool {
	return !now.Before(until.Add(time.Microsecond))
}

// ParseExpiry parses a YYYY-MM-DD calendar day in loc and returns the UTC
// instant at which that day ends.
func ParseExpiry(day string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, day, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse expiry day %q", day)
	}
	return EndOfDay(t, loc).UTC(), nil
}
