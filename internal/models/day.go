package models

import "time"

const dayKeyLayout = "2006-01-02"

// Day is a calendar day in the queue's time zone, as the half-open range
// [Start, End).
type Day struct {
	Start time.Time
	End   time.Time
}

// DayOf returns the calendar day containing t, evaluated in t's location.
func DayOf(t time.Time) Day {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// Key is the stored ticket_day value backing the per-day number constraint.
func (d Day) Key() string {
	return d.Start.Format(dayKeyLayout)
}
