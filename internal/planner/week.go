package planner

import "time"

// WeekStart returns Monday 00:00 of t's ISO week in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	day := lt.Weekday()
	// time.Weekday counts Sunday as 0; ISO weeks start on Monday.
	back := (int(day) + 6) % 7
	monday := lt.AddDate(0, 0, -back)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, loc)
}

// WeeksCovering lists the week starts (Monday 00:00 in loc) whose weeks
// intersect [start, end). An empty range yields nil.
func WeeksCovering(start, end time.Time, loc *time.Location) []time.Time {
	if !end.After(start) {
		return nil
	}
	var weeks []time.Time
	for ws := WeekStart(start, loc); ws.Before(end); ws = ws.AddDate(0, 0, 7) {
		weeks = append(weeks, ws)
	}
	return weeks
}
