package scheduler

import (
	"time"

	"github.com/teambition/rrule-go"

	"pland/internal/planner"
	logx "pland/pkg/logx"
)

// atMinute returns the instant min minutes into day's wall-clock date in
// loc. Minute 1440 lands on the next midnight.
func atMinute(day time.Time, min int, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, min/60, min%60, 0, 0, loc)
}

// minutesBetween returns whole elapsed minutes from a to b, rounded toward a.
func minutesBetween(a, b time.Time) int {
	return int(b.Sub(a) / time.Minute)
}

// minutesBetweenCeil rounds a partial trailing minute up instead.
func minutesBetweenCeil(a, b time.Time) int {
	d := b.Sub(a)
	n := int(d / time.Minute)
	if d%time.Minute > 0 {
		n++
	}
	return n
}

// offHourBlocks returns the stretches of [start, end) that the working
// preferences close off: inactive weekdays entirely, plus everything
// outside the daily window on active days. Blocks are returned unmerged.
func offHourBlocks(start, end time.Time, prefs *planner.WorkingPreferences, loc *time.Location) []planner.Interval {
	var out []planner.Interval
	appendClipped := func(iv planner.Interval) {
		if iv = iv.Clip(start, end); !iv.Empty() {
			out = append(out, iv)
		}
	}

	day := atMinute(start, 0, loc)
	for day.Before(end) {
		next := day.AddDate(0, 0, 1)
		if !prefs.Weekdays.Has(day.Weekday()) {
			appendClipped(planner.Interval{Start: day, End: next})
		} else {
			appendClipped(planner.Interval{Start: day, End: atMinute(day, prefs.DayStartMin, loc)})
			appendClipped(planner.Interval{Start: atMinute(day, prefs.DayEndMin, loc), End: next})
		}
		day = next
	}
	return out
}

// expandExcludedPeriods resolves a user's excluded periods to concrete
// intervals inside [start, end). Recurring periods anchor their rule at the
// window's first midnight; a malformed rule is logged and skipped rather
// than failing the whole run.
func expandExcludedPeriods(periods []planner.ExcludedPeriod, start, end time.Time, loc *time.Location, log logx.Logger) []planner.Interval {
	var out []planner.Interval
	for _, p := range periods {
		switch p.Kind {
		case planner.PeriodOneOff:
			if p.StartAt == nil || p.EndAt == nil {
				continue
			}
			iv := planner.Interval{Start: *p.StartAt, End: *p.EndAt}.Clip(start, end)
			if !iv.Empty() {
				out = append(out, iv)
			}
		case planner.PeriodRecurring:
			rule, err := rrule.StrToRRule(p.RRule)
			if err != nil {
				log.Warn("skipping excluded period with invalid rrule",
					logx.String("period_id", p.ID),
					logx.String("rrule", p.RRule),
					logx.Err(err))
				continue
			}
			dayZero := atMinute(start, 0, loc)
			rule.DTStart(dayZero)
			for _, occ := range rule.Between(dayZero, end, true) {
				iv := planner.Interval{
					Start: atMinute(occ, p.StartMin, loc),
					End:   atMinute(occ, p.EndMin, loc),
				}.Clip(start, end)
				if !iv.Empty() {
					out = append(out, iv)
				}
			}
		}
	}
	return out
}

// peakBlock finds the longest run of hours whose alertness clears the
// threshold, returned as minutes of day with the end exclusive. The first
// of equally long runs wins.
func peakBlock(curve [24]float64, threshold float64) (startMin, endMin int, ok bool) {
	bestStart, bestLen := 0, 0
	run, runStart := 0, 0
	for h := 0; h < 24; h++ {
		if curve[h] < threshold {
			run = 0
			continue
		}
		if run == 0 {
			runStart = h
		}
		run++
		if run > bestLen {
			bestStart, bestLen = runStart, run
		}
	}
	if bestLen == 0 {
		return 0, 0, false
	}
	return bestStart * 60, (bestStart + bestLen) * 60, true
}
