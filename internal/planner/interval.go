package planner

import (
	"sort"
	"time"
)

const minutesPerDay = 24 * 60

// MinutesPerDay exposes the day length used by the minute-offset scheduler
// model.
const MinutesPerDay = minutesPerDay

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Empty() bool { return !iv.End.After(iv.Start) }

// Overlaps reports strict (non-zero length) intersection with [start, end).
func (iv Interval) Overlaps(start, end time.Time) bool {
	return iv.Start.Before(end) && iv.End.After(start)
}

// Clip bounds the interval to [start, end). The result may be empty.
func (iv Interval) Clip(start, end time.Time) Interval {
	out := iv
	if out.Start.Before(start) {
		out.Start = start
	}
	if out.End.After(end) {
		out.End = end
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}
	return out
}

// MergeIntervals sorts by start and coalesces overlapping or touching
// intervals. Empty intervals are dropped. The input is not modified.
func MergeIntervals(ivs []Interval) []Interval {
	work := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.Empty() {
			work = append(work, iv)
		}
	}
	if len(work) == 0 {
		return nil
	}
	sort.Slice(work, func(i, j int) bool { return work[i].Start.Before(work[j].Start) })

	out := make([]Interval, 0, len(work))
	cur := work[0]
	for _, iv := range work[1:] {
		if !iv.Start.After(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			continue
		}
		out = append(out, cur)
		cur = iv
	}
	return append(out, cur)
}
