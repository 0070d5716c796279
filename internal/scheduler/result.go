package scheduler

import (
	"fmt"
	"sort"
	"time"

	"pland/internal/planner"
	"pland/internal/solver"
	logx "pland/pkg/logx"
)

// attempt is the outcome of one solve pass over a fixed horizon.
type attempt struct {
	status      RunStatus
	errMsg      string
	successRate float64
	wallTime    time.Duration
	horizonDays int
	scheduled   []string
	unscheduled []UnscheduledTask
	drafts      []planner.EventDraft
}

// failedAttempt marks every candidate unscheduled with the given reason.
func (m *model) failedAttempt(status RunStatus, reason, errMsg string) *attempt {
	a := &attempt{status: status, errMsg: errMsg}
	a.unscheduled = append(a.unscheduled, m.excluded...)
	for _, p := range m.plans {
		a.unscheduled = append(a.unscheduled, UnscheduledTask{TaskID: p.task.ID, Reason: reason})
	}
	return a
}

// interpret reads a solver response back into task placements. A task
// counts as placed only when every one of its sessions is present; each
// present session becomes one event draft with locally computed times.
func (m *model) interpret(resp *solver.Response) *attempt {
	switch resp.Status {
	case solver.StatusOptimal, solver.StatusFeasible:
	case solver.StatusInfeasible:
		a := m.failedAttempt(StatusInfeasible, ReasonInfeasible, "")
		a.wallTime = resp.WallDuration()
		return a
	default:
		a := m.failedAttempt(StatusError, ReasonSolverError,
			fmt.Sprintf("solver returned status %s", resp.Status))
		a.wallTime = resp.WallDuration()
		return a
	}

	a := &attempt{wallTime: resp.WallDuration()}
	a.unscheduled = append(a.unscheduled, m.excluded...)
	for _, p := range m.plans {
		placed := true
		var ivs []solver.IntervalValue
		for _, s := range p.sessions {
			iv, ok := resp.IntervalByID(s.id)
			if !ok {
				m.log.Warn("solver response is missing an interval",
					logx.String("interval", s.id))
				placed = false
				break
			}
			if !iv.Presence {
				placed = false
				break
			}
			ivs = append(ivs, iv)
		}
		if !placed {
			a.unscheduled = append(a.unscheduled, UnscheduledTask{TaskID: p.task.ID, Reason: ReasonUnplaced})
			continue
		}

		a.scheduled = append(a.scheduled, p.task.ID)
		for j, iv := range ivs {
			title := p.task.Title
			if len(ivs) > 1 {
				title = fmt.Sprintf("%s (%d/%d)", title, j+1, len(ivs))
			}
			start := m.base.Add(time.Duration(iv.Start) * time.Minute)
			a.drafts = append(a.drafts, planner.EventDraft{
				Title:   title,
				StartAt: start,
				EndAt:   start.Add(time.Duration(p.sessions[j].duration) * time.Minute),
				TaskID:  p.task.ID,
			})
		}
	}

	total := len(m.plans) + len(m.excluded)
	if total > 0 {
		a.successRate = float64(len(a.scheduled)) / float64(total)
	}
	switch {
	case len(a.scheduled) == 0:
		a.status = StatusInfeasible
	case len(a.scheduled) == total && resp.Status == solver.StatusOptimal:
		a.status = StatusOptimal
	default:
		a.status = StatusFeasible
	}
	sort.Slice(a.drafts, func(i, j int) bool {
		if !a.drafts[i].StartAt.Equal(a.drafts[j].StartAt) {
			return a.drafts[i].StartAt.Before(a.drafts[j].StartAt)
		}
		return a.drafts[i].TaskID < a.drafts[j].TaskID
	})
	return a
}
