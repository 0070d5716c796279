package scheduler

import (
	"fmt"
	"sort"
	"time"

	"pland/internal/config"
	"pland/internal/planner"
	"pland/internal/solver"
	logx "pland/pkg/logx"
)

// modelInput gathers everything one solve attempt is built from. Time is
// modeled as integer minutes elapsed since base; base must be truncated to
// the minute and expressed in loc.
type modelInput struct {
	tasks   []planner.Task
	busy    []planner.Interval
	periods []planner.ExcludedPeriod
	prefs   planner.WorkingPreferences
	user    planner.SchedulingConfig
	tuning  config.SchedulerConfig
	base    time.Time
	days    int
	loc     *time.Location
	log     logx.Logger
}

// session is one solver interval belonging to a task plan.
type session struct {
	id       string
	startVar string
	endVar   string
	dayVar   string
	duration int
}

// taskPlan is a candidate task's shape in the model. A split task carries
// several chained sessions sharing one presence literal, so it is placed
// whole or not at all.
type taskPlan struct {
	task     planner.Task
	presence string
	sessions []session
}

// model is a built solver request plus the bookkeeping needed to read a
// solution back into task placements.
type model struct {
	req      *solver.Request
	base     time.Time
	loc      *time.Location
	days     int
	horizon  int
	plans    []taskPlan
	excluded []UnscheduledTask
	log      logx.Logger
}

func buildModel(in modelInput) *model {
	m := &model{
		req:  &solver.Request{},
		base: in.base,
		loc:  in.loc,
		days: in.days,
		log:  in.log,
	}
	windowEnd := in.base.AddDate(0, 0, in.days)
	m.horizon = minutesBetween(in.base, windowEnd)

	m.planTasks(in)
	ids := m.emitTaskIntervals()
	ids = append(ids, m.emitBusyBlocks(in, windowEnd)...)
	if len(ids) > 0 {
		m.req.AddConstraint(solver.NoOverlap(ids...))
	}
	m.emitDeadlines()

	terms := m.placementTerms(in.tuning.Weights)
	if m.needDayVars(in) {
		m.emitDayVars()
	}
	terms = append(terms, m.alertnessTerms(in)...)
	terms = append(terms, m.groupingTerms(in)...)
	terms = append(terms, m.balanceTerms(in)...)
	if len(terms) > 0 {
		m.req.Objective = &solver.Objective{Type: solver.Maximize, Terms: terms}
	}
	return m
}

// planTasks decides per task whether it reaches the solver at all, and in
// how many sessions. Tasks rejected here carry a concrete reason instead
// of a solver verdict.
func (m *model) planTasks(in modelInput) {
	capacity := in.prefs.DailyCapacityMin()
	for _, t := range in.tasks {
		dur := t.DurationMin
		switch {
		case !in.user.AllowSplitting && dur > capacity:
			m.exclude(t.ID, ReasonExceedsDailyWindow)
			continue
		case dur > m.horizon:
			m.exclude(t.ID, ReasonExceedsHorizon)
			continue
		case t.Deadline != nil && minutesBetween(m.base, *t.Deadline) < dur:
			m.exclude(t.ID, ReasonDeadlineUnreachable)
			continue
		}

		lens := sessionLengths(dur, capacity, in.user.AllowSplitting)
		plan := taskPlan{task: t, presence: "task_" + t.ID + "_presence"}
		for j, l := range lens {
			id := "task_" + t.ID
			if len(lens) > 1 {
				id = fmt.Sprintf("task_%s_s%d", t.ID, j)
			}
			plan.sessions = append(plan.sessions, session{
				id:       id,
				startVar: id + "_start",
				endVar:   id + "_end",
				duration: l,
			})
		}
		m.plans = append(m.plans, plan)
	}
}

func (m *model) exclude(taskID, reason string) {
	m.excluded = append(m.excluded, UnscheduledTask{TaskID: taskID, Reason: reason})
}

// sessionLengths chops an oversized duration into daily-capacity chunks
// when splitting is enabled; a fitting task keeps a single session.
func sessionLengths(dur, capacity int, split bool) []int {
	if !split || dur <= capacity {
		return []int{dur}
	}
	var out []int
	for rest := dur; rest > 0; rest -= capacity {
		l := capacity
		if rest < capacity {
			l = rest
		}
		out = append(out, l)
	}
	return out
}

// emitTaskIntervals declares one optional interval per session with tight
// start/end domains. Sessions of a split task are ordered while present.
func (m *model) emitTaskIntervals() []string {
	var ids []string
	h := int64(m.horizon)
	for _, p := range m.plans {
		m.req.AddBool(p.presence)
		for j, s := range p.sessions {
			m.req.AddInt(s.startVar, 0, h-int64(s.duration))
			m.req.AddInt(s.endVar, int64(s.duration), h)
			m.req.AddInterval(solver.Interval{
				ID:          s.id,
				StartVar:    s.startVar,
				Duration:    int64(s.duration),
				EndVar:      s.endVar,
				Optional:    true,
				PresenceVar: p.presence,
			})
			ids = append(ids, s.id)
			if j > 0 {
				m.req.AddConstraint(
					solver.GreaterEqual(s.startVar, p.sessions[j-1].endVar).When(p.presence))
			}
		}
	}
	return ids
}

// emitBusyBlocks merges busy events, expanded excluded periods and
// off-hours into fixed intervals. Offsets round outward so a block never
// understates its real extent.
func (m *model) emitBusyBlocks(in modelInput, windowEnd time.Time) []string {
	blocks := offHourBlocks(in.base, windowEnd, &in.prefs, in.loc)
	blocks = append(blocks, expandExcludedPeriods(in.periods, in.base, windowEnd, in.loc, m.log)...)
	for _, iv := range in.busy {
		blocks = append(blocks, iv.Clip(in.base, windowEnd))
	}

	var ids []string
	for i, iv := range planner.MergeIntervals(blocks) {
		start := minutesBetween(m.base, iv.Start)
		end := minutesBetweenCeil(m.base, iv.End)
		if start < 0 {
			start = 0
		}
		if end > m.horizon {
			end = m.horizon
		}
		if end <= start {
			continue
		}
		id := fmt.Sprintf("busy_%d", i)
		m.req.AddFixedInterval(id, int64(start), int64(end-start))
		ids = append(ids, id)
	}
	return ids
}

// emitDeadlines caps each deadlined task's final session. Reachability was
// checked during planning, so the constraint stays satisfiable even when
// the task ends up absent.
func (m *model) emitDeadlines() {
	for _, p := range m.plans {
		if p.task.Deadline == nil {
			continue
		}
		off := minutesBetween(m.base, *p.task.Deadline)
		if off >= m.horizon {
			continue
		}
		last := p.sessions[len(p.sessions)-1]
		m.req.AddConstraint(solver.LessEqual(last.endVar, int64(off)))
	}
}

// placementTerms rewards presence and penalizes late starts. The presence
// coefficient scales with horizon and session count so placing a task
// always outweighs the earliness penalty of any start position.
func (m *model) placementTerms(w config.WeightsConfig) []solver.Term {
	var terms []solver.Term
	for _, p := range m.plans {
		prio := int64(p.task.Priority)
		terms = append(terms, solver.Term{
			Var:         p.presence,
			Coefficient: int64(w.Placement) * prio * int64(m.horizon) * int64(len(p.sessions)),
		})
		for _, s := range p.sessions {
			terms = append(terms, solver.Term{
				Var:         s.startVar,
				Coefficient: -int64(w.Earliness) * prio,
			})
		}
	}
	return terms
}

// projectGroups returns plan indices of single-session tasks grouped by
// project, for projects holding at least two of them, in project order.
func (m *model) projectGroups() [][]int {
	byProject := map[string][]int{}
	for i, p := range m.plans {
		if p.task.ProjectID == "" || len(p.sessions) != 1 {
			continue
		}
		byProject[p.task.ProjectID] = append(byProject[p.task.ProjectID], i)
	}
	var keys []string
	for k, members := range byProject {
		if len(members) >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	groups := make([][]int, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, byProject[k])
	}
	return groups
}

func (m *model) sessionCount() int {
	n := 0
	for _, p := range m.plans {
		n += len(p.sessions)
	}
	return n
}

func (m *model) balanceActive(in modelInput) bool {
	return in.tuning.Weights.Balance > 0 && in.prefs.DailyOptimalMin > 0 && m.sessionCount() >= 2
}

func (m *model) needDayVars(in modelInput) bool {
	if m.balanceActive(in) {
		return true
	}
	return in.tuning.Weights.Grouping > 0 && len(m.projectGroups()) > 0
}

// emitDayVars decomposes every session start into a day index and a
// remainder; grouping and balance terms reason over the day index.
func (m *model) emitDayVars() {
	for pi := range m.plans {
		for si := range m.plans[pi].sessions {
			s := &m.plans[pi].sessions[si]
			s.dayVar = s.id + "_day"
			rem := s.id + "_rem"
			m.req.AddInt(s.dayVar, 0, int64(m.days-1))
			m.req.AddInt(rem, 0, planner.MinutesPerDay-1)
			m.req.AddConstraint(solver.SumEqual([]solver.Term{
				{Var: s.dayVar, Coefficient: planner.MinutesPerDay},
				{Var: rem, Coefficient: 1},
				{Var: s.startVar, Coefficient: -1},
			}, 0))
		}
	}
}

// alertnessTerms rewards complex tasks landing inside the day's alertness
// peak. Setting a peak literal forces the first session into that day's
// peak window and implies presence, so the reward cannot be collected for
// an absent task.
func (m *model) alertnessTerms(in modelInput) []solver.Term {
	w := in.tuning.Weights.Alertness
	if w <= 0 {
		return nil
	}
	peakStart, peakEnd, ok := peakBlock(in.prefs.Alertness, in.tuning.AlertnessPeak)
	if !ok {
		return nil
	}
	if in.prefs.DayStartMin > peakStart {
		peakStart = in.prefs.DayStartMin
	}
	if in.prefs.DayEndMin < peakEnd {
		peakEnd = in.prefs.DayEndMin
	}
	if peakEnd <= peakStart {
		return nil
	}

	var terms []solver.Term
	for _, p := range m.plans {
		if p.task.Complexity < in.tuning.FocusComplexityMin {
			continue
		}
		first := p.sessions[0]
		if first.duration > peakEnd-peakStart {
			continue
		}
		for d := 0; d < m.days; d++ {
			day := m.base.AddDate(0, 0, d)
			if !in.prefs.Weekdays.Has(day.Weekday()) {
				continue
			}
			offS := minutesBetween(m.base, atMinute(day, peakStart, m.loc))
			offE := minutesBetween(m.base, atMinute(day, peakEnd, m.loc))
			if offS < 0 {
				offS = 0
			}
			if offE > m.horizon {
				offE = m.horizon
			}
			if offE-offS < first.duration {
				continue
			}
			lit := fmt.Sprintf("task_%s_peak_d%d", p.task.ID, d)
			m.req.AddBool(lit)
			m.req.AddConstraint(
				solver.GreaterEqual(first.startVar, int64(offS)).When(lit),
				solver.LessEqual(first.endVar, int64(offE)).When(lit),
				solver.BoolOr(solver.Not(lit), p.presence),
			)
			terms = append(terms, solver.Term{Var: lit, Coefficient: int64(w) * int64(p.task.Complexity)})
		}
	}
	return terms
}

// groupingTerms rewards pairs of same-project tasks sharing a day. Plans
// are chained pairwise in selection order, so a project packed onto one
// day collects a reward per adjacent pair.
func (m *model) groupingTerms(in modelInput) []solver.Term {
	w := in.tuning.Weights.Grouping
	if w <= 0 {
		return nil
	}
	var terms []solver.Term
	for _, group := range m.projectGroups() {
		for k := 1; k < len(group); k++ {
			a, b := m.plans[group[k-1]], m.plans[group[k]]
			lit := fmt.Sprintf("group_%s_%s", a.task.ID, b.task.ID)
			m.req.AddBool(lit)
			m.req.AddConstraint(
				solver.Equal(a.sessions[0].dayVar, b.sessions[0].dayVar).When(lit),
				solver.BoolOr(solver.Not(lit), a.presence),
				solver.BoolOr(solver.Not(lit), b.presence),
			)
			terms = append(terms, solver.Term{Var: lit, Coefficient: int64(w)})
		}
	}
	return terms
}

// balanceTerms penalizes daily load beyond DailyOptimalMin. Day membership
// literals feed a per-day decomposition of the load into a capped fit
// portion and a penalized overflow. A present session on day d must set
// its membership literal: the alternatives in the clause pin the day index
// elsewhere.
func (m *model) balanceTerms(in modelInput) []solver.Term {
	if !m.balanceActive(in) {
		return nil
	}
	w := in.tuning.Weights.Balance

	dayLoads := make([][]solver.Term, m.days)
	for _, p := range m.plans {
		for _, s := range p.sessions {
			for d := 0; d < m.days; d++ {
				on := fmt.Sprintf("%s_on_d%d", s.id, d)
				m.req.AddBool(on)
				lits := []string{solver.Not(p.presence), on}
				if d > 0 {
					lt := fmt.Sprintf("%s_before_d%d", s.id, d)
					m.req.AddBool(lt)
					m.req.AddConstraint(solver.LessEqual(s.dayVar, int64(d-1)).When(lt))
					lits = append(lits, lt)
				}
				if d < m.days-1 {
					gt := fmt.Sprintf("%s_after_d%d", s.id, d)
					m.req.AddBool(gt)
					m.req.AddConstraint(solver.GreaterEqual(s.dayVar, int64(d+1)).When(gt))
					lits = append(lits, gt)
				}
				m.req.AddConstraint(solver.BoolOr(lits...))
				dayLoads[d] = append(dayLoads[d], solver.Term{Var: on, Coefficient: int64(s.duration)})
			}
		}
	}

	var terms []solver.Term
	for d := 0; d < m.days; d++ {
		fit := fmt.Sprintf("day_%d_fit", d)
		over := fmt.Sprintf("day_%d_over", d)
		m.req.AddInt(fit, 0, int64(in.prefs.DailyOptimalMin))
		m.req.AddInt(over, 0, int64(m.horizon))
		sum := append(dayLoads[d],
			solver.Term{Var: fit, Coefficient: -1},
			solver.Term{Var: over, Coefficient: -1},
		)
		m.req.AddConstraint(solver.SumEqual(sum, 0))
		terms = append(terms, solver.Term{Var: over, Coefficient: -int64(w)})
	}
	return terms
}
