package scheduler

import (
	"fmt"
	"strings"
	"time"

	"pland/internal/planner"
)

// RunStatus classifies the outcome of one scheduling run.
type RunStatus string

const (
	// StatusOptimal means every candidate task was placed and the solver
	// proved the placement optimal.
	StatusOptimal RunStatus = "optimal"
	// StatusFeasible means the solver produced a placement but some
	// candidates stayed unscheduled, or optimality was not proven.
	StatusFeasible RunStatus = "feasible"
	// StatusInfeasible means no candidate could be placed under the hard
	// constraints. A valid result, not a failure.
	StatusInfeasible RunStatus = "infeasible"
	// StatusError means the solver was unreachable or rejected the model.
	StatusError RunStatus = "error"
)

// Reasons attached to unscheduled tasks. The first three are decided before
// the solver is ever called.
const (
	ReasonExceedsDailyWindow  = "exceeds_daily_window"
	ReasonExceedsHorizon      = "exceeds_horizon"
	ReasonDeadlineUnreachable = "deadline_unreachable"
	ReasonUnplaced            = "unplaced"
	ReasonInfeasible          = "infeasible"
	ReasonSolverError         = "solver_error"
)

// Options narrows a single scheduling run.
type Options struct {
	// HorizonDays overrides the user's configured horizon when positive.
	HorizonDays int `json:"horizonDays,omitempty"`
	// TaskIDs restricts the run to the listed tasks when non-empty.
	TaskIDs []string `json:"taskIds,omitempty"`
	// BaseDate moves the start of the planning window; the zero value
	// means now.
	BaseDate time.Time `json:"baseDate,omitempty"`
}

// UnscheduledTask names a candidate the run could not place, and why.
type UnscheduledTask struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason"`
}

// WriteFailure records one task whose write-back failed after solving.
type WriteFailure struct {
	TaskID string `json:"taskId"`
	Err    string `json:"error"`
}

// RunMeta summarizes how a run went.
type RunMeta struct {
	Status      RunStatus `json:"status"`
	SuccessRate float64   `json:"successRate"`
	WallTimeMs  int64     `json:"wallTimeMs"`
	HorizonDays int       `json:"horizonDays"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
}

// RunResult is what a scheduling run hands back. A preview run carries the
// proposal only; a confirm run additionally reflects what was persisted:
// ScheduledTaskIDs then lists the tasks whose events landed, and tasks that
// failed to persist move to WriteFailures. ProposedEvents always holds the
// full solver proposal.
type RunResult struct {
	RunID            string               `json:"runId"`
	ScheduledTaskIDs []string             `json:"scheduledTaskIds"`
	Unscheduled      []UnscheduledTask    `json:"unscheduled,omitempty"`
	ProposedEvents   []planner.EventDraft `json:"proposedEvents,omitempty"`
	WriteFailures    []WriteFailure       `json:"writeFailures,omitempty"`
	Meta             RunMeta              `json:"meta"`
}

// PartialWriteError reports a confirm run that persisted only part of the
// proposal. Succeeded writes stay in place; nothing is rolled back.
type PartialWriteError struct {
	Succeeded []string
	Failed    []string
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write: %d tasks persisted, %d failed (%s)",
		len(e.Succeeded), len(e.Failed), strings.Join(e.Failed, ", "))
}
