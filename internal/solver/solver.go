// Package solver is the HTTP transport to the external CP-SAT solving
// service. It carries the wire vocabulary (variables, intervals,
// constraints) and classifies transport failures; interpreting a solution
// is the scheduler's job.
package solver

import "time"

// IntVar declares an integer decision variable with an inclusive domain.
type IntVar struct {
	ID  string `json:"id"`
	Min int64  `json:"min"`
	Max int64  `json:"max"`
}

// BoolVar declares a boolean decision variable.
type BoolVar struct {
	ID string `json:"id"`
}

// Term is one coefficient*variable summand of a linear expression.
type Term struct {
	Var         string `json:"var"`
	Coefficient int64  `json:"coefficient"`
}

// Interval declares a task-shaped interval variable. When EndVar is empty
// the service derives "<id>_end"; an optional interval without PresenceVar
// gets "<id>_presence". Duration must be positive.
type Interval struct {
	ID          string `json:"id"`
	StartVar    string `json:"start_var"`
	Duration    int64  `json:"duration"`
	EndVar      string `json:"end_var,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	PresenceVar string `json:"presence_var,omitempty"`
}

// Constraint types understood by the service.
const (
	ConstraintNoOverlap    = "no_overlap"
	ConstraintLessEqual    = "less_equal"
	ConstraintGreaterEqual = "greater_equal"
	ConstraintEqual        = "equal"
	ConstraintSumEqual     = "sum_equal"
	ConstraintBoolOr       = "bool_or"
)

// Constraint is one model constraint. Right holds either a variable name
// (string) or an integer constant, matching the service's loose operand
// typing. Condition makes the constraint enforced only while the named
// boolean literal holds.
type Constraint struct {
	Type      string   `json:"type"`
	Left      string   `json:"left,omitempty"`
	Right     any      `json:"right,omitempty"`
	Equals    *int64   `json:"equals,omitempty"`
	Intervals []string `json:"intervals,omitempty"`
	Terms     []Term   `json:"terms,omitempty"`
	Literals  []string `json:"literals,omitempty"`
	Condition string   `json:"condition,omitempty"`
}

func NoOverlap(intervalIDs ...string) Constraint {
	return Constraint{Type: ConstraintNoOverlap, Intervals: intervalIDs}
}

func LessEqual(left string, right any) Constraint {
	return Constraint{Type: ConstraintLessEqual, Left: left, Right: right}
}

func GreaterEqual(left string, right any) Constraint {
	return Constraint{Type: ConstraintGreaterEqual, Left: left, Right: right}
}

func Equal(left string, right any) Constraint {
	return Constraint{Type: ConstraintEqual, Left: left, Right: right}
}

func SumEqual(terms []Term, equals int64) Constraint {
	return Constraint{Type: ConstraintSumEqual, Terms: terms, Equals: &equals}
}

func BoolOr(literals ...string) Constraint {
	return Constraint{Type: ConstraintBoolOr, Literals: literals}
}

// When conditions the constraint on a boolean literal.
func (c Constraint) When(literal string) Constraint {
	c.Condition = literal
	return c
}

// Not negates a boolean literal reference.
func Not(literal string) string { return "!" + literal }

// Objective directions.
const (
	Maximize = "maximize"
	Minimize = "minimize"
)

type Objective struct {
	Type  string `json:"type"`
	Terms []Term `json:"terms"`
}

// Request is the full model sent to POST /solve.
type Request struct {
	Variables     []IntVar     `json:"variables"`
	BoolVariables []BoolVar    `json:"bool_variables"`
	Intervals     []Interval   `json:"intervals"`
	Constraints   []Constraint `json:"constraints"`
	Objective     *Objective   `json:"objective,omitempty"`
}

func (r *Request) AddInt(id string, min, max int64) {
	r.Variables = append(r.Variables, IntVar{ID: id, Min: min, Max: max})
}

func (r *Request) AddBool(id string) {
	r.BoolVariables = append(r.BoolVariables, BoolVar{ID: id})
}

func (r *Request) AddInterval(iv Interval) {
	r.Intervals = append(r.Intervals, iv)
}

func (r *Request) AddConstraint(cs ...Constraint) {
	r.Constraints = append(r.Constraints, cs...)
}

// AddFixedInterval pins a mandatory interval at an exact start by declaring
// its start variable with a single-point domain. Busy blocks use this.
func (r *Request) AddFixedInterval(id string, start, duration int64) {
	startVar := id + "_start"
	r.AddInt(startVar, start, start)
	r.AddInterval(Interval{ID: id, StartVar: startVar, Duration: duration})
}

// Solution statuses reported by the service.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE"
	StatusInfeasible Status = "INFEASIBLE"
	StatusUnknown    Status = "UNKNOWN"
)

type VariableValue struct {
	ID    string `json:"id"`
	Value int64  `json:"value"`
}

type BoolValue struct {
	ID    string `json:"id"`
	Value bool   `json:"value"`
}

// IntervalValue is one placed (or absent) interval. Start and End are zero
// when Presence is false.
type IntervalValue struct {
	ID       string `json:"id"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Presence bool   `json:"presence"`
}

// Response mirrors the service's solve reply. WallTime is seconds.
type Response struct {
	Status         Status          `json:"status"`
	ObjectiveValue *int64          `json:"objective_value"`
	WallTime       float64         `json:"wall_time"`
	Variables      []VariableValue `json:"variables"`
	BoolVariables  []BoolValue     `json:"bool_variables"`
	Intervals      []IntervalValue `json:"intervals"`
}

// Solved reports whether the response carries an assignment.
func (r *Response) Solved() bool {
	return r.Status == StatusOptimal || r.Status == StatusFeasible
}

func (r *Response) WallDuration() time.Duration {
	return time.Duration(r.WallTime * float64(time.Second))
}

// IntervalByID looks up a placed interval from the response.
func (r *Response) IntervalByID(id string) (IntervalValue, bool) {
	for _, iv := range r.Intervals {
		if iv.ID == id {
			return iv, true
		}
	}
	return IntervalValue{}, false
}

// Health is the service's liveness reply.
type Health struct {
	Status         string  `json:"status"`
	OrToolsVersion string  `json:"ortools_version"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
	NumWorkers     int     `json:"num_workers"`
}

func (h *Health) OK() bool { return h.Status == "ok" }
