// Package planner holds the domain model shared by the store, the calendar
// aggregator and the scheduling orchestrator: calendar accounts, calendars,
// events, tasks, working preferences and scheduling configuration, plus the
// interval and week arithmetic the rest of the code leans on.
package planner
