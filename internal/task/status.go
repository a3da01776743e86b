package task

import "fmt"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusInvalid  Status = "invalid"
	StatusDeleted  Status = "deleted"
)

// Statuses lists all legal status values in a stable order.
var Statuses = []Status{
	StatusWaiting,
	StatusRunning,
	StatusComplete,
	StatusError,
	StatusInvalid,
	StatusDeleted,
}

// transitions is the legal edge set of the status state machine.
// `invalid` and `deleted` are terminal-absorbing; `complete` can only move
// to `invalid` or `deleted`, so a finished outcome is never silently
// overwritten by a stale or duplicate request.
var transitions = map[Status]map[Status]bool{
	StatusWaiting: {
		StatusRunning: true,
		StatusInvalid: true,
		StatusDeleted: true,
	},
	StatusRunning: {
		StatusWaiting:  true,
		StatusComplete: true,
		StatusError:    true,
		StatusInvalid:  true,
		StatusDeleted:  true,
	},
	StatusComplete: {
		StatusInvalid: true,
		StatusDeleted: true,
	},
	StatusError: {
		StatusWaiting: true,
		StatusInvalid: true,
		StatusDeleted: true,
	},
	StatusInvalid: {},
	StatusDeleted: {},
}

// Valid reports whether s is one of the defined status values.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions at all.
func (s Status) Terminal() bool {
	return s == StatusInvalid || s == StatusDeleted
}

// CanTransition reports whether from -> to is a legal edge. A
// self-transition is always legal: replaying the same status change must
// have the same observable effect as applying it once.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}

// AllowedFrom returns every status a transition to `to` may legally start
// from, including `to` itself. The store conditions its status updates on
// this set so transitions stay monotonic under concurrent callers.
func AllowedFrom(to Status) []Status {
	var from []Status
	for _, s := range Statuses {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// InvalidTransitionError is returned by strict status changes requested
// against an illegal edge.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}
