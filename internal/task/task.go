// Package task defines the schedulable unit of work and its status state
// machine, along with the TaskHub queue it is claimed from.
package task

import (
	"fmt"
	"time"

	"github.com/crucibleproj/crucible/internal/scope"
)

// DefaultPriority is assigned to tasks created without an explicit
// priority. Lower values are claimed first.
const DefaultPriority = 10

// Task is a schedulable unit of work executing one Transformation.
type Task struct {
	Key            scope.ScopedKey  `json:"key"`
	Transformation scope.ScopedKey  `json:"transformation"`
	Extends        *scope.ScopedKey `json:"extends,omitempty"` // predecessor whose completed result this task consumes
	Status         Status           `json:"status"`
	Priority       int              `json:"priority"`
	Creator        string           `json:"creator,omitempty"`
	Assignee       string           `json:"assignee,omitempty"` // compute service holding the claim
	Result         *scope.ScopedKey `json:"result,omitempty"`   // opaque ProtocolDAGResult reference
	CreatedAt      time.Time        `json:"created_at"`
	ClaimedAt      *time.Time       `json:"claimed_at,omitempty"`
}

// Validate checks the structural invariants of a task at creation time.
func (t *Task) Validate() error {
	if t.Key.IsZero() {
		return fmt.Errorf("task key is required")
	}
	if t.Transformation.IsZero() {
		return fmt.Errorf("task %s: transformation reference is required", t.Key)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s: unknown status %q", t.Key, t.Status)
	}
	if t.Priority <= 0 {
		return fmt.Errorf("task %s: priority must be a positive integer, got %d", t.Key, t.Priority)
	}
	if t.Extends != nil && t.Extends.Scope != t.Key.Scope {
		return fmt.Errorf("task %s: extends reference %s is outside scope %s", t.Key, t.Extends, t.Key.Scope)
	}
	if t.Transformation.Scope != t.Key.Scope {
		return fmt.Errorf("task %s: transformation %s is outside scope %s", t.Key, t.Transformation, t.Key.Scope)
	}
	return nil
}

// TaskHub is a priority queue of tasks bound to one AlchemicalNetwork
// within one Scope. Weight is stored and returned for fair-share schedulers
// layered above the engine; the engine itself does not interpret it.
type TaskHub struct {
	Key     scope.ScopedKey `json:"key"`
	Network scope.ScopedKey `json:"network"`
	Weight  float64         `json:"weight"`
}

// Validate checks the structural invariants of a hub.
func (h *TaskHub) Validate() error {
	if h.Key.IsZero() {
		return fmt.Errorf("taskhub key is required")
	}
	if h.Network.IsZero() {
		return fmt.Errorf("taskhub %s: network reference is required", h.Key)
	}
	if h.Network.Scope != h.Key.Scope {
		return fmt.Errorf("taskhub %s: network %s is outside scope %s", h.Key, h.Network, h.Key.Scope)
	}
	if h.Weight < 0 || h.Weight > 1 {
		return fmt.Errorf("taskhub %s: weight must be within [0, 1], got %v", h.Key, h.Weight)
	}
	return nil
}
