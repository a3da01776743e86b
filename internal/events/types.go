package events

import (
	"time"

	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/task"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskKey() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicHub  = "hub"
)

// Event type constants
const (
	EventTypeTaskCreated   = "task.created"
	EventTypeTaskClaimed   = "task.claimed"
	EventTypeTaskStatus    = "task.status"
	EventTypeTaskResult    = "task.result"
	EventTypeHubRegistered = "hub.registered"
)

// TaskCreatedEvent is published when a task enters the waiting state.
type TaskCreatedEvent struct {
	Key            scope.ScopedKey
	Transformation scope.ScopedKey
	Extends        *scope.ScopedKey
	Priority       int
	Timestamp      time.Time
}

func (e TaskCreatedEvent) EventType() string { return EventTypeTaskCreated }
func (e TaskCreatedEvent) TaskKey() string   { return e.Key.String() }

// TaskClaimedEvent is published when a compute service wins a claim.
type TaskClaimedEvent struct {
	Key              scope.ScopedKey
	Hub              scope.ScopedKey
	ComputeServiceID string
	Timestamp        time.Time
}

func (e TaskClaimedEvent) EventType() string { return EventTypeTaskClaimed }
func (e TaskClaimedEvent) TaskKey() string   { return e.Key.String() }

// TaskStatusEvent is published when a task's status changes.
type TaskStatusEvent struct {
	Key       scope.ScopedKey
	Status    task.Status
	Timestamp time.Time
}

func (e TaskStatusEvent) EventType() string { return EventTypeTaskStatus }
func (e TaskStatusEvent) TaskKey() string   { return e.Key.String() }

// TaskResultEvent is published when a result reference is stored.
type TaskResultEvent struct {
	Key       scope.ScopedKey
	Result    scope.ScopedKey
	Timestamp time.Time
}

func (e TaskResultEvent) EventType() string { return EventTypeTaskResult }
func (e TaskResultEvent) TaskKey() string   { return e.Key.String() }

// HubRegisteredEvent is published when a network is registered for
// execution and its hub created.
type HubRegisteredEvent struct {
	Hub       scope.ScopedKey
	Network   scope.ScopedKey
	Timestamp time.Time
}

func (e HubRegisteredEvent) EventType() string { return EventTypeHubRegistered }
func (e HubRegisteredEvent) TaskKey() string   { return "" }
