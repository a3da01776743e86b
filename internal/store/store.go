// Package store persists the scheduling state: networks, task hubs, tasks
// and identities, all addressed by their ScopedKey string form. The
// scheduling engine never caches authoritative state; every operation here
// is a single transaction, and mutations are conditioned on observed state
// rather than client-held locks.
package store

import (
	"context"
	"errors"

	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/task"
)

// ErrNotFound is returned when an entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrUnavailable wraps transport or transaction failures against the
// backing store. Mutations that cannot be confirmed committed surface this
// rather than being silently dropped; callers retry with backoff.
var ErrUnavailable = errors.New("store unavailable")

// Store is the set of logical operations the scheduling engine issues.
// Implementations must provide atomic compare-and-set at the single-task
// level (ClaimTask, UpdateTaskStatus), idempotent upserts keyed by
// ScopedKey, and ordered traversal of hub membership.
type Store interface {
	// PutNetwork registers an AlchemicalNetwork and its member
	// transformations. Idempotent.
	PutNetwork(ctx context.Context, network scope.ScopedKey, transformations []scope.ScopedKey) error

	// TransformationRegistered reports whether any registered network
	// contains the given transformation.
	TransformationRegistered(ctx context.Context, transformation scope.ScopedKey) (bool, error)

	// PutTaskHub upserts a hub. Idempotent.
	PutTaskHub(ctx context.Context, hub task.TaskHub) error
	GetTaskHub(ctx context.Context, key scope.ScopedKey) (task.TaskHub, error)

	// QueryTaskHubs returns hubs whose scope matches the pattern.
	QueryTaskHubs(ctx context.Context, pattern scope.Scope) ([]task.TaskHub, error)
	SetTaskHubWeight(ctx context.Context, key scope.ScopedKey, weight float64) error

	// CreateTasks inserts tasks in one transaction and attaches each to
	// the hubs derived from its transformation's network membership.
	// Re-inserting an existing key is a no-op.
	CreateTasks(ctx context.Context, tasks []task.Task) error
	GetTask(ctx context.Context, key scope.ScopedKey) (task.Task, error)

	// HubTasks returns the tasks attached to a hub, optionally filtered
	// by status (empty filter returns all).
	HubTasks(ctx context.Context, hub scope.ScopedKey, filter task.Status) ([]task.Task, error)

	// WaitingTaskKeys returns up to limit keys of waiting tasks attached
	// to the hub, ordered by priority ascending then insertion order.
	WaitingTaskKeys(ctx context.Context, hub scope.ScopedKey, limit int) ([]scope.ScopedKey, error)

	// ClaimTask transitions a task waiting -> running and records the
	// assignee, conditioned on the task still being waiting at commit
	// time. Returns false without error if another claimant won.
	ClaimTask(ctx context.Context, key scope.ScopedKey, assignee string) (bool, error)

	// UpdateTaskStatus sets the task's status only if its current status
	// is in from. Returns whether the update applied. Moving to waiting
	// clears the assignee.
	UpdateTaskStatus(ctx context.Context, key scope.ScopedKey, to task.Status, from []task.Status) (bool, error)

	// DetachTask removes the task from all hub eligible sets (used by
	// soft-delete; the task node itself is kept).
	DetachTask(ctx context.Context, key scope.ScopedKey) error

	SetTaskPriority(ctx context.Context, key scope.ScopedKey, priority int) error
	SetTaskResult(ctx context.Context, key scope.ScopedKey, result scope.ScopedKey) error

	// Identity credentials and per-identity scope grants back the API's
	// login exchange and authorization checks.
	PutIdentity(ctx context.Context, id, keyHash string) error
	IdentityKeyHash(ctx context.Context, id string) (string, error)
	GrantScope(ctx context.Context, identity string, sc scope.Scope) error
	IdentityScopes(ctx context.Context, identity string) ([]scope.Scope, error)

	Close() error
}
