package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crucibleproj/crucible/internal/events"
	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/store"
	"github.com/crucibleproj/crucible/internal/task"
)

// TaskSpec describes one task to create. Exactly one of Extends and
// ExtendsIndex may be set: Extends references an existing task by key,
// ExtendsIndex references another spec in the same batch by position so a
// whole chain can be created in one call.
type TaskSpec struct {
	Transformation scope.ScopedKey
	Extends        *scope.ScopedKey
	ExtendsIndex   *int
	Priority       int // 0 means DefaultPriority
	Creator        string
}

// CreateTask creates a single waiting task for a registered transformation.
func (s *Service) CreateTask(ctx context.Context, spec TaskSpec) (scope.ScopedKey, error) {
	keys, err := s.CreateTasks(ctx, []TaskSpec{spec})
	if err != nil {
		return scope.ScopedKey{}, err
	}
	return keys[0], nil
}

// CreateTasks creates a batch of waiting tasks in one transaction. Each
// task is attached to every hub whose network contains its transformation.
// Returns the new keys in spec order.
func (s *Service) CreateTasks(ctx context.Context, specs []TaskSpec) ([]scope.ScopedKey, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if err := validateBatchOrder(specs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tasks := make([]task.Task, len(specs))
	keys := make([]scope.ScopedKey, len(specs))

	for i, spec := range specs {
		if spec.Transformation.IsZero() {
			return nil, fmt.Errorf("spec %d: transformation reference is required", i)
		}
		if spec.Extends != nil && spec.ExtendsIndex != nil {
			return nil, fmt.Errorf("spec %d: extends and extends_index are mutually exclusive", i)
		}

		registered, err := s.store.TransformationRegistered(ctx, spec.Transformation)
		if err != nil {
			return nil, err
		}
		if !registered {
			return nil, fmt.Errorf("%w: transformation %s is not part of any registered network", ErrReferenceNotFound, spec.Transformation)
		}

		key, err := scope.NewScopedKey("Task-"+uuid.NewString(), spec.Transformation.Scope)
		if err != nil {
			return nil, err
		}
		keys[i] = key

		priority := spec.Priority
		if priority == 0 {
			priority = task.DefaultPriority
		}
		tasks[i] = task.Task{
			Key:            key,
			Transformation: spec.Transformation,
			Status:         task.StatusWaiting,
			Priority:       priority,
			Creator:        spec.Creator,
			CreatedAt:      now,
		}
	}

	// Resolve extends references now that all batch keys are assigned.
	for i, spec := range specs {
		switch {
		case spec.ExtendsIndex != nil:
			j := *spec.ExtendsIndex
			if j < 0 || j >= len(specs) {
				return nil, fmt.Errorf("spec %d: extends_index %d out of range", i, j)
			}
			parent := keys[j]
			tasks[i].Extends = &parent
		case spec.Extends != nil:
			parent, err := s.store.GetTask(ctx, *spec.Extends)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("%w: extends target %s", ErrReferenceNotFound, spec.Extends)
				}
				return nil, err
			}
			if parent.Status == task.StatusDeleted {
				return nil, fmt.Errorf("%w: extends target %s is deleted", ErrReferenceNotFound, spec.Extends)
			}
			ext := *spec.Extends
			tasks[i].Extends = &ext
		}
	}

	for i := range tasks {
		if err := tasks[i].Validate(); err != nil {
			return nil, fmt.Errorf("spec %d: %w", i, err)
		}
	}

	if err := s.store.CreateTasks(ctx, tasks); err != nil {
		return nil, err
	}

	for i := range tasks {
		s.publish(events.TopicTask, events.TaskCreatedEvent{
			Key:            tasks[i].Key,
			Transformation: tasks[i].Transformation,
			Extends:        tasks[i].Extends,
			Priority:       tasks[i].Priority,
			Timestamp:      now,
		})
	}
	s.log.Info("tasks created", zap.Int("count", len(tasks)))
	return keys, nil
}

// validateBatchOrder rejects cyclic extends_index references within a
// batch. Topological sorting over the index graph finds cycles before any
// key is assigned.
func validateBatchOrder(specs []TaskSpec) error {
	var edges []toposort.Edge
	for i, spec := range specs {
		if spec.ExtendsIndex != nil {
			edges = append(edges, toposort.Edge{*spec.ExtendsIndex, i})
		} else {
			edges = append(edges, toposort.Edge{nil, i})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("batch extends references contain a cycle: %w", err)
	}
	return nil
}

// GetTask returns a task by key.
func (s *Service) GetTask(ctx context.Context, key scope.ScopedKey) (task.Task, error) {
	return s.store.GetTask(ctx, key)
}

// GetTaskStatus returns the current status of one task.
func (s *Service) GetTaskStatus(ctx context.Context, key scope.ScopedKey) (task.Status, error) {
	t, err := s.store.GetTask(ctx, key)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// TaskStatuses returns the statuses of the given tasks, in key order.
func (s *Service) TaskStatuses(ctx context.Context, keys []scope.ScopedKey) ([]task.Status, error) {
	statuses := make([]task.Status, len(keys))
	for i, key := range keys {
		t, err := s.store.GetTask(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", key, err)
		}
		statuses[i] = t.Status
	}
	return statuses, nil
}

// ClaimTasks atomically claims up to count waiting tasks from the hub for
// the given compute service, in priority order with ties broken by
// insertion order. Concurrent claimants never receive the same task: each
// candidate is taken by compare-and-set, and losing a race substitutes the
// next candidate rather than failing the call. Returns fewer than count
// keys (possibly none) when the hub runs dry.
func (s *Service) ClaimTasks(ctx context.Context, hubKey scope.ScopedKey, computeServiceID string, count int) ([]scope.ScopedKey, error) {
	if computeServiceID == "" {
		return nil, fmt.Errorf("compute service id is required")
	}
	if _, err := s.store.GetTaskHub(ctx, hubKey); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	claimed := make([]scope.ScopedKey, 0, count)
	for len(claimed) < count {
		candidates, err := s.store.WaitingTaskKeys(ctx, hubKey, count-len(claimed))
		if err != nil {
			return claimed, err
		}
		if len(candidates) == 0 {
			break
		}
		for _, key := range candidates {
			won, err := s.store.ClaimTask(ctx, key, computeServiceID)
			if err != nil {
				return claimed, err
			}
			if !won {
				// Lost the race; the candidate is no longer waiting and
				// will not reappear in the next fetch.
				continue
			}
			claimed = append(claimed, key)
			s.publish(events.TopicTask, events.TaskClaimedEvent{
				Key:              key,
				Hub:              hubKey,
				ComputeServiceID: computeServiceID,
				Timestamp:        time.Now(),
			})
			if len(claimed) == count {
				break
			}
		}
	}

	s.log.Debug("tasks claimed",
		zap.String("taskhub", hubKey.String()),
		zap.String("compute_service", computeServiceID),
		zap.Int("requested", count),
		zap.Int("claimed", len(claimed)))
	return claimed, nil
}

// SetTaskStatus transitions a task to the given status. The transition is
// applied only if legal from the task's status at commit time, so racing
// writers cannot regress a terminal task. In lenient mode an illegal
// transition returns (false, nil) and leaves the task untouched; in strict
// mode it returns an InvalidTransitionError naming both statuses.
func (s *Service) SetTaskStatus(ctx context.Context, key scope.ScopedKey, to task.Status, strict bool) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("unknown status %q", to)
	}

	applied, err := s.store.UpdateTaskStatus(ctx, key, to, task.AllowedFrom(to))
	if err != nil {
		return false, err
	}
	if !applied {
		// Distinguish a missing task from an illegal edge.
		cur, err := s.store.GetTask(ctx, key)
		if err != nil {
			return false, err
		}
		if strict {
			return false, &task.InvalidTransitionError{From: cur.Status, To: to}
		}
		return false, nil
	}

	if to == task.StatusDeleted {
		if err := s.store.DetachTask(ctx, key); err != nil {
			return false, err
		}
	}

	s.publish(events.TopicTask, events.TaskStatusEvent{Key: key, Status: to, Timestamp: time.Now()})
	return true, nil
}

// DeleteTask soft-deletes a task: status becomes deleted and the task is
// detached from all hubs, but the record is kept for history.
func (s *Service) DeleteTask(ctx context.Context, key scope.ScopedKey) (bool, error) {
	return s.SetTaskStatus(ctx, key, task.StatusDeleted, false)
}

// SetTaskPriority updates a task's claim priority. Lower is sooner.
func (s *Service) SetTaskPriority(ctx context.Context, key scope.ScopedKey, priority int) error {
	if priority <= 0 {
		return fmt.Errorf("priority must be a positive integer, got %d", priority)
	}
	return s.store.SetTaskPriority(ctx, key, priority)
}

// TaskWork is what a compute service needs to execute a claimed task: the
// transformation reference, plus the predecessor's result when the task
// extends a completed task.
type TaskWork struct {
	Transformation scope.ScopedKey  `json:"transformation"`
	ExtendsResult  *scope.ScopedKey `json:"extends_result,omitempty"`
}

// GetTaskTransformation resolves the task's transformation and, when the
// task extends another, that predecessor's result. The result is included
// only if the predecessor's status is complete; otherwise ExtendsResult is
// nil and the caller starts from scratch.
func (s *Service) GetTaskTransformation(ctx context.Context, key scope.ScopedKey) (TaskWork, error) {
	t, err := s.store.GetTask(ctx, key)
	if err != nil {
		return TaskWork{}, err
	}
	work := TaskWork{Transformation: t.Transformation}
	if t.Extends == nil {
		return work, nil
	}

	parent, err := s.store.GetTask(ctx, *t.Extends)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return work, nil
		}
		return TaskWork{}, err
	}
	if parent.Status == task.StatusComplete && parent.Result != nil {
		work.ExtendsResult = parent.Result
	}
	return work, nil
}

// SetTaskResult records the result reference produced by executing the
// task. resultContent names the ProtocolDAGResult object; if empty, a
// fresh key is minted. The result key lives in the task's scope.
func (s *Service) SetTaskResult(ctx context.Context, key scope.ScopedKey, resultContent string) (scope.ScopedKey, error) {
	if _, err := s.store.GetTask(ctx, key); err != nil {
		return scope.ScopedKey{}, err
	}
	if resultContent == "" {
		resultContent = "ProtocolDAGResult-" + uuid.NewString()
	}
	result, err := scope.NewScopedKey(resultContent, key.Scope)
	if err != nil {
		return scope.ScopedKey{}, err
	}
	if err := s.store.SetTaskResult(ctx, key, result); err != nil {
		return scope.ScopedKey{}, err
	}

	s.publish(events.TopicTask, events.TaskResultEvent{Key: key, Result: result, Timestamp: time.Now()})
	return result, nil
}
