package store

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/crucibleproj/crucible/internal/query"
	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/task"
)

const taskReturn = `RETURN t.key AS key, t.transformation_key AS transformation_key,
	t.extends_key AS extends_key, t.status AS status, t.priority AS priority,
	t.creator AS creator, t.assignee AS assignee, t.result_key AS result_key,
	t.created_at AS created_at, t.claimed_at AS claimed_at`

// CreateTasks inserts tasks in one transaction and attaches each to every
// hub whose network contains the task's transformation. Re-inserting an
// existing key is a no-op: properties are untouched and no new hub
// attachments are made.
func (s *Neo4jStore) CreateTasks(ctx context.Context, tasks []task.Task) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i := range tasks {
			t := &tasks[i]

			// Monotonic sequence for insertion-order claim tie-breaks.
			result, err := tx.Run(ctx, `
				MERGE (c:TaskCounter {name: 'task_seq'})
				ON CREATE SET c.value = 0
				SET c.value = c.value + 1
				RETURN c.value AS seq
			`, nil)
			if err != nil {
				return nil, err
			}
			record, err := result.Single(ctx)
			if err != nil {
				return nil, err
			}
			seq, _ := record.Get("seq")

			var extends any
			if t.Extends != nil {
				extends = t.Extends.String()
			}
			result, err = tx.Run(ctx, `
				MERGE (t:Task {key: $key})
				ON CREATE SET t.transformation_key = $transformation, t.extends_key = $extends,
					t.status = $status, t.priority = $priority, t.creator = $creator,
					t.assignee = '', t.seq = $seq, t.created_at = $created_at,
					t.org = $org, t.campaign = $campaign, t.project = $project
				RETURN t.seq = $seq AS created
			`, map[string]any{
				"key":            t.Key.String(),
				"transformation": t.Transformation.String(),
				"extends":        extends,
				"status":         string(t.Status),
				"priority":       t.Priority,
				"creator":        t.Creator,
				"seq":            seq,
				"created_at":     t.CreatedAt.Format(time.RFC3339Nano),
				"org":            t.Key.Scope.Org,
				"campaign":       t.Key.Scope.Campaign,
				"project":        t.Key.Scope.Project,
			})
			if err != nil {
				return nil, err
			}
			record, err = result.Single(ctx)
			if err != nil {
				return nil, err
			}
			if created, _ := record.Get("created"); created != true {
				continue
			}

			_, err = tx.Run(ctx, `
				MATCH (t:Task {key: $key})
				MATCH (h:TaskHub)-[:PERFORMS]->(:AlchemicalNetwork)-[:CONTAINS]->(:Transformation {key: $transformation})
				MERGE (h)-[:ACTIONS]->(t)
			`, map[string]any{
				"key":            t.Key.String(),
				"transformation": t.Transformation.String(),
			})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return storeErr("create tasks", err)
	}
	return nil
}

// GetTask retrieves a task by key.
func (s *Neo4jStore) GetTask(ctx context.Context, key scope.ScopedKey) (task.Task, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, "MATCH (t:Task {key: $key})\n"+taskReturn,
			map[string]any{"key": key.String()})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return task.Task{}, storeErr("get task", err)
	}

	records := out.([]*neo4j.Record)
	if len(records) == 0 {
		return task.Task{}, fmt.Errorf("task %s: %w", key, ErrNotFound)
	}
	return recordTask(records[0])
}

// HubTasks returns the tasks attached to a hub in insertion order,
// optionally filtered by status.
func (s *Neo4jStore) HubTasks(ctx context.Context, hub scope.ScopedKey, filter task.Status) ([]task.Task, error) {
	match, err := query.New("MATCH (:TaskHub {key: $hub})-[:ACTIONS]->(t:Task)",
		map[string]any{"hub": hub.String()})
	if err != nil {
		return nil, storeErr("build hub tasks query", err)
	}
	var cond query.Fragment
	if filter != "" {
		cond, err = query.New("WHERE t.status = $status", map[string]any{"status": string(filter)})
		if err != nil {
			return nil, storeErr("build hub tasks query", err)
		}
	}
	stmt, err := query.Join(match, cond, query.Text(taskReturn), query.Text("ORDER BY t.seq"))
	if err != nil {
		return nil, storeErr("build hub tasks query", err)
	}

	return s.collectTasks(ctx, stmt)
}

// WaitingTaskKeys returns up to limit keys of waiting tasks attached to
// the hub, ordered by priority ascending then insertion order.
func (s *Neo4jStore) WaitingTaskKeys(ctx context.Context, hub scope.ScopedKey, limit int) ([]scope.ScopedKey, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (:TaskHub {key: $hub})-[:ACTIONS]->(t:Task {status: 'waiting'})
			RETURN t.key AS key
			ORDER BY t.priority ASC, t.seq ASC
			LIMIT $limit
		`, map[string]any{"hub": hub.String(), "limit": limit})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, storeErr("waiting task keys", err)
	}

	records := out.([]*neo4j.Record)
	keys := make([]scope.ScopedKey, 0, len(records))
	for _, record := range records {
		raw := propString(record, "key")
		k, err := scope.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt task key %q: %w", raw, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ClaimTask transitions a task waiting -> running for the assignee,
// conditioned on the task still being waiting at commit time.
func (s *Neo4jStore) ClaimTask(ctx context.Context, key scope.ScopedKey, assignee string) (bool, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (t:Task {key: $key})
			WHERE t.status = 'waiting'
			SET t.status = 'running', t.assignee = $assignee, t.claimed_at = $now
			RETURN count(t) AS claimed
		`, map[string]any{
			"key":      key.String(),
			"assignee": assignee,
			"now":      time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		claimed, _ := record.Get("claimed")
		return claimed, nil
	})
	if err != nil {
		return false, storeErr("claim task", err)
	}
	n, _ := out.(int64)
	return n > 0, nil
}

// UpdateTaskStatus sets the task's status only if its current status is in
// from. Moving to waiting clears the assignee and claim timestamp.
func (s *Neo4jStore) UpdateTaskStatus(ctx context.Context, key scope.ScopedKey, to task.Status, from []task.Status) (bool, error) {
	fromVals := make([]string, len(from))
	for i, st := range from {
		fromVals[i] = string(st)
	}
	set := "SET t.status = $to"
	if to == task.StatusWaiting {
		set += ", t.assignee = '', t.claimed_at = null"
	}

	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (t:Task {key: $key})\nWHERE t.status IN $from\n"+set+"\nRETURN count(t) AS updated",
			map[string]any{"key": key.String(), "to": string(to), "from": fromVals})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		updated, _ := record.Get("updated")
		return updated, nil
	})
	if err != nil {
		return false, storeErr("update task status", err)
	}
	n, _ := out.(int64)
	return n > 0, nil
}

// DetachTask removes the task from all hub eligible sets. The task node
// itself is kept.
func (s *Neo4jStore) DetachTask(ctx context.Context, key scope.ScopedKey) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (:TaskHub)-[r:ACTIONS]->(:Task {key: $key})
			DELETE r
		`, map[string]any{"key": key.String()})
		return nil, err
	})
	if err != nil {
		return storeErr("detach task", err)
	}
	return nil
}

// SetTaskPriority updates a task's claim priority.
func (s *Neo4jStore) SetTaskPriority(ctx context.Context, key scope.ScopedKey, priority int) error {
	return s.setTaskProp(ctx, key, "priority", priority)
}

// SetTaskResult records the result reference for a task.
func (s *Neo4jStore) SetTaskResult(ctx context.Context, key scope.ScopedKey, result scope.ScopedKey) error {
	return s.setTaskProp(ctx, key, "result_key", result.String())
}

func (s *Neo4jStore) setTaskProp(ctx context.Context, key scope.ScopedKey, prop string, value any) error {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (t:Task {key: $key})\nSET t."+query.EscapeIdent(prop)+" = $value\nRETURN count(t) AS updated",
			map[string]any{"key": key.String(), "value": value})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		updated, _ := record.Get("updated")
		return updated, nil
	})
	if err != nil {
		return storeErr("set task "+prop, err)
	}
	if n, _ := out.(int64); n == 0 {
		return fmt.Errorf("task %s: %w", key, ErrNotFound)
	}
	return nil
}

func (s *Neo4jStore) collectTasks(ctx context.Context, stmt query.Fragment) ([]task.Task, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, stmt.Query(), stmt.Params())
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, storeErr("collect tasks", err)
	}

	records := out.([]*neo4j.Record)
	tasks := make([]task.Task, 0, len(records))
	for _, record := range records {
		t, err := recordTask(record)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func recordTask(record *neo4j.Record) (task.Task, error) {
	var t task.Task
	var err error

	rawKey := propString(record, "key")
	if t.Key, err = scope.Parse(rawKey); err != nil {
		return task.Task{}, fmt.Errorf("corrupt task key %q: %w", rawKey, err)
	}
	rawTf := propString(record, "transformation_key")
	if t.Transformation, err = scope.Parse(rawTf); err != nil {
		return task.Task{}, fmt.Errorf("corrupt transformation key %q: %w", rawTf, err)
	}
	if raw := propString(record, "extends_key"); raw != "" {
		ext, err := scope.Parse(raw)
		if err != nil {
			return task.Task{}, fmt.Errorf("corrupt extends key %q: %w", raw, err)
		}
		t.Extends = &ext
	}
	if raw := propString(record, "result_key"); raw != "" {
		res, err := scope.Parse(raw)
		if err != nil {
			return task.Task{}, fmt.Errorf("corrupt result key %q: %w", raw, err)
		}
		t.Result = &res
	}

	t.Status = task.Status(propString(record, "status"))
	t.Priority = int(propInt(record, "priority"))
	t.Creator = propString(record, "creator")
	t.Assignee = propString(record, "assignee")
	if created := propTime(record, "created_at"); created != nil {
		t.CreatedAt = *created
	}
	t.ClaimedAt = propTime(record, "claimed_at")
	return t, nil
}
