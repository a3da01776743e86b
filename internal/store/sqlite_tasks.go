package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/task"
)

const taskColumns = `key, transformation_key, extends_key, status, priority, creator, assignee, result_key, created_at, claimed_at`

// CreateTasks inserts tasks and their hub attachments in one transaction.
// Hub membership is derived from the transformation's network membership
// at insert time. Re-inserting an existing key is a no-op.
func (s *SQLiteStore) CreateTasks(ctx context.Context, tasks []task.Task) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return storeErr("begin create tasks", err)
	}
	defer tx.Rollback()

	for _, t := range tasks {
		var extends any
		if t.Extends != nil {
			extends = t.Extends.String()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (key, org, campaign, project, transformation_key, extends_key, status, priority, creator)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`, t.Key.String(), t.Key.Scope.Org, t.Key.Scope.Campaign, t.Key.Scope.Project,
			t.Transformation.String(), extends, string(t.Status), t.Priority, t.Creator)
		if err != nil {
			return storeErr("insert task", err)
		}

		// Attach to every hub whose network contains the transformation.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO hub_tasks (hub_key, task_key)
			SELECT th.key, ?
			FROM taskhubs th
			JOIN network_transformations nt ON nt.network_key = th.network_key
			WHERE nt.transformation_key = ?
			ON CONFLICT(hub_key, task_key) DO NOTHING
		`, t.Key.String(), t.Transformation.String())
		if err != nil {
			return storeErr("attach task to hubs", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit create tasks", err)
	}
	return nil
}

// GetTask retrieves a task by key.
func (s *SQLiteStore) GetTask(ctx context.Context, key scope.ScopedKey) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE key = ?
	`, key.String())

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return task.Task{}, fmt.Errorf("task %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return task.Task{}, storeErr("get task", err)
	}
	return t, nil
}

// HubTasks returns the tasks attached to a hub, optionally filtered by
// status. Ordered by priority then insertion order for deterministic
// listings.
func (s *SQLiteStore) HubTasks(ctx context.Context, hub scope.ScopedKey, filter task.Status) ([]task.Task, error) {
	q := `
		SELECT t.` + strings.ReplaceAll(taskColumns, ", ", ", t.") + `
		FROM tasks t
		JOIN hub_tasks ht ON ht.task_key = t.key
		WHERE ht.hub_key = ?`
	args := []any{hub.String()}
	if filter != "" {
		q += ` AND t.status = ?`
		args = append(args, string(filter))
	}
	q += ` ORDER BY t.priority ASC, t.id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("query hub tasks", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storeErr("scan hub task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate hub tasks", err)
	}
	return tasks, nil
}

// WaitingTaskKeys returns up to limit keys of waiting tasks on the hub in
// claim order: priority ascending, then insertion order.
func (s *SQLiteStore) WaitingTaskKeys(ctx context.Context, hub scope.ScopedKey, limit int) ([]scope.ScopedKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.key
		FROM tasks t
		JOIN hub_tasks ht ON ht.task_key = t.key
		WHERE ht.hub_key = ? AND t.status = ?
		ORDER BY t.priority ASC, t.id ASC
		LIMIT ?
	`, hub.String(), string(task.StatusWaiting), limit)
	if err != nil {
		return nil, storeErr("query waiting tasks", err)
	}
	defer rows.Close()

	var keys []scope.ScopedKey
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, storeErr("scan waiting task key", err)
		}
		k, err := scope.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt task key %q in store: %w", raw, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate waiting tasks", err)
	}
	return keys, nil
}

// ClaimTask performs the compare-and-set at the heart of the claim
// protocol: the transition only commits if the task is still waiting.
func (s *SQLiteStore) ClaimTask(ctx context.Context, key scope.ScopedKey, assignee string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, assignee = ?, claimed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE key = ? AND status = ?
	`, string(task.StatusRunning), assignee, key.String(), string(task.StatusWaiting))
	if err != nil {
		return false, storeErr("claim task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("claim task rows affected", err)
	}
	return n == 1, nil
}

// UpdateTaskStatus sets the status only if the current status is in from.
// A move back to waiting releases the claim (assignee and claim time).
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, key scope.ScopedKey, to task.Status, from []task.Status) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	q := `UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP`
	if to == task.StatusWaiting {
		q += `, assignee = '', claimed_at = NULL`
	}
	q += ` WHERE key = ? AND status IN (` + placeholders + `)`

	args := []any{string(to), key.String()}
	for _, f := range from {
		args = append(args, string(f))
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, storeErr("update task status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("update task status rows affected", err)
	}
	return n == 1, nil
}

// DetachTask removes the task from all hub eligible sets. The task row is
// kept; soft-deleted tasks remain addressable by key.
func (s *SQLiteStore) DetachTask(ctx context.Context, key scope.ScopedKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hub_tasks WHERE task_key = ?`, key.String())
	if err != nil {
		return storeErr("detach task", err)
	}
	return nil
}

// SetTaskPriority updates the claim ordering priority of a task.
func (s *SQLiteStore) SetTaskPriority(ctx context.Context, key scope.ScopedKey, priority int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET priority = ?, updated_at = CURRENT_TIMESTAMP WHERE key = ?
	`, priority, key.String())
	if err != nil {
		return storeErr("set task priority", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", key, ErrNotFound)
	}
	return nil
}

// SetTaskResult stores the opaque result reference on the task. Status is
// not touched; completing the task is a separate explicit call.
func (s *SQLiteStore) SetTaskResult(ctx context.Context, key scope.ScopedKey, result scope.ScopedKey) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET result_key = ?, updated_at = CURRENT_TIMESTAMP WHERE key = ?
	`, result.String(), key.String())
	if err != nil {
		return storeErr("set task result", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", key, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t          task.Task
		rawKey     string
		rawTf      string
		rawExtends sql.NullString
		rawStatus  string
		rawResult  sql.NullString
		claimedAt  sql.NullTime
	)
	err := row.Scan(&rawKey, &rawTf, &rawExtends, &rawStatus, &t.Priority,
		&t.Creator, &t.Assignee, &rawResult, &t.CreatedAt, &claimedAt)
	if err != nil {
		return task.Task{}, err
	}

	if t.Key, err = scope.Parse(rawKey); err != nil {
		return task.Task{}, fmt.Errorf("corrupt task key %q: %w", rawKey, err)
	}
	if t.Transformation, err = scope.Parse(rawTf); err != nil {
		return task.Task{}, fmt.Errorf("corrupt transformation key %q: %w", rawTf, err)
	}
	if rawExtends.Valid {
		k, err := scope.Parse(rawExtends.String)
		if err != nil {
			return task.Task{}, fmt.Errorf("corrupt extends key %q: %w", rawExtends.String, err)
		}
		t.Extends = &k
	}
	if rawResult.Valid {
		k, err := scope.Parse(rawResult.String)
		if err != nil {
			return task.Task{}, fmt.Errorf("corrupt result key %q: %w", rawResult.String, err)
		}
		t.Result = &k
	}
	if claimedAt.Valid {
		t.ClaimedAt = &claimedAt.Time
	}
	t.Status = task.Status(rawStatus)
	return t, nil
}
