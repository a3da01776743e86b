package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/task"
)

// PutNetwork registers a network and its member transformations.
// Idempotent: re-registering merges the transformation set.
func (s *SQLiteStore) PutNetwork(ctx context.Context, network scope.ScopedKey, transformations []scope.ScopedKey) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return storeErr("begin put network", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO networks (key, org, campaign, project)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, network.String(), network.Scope.Org, network.Scope.Campaign, network.Scope.Project)
	if err != nil {
		return storeErr("insert network", err)
	}

	for _, tf := range transformations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO network_transformations (network_key, transformation_key)
			VALUES (?, ?)
			ON CONFLICT(network_key, transformation_key) DO NOTHING
		`, network.String(), tf.String())
		if err != nil {
			return storeErr("insert network transformation", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit put network", err)
	}
	return nil
}

// TransformationRegistered reports whether any network contains the
// transformation.
func (s *SQLiteStore) TransformationRegistered(ctx context.Context, transformation scope.ScopedKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM network_transformations WHERE transformation_key = ? LIMIT 1
	`, transformation.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("check transformation", err)
	}
	return true, nil
}

// PutTaskHub upserts a hub keyed by its ScopedKey. The weight of an
// existing hub is preserved; use SetTaskHubWeight to change it.
func (s *SQLiteStore) PutTaskHub(ctx context.Context, hub task.TaskHub) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taskhubs (key, network_key, org, campaign, project, weight)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, hub.Key.String(), hub.Network.String(),
		hub.Key.Scope.Org, hub.Key.Scope.Campaign, hub.Key.Scope.Project, hub.Weight)
	if err != nil {
		return storeErr("put taskhub", err)
	}
	return nil
}

// GetTaskHub retrieves a hub by key.
func (s *SQLiteStore) GetTaskHub(ctx context.Context, key scope.ScopedKey) (task.TaskHub, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, network_key, weight FROM taskhubs WHERE key = ?
	`, key.String())

	hub, err := scanTaskHub(row)
	if err == sql.ErrNoRows {
		return task.TaskHub{}, fmt.Errorf("taskhub %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return task.TaskHub{}, storeErr("get taskhub", err)
	}
	return hub, nil
}

// QueryTaskHubs returns hubs whose scope matches the pattern, in creation
// order. Wildcard pattern components match any value.
func (s *SQLiteStore) QueryTaskHubs(ctx context.Context, pattern scope.Scope) ([]task.TaskHub, error) {
	q := `SELECT key, network_key, weight FROM taskhubs`
	var (
		conds []string
		args  []any
	)
	for col, val := range map[string]string{"org": pattern.Org, "campaign": pattern.Campaign, "project": pattern.Project} {
		if val != scope.Wildcard {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	for i, c := range conds {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	q += " ORDER BY created_at, key"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("query taskhubs", err)
	}
	defer rows.Close()

	var hubs []task.TaskHub
	for rows.Next() {
		hub, err := scanTaskHub(rows)
		if err != nil {
			return nil, storeErr("scan taskhub", err)
		}
		hubs = append(hubs, hub)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate taskhubs", err)
	}
	return hubs, nil
}

// SetTaskHubWeight updates a hub's fair-share weight.
func (s *SQLiteStore) SetTaskHubWeight(ctx context.Context, key scope.ScopedKey, weight float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE taskhubs SET weight = ? WHERE key = ?
	`, weight, key.String())
	if err != nil {
		return storeErr("set taskhub weight", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("taskhub %s: %w", key, ErrNotFound)
	}
	return nil
}

func scanTaskHub(row rowScanner) (task.TaskHub, error) {
	var (
		hub        task.TaskHub
		rawKey     string
		rawNetwork string
	)
	if err := row.Scan(&rawKey, &rawNetwork, &hub.Weight); err != nil {
		return task.TaskHub{}, err
	}

	var err error
	if hub.Key, err = scope.Parse(rawKey); err != nil {
		return task.TaskHub{}, fmt.Errorf("corrupt taskhub key %q: %w", rawKey, err)
	}
	if hub.Network, err = scope.Parse(rawNetwork); err != nil {
		return task.TaskHub{}, fmt.Errorf("corrupt network key %q: %w", rawNetwork, err)
	}
	return hub, nil
}
