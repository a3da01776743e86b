package store

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/crucibleproj/crucible/internal/query"
	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/task"
)

// PutNetwork registers a network and its member transformations.
// Idempotent: re-registering merges the transformation set.
func (s *Neo4jStore) PutNetwork(ctx context.Context, network scope.ScopedKey, transformations []scope.ScopedKey) error {
	tfKeys := make([]string, len(transformations))
	for i, tf := range transformations {
		tfKeys[i] = tf.String()
	}

	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (n:AlchemicalNetwork {key: $network})
			ON CREATE SET n.org = $org, n.campaign = $campaign, n.project = $project
			WITH n
			UNWIND $transformations AS tfKey
			MERGE (t:Transformation {key: tfKey})
			MERGE (n)-[:CONTAINS]->(t)
		`, map[string]any{
			"network":         network.String(),
			"org":             network.Scope.Org,
			"campaign":        network.Scope.Campaign,
			"project":         network.Scope.Project,
			"transformations": tfKeys,
		})
		return nil, err
	})
	if err != nil {
		return storeErr("put network", err)
	}
	return nil
}

// TransformationRegistered reports whether any network contains the
// transformation.
func (s *Neo4jStore) TransformationRegistered(ctx context.Context, transformation scope.ScopedKey) (bool, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (:AlchemicalNetwork)-[:CONTAINS]->(t:Transformation {key: $key})
			RETURN count(t) > 0 AS registered
		`, map[string]any{"key": transformation.String()})
		if err != nil {
			return false, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return false, err
		}
		registered, _ := record.Get("registered")
		return registered == true, nil
	})
	if err != nil {
		return false, storeErr("check transformation", err)
	}
	return out.(bool), nil
}

// PutTaskHub upserts a hub keyed by its ScopedKey. The weight of an
// existing hub is preserved; use SetTaskHubWeight to change it.
func (s *Neo4jStore) PutTaskHub(ctx context.Context, hub task.TaskHub) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (n:AlchemicalNetwork {key: $network})
			MERGE (h:TaskHub {key: $key})
			ON CREATE SET h.network_key = $network, h.weight = $weight,
			              h.org = $org, h.campaign = $campaign, h.project = $project
			MERGE (h)-[:PERFORMS]->(n)
		`, map[string]any{
			"key":      hub.Key.String(),
			"network":  hub.Network.String(),
			"weight":   hub.Weight,
			"org":      hub.Key.Scope.Org,
			"campaign": hub.Key.Scope.Campaign,
			"project":  hub.Key.Scope.Project,
		})
		return nil, err
	})
	if err != nil {
		return storeErr("put taskhub", err)
	}
	return nil
}

// GetTaskHub retrieves a hub by key.
func (s *Neo4jStore) GetTaskHub(ctx context.Context, key scope.ScopedKey) (task.TaskHub, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (h:TaskHub {key: $key})
			RETURN h.key AS key, h.network_key AS network_key, h.weight AS weight
		`, map[string]any{"key": key.String()})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return records, nil
	})
	if err != nil {
		return task.TaskHub{}, storeErr("get taskhub", err)
	}

	records := out.([]*neo4j.Record)
	if len(records) == 0 {
		return task.TaskHub{}, fmt.Errorf("taskhub %s: %w", key, ErrNotFound)
	}
	return recordTaskHub(records[0])
}

// QueryTaskHubs returns hubs whose scope matches the pattern, in creation
// order. The statement is assembled from fragments so the scope conditions
// compose without clobbering each other's bindings.
func (s *Neo4jStore) QueryTaskHubs(ctx context.Context, pattern scope.Scope) ([]task.TaskHub, error) {
	match := query.Text("MATCH (h:TaskHub)")
	var conds []query.Fragment
	for name, val := range map[string]string{"org": pattern.Org, "campaign": pattern.Campaign, "project": pattern.Project} {
		if val == scope.Wildcard {
			continue
		}
		cond, err := query.New(
			fmt.Sprintf("%s h.%s = $%s", condKeyword(len(conds)), query.EscapeIdent(name), name),
			map[string]any{name: val})
		if err != nil {
			return nil, storeErr("build taskhub query", err)
		}
		conds = append(conds, cond)
	}
	ret := query.Text("RETURN h.key AS key, h.network_key AS network_key, h.weight AS weight ORDER BY key")

	stmt, err := query.Join(append(append([]query.Fragment{match}, conds...), ret)...)
	if err != nil {
		return nil, storeErr("build taskhub query", err)
	}

	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, stmt.Query(), stmt.Params())
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, storeErr("query taskhubs", err)
	}

	records := out.([]*neo4j.Record)
	hubs := make([]task.TaskHub, 0, len(records))
	for _, record := range records {
		hub, err := recordTaskHub(record)
		if err != nil {
			return nil, err
		}
		hubs = append(hubs, hub)
	}
	return hubs, nil
}

func condKeyword(i int) string {
	if i == 0 {
		return "WHERE"
	}
	return "AND"
}

// SetTaskHubWeight updates a hub's fair-share weight.
func (s *Neo4jStore) SetTaskHubWeight(ctx context.Context, key scope.ScopedKey, weight float64) error {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (h:TaskHub {key: $key})
			SET h.weight = $weight
			RETURN count(h) AS updated
		`, map[string]any{"key": key.String(), "weight": weight})
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
		return storeErr("set taskhub weight", err)
	}
	if n, _ := out.(int64); n == 0 {
		return fmt.Errorf("taskhub %s: %w", key, ErrNotFound)
	}
	return nil
}

func recordTaskHub(record *neo4j.Record) (task.TaskHub, error) {
	var hub task.TaskHub
	var err error

	rawKey := propString(record, "key")
	if hub.Key, err = scope.Parse(rawKey); err != nil {
		return task.TaskHub{}, fmt.Errorf("corrupt taskhub key %q: %w", rawKey, err)
	}
	rawNetwork := propString(record, "network_key")
	if hub.Network, err = scope.Parse(rawNetwork); err != nil {
		return task.TaskHub{}, fmt.Errorf("corrupt network key %q: %w", rawNetwork, err)
	}
	hub.Weight = propFloat(record, "weight")
	return hub, nil
}
