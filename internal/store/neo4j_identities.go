package store

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/crucibleproj/crucible/internal/scope"
)

// PutIdentity upserts an identity's credential hash.
func (s *Neo4jStore) PutIdentity(ctx context.Context, id, keyHash string) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (i:Identity {id: $id})
			SET i.key_hash = $hash
		`, map[string]any{"id": id, "hash": keyHash})
		return nil, err
	})
	if err != nil {
		return storeErr("put identity", err)
	}
	return nil
}

// IdentityKeyHash returns the stored credential hash for an identity.
func (s *Neo4jStore) IdentityKeyHash(ctx context.Context, id string) (string, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (i:Identity {id: $id}) RETURN i.key_hash AS key_hash
		`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return "", storeErr("get identity", err)
	}

	records := out.([]*neo4j.Record)
	if len(records) == 0 {
		return "", fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	return propString(records[0], "key_hash"), nil
}

// GrantScope grants an identity access to a scope pattern. Idempotent.
func (s *Neo4jStore) GrantScope(ctx context.Context, identity string, sc scope.Scope) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (i:Identity {id: $id})
			MERGE (s:ScopeGrant {org: $org, campaign: $campaign, project: $project})
			MERGE (i)-[:HAS_GRANT]->(s)
		`, map[string]any{
			"id":       identity,
			"org":      sc.Org,
			"campaign": sc.Campaign,
			"project":  sc.Project,
		})
		return nil, err
	})
	if err != nil {
		return storeErr("grant scope", err)
	}
	return nil
}

// IdentityScopes returns the identity's scope grants in stable order.
func (s *Neo4jStore) IdentityScopes(ctx context.Context, identity string) ([]scope.Scope, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (:Identity {id: $id})-[:HAS_GRANT]->(s:ScopeGrant)
			RETURN s.org AS org, s.campaign AS campaign, s.project AS project
			ORDER BY org, campaign, project
		`, map[string]any{"id": identity})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, storeErr("identity scopes", err)
	}

	records := out.([]*neo4j.Record)
	scopes := make([]scope.Scope, 0, len(records))
	for _, record := range records {
		sc, err := scope.NewPattern(
			propString(record, "org"),
			propString(record, "campaign"),
			propString(record, "project"))
		if err != nil {
			return nil, fmt.Errorf("corrupt scope grant: %w", err)
		}
		scopes = append(scopes, sc)
	}
	return scopes, nil
}
