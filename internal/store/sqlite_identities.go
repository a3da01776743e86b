package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crucibleproj/crucible/internal/scope"
)

// PutIdentity upserts an identity and its hashed access key.
func (s *SQLiteStore) PutIdentity(ctx context.Context, id, keyHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, key_hash)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET key_hash = excluded.key_hash
	`, id, keyHash)
	if err != nil {
		return storeErr("put identity", err)
	}
	return nil
}

// IdentityKeyHash returns the stored credential hash for an identity.
func (s *SQLiteStore) IdentityKeyHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT key_hash FROM identities WHERE id = ?
	`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", storeErr("get identity", err)
	}
	return hash, nil
}

// GrantScope records that an identity may access entities in the scope.
// Idempotent.
func (s *SQLiteStore) GrantScope(ctx context.Context, identity string, sc scope.Scope) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scope_grants (identity, org, campaign, project)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity, org, campaign, project) DO NOTHING
	`, identity, sc.Org, sc.Campaign, sc.Project)
	if err != nil {
		return storeErr("grant scope", err)
	}
	return nil
}

// IdentityScopes returns the scopes granted to an identity.
func (s *SQLiteStore) IdentityScopes(ctx context.Context, identity string) ([]scope.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org, campaign, project FROM scope_grants WHERE identity = ?
		ORDER BY org, campaign, project
	`, identity)
	if err != nil {
		return nil, storeErr("query identity scopes", err)
	}
	defer rows.Close()

	var scopes []scope.Scope
	for rows.Next() {
		var sc scope.Scope
		if err := rows.Scan(&sc.Org, &sc.Campaign, &sc.Project); err != nil {
			return nil, storeErr("scan scope grant", err)
		}
		scopes = append(scopes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate scope grants", err)
	}
	return scopes, nil
}
