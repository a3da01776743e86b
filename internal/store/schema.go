package store

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS networks (
		key TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		campaign TEXT NOT NULL,
		project TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS network_transformations (
		network_key TEXT NOT NULL,
		transformation_key TEXT NOT NULL,
		PRIMARY KEY (network_key, transformation_key),
		FOREIGN KEY (network_key) REFERENCES networks(key)
	);

	CREATE INDEX IF NOT EXISTS idx_network_transformations_tf
		ON network_transformations(transformation_key);

	CREATE TABLE IF NOT EXISTS taskhubs (
		key TEXT PRIMARY KEY,
		network_key TEXT NOT NULL UNIQUE,
		org TEXT NOT NULL,
		campaign TEXT NOT NULL,
		project TEXT NOT NULL,
		weight REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (network_key) REFERENCES networks(key)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		org TEXT NOT NULL,
		campaign TEXT NOT NULL,
		project TEXT NOT NULL,
		transformation_key TEXT NOT NULL,
		extends_key TEXT,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL,
		creator TEXT NOT NULL DEFAULT '',
		assignee TEXT NOT NULL DEFAULT '',
		result_key TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		claimed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS hub_tasks (
		hub_key TEXT NOT NULL,
		task_key TEXT NOT NULL,
		PRIMARY KEY (hub_key, task_key),
		FOREIGN KEY (hub_key) REFERENCES taskhubs(key),
		FOREIGN KEY (task_key) REFERENCES tasks(key)
	);

	CREATE INDEX IF NOT EXISTS idx_hub_tasks_hub ON hub_tasks(hub_key);

	CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scope_grants (
		identity TEXT NOT NULL,
		org TEXT NOT NULL,
		campaign TEXT NOT NULL,
		project TEXT NOT NULL,
		PRIMARY KEY (identity, org, campaign, project),
		FOREIGN KEY (identity) REFERENCES identities(id)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
