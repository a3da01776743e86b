package store

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore implements Store on a Neo4j graph database, the backend the
// system is deployed on operationally. Entities are nodes keyed by their
// ScopedKey string; hub membership and network containment are
// relationships. Claim atomicity rests on conditional SET inside managed
// write transactions.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

var _ Store = (*Neo4jStore)(nil)

// NewNeo4jStore connects to a Neo4j instance and prepares constraints.
func NewNeo4jStore(ctx context.Context, uri, user, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}

	s := &Neo4jStore{driver: driver}
	if err := s.initConstraints(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to initialize constraints: %w", err)
	}
	return s, nil
}

func (s *Neo4jStore) initConstraints(ctx context.Context) error {
	constraints := []string{
		"CREATE CONSTRAINT network_key IF NOT EXISTS FOR (n:AlchemicalNetwork) REQUIRE n.key IS UNIQUE",
		"CREATE CONSTRAINT transformation_key IF NOT EXISTS FOR (t:Transformation) REQUIRE t.key IS UNIQUE",
		"CREATE CONSTRAINT taskhub_key IF NOT EXISTS FOR (h:TaskHub) REQUIRE h.key IS UNIQUE",
		"CREATE CONSTRAINT task_key IF NOT EXISTS FOR (t:Task) REQUIRE t.key IS UNIQUE",
		"CREATE CONSTRAINT identity_id IF NOT EXISTS FOR (i:Identity) REQUIRE i.id IS UNIQUE",
	}
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, c := range constraints {
			if _, err := tx.Run(ctx, c, nil); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// Close releases the driver's connection pool.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Neo4jStore) write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	out, err := session.ExecuteWrite(ctx, work)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Neo4jStore) read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, work)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Property conversion helpers. The driver hands back any-typed values;
// these keep the scanning code flat.

func propString(record *neo4j.Record, name string) string {
	v, ok := record.Get(name)
	if !ok || v == nil {
		return ""
	}
	str, _ := v.(string)
	return str
}

func propInt(record *neo4j.Record, name string) int64 {
	v, ok := record.Get(name)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}

func propFloat(record *neo4j.Record, name string) float64 {
	v, ok := record.Get(name)
	if !ok || v == nil {
		return 0
	}
	f, _ := v.(float64)
	return f
}

func propTime(record *neo4j.Record, name string) *time.Time {
	str := propString(record, name)
	if str == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return nil
	}
	return &t
}
