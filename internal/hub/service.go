// Package hub implements the task scheduling engine: hub registration,
// task creation and DAG chaining, the atomic claim protocol, and status
// transitions. All durable state lives in the store; the service holds no
// authoritative state of its own, so any number of instances can run
// against one store concurrently.
package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crucibleproj/crucible/internal/auth"
	"github.com/crucibleproj/crucible/internal/events"
	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/store"
	"github.com/crucibleproj/crucible/internal/task"
)

// ErrReferenceNotFound is returned when an extends or transformation
// reference does not resolve within the caller's scope. Never retried.
var ErrReferenceNotFound = errors.New("reference not found")

// Service coordinates scheduling operations against the store.
type Service struct {
	store store.Store
	bus   *events.Bus
	log   *zap.Logger
}

// New creates a scheduling service. bus may be nil if no observers are
// wired; log may be nil for silent operation.
func New(st store.Store, bus *events.Bus, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, bus: bus, log: log}
}

func (s *Service) publish(topic string, e events.Event) {
	if s.bus != nil {
		s.bus.Publish(topic, e)
	}
}

// RegisterNetwork registers an AlchemicalNetwork and its member
// transformations for execution, creating the network's TaskHub.
// Idempotent: the hub key is derived from the network key, so repeated
// registration returns the same hub.
func (s *Service) RegisterNetwork(ctx context.Context, network scope.ScopedKey, transformations []scope.ScopedKey, weight float64) (task.TaskHub, error) {
	for _, tf := range transformations {
		if tf.Scope != network.Scope {
			return task.TaskHub{}, fmt.Errorf("transformation %s is outside network scope %s", tf, network.Scope)
		}
	}

	hubKey, err := scope.NewScopedKey("TaskHub-"+contentHash(network.String()), network.Scope)
	if err != nil {
		return task.TaskHub{}, err
	}
	hub := task.TaskHub{Key: hubKey, Network: network, Weight: weight}
	if err := hub.Validate(); err != nil {
		return task.TaskHub{}, err
	}

	if err := s.store.PutNetwork(ctx, network, transformations); err != nil {
		return task.TaskHub{}, err
	}
	if err := s.store.PutTaskHub(ctx, hub); err != nil {
		return task.TaskHub{}, err
	}

	s.publish(events.TopicHub, events.HubRegisteredEvent{Hub: hubKey, Network: network, Timestamp: time.Now()})
	s.log.Info("network registered",
		zap.String("network", network.String()),
		zap.String("taskhub", hubKey.String()),
		zap.Int("transformations", len(transformations)))
	return s.store.GetTaskHub(ctx, hubKey)
}

// GetTaskHub returns a hub by key.
func (s *Service) GetTaskHub(ctx context.Context, key scope.ScopedKey) (task.TaskHub, error) {
	return s.store.GetTaskHub(ctx, key)
}

// QueryTaskHubs returns hubs whose scope matches the pattern.
func (s *Service) QueryTaskHubs(ctx context.Context, pattern scope.Scope) ([]task.TaskHub, error) {
	return s.store.QueryTaskHubs(ctx, pattern)
}

// SetTaskHubWeight updates a hub's fair-share weight.
func (s *Service) SetTaskHubWeight(ctx context.Context, key scope.ScopedKey, weight float64) error {
	if weight < 0 || weight > 1 {
		return fmt.Errorf("weight must be within [0, 1], got %v", weight)
	}
	return s.store.SetTaskHubWeight(ctx, key, weight)
}

// QueryTaskHubTasks returns the hub's tasks keyed by ScopedKey, optionally
// filtered by status. Read-only.
func (s *Service) QueryTaskHubTasks(ctx context.Context, hubKey scope.ScopedKey, filter task.Status) (map[scope.ScopedKey]task.Task, error) {
	if filter != "" && !filter.Valid() {
		return nil, fmt.Errorf("unknown status filter %q", filter)
	}
	if _, err := s.store.GetTaskHub(ctx, hubKey); err != nil {
		return nil, err
	}
	tasks, err := s.store.HubTasks(ctx, hubKey, filter)
	if err != nil {
		return nil, err
	}
	out := make(map[scope.ScopedKey]task.Task, len(tasks))
	for _, t := range tasks {
		out[t.Key] = t
	}
	return out, nil
}

// RegisterIdentity stores an identity's credential hash and grants it the
// given scopes. Replaces any previous credential for the identity.
func (s *Service) RegisterIdentity(ctx context.Context, identity, key string, scopes []scope.Scope) error {
	if identity == "" || key == "" {
		return fmt.Errorf("identity and key are required")
	}
	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	if err := s.store.PutIdentity(ctx, identity, hash); err != nil {
		return err
	}
	for _, sc := range scopes {
		if err := s.store.GrantScope(ctx, identity, sc); err != nil {
			return err
		}
	}
	s.log.Info("identity registered", zap.String("identity", identity), zap.Int("scopes", len(scopes)))
	return nil
}

// Authenticate verifies an identity's key against the stored hash and
// returns its scope grants. Unknown identities and wrong keys both return
// auth.ErrInvalidCredential.
func (s *Service) Authenticate(ctx context.Context, identity, key string) ([]scope.Scope, error) {
	hash, err := s.store.IdentityKeyHash(ctx, identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrInvalidCredential
		}
		return nil, err
	}
	if err := auth.VerifyKey(hash, key); err != nil {
		return nil, err
	}
	return s.store.IdentityScopes(ctx, identity)
}

// IdentityScopes returns the scope grants for an identity.
func (s *Service) IdentityScopes(ctx context.Context, identity string) ([]scope.Scope, error) {
	return s.store.IdentityScopes(ctx, identity)
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}
