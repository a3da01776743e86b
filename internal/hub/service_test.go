package hub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/crucibleproj/crucible/internal/events"
	"github.com/crucibleproj/crucible/internal/scope"
	"github.com/crucibleproj/crucible/internal/store"
	"github.com/crucibleproj/crucible/internal/task"
)

func testScope(t *testing.T) scope.Scope {
	t.Helper()
	sc, err := scope.New("test_org", "test_campaign", "test_project")
	if err != nil {
		t.Fatalf("scope.New: %v", err)
	}
	return sc
}

func mustKey(t *testing.T, content string) scope.ScopedKey {
	t.Helper()
	k, err := scope.NewScopedKey(content, testScope(t))
	if err != nil {
		t.Fatalf("scope.NewScopedKey(%q): %v", content, err)
	}
	return k
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("store.NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, nil, nil)
}

// registerTestNetwork registers a network containing Transformation-A and
// Transformation-B and returns its hub.
func registerTestNetwork(t *testing.T, s *Service) task.TaskHub {
	t.Helper()
	hub, err := s.RegisterNetwork(context.Background(),
		mustKey(t, "AlchemicalNetwork-abc123"),
		[]scope.ScopedKey{mustKey(t, "Transformation-A"), mustKey(t, "Transformation-B")},
		0.5)
	if err != nil {
		t.Fatalf("RegisterNetwork: %v", err)
	}
	return hub
}

func TestRegisterNetworkIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	hub1 := registerTestNetwork(t, s)
	hub2 := registerTestNetwork(t, s)

	if hub1.Key != hub2.Key {
		t.Errorf("repeated registration produced different hubs: %s vs %s", hub1.Key, hub2.Key)
	}
	if hub1.Network != mustKey(t, "AlchemicalNetwork-abc123") {
		t.Errorf("hub network = %s", hub1.Network)
	}

	// Re-registration must not clobber an adjusted weight.
	if err := s.SetTaskHubWeight(ctx, hub1.Key, 0.9); err != nil {
		t.Fatalf("SetTaskHubWeight: %v", err)
	}
	registerTestNetwork(t, s)
	got, err := s.GetTaskHub(ctx, hub1.Key)
	if err != nil {
		t.Fatalf("GetTaskHub: %v", err)
	}
	if got.Weight != 0.9 {
		t.Errorf("weight after re-registration = %v, want 0.9", got.Weight)
	}
}

func TestRegisterNetworkScopeMismatch(t *testing.T) {
	s := newTestService(t)

	other, err := scope.New("other_org", "c", "p")
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := scope.NewScopedKey("Transformation-X", other)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.RegisterNetwork(context.Background(),
		mustKey(t, "AlchemicalNetwork-abc123"),
		[]scope.ScopedKey{foreign}, 0.5)
	if err == nil {
		t.Fatal("expected error for out-of-scope transformation")
	}
}

func TestCreateTaskUnregisteredTransformation(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)

	_, err := s.CreateTask(context.Background(), TaskSpec{
		Transformation: mustKey(t, "Transformation-unknown"),
	})
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Errorf("expected ErrReferenceNotFound, got %v", err)
	}
}

func TestCreateTaskDefaults(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)
	ctx := context.Background()

	key, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A"), Creator: "alice"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.GetTask(ctx, key)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusWaiting {
		t.Errorf("new task status = %s, want waiting", got.Status)
	}
	if got.Priority != task.DefaultPriority {
		t.Errorf("new task priority = %d, want %d", got.Priority, task.DefaultPriority)
	}
	if got.Creator != "alice" {
		t.Errorf("creator = %q", got.Creator)
	}
	if got.Assignee != "" || got.ClaimedAt != nil {
		t.Errorf("new task already has claim state: %+v", got)
	}
}

func TestCreateTaskExtendsMissing(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)

	ghost := mustKey(t, "Task-does-not-exist")
	_, err := s.CreateTask(context.Background(), TaskSpec{
		Transformation: mustKey(t, "Transformation-A"),
		Extends:        &ghost,
	})
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Errorf("expected ErrReferenceNotFound, got %v", err)
	}
}

func TestCreateTasksBatchChain(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)
	ctx := context.Background()

	zero := 0
	one := 1
	keys, err := s.CreateTasks(ctx, []TaskSpec{
		{Transformation: mustKey(t, "Transformation-A")},
		{Transformation: mustKey(t, "Transformation-A"), ExtendsIndex: &zero},
		{Transformation: mustKey(t, "Transformation-A"), ExtendsIndex: &one},
	})
	if err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("got %d keys, want 3", len(keys))
	}

	mid, err := s.GetTask(ctx, keys[1])
	if err != nil {
		t.Fatal(err)
	}
	if mid.Extends == nil || *mid.Extends != keys[0] {
		t.Errorf("keys[1].Extends = %v, want %s", mid.Extends, keys[0])
	}
	tail, err := s.GetTask(ctx, keys[2])
	if err != nil {
		t.Fatal(err)
	}
	if tail.Extends == nil || *tail.Extends != keys[1] {
		t.Errorf("keys[2].Extends = %v, want %s", tail.Extends, keys[1])
	}
}

func TestCreateTasksBatchCycle(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)

	zero := 0
	one := 1
	_, err := s.CreateTasks(context.Background(), []TaskSpec{
		{Transformation: mustKey(t, "Transformation-A"), ExtendsIndex: &one},
		{Transformation: mustKey(t, "Transformation-A"), ExtendsIndex: &zero},
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestCreateTasksBatchIndexOutOfRange(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)

	five := 5
	_, err := s.CreateTasks(context.Background(), []TaskSpec{
		{Transformation: mustKey(t, "Transformation-A"), ExtendsIndex: &five},
	})
	if err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestClaimOrder(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	// Two default-priority tasks first, then an urgent one. The urgent task
	// must be claimed before either, and the defaults in insertion order.
	first, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	urgent, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A"), Priority: 1})
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 3)
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	want := []scope.ScopedKey{urgent, first, second}
	if len(claimed) != len(want) {
		t.Fatalf("claimed %d tasks, want %d", len(claimed), len(want))
	}
	for i := range want {
		if claimed[i] != want[i] {
			t.Errorf("claimed[%d] = %s, want %s", i, claimed[i], want[i])
		}
	}

	got, err := s.GetTask(ctx, urgent)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusRunning || got.Assignee != "worker-1" {
		t.Errorf("claimed task state = %s/%q", got.Status, got.Assignee)
	}
	if got.ClaimedAt == nil {
		t.Error("claimed task has no claim timestamp")
	}
}

func TestClaimEmptyHub(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)

	claimed, err := s.ClaimTasks(context.Background(), hub.Key, "worker-1", 5)
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d tasks from empty hub", len(claimed))
	}
}

func TestClaimUnknownHub(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)

	_, err := s.ClaimTasks(context.Background(), mustKey(t, "TaskHub-nope"), "worker-1", 1)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimConcurrentNoDuplicates(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	const total = 20
	for i := 0; i < total; i++ {
		if _, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")}); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	seen := make(map[scope.ScopedKey]string)

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		worker := string(rune('A' + w))
		g.Go(func() error {
			claimed, err := s.ClaimTasks(ctx, hub.Key, "worker-"+worker, 5)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, k := range claimed {
				if prev, dup := seen[k]; dup {
					t.Errorf("task %s claimed by both %s and %s", k, prev, worker)
				}
				seen[k] = worker
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("claim worker: %v", err)
	}
	if len(seen) != total {
		t.Errorf("claimed %d distinct tasks, want %d", len(seen), total)
	}
}

func TestSetTaskStatusLenient(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)
	ctx := context.Background()

	key, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}

	// waiting -> complete is illegal; lenient mode reports false, no error.
	applied, err := s.SetTaskStatus(ctx, key, task.StatusComplete, false)
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if applied {
		t.Error("waiting -> complete applied")
	}
	status, err := s.GetTaskStatus(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if status != task.StatusWaiting {
		t.Errorf("status after rejected transition = %s, want waiting", status)
	}
}

func TestSetTaskStatusStrict(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)
	ctx := context.Background()

	key, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.SetTaskStatus(ctx, key, task.StatusComplete, true)
	var ite *task.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != task.StatusWaiting || ite.To != task.StatusComplete {
		t.Errorf("error edge = %s -> %s", ite.From, ite.To)
	}
}

func TestSetTaskStatusUnknownTask(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)

	_, err := s.SetTaskStatus(context.Background(), mustKey(t, "Task-ghost"), task.StatusInvalid, false)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteNotRegressed(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	key, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 1); err != nil {
		t.Fatal(err)
	}
	if applied, err := s.SetTaskStatus(ctx, key, task.StatusComplete, true); err != nil || !applied {
		t.Fatalf("running -> complete: applied=%v err=%v", applied, err)
	}

	// A stale requeue attempt must not reopen a finished task.
	applied, err := s.SetTaskStatus(ctx, key, task.StatusWaiting, false)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("complete -> waiting applied")
	}
	status, err := s.GetTaskStatus(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if status != task.StatusComplete {
		t.Errorf("status = %s, want complete", status)
	}
}

func TestSetTaskStatusIdempotentReplay(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	key, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 1); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		applied, err := s.SetTaskStatus(ctx, key, task.StatusComplete, true)
		if err != nil || !applied {
			t.Fatalf("replay %d: applied=%v err=%v", i, applied, err)
		}
	}
}

func TestRequeueClearsClaim(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	key, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 1); err != nil {
		t.Fatal(err)
	}
	if applied, err := s.SetTaskStatus(ctx, key, task.StatusWaiting, true); err != nil || !applied {
		t.Fatalf("running -> waiting: applied=%v err=%v", applied, err)
	}

	got, err := s.GetTask(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Assignee != "" || got.ClaimedAt != nil {
		t.Errorf("requeued task keeps claim state: assignee=%q claimed_at=%v", got.Assignee, got.ClaimedAt)
	}

	// And it is claimable again.
	claimed, err := s.ClaimTasks(ctx, hub.Key, "worker-2", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0] != key {
		t.Errorf("requeued task not re-claimed: %v", claimed)
	}
}

func TestDeleteTaskDetaches(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	key, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}

	applied, err := s.DeleteTask(ctx, key)
	if err != nil || !applied {
		t.Fatalf("DeleteTask: applied=%v err=%v", applied, err)
	}

	claimed, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Errorf("deleted task was claimed: %v", claimed)
	}

	// Soft delete: the record survives.
	got, err := s.GetTask(ctx, key)
	if err != nil {
		t.Fatalf("GetTask after delete: %v", err)
	}
	if got.Status != task.StatusDeleted {
		t.Errorf("status = %s, want deleted", got.Status)
	}
}

func TestExtendsResultLinkage(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	parent, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	child, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A"), Extends: &parent})
	if err != nil {
		t.Fatal(err)
	}

	// Parent not complete yet: child gets no starting point.
	work, err := s.GetTaskTransformation(ctx, child)
	if err != nil {
		t.Fatal(err)
	}
	if work.ExtendsResult != nil {
		t.Errorf("incomplete parent exposed result %v", work.ExtendsResult)
	}
	if work.Transformation != mustKey(t, "Transformation-A") {
		t.Errorf("transformation = %s", work.Transformation)
	}

	// Run the parent to completion with a result.
	if _, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 2); err != nil {
		t.Fatal(err)
	}
	result, err := s.SetTaskResult(ctx, parent, "ProtocolDAGResult-deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if result.Scope != parent.Scope {
		t.Errorf("result scope = %v, want task scope %v", result.Scope, parent.Scope)
	}
	if _, err := s.SetTaskStatus(ctx, parent, task.StatusComplete, true); err != nil {
		t.Fatal(err)
	}

	work, err = s.GetTaskTransformation(ctx, child)
	if err != nil {
		t.Fatal(err)
	}
	if work.ExtendsResult == nil || *work.ExtendsResult != result {
		t.Errorf("completed parent result = %v, want %s", work.ExtendsResult, result)
	}
}

func TestExtendsErroredParentHidesResult(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	parent, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	child, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A"), Extends: &parent})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 2); err != nil {
		t.Fatal(err)
	}
	// A partial result from a failed run must not leak to the child.
	if _, err := s.SetTaskResult(ctx, parent, "ProtocolDAGResult-partial"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetTaskStatus(ctx, parent, task.StatusError, true); err != nil {
		t.Fatal(err)
	}

	work, err := s.GetTaskTransformation(ctx, child)
	if err != nil {
		t.Fatal(err)
	}
	if work.ExtendsResult != nil {
		t.Errorf("errored parent exposed result %v", work.ExtendsResult)
	}
}

func TestSetTaskResultMintsKey(t *testing.T) {
	s := newTestService(t)
	registerTestNetwork(t, s)
	ctx := context.Background()

	key, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	result, err := s.SetTaskResult(ctx, key, "")
	if err != nil {
		t.Fatal(err)
	}
	if result.IsZero() || result.Scope != key.Scope {
		t.Errorf("minted result key = %v", result)
	}
}

func TestTaskStatuses(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	a, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A"), Priority: 1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 1); err != nil {
		t.Fatal(err)
	}

	statuses, err := s.TaskStatuses(ctx, []scope.ScopedKey{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if statuses[0] != task.StatusRunning || statuses[1] != task.StatusWaiting {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestSetTaskPriorityReorders(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	a, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetTaskPriority(ctx, b, 1); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 || claimed[0] != b || claimed[1] != a {
		t.Errorf("claim order after reprioritize = %v, want [%s %s]", claimed, b, a)
	}
}

func TestQueryTaskHubTasks(t *testing.T) {
	s := newTestService(t)
	hub := registerTestNetwork(t, s)
	ctx := context.Background()

	a, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-B")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 1); err != nil {
		t.Fatal(err)
	}

	running, err := s.QueryTaskHubTasks(ctx, hub.Key, task.StatusRunning)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 {
		t.Fatalf("running tasks = %d, want 1", len(running))
	}
	if _, ok := running[a]; !ok {
		t.Errorf("running set missing %s", a)
	}

	all, err := s.QueryTaskHubTasks(ctx, hub.Key, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("all tasks = %d, want 2", len(all))
	}
}

// TestWorkerLifecycle drives the whole loop the way a compute service
// does: claim, fetch work, push a result, mark complete, then a chained
// task picks the result up.
func TestWorkerLifecycle(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	st, err := store.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	s := New(st, bus, nil)
	ctx := context.Background()

	eventCh := bus.SubscribeAll(64)

	hub := registerTestNetwork(t, s)
	parent, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A")})
	if err != nil {
		t.Fatal(err)
	}
	child, err := s.CreateTask(ctx, TaskSpec{Transformation: mustKey(t, "Transformation-A"), Extends: &parent})
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimTasks(ctx, hub.Key, "worker-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0] != parent {
		t.Fatalf("claimed = %v, want [%s]", claimed, parent)
	}

	result, err := s.SetTaskResult(ctx, parent, "ProtocolDAGResult-run1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetTaskStatus(ctx, parent, task.StatusComplete, true); err != nil {
		t.Fatal(err)
	}

	claimed, err = s.ClaimTasks(ctx, hub.Key, "worker-2", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0] != child {
		t.Fatalf("second claim = %v, want [%s]", claimed, child)
	}
	work, err := s.GetTaskTransformation(ctx, child)
	if err != nil {
		t.Fatal(err)
	}
	if work.ExtendsResult == nil || *work.ExtendsResult != result {
		t.Errorf("child work result = %v, want %s", work.ExtendsResult, result)
	}

	// The bus saw the lifecycle.
	types := map[string]int{}
	for len(eventCh) > 0 {
		types[(<-eventCh).EventType()]++
	}
	for _, want := range []string{
		events.EventTypeHubRegistered,
		events.EventTypeTaskCreated,
		events.EventTypeTaskClaimed,
		events.EventTypeTaskResult,
		events.EventTypeTaskStatus,
	} {
		if types[want] == 0 {
			t.Errorf("no %s event published (saw %v)", want, types)
		}
	}
}
