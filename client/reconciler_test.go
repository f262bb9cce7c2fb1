package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"tasksync-api/domain"
)

type fakeFetcher struct {
	mu    sync.Mutex
	tasks []domain.Task
	calls int
}

func (f *fakeFetcher) FetchTasks(ctx context.Context, filter domain.Filter) ([]domain.Task, domain.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	filtered := domain.ApplyFilter(f.tasks, filter)
	return filtered, domain.Summarize(filtered), nil
}

func (f *fakeFetcher) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func task(id, title string, status domain.Status, age time.Duration) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     title,
		Status:    status,
		UserID:    "user",
		CreatedAt: time.Now().Add(-age),
	}
}

func createdEvent(t domain.Task, seq uint64) domain.Event {
	ev := domain.NewTaskEvent(domain.TaskCreated, t)
	ev.Seq = seq
	return ev
}

func updatedEvent(t domain.Task, seq uint64) domain.Event {
	ev := domain.NewTaskEvent(domain.TaskUpdated, t)
	ev.Seq = seq
	return ev
}

func TestApplyCreatedInsertsAndUpdatesStats(t *testing.T) {
	r := New(&fakeFetcher{})
	ctx := context.Background()

	if err := r.Apply(ctx, createdEvent(task("t1", "buy milk", domain.StatusPending, 0), 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	tasks := r.Tasks()
	if len(tasks) != 1 || tasks[0].Title != "buy milk" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if r.Stats() != (domain.Stats{Total: 1, Completed: 0, Pending: 1}) {
		t.Fatalf("unexpected stats: %+v", r.Stats())
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	r := New(&fakeFetcher{})
	ctx := context.Background()

	ev := createdEvent(task("t1", "buy milk", domain.StatusPending, 0), 1)
	if err := r.Apply(ctx, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	before := r.Tasks()

	// Duplicate delivery (same sequence) leaves the cache unchanged.
	if err := r.Apply(ctx, ev); err != nil {
		t.Fatalf("apply duplicate: %v", err)
	}
	after := r.Tasks()
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("duplicate apply changed the cache: %#v vs %#v", after, before)
	}
	if r.Stats().Total != 1 {
		t.Fatalf("unexpected stats: %+v", r.Stats())
	}
}

func TestApplyUpdatedReplacesByID(t *testing.T) {
	r := New(&fakeFetcher{})
	ctx := context.Background()

	orig := task("t1", "buy milk", domain.StatusPending, 0)
	if err := r.Apply(ctx, createdEvent(orig, 1)); err != nil {
		t.Fatalf("apply create: %v", err)
	}
	renamed := orig
	renamed.Title = "buy oat milk"
	if err := r.Apply(ctx, updatedEvent(renamed, 2)); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	tasks := r.Tasks()
	if len(tasks) != 1 || tasks[0].Title != "buy oat milk" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
}

func TestApplyDeletedRemoves(t *testing.T) {
	r := New(&fakeFetcher{})
	ctx := context.Background()

	if err := r.Apply(ctx, createdEvent(task("t1", "buy milk", domain.StatusPending, 0), 1)); err != nil {
		t.Fatalf("apply create: %v", err)
	}
	del := domain.NewTaskDeletedEvent("user", "t1")
	del.Seq = 2
	if err := r.Apply(ctx, del); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if len(r.Tasks()) != 0 {
		t.Fatalf("expected empty cache, got %#v", r.Tasks())
	}
	if r.Stats().Total != 0 {
		t.Fatalf("unexpected stats: %+v", r.Stats())
	}

	// Deleting again is a no-op.
	del.Seq = 3
	if err := r.Apply(ctx, del); err != nil {
		t.Fatalf("apply repeat delete: %v", err)
	}
}

func TestApplyPrunesTasksLeavingFilter(t *testing.T) {
	fetcher := &fakeFetcher{tasks: []domain.Task{task("t1", "buy milk", domain.StatusPending, time.Minute)}}
	r := New(fetcher)
	ctx := context.Background()

	if err := r.SetFilter(ctx, domain.Filter{Status: domain.StatusPending}); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	if len(r.Tasks()) != 1 {
		t.Fatalf("expected 1 task after resync, got %d", len(r.Tasks()))
	}

	toggled := task("t1", "buy milk", domain.StatusCompleted, time.Minute)
	if err := r.Apply(ctx, updatedEvent(toggled, 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(r.Tasks()) != 0 {
		t.Fatalf("completed task must leave a pending-filtered view, got %#v", r.Tasks())
	}
	if r.Stats() != (domain.Stats{}) {
		t.Fatalf("unexpected stats: %+v", r.Stats())
	}
}

func TestApplySequenceGapTriggersResync(t *testing.T) {
	fetcher := &fakeFetcher{tasks: []domain.Task{
		task("t1", "buy milk", domain.StatusPending, 2*time.Minute),
		task("t2", "walk dog", domain.StatusPending, time.Minute),
	}}
	r := New(fetcher)
	ctx := context.Background()

	if err := r.Apply(ctx, createdEvent(task("t1", "buy milk", domain.StatusPending, 2*time.Minute), 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	calls := fetcher.fetchCalls()

	// Sequence 3 arrives after 1: number 2 was missed.
	if err := r.Apply(ctx, createdEvent(task("t3", "late", domain.StatusPending, 0), 3)); err != nil {
		t.Fatalf("apply gap: %v", err)
	}
	if fetcher.fetchCalls() != calls+1 {
		t.Fatal("expected a resynchronization fetch on sequence gap")
	}
	if len(r.Tasks()) != 2 {
		t.Fatalf("cache must reflect the authoritative fetch, got %#v", r.Tasks())
	}

	// An event older than the resync point is dropped.
	if err := r.Apply(ctx, createdEvent(task("t9", "stale", domain.StatusPending, 0), 2)); err != nil {
		t.Fatalf("apply stale: %v", err)
	}
	if len(r.Tasks()) != 2 {
		t.Fatal("stale event must be dropped after resync")
	}
}

func TestTasksSortedNewestFirst(t *testing.T) {
	r := New(&fakeFetcher{})
	ctx := context.Background()

	if err := r.Apply(ctx, createdEvent(task("old", "old", domain.StatusPending, time.Hour), 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := r.Apply(ctx, createdEvent(task("new", "new", domain.StatusPending, 0), 2)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	tasks := r.Tasks()
	if tasks[0].ID != "new" || tasks[1].ID != "old" {
		t.Fatalf("expected newest first, got %#v", tasks)
	}
}
