package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tasksync-api/domain"
)

type stubBackend struct {
	listFn   func(ctx context.Context, owner string) ([]domain.Task, error)
	createFn func(ctx context.Context, owner, title, description string) (domain.Task, error)
	updateFn func(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error)
	deleteFn func(ctx context.Context, owner, id string) error
	toggleFn func(ctx context.Context, owner, id string) (domain.Task, error)
}

func (s *stubBackend) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listFn(ctx, owner)
}

func (s *stubBackend) CreateTask(ctx context.Context, owner, title, description string) (domain.Task, error) {
	if s.createFn == nil {
		return domain.Task{}, errors.New("unexpected CreateTask call")
	}
	return s.createFn(ctx, owner, title, description)
}

func (s *stubBackend) UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error) {
	if s.updateFn == nil {
		return domain.Task{}, errors.New("unexpected UpdateTask call")
	}
	return s.updateFn(ctx, owner, id, patch)
}

func (s *stubBackend) DeleteTask(ctx context.Context, owner, id string) error {
	if s.deleteFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return s.deleteFn(ctx, owner, id)
}

func (s *stubBackend) ToggleTask(ctx context.Context, owner, id string) (domain.Task, error) {
	if s.toggleFn == nil {
		return domain.Task{}, errors.New("unexpected ToggleTask call")
	}
	return s.toggleFn(ctx, owner, id)
}

func newCacheEnv(t *testing.T, base backend, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCache(base, client, ttl), mr
}

func TestCacheListTasksMissThenHit(t *testing.T) {
	ctx := context.Background()
	owner := "user-1"
	expected := []domain.Task{{ID: "t1", Title: "Write code", UserID: owner}}

	var calls int
	cache, mr := newCacheEnv(t, &stubBackend{
		listFn: func(ctx context.Context, got string) ([]domain.Task, error) {
			calls++
			if got != owner {
				t.Fatalf("unexpected owner: %s", got)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, time.Minute)

	for i := 0; i < 2; i++ {
		tasks, err := cache.ListTasks(ctx, owner)
		if err != nil {
			t.Fatalf("list tasks: %v", err)
		}
		if !reflect.DeepEqual(tasks, expected) {
			t.Fatalf("unexpected tasks: %#v", tasks)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", calls)
	}
	if ttl := mr.TTL(tasksCacheKey(owner)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheWriteEvicts(t *testing.T) {
	ctx := context.Background()
	owner := "user-1"

	var listCalls int
	cache, mr := newCacheEnv(t, &stubBackend{
		listFn: func(ctx context.Context, owner string) ([]domain.Task, error) {
			listCalls++
			return []domain.Task{}, nil
		},
		createFn: func(ctx context.Context, owner, title, description string) (domain.Task, error) {
			return domain.Task{ID: "t1", Title: title, UserID: owner}, nil
		},
	}, time.Minute)

	if _, err := cache.ListTasks(ctx, owner); err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !mr.Exists(tasksCacheKey(owner)) {
		t.Fatal("expected list to be cached")
	}

	if _, err := cache.CreateTask(ctx, owner, "Buy milk", ""); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if mr.Exists(tasksCacheKey(owner)) {
		t.Fatal("expected cache eviction after write")
	}

	if _, err := cache.ListTasks(ctx, owner); err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if listCalls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", listCalls)
	}
}

func TestCacheWriteFailureDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	owner := "user-1"
	boom := errors.New("table unavailable")

	cache, mr := newCacheEnv(t, &stubBackend{
		listFn: func(ctx context.Context, owner string) ([]domain.Task, error) {
			return []domain.Task{}, nil
		},
		deleteFn: func(ctx context.Context, owner, id string) error {
			return boom
		},
	}, time.Minute)

	if _, err := cache.ListTasks(ctx, owner); err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if err := cache.DeleteTask(ctx, owner, "t1"); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !mr.Exists(tasksCacheKey(owner)) {
		t.Fatal("failed write must not evict the cache")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	owner := "user-1"
	expected := []domain.Task{{ID: "t1", Title: "Walk dog", UserID: owner}}

	cache, mr := newCacheEnv(t, &stubBackend{
		listFn: func(ctx context.Context, owner string) ([]domain.Task, error) {
			return append([]domain.Task(nil), expected...), nil
		},
	}, time.Minute)

	if err := mr.Set(tasksCacheKey(owner), "{not json"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	tasks, err := cache.ListTasks(ctx, owner)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
}
