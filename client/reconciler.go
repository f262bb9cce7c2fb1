// Package client maintains a local view of one owner's tasks, kept current by
// merging pushed events instead of re-querying after every change.
package client

import (
	"context"
	"sync"

	"tasksync-api/domain"
)

// Fetcher performs the authoritative resynchronization query.
type Fetcher interface {
	FetchTasks(ctx context.Context, f domain.Filter) ([]domain.Task, domain.Stats, error)
}

// Reconciler caches the owner's filtered task list and summary. Events apply
// idempotently: the echo of this connection's own mutation and a duplicate
// delivery both leave the cache unchanged. Sequence gaps fall back to a full
// resynchronization fetch.
type Reconciler struct {
	fetcher Fetcher

	mu      sync.Mutex
	filter  domain.Filter
	tasks   []domain.Task
	stats   domain.Stats
	lastSeq uint64
}

// New creates a Reconciler with an empty cache and no filter.
func New(fetcher Fetcher) *Reconciler {
	return &Reconciler{fetcher: fetcher}
}

// Resync replaces the cache with a fresh authoritative query. Call on
// (re)connect and whenever push delivery can no longer be trusted.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	filter := r.filter
	r.mu.Unlock()

	tasks, stats, err := r.fetcher.FetchTasks(ctx, filter)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.tasks = tasks
	r.stats = stats
	r.mu.Unlock()
	return nil
}

// SetFilter changes the active filter parameters and refreshes the cache.
func (r *Reconciler) SetFilter(ctx context.Context, f domain.Filter) error {
	r.mu.Lock()
	r.filter = f
	r.mu.Unlock()
	return r.Resync(ctx)
}

// Apply merges one pushed event into the cache. Events carrying a sequence at
// or below the last applied one are dropped; a gap triggers a resync.
func (r *Reconciler) Apply(ctx context.Context, ev domain.Event) error {
	r.mu.Lock()
	if ev.Seq != 0 {
		if ev.Seq <= r.lastSeq {
			r.mu.Unlock()
			return nil
		}
		if r.lastSeq != 0 && ev.Seq != r.lastSeq+1 {
			r.lastSeq = ev.Seq
			r.mu.Unlock()
			return r.Resync(ctx)
		}
		r.lastSeq = ev.Seq
	}
	defer r.mu.Unlock()

	switch ev.Type {
	case domain.TaskCreated, domain.TaskUpdated:
		if ev.Task == nil {
			return nil
		}
		r.upsert(*ev.Task)
	case domain.TaskDeleted:
		r.remove(ev.TaskID)
	}

	// ApplyFilter re-sorts and prunes tasks the active filter no longer
	// matches, e.g. a toggle while a status filter is set.
	r.tasks = domain.ApplyFilter(r.tasks, r.filter)
	r.stats = domain.Summarize(r.tasks)
	return nil
}

func (r *Reconciler) upsert(t domain.Task) {
	for i := range r.tasks {
		if r.tasks[i].ID == t.ID {
			r.tasks[i] = t
			return
		}
	}
	r.tasks = append(r.tasks, t)
}

func (r *Reconciler) remove(id string) {
	for i := range r.tasks {
		if r.tasks[i].ID == id {
			r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
			return
		}
	}
}

// Tasks returns a copy of the cached task list.
func (r *Reconciler) Tasks() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Stats returns the cached summary.
func (r *Reconciler) Stats() domain.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
