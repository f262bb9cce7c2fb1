package domain

import (
	"sort"
	"strings"
)

// Filter narrows a user's task list. Zero value matches everything.
type Filter struct {
	Search string
	Status Status
}

// Matches reports whether t passes both the search and status criteria.
func (f Filter) Matches(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Description), needle)
}

// ApplyFilter returns the tasks matching f, most recently created first.
func ApplyFilter(tasks []Task, f Filter) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stats is the derived projection over a queried task set.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

// Summarize computes counts over tasks. Total is always Completed + Pending.
func Summarize(tasks []Task) Stats {
	s := Stats{Total: len(tasks)}
	for _, t := range tasks {
		if t.Status == StatusCompleted {
			s.Completed++
		} else {
			s.Pending++
		}
	}
	return s
}
