package api

import (
	"context"

	"tasksync-api/domain"
	"tasksync-api/realtime"
)

// Storage abstracts task persistence for handlers. Every operation is scoped
// to the owner passed in; a task under a different owner behaves as missing.
type Storage interface {
	ListTasks(ctx context.Context, owner string) ([]domain.Task, error)
	CreateTask(ctx context.Context, owner, title, description string) (domain.Task, error)
	UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, owner, id string) error
	ToggleTask(ctx context.Context, owner, id string) (domain.Task, error)
}

// Authenticator is implemented by types able to extract owner identities from
// Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// EventPublisher receives the event for each committed mutation. Publishing
// is best effort; failures are logged, never surfaced to the mutation caller.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// ConnectionRegistry tracks live push channels per owner.
type ConnectionRegistry interface {
	Join(owner string, ch realtime.Channel)
	Leave(ch realtime.Channel)
}
