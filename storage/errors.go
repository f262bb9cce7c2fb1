package storage

import "errors"

// ErrNotFound is returned when a task does not exist under the requesting
// owner. A task owned by someone else is reported the same way so existence
// never leaks across owners.
var ErrNotFound = errors.New("task not found")

// ValidationError marks input rejected before any mutation took place.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

const (
	ErrTitleRequired = ValidationError("task title is required")
	ErrTitleEmpty    = ValidationError("task title cannot be empty")
)
