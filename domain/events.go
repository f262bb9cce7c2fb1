package domain

const (
	TaskCreated = "taskCreated"
	TaskUpdated = "taskUpdated"
	TaskDeleted = "taskDeleted"
)

// Event is the push notification emitted after a committed mutation.
// Created and updated events carry the full task snapshot; deleted events
// carry only the identifier. Seq is a per-owner monotonic sequence so
// receivers can detect duplicates and gaps.
type Event struct {
	Type   string `json:"type"`
	Task   *Task  `json:"task,omitempty"`
	TaskID string `json:"taskId,omitempty"`
	UserID string `json:"userId"`
	Seq    uint64 `json:"seq,omitempty"`
}

// NewTaskEvent builds the event for a create, update or toggle mutation.
func NewTaskEvent(eventType string, t Task) Event {
	return Event{Type: eventType, Task: &t, TaskID: t.ID, UserID: t.UserID}
}

// NewTaskDeletedEvent builds the event for a delete mutation.
func NewTaskDeletedEvent(owner, taskID string) Event {
	return Event{Type: TaskDeleted, TaskID: taskID, UserID: owner}
}
