package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"tasksync-api/domain"
)

// Store persists tasks in an Azure table, one partition per owner. Every
// by-id operation addresses the owner's partition directly, so a task owned
// by another user is indistinguishable from a missing one.
type Store struct {
	taskTable *aztables.Client
}

// New creates a Store from the given connection string.
func New(connStr, tasksTable string) (*Store, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Store{taskTable: svc.NewClient(tasksTable)}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

func encodeTask(t domain.Task) ([]byte, error) {
	return json.Marshal(taskEntity{
		Entity:      aztables.Entity{PartitionKey: t.UserID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339Nano),
	})
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, ent.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		UserID:      ent.PartitionKey,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// notFound maps the table service 404 onto ErrNotFound.
func notFound(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

func partitionFilter(owner string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(owner, "'", "''") + "'"
}

// ListTasks retrieves every task in the owner's partition, unfiltered.
func (s *Store) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := partitionFilter(owner)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// CreateTask validates the title, assigns an identifier and timestamps, and
// inserts the task into the owner's partition.
func (s *Store) CreateTask(ctx context.Context, owner, title, description string) (domain.Task, error) {
	trimmed, ok := domain.NormalizeTitle(title)
	if !ok {
		return domain.Task{}, ErrTitleRequired
	}
	now := time.Now().UTC()
	t := domain.Task{
		ID:          uuid.NewString(),
		Title:       trimmed,
		Description: strings.TrimSpace(description),
		Status:      domain.StatusPending,
		UserID:      owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	data, err := encodeTask(t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, data, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Store) getTask(ctx context.Context, owner, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, owner, id, nil)
	if err != nil {
		return domain.Task{}, notFound(err)
	}
	return decodeTask(resp.Value)
}

func (s *Store) putTask(ctx context.Context, t domain.Task) error {
	data, err := encodeTask(t)
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	_, err = s.taskTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: mode})
	return notFound(err)
}

// UpdateTask applies the supplied fields to an existing task. Absent fields
// are left untouched; a status value outside the known set is ignored.
func (s *Store) UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error) {
	t, err := s.getTask(ctx, owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := applyPatch(&t, patch); err != nil {
		return domain.Task{}, err
	}
	t.UpdatedAt = time.Now().UTC()
	if err := s.putTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func applyPatch(t *domain.Task, patch domain.TaskPatch) error {
	if patch.Title != nil {
		trimmed, ok := domain.NormalizeTitle(*patch.Title)
		if !ok {
			return ErrTitleEmpty
		}
		t.Title = trimmed
	}
	if patch.Description != nil {
		t.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Status != nil && patch.Status.Valid() {
		t.Status = *patch.Status
	}
	return nil
}

// DeleteTask removes the task from the owner's partition.
func (s *Store) DeleteTask(ctx context.Context, owner, id string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, owner, id, nil); err != nil {
		return notFound(err)
	}
	return nil
}

// ToggleTask flips the task between pending and completed.
func (s *Store) ToggleTask(ctx context.Context, owner, id string) (domain.Task, error) {
	t, err := s.getTask(ctx, owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.Status = t.Status.Toggled()
	t.UpdatedAt = time.Now().UTC()
	if err := s.putTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}
