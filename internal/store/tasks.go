package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"main/pkg/kv"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
)

var (
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("store: task not found")
	// ErrBadTaskStatus is returned for a status outside the known set.
	ErrBadTaskStatus = errors.New("store: bad task status")
)

// Task statuses.
const (
	TaskPending = "pending"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

const nsTasks = "tasks"

// Task is one tracked work item.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Tasks is the task-list state container.
type Tasks struct {
	store kv.Store

	mu    sync.Mutex
	items map[string]*Task
}

// NewTasks loads persisted tasks.
func NewTasks(ctx context.Context, store kv.Store) (*Tasks, error) {
	t := &Tasks{store: store, items: make(map[string]*Task)}
	keys, err := store.Keys(ctx, nsTasks)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	for _, key := range keys {
		var task Task
		if err := kv.GetJSON(ctx, store, nsTasks, key, &task); err != nil {
			return nil, errors.Wrapf(err, "load task %s", key)
		}
		t.items[task.ID] = &task
	}
	return t, nil
}

// Add creates a pending task.
func (t *Tasks) Add(ctx context.Context, title string) (Task, error) {
	now := time.Now()
	task := &Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[task.ID] = task
	if err := kv.SetJSON(ctx, t.store, nsTasks, task.ID, task); err != nil {
		delete(t.items, task.ID)
		return Task{}, errors.Wrap(err, "persist task")
	}
	return *task, nil
}

// SetStatus transitions a task to the given status.
func (t *Tasks) SetStatus(ctx context.Context, id, status string) (Task, error) {
	switch status {
	case TaskPending, TaskRunning, TaskDone, TaskFailed:
	default:
		return Task{}, errors.Wrapf(ErrBadTaskStatus, "status: %s", status)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.items[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	task.Status = status
	task.UpdatedAt = time.Now()
	if err := kv.SetJSON(ctx, t.store, nsTasks, task.ID, task); err != nil {
		return Task{}, errors.Wrap(err, "persist task")
	}
	return *task, nil
}

// Remove deletes a task.
func (t *Tasks) Remove(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return ErrTaskNotFound
	}
	delete(t.items, id)
	if err := t.store.Remove(ctx, nsTasks, id); err != nil {
		return errors.Wrapf(err, "remove task %s", id)
	}
	return nil
}

// List returns tasks ordered by creation time.
func (t *Tasks) List() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := make([]Task, 0, len(t.items))
	for _, task := range t.items {
		list = append(list, *task)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}
