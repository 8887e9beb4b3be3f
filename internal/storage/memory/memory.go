package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slok/agentbox/internal/model"
)

// Repository is an in-memory implementation of storage.Repository. Used for
// tests and as reference implementation.
type Repository struct {
	mu    sync.RWMutex
	tasks map[string]model.Task
}

// NewRepository creates a new in-memory repository.
func NewRepository() *Repository {
	return &Repository{tasks: map[string]model.Task{}}
}

// CreateTask creates a new task.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
	}
	r.tasks[t.ID] = t
	return nil
}

// GetTask returns a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return &t, nil
}

// ListTasks returns all tasks sorted by creation time.
func (r *Repository) ListTasks(ctx context.Context) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

// UpdateTask updates an existing task. The stored cancel request flag is
// preserved, it only changes through RequestCancel.
func (r *Repository) UpdateTask(ctx context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tasks[t.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrNotFound)
	}
	t.CancelRequested = stored.CancelRequested
	r.tasks[t.ID] = t
	return nil
}

// RequestCancel marks the task as cancellation requested.
func (r *Repository) RequestCancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	t.CancelRequested = true
	r.tasks[id] = t
	return nil
}

// DeleteTask deletes a task.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	delete(r.tasks, id)
	return nil
}

// PurgeTerminalBefore deletes terminal tasks finished before t.
func (r *Repository) PurgeTerminalBefore(ctx context.Context, t time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for id, task := range r.tasks {
		if !task.Status.IsTerminal() || task.FinishedAt == nil {
			continue
		}
		if task.FinishedAt.Before(t) {
			delete(r.tasks, id)
			purged++
		}
	}
	return purged, nil
}
