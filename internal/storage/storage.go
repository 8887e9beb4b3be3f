package storage

import (
	"context"
	"time"

	"github.com/slok/agentbox/internal/model"
)

// Repository is the interface for task persistence.
type Repository interface {
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	// UpdateTask updates an existing task. The cancel request flag is not
	// written by this method, it only moves through RequestCancel so a
	// concurrent request is never lost to a stale snapshot.
	UpdateTask(ctx context.Context, t model.Task) error
	// RequestCancel marks the task as cancellation requested.
	RequestCancel(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
	// PurgeTerminalBefore deletes terminal tasks that finished before t and
	// returns how many were removed. Non-terminal tasks are never purged.
	PurgeTerminalBefore(ctx context.Context, t time.Time) (int, error)
}
