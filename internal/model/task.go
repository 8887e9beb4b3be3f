package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusSubmitted indicates the task has been accepted but not dequeued.
	TaskStatusSubmitted TaskStatus = "submitted"
	// TaskStatusProvisioning indicates sandbox resources are being acquired.
	TaskStatusProvisioning TaskStatus = "provisioning"
	// TaskStatusRunning indicates the agent is executing inside the sandbox.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusFinalizing indicates the agent finished and teardown is in progress.
	TaskStatusFinalizing TaskStatus = "finalizing"
	// TaskStatusSucceeded indicates the task completed successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled by the caller.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true for final states. Terminal states are immutable,
// a task never transitions out of them.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// validTransitions holds the allowed lifecycle transitions.
var validTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusSubmitted:    {TaskStatusProvisioning, TaskStatusCancelled},
	TaskStatusProvisioning: {TaskStatusRunning, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusRunning:      {TaskStatusFinalizing},
	TaskStatusFinalizing:   {TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled},
}

// CanTransition returns true if the transition from s to next is allowed.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task represents one requested unit of agent work.
type Task struct {
	ID           string
	Descriptor   TaskDescriptor
	Status       TaskStatus
	SandboxID    string
	AgentRunID   string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	// FailingResource is set when provisioning failed, recording which
	// resource acquisition broke the task.
	FailingResource ResourceKind
	// Warnings holds non-fatal conditions attached to the task, mainly
	// teardown release failures pending operator reconciliation.
	Warnings []string
	// CancelRequested is set when a caller asked for cancellation. The flag
	// is sticky so a driving process can pick it up even if the request came
	// from another process.
	CancelRequested bool
	// Summary is the agent's final result summary on success.
	Summary string
	// ErrorMessage records the terminal error on failure.
	ErrorMessage string
	// OutputBytes is the accumulated agent output length.
	OutputBytes int64
}

// TaskDescriptor is the caller-provided description of a task. It is
// immutable after submission.
type TaskDescriptor struct {
	// Backend is the requested agent backend.
	Backend AgentBackend
	// RepoRef is the source repository reference (URL or local path).
	RepoRef string
	// DBTemplateRef is the reference to the database template to clone.
	DBTemplateRef string
	// Instructions is the free-form prompt payload delivered to the agent.
	Instructions string
	// Env holds extra environment variables handed to the agent process.
	// They override the orchestrator-provided ones on key collision.
	Env map[string]string
	// MaxDuration overrides the orchestrator's default wall-clock deadline
	// when non-zero.
	MaxDuration time.Duration
	// IdleWindow overrides the orchestrator's default idle timeout when
	// non-zero.
	IdleWindow time.Duration
}

// Validate validates the task descriptor. Malformed descriptors are rejected
// before any resource is touched.
func (d *TaskDescriptor) Validate() error {
	if err := d.Backend.Validate(); err != nil {
		return err
	}
	if d.RepoRef == "" {
		return fmt.Errorf("repository reference is required: %w", ErrNotValid)
	}
	if d.DBTemplateRef == "" {
		return fmt.Errorf("database template reference is required: %w", ErrNotValid)
	}
	if d.Instructions == "" {
		return fmt.Errorf("instructions are required: %w", ErrNotValid)
	}
	if d.MaxDuration < 0 {
		return fmt.Errorf("max duration must not be negative: %w", ErrNotValid)
	}
	if d.IdleWindow < 0 {
		return fmt.Errorf("idle window must not be negative: %w", ErrNotValid)
	}
	return nil
}
