package lib

import (
	"errors"
	"time"

	"github.com/slok/agentbox/internal/model"
)

var (
	// ErrNotFound is returned when a task or resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when an input or operation is not valid.
	ErrNotValid = errors.New("not valid")
)

// mapError translates internal sentinel errors into the SDK's public ones.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrNotFound):
		return errors.Join(err, ErrNotFound)
	case errors.Is(err, model.ErrAlreadyExists):
		return errors.Join(err, ErrAlreadyExists)
	case errors.Is(err, model.ErrNotValid):
		return errors.Join(err, ErrNotValid)
	}
	return err
}

// EngineType selects the sandbox isolation engine.
type EngineType string

const (
	// EngineDocker runs task sandboxes as Docker containers.
	EngineDocker EngineType = "docker"
	// EngineFake runs task sandboxes in-memory, for testing.
	EngineFake EngineType = "fake"
)

// Backend identifies the coding-agent CLI that executes a task.
type Backend string

const (
	BackendClaude Backend = Backend(model.AgentBackendClaude)
	BackendGemini Backend = Backend(model.AgentBackendGemini)
	BackendCodex  Backend = Backend(model.AgentBackendCodex)
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusSubmitted    TaskStatus = TaskStatus(model.TaskStatusSubmitted)
	TaskStatusProvisioning TaskStatus = TaskStatus(model.TaskStatusProvisioning)
	TaskStatusRunning      TaskStatus = TaskStatus(model.TaskStatusRunning)
	TaskStatusFinalizing   TaskStatus = TaskStatus(model.TaskStatusFinalizing)
	TaskStatusSucceeded    TaskStatus = TaskStatus(model.TaskStatusSucceeded)
	TaskStatusFailed       TaskStatus = TaskStatus(model.TaskStatusFailed)
	TaskStatusCancelled    TaskStatus = TaskStatus(model.TaskStatusCancelled)
)

// IsTerminal returns true for final states.
func (s TaskStatus) IsTerminal() bool {
	return model.TaskStatus(s).IsTerminal()
}

// TaskSpec describes one task to submit. It is immutable after submission.
type TaskSpec struct {
	// Backend is the agent CLI to run.
	Backend Backend
	// Repo is the source repository reference (URL or local path).
	Repo string
	// DBTemplate is the database template to clone for the sandbox.
	DBTemplate string
	// Instructions is the prompt delivered to the agent.
	Instructions string
	// Env holds extra environment variables for the agent process.
	Env map[string]string
	// MaxDuration overrides the client's default wall-clock limit when set.
	MaxDuration time.Duration
	// IdleWindow overrides the client's default idle timeout when set.
	IdleWindow time.Duration
}

func (s TaskSpec) toDescriptor() model.TaskDescriptor {
	return model.TaskDescriptor{
		Backend:       model.AgentBackend(s.Backend),
		RepoRef:       s.Repo,
		DBTemplateRef: s.DBTemplate,
		Instructions:  s.Instructions,
		Env:           s.Env,
		MaxDuration:   s.MaxDuration,
		IdleWindow:    s.IdleWindow,
	}
}

// Task is a snapshot of one submitted task.
type Task struct {
	ID           string
	Backend      Backend
	Status       TaskStatus
	Summary      string
	ErrorMessage string
	// FailingResource names the sandbox resource whose acquisition failed,
	// when the task failed during provisioning.
	FailingResource string
	// Warnings holds non-fatal conditions, mainly teardown release failures.
	Warnings    []string
	OutputBytes int64
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

func fromInternalTask(t model.Task) Task {
	return Task{
		ID:              t.ID,
		Backend:         Backend(t.Descriptor.Backend),
		Status:          TaskStatus(t.Status),
		Summary:         t.Summary,
		ErrorMessage:    t.ErrorMessage,
		FailingResource: string(t.FailingResource),
		Warnings:        t.Warnings,
		OutputBytes:     t.OutputBytes,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		FinishedAt:      t.FinishedAt,
	}
}

// OutputChunk is one piece of agent output, in emission order.
type OutputChunk struct {
	Seq  int64
	Data string
	At   time.Time
}

// CheckStatus is the outcome of one preflight check.
type CheckStatus string

const (
	CheckStatusOK      CheckStatus = CheckStatus(model.CheckStatusOK)
	CheckStatusWarning CheckStatus = CheckStatus(model.CheckStatusWarning)
	CheckStatusError   CheckStatus = CheckStatus(model.CheckStatusError)
)

// CheckResult describes one preflight check outcome.
type CheckResult struct {
	ID      string
	Message string
	Status  CheckStatus
}

func fromInternalCheckResults(results []model.CheckResult) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{ID: r.ID, Message: r.Message, Status: CheckStatus(r.Status)})
	}
	return out
}
