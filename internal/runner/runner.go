package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// StartInput carries everything a runner needs to launch one agent run.
type StartInput struct {
	// RunID identifies the agent run.
	RunID string
	// TaskID is the owning task.
	TaskID string
	// RuntimeID addresses the sandbox instance the agent runs in.
	RuntimeID string
	// WorkDir is the repository checkout path inside the sandbox.
	WorkDir string
	// Instructions is the prompt payload, delivered once at start.
	Instructions string
	// IdleWindow ends the run as timed out when no output or liveness signal
	// is observed for this long. Task-level configuration, never per variant.
	IdleWindow time.Duration
	// MaxDuration is the hard wall-clock deadline for the whole run.
	MaxDuration time.Duration
	// Env contains extra environment variables (credential paths, clone path).
	Env map[string]string
}

// Run is a single in-flight agent invocation.
type Run interface {
	// Output streams raw output chunks in emission order. The channel closes
	// when the run ends. The runner never buffers chunks unboundedly;
	// back-pressure is the consumer's responsibility.
	Output() <-chan model.OutputChunk
	// Wait blocks until the run reaches a terminal outcome.
	Wait(ctx context.Context) (model.Outcome, error)
	// Cancel requests best-effort termination of the agent process.
	Cancel(ctx context.Context) error
}

// Runner launches one agent CLI backend inside a provisioned sandbox. Every
// backend variant satisfies the same contract; the orchestrator never depends
// on a concrete variant.
type Runner interface {
	Backend() model.AgentBackend
	Start(ctx context.Context, engine sandbox.Engine, in StartInput) (Run, error)
}

// Registry maps agent backends to their runners.
type Registry map[model.AgentBackend]Runner

// Get returns the runner for a backend.
func (r Registry) Get(backend model.AgentBackend) (Runner, error) {
	runner, ok := r[backend]
	if !ok {
		return nil, fmt.Errorf("no runner registered for backend %q: %w", backend, model.ErrNotFound)
	}
	return runner, nil
}
