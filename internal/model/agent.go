package model

import (
	"fmt"
	"time"
)

// AgentBackend identifies the coding-agent CLI backend that executes a task.
type AgentBackend string

const (
	// AgentBackendClaude is the Claude Code CLI backend.
	AgentBackendClaude AgentBackend = "claude"
	// AgentBackendGemini is the Gemini CLI backend.
	AgentBackendGemini AgentBackend = "gemini"
	// AgentBackendCodex is the Codex CLI backend.
	AgentBackendCodex AgentBackend = "codex"
)

// Validate validates the agent backend.
func (b AgentBackend) Validate() error {
	switch b {
	case AgentBackendClaude, AgentBackendGemini, AgentBackendCodex:
		return nil
	}
	return fmt.Errorf("unknown agent backend %q: %w", string(b), ErrNotValid)
}

// OutcomeKind classifies how an agent run ended.
type OutcomeKind string

const (
	// OutcomeSuccess indicates the agent finished its work and exited zero.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeFailure indicates the agent exited non-zero or crashed.
	OutcomeFailure OutcomeKind = "failure"
	// OutcomeTimedOut indicates the idle window or wall-clock deadline expired.
	OutcomeTimedOut OutcomeKind = "timed_out"
)

// Outcome is the terminal result of one agent run.
type Outcome struct {
	Kind OutcomeKind
	// Summary is the agent's final result text (success only).
	Summary string
	// ExitCode is the process exit code (failure only).
	ExitCode int
	// Reason carries extra detail for failures and timeouts.
	Reason string
}

// AgentRun is the record of one agent invocation inside a sandbox. At most
// one run may be active per sandbox.
type AgentRun struct {
	ID             string
	TaskID         string
	SandboxID      string
	Backend        AgentBackend
	StartedAt      time.Time
	LastActivityAt time.Time
	OutputBytes    int64
	Outcome        *Outcome
}

// OutputChunk is one piece of raw agent output, delivered to readers in
// emission order.
type OutputChunk struct {
	TaskID string
	// Seq is the chunk sequence number within the run, starting at 0.
	Seq int64
	// Data is the raw output payload.
	Data string
	// At is the emission timestamp.
	At time.Time
}
