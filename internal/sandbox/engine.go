package sandbox

import (
	"context"
	"io"

	"github.com/slok/agentbox/internal/model"
)

// Spec describes the isolation primitive instance to create for one sandbox.
type Spec struct {
	// SandboxID is the owning sandbox identifier.
	SandboxID string
	// Image is the runtime image to use.
	Image string
	// Mounts maps host paths to paths inside the instance.
	Mounts map[string]string
	// Env contains environment variables for the instance.
	Env map[string]string
}

// ExecSpec describes a streaming command execution inside an instance.
type ExecSpec struct {
	// Command is the argv to run.
	Command []string
	// WorkingDir is the directory to run the command in (optional).
	WorkingDir string
	// Env contains additional environment variables for this exec.
	Env map[string]string
}

// Session is one streaming command execution inside an instance. Instructions
// are delivered through stdin, incremental output is read from stdout, and a
// single exit code is read at the end.
type Session interface {
	// Stdin is the command's input stream. Closing it signals end of input.
	Stdin() io.WriteCloser
	// Stdout is the command's output stream. It returns io.EOF when the
	// command's output ends.
	Stdout() io.Reader
	// Wait blocks until the command exits and returns its exit code.
	Wait(ctx context.Context) (int, error)
	// Signal requests best-effort termination of the command.
	Signal(ctx context.Context) error
}

// Engine is the narrow interface over the external isolation primitive. The
// orchestrator only creates, addresses and destroys instances through it;
// isolation mechanics are the primitive's concern.
type Engine interface {
	// Check performs preflight checks and returns the results.
	Check(ctx context.Context) []model.CheckResult

	// Create creates an instance and returns its runtime ID.
	Create(ctx context.Context, spec Spec) (runtimeID string, err error)
	// ExecStream starts a streaming command inside an instance.
	ExecStream(ctx context.Context, runtimeID string, spec ExecSpec) (Session, error)
	// Remove destroys an instance. Removing an already removed instance is
	// not an error.
	Remove(ctx context.Context, runtimeID string) error
}
