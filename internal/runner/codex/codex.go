// Package codex runs the Codex CLI, which emits plain text output.
package codex

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/runner"
	"github.com/slok/agentbox/internal/sandbox"
)

// RunnerConfig is the configuration for the Codex runner.
type RunnerConfig struct {
	// Bin is the CLI binary inside the sandbox. Defaults to "codex".
	Bin    string
	Logger log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Bin == "" {
		c.Bin = "codex"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "runner.Codex"})
	return nil
}

// Runner launches the Codex CLI. Unlike the other backends it has no
// structured output mode: every line is a chunk and the last non-empty line
// before exit is the summary. End of output is the process exit itself.
type Runner struct {
	bin    string
	logger log.Logger
}

// NewRunner creates a new Codex runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{bin: cfg.Bin, logger: cfg.Logger}, nil
}

func (r *Runner) Backend() model.AgentBackend { return model.AgentBackendCodex }

// Start launches the agent process in the sandbox.
func (r *Runner) Start(ctx context.Context, engine sandbox.Engine, in runner.StartInput) (runner.Run, error) {
	command := []string{
		r.bin, "exec",
		"--full-auto",
		"--skip-git-repo-check",
	}

	return runner.NewRun(ctx, engine, in, command, &parser{}, r.logger)
}

// parser passes plain text through and remembers the last non-empty line.
type parser struct {
	summary string
}

func (p *parser) ParseLine(line string) (string, bool) {
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		p.summary = trimmed
	}
	return line, true
}

func (p *parser) Summary() string { return p.summary }
