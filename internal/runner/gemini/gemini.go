// Package gemini runs the Gemini CLI through its stream-json output format.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/runner"
	"github.com/slok/agentbox/internal/sandbox"
)

// RunnerConfig is the configuration for the Gemini runner.
type RunnerConfig struct {
	// Bin is the CLI binary inside the sandbox. Defaults to "gemini".
	Bin    string
	Logger log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Bin == "" {
		c.Bin = "gemini"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "runner.Gemini"})
	return nil
}

// Runner launches the Gemini CLI. Its stream emits typed NDJSON records:
// init, message (role user/assistant, possibly deltas), tool_use and result.
type Runner struct {
	bin    string
	logger log.Logger
}

// NewRunner creates a new Gemini runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{bin: cfg.Bin, logger: cfg.Logger}, nil
}

func (r *Runner) Backend() model.AgentBackend { return model.AgentBackendGemini }

// Start launches the agent process in the sandbox.
func (r *Runner) Start(ctx context.Context, engine sandbox.Engine, in runner.StartInput) (runner.Run, error) {
	command := []string{
		r.bin,
		"--output-format", "stream-json",
		"--yolo",
	}

	return runner.NewRun(ctx, engine, in, command, &parser{}, r.logger)
}

// record is the subset of Gemini CLI stream records we read.
type record struct {
	Type     string `json:"type"`
	Role     string `json:"role"`
	Content  string `json:"content"`
	ToolName string `json:"tool_name"`
	Status   string `json:"status"`
}

// parser extracts assistant messages and the final result.
type parser struct {
	summary string
}

func (p *parser) ParseLine(line string) (string, bool) {
	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return line, true
	}

	switch rec.Type {
	case "message":
		if rec.Role != "assistant" {
			return "", false
		}
		// The last assistant message coming before the process exits is the
		// result; subsequent messages keep overwriting it.
		p.summary = rec.Content
		return rec.Content, rec.Content != ""
	case "tool_use":
		return fmt.Sprintf("[tool: %s]", rec.ToolName), true
	case "result":
		if rec.Content != "" {
			p.summary = rec.Content
		}
		return rec.Content, rec.Content != ""
	default:
		return "", false
	}
}

func (p *parser) Summary() string { return p.summary }
