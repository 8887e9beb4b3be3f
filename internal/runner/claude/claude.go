// Package claude runs the Claude Code CLI through its streaming JSON protocol.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/runner"
	"github.com/slok/agentbox/internal/sandbox"
)

// RunnerConfig is the configuration for the Claude runner.
type RunnerConfig struct {
	// Bin is the CLI binary inside the sandbox. Defaults to "claude".
	Bin    string
	Logger log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Bin == "" {
		c.Bin = "claude"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "runner.Claude"})
	return nil
}

// Runner launches the Claude Code CLI. Output arrives as NDJSON stream-JSON
// messages; assistant text blocks become chunks and the result message
// carries the summary.
type Runner struct {
	bin    string
	logger log.Logger
}

// NewRunner creates a new Claude runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{bin: cfg.Bin, logger: cfg.Logger}, nil
}

func (r *Runner) Backend() model.AgentBackend { return model.AgentBackendClaude }

// Start launches the agent process in the sandbox.
func (r *Runner) Start(ctx context.Context, engine sandbox.Engine, in runner.StartInput) (runner.Run, error) {
	command := []string{
		r.bin, "-p",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}

	return runner.NewRun(ctx, engine, in, command, &parser{}, r.logger)
}

// streamLine is the subset of the Claude Code stream-JSON protocol we read.
type streamLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`
}

// parser extracts assistant text and the final result from stream-JSON lines.
type parser struct {
	summary string
}

func (p *parser) ParseLine(line string) (string, bool) {
	var msg streamLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		// Not part of the protocol, pass raw so nothing is lost.
		return line, true
	}

	switch msg.Type {
	case "assistant":
		var text string
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				text += block.Text
			case "tool_use":
				text += fmt.Sprintf("[tool: %s]", block.Name)
			}
		}
		return text, text != ""
	case "result":
		p.summary = msg.Result
		return msg.Result, msg.Result != ""
	default:
		// Init and user messages carry no user-visible output.
		return "", false
	}
}

func (p *parser) Summary() string { return p.summary }
