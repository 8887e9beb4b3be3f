package claude_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/runner"
	"github.com/slok/agentbox/internal/runner/claude"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

func runScript(t *testing.T, lines []string, exitCode int) (model.Outcome, []model.OutputChunk, []string) {
	t.Helper()

	var command []string
	engine, err := fake.NewEngine(fake.EngineConfig{Script: func(ctx context.Context, cmd []string, sc *fake.SessionController) {
		command = cmd
		_, _ = io.Copy(io.Discard, sc.Stdin())
		for _, line := range lines {
			sc.Emit(line + "\n")
		}
		sc.Exit(exitCode)
	}})
	require.NoError(t, err)

	runtimeID, err := engine.Create(context.Background(), sandbox.Spec{SandboxID: "sbx-1"})
	require.NoError(t, err)

	r, err := claude.NewRunner(claude.RunnerConfig{})
	require.NoError(t, err)

	run, err := r.Start(context.Background(), engine, runner.StartInput{
		RunID:        "run-1",
		TaskID:       "task-1",
		RuntimeID:    runtimeID,
		Instructions: "do it",
		IdleWindow:   5 * time.Second,
		MaxDuration:  30 * time.Second,
	})
	require.NoError(t, err)

	var chunks []model.OutputChunk
	for chunk := range run.Output() {
		chunks = append(chunks, chunk)
	}

	outcome, err := run.Wait(context.Background())
	require.NoError(t, err)
	return outcome, chunks, command
}

func TestClaudeRunner(t *testing.T) {
	tests := map[string]struct {
		lines      []string
		exitCode   int
		expOutcome model.OutcomeKind
		expSummary string
		expChunks  []string
	}{
		"Assistant text and tool use blocks should become chunks, init and user messages should not.": {
			lines: []string{
				`{"type":"system","subtype":"init"}`,
				`{"type":"assistant","message":{"content":[{"type":"text","text":"Looking at the repo."}]}}`,
				`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash"}]}}`,
				`{"type":"user","message":{"content":[{"type":"tool_result"}]}}`,
				`{"type":"result","subtype":"success","result":"Fixed the bug.","is_error":false}`,
			},
			exitCode:   0,
			expOutcome: model.OutcomeSuccess,
			expSummary: "Fixed the bug.",
			expChunks:  []string{"Looking at the repo.", "[tool: Bash]", "Fixed the bug."},
		},

		"Lines outside the protocol should pass through raw.": {
			lines: []string{
				`warning: something unstructured`,
				`{"type":"result","result":"ok"}`,
			},
			exitCode:   0,
			expOutcome: model.OutcomeSuccess,
			expSummary: "ok",
			expChunks:  []string{"warning: something unstructured", "ok"},
		},

		"A nonzero exit should fail the run regardless of parsed output.": {
			lines: []string{
				`{"type":"assistant","message":{"content":[{"type":"text","text":"trying"}]}}`,
			},
			exitCode:   2,
			expOutcome: model.OutcomeFailure,
			expChunks:  []string{"trying"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			outcome, chunks, command := runScript(t, test.lines, test.exitCode)

			assert.Equal(test.expOutcome, outcome.Kind)
			if test.expOutcome == model.OutcomeSuccess {
				assert.Equal(test.expSummary, outcome.Summary)
			}

			var got []string
			for _, chunk := range chunks {
				got = append(got, chunk.Data)
			}
			assert.Equal(test.expChunks, got)

			assert.Contains(command, "claude")
			assert.Contains(command, "stream-json")
		})
	}
}

func TestClaudeRunnerBackend(t *testing.T) {
	assert := assert.New(t)

	r, err := claude.NewRunner(claude.RunnerConfig{Bin: "claude-dev"})
	require.NoError(t, err)
	assert.Equal(model.AgentBackendClaude, r.Backend())
}
