package codex_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/runner"
	"github.com/slok/agentbox/internal/runner/codex"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

func TestCodexRunner(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// Codex has no structured output: every line is a chunk and the last
	// non-empty one is the summary.
	lines := []string{"thinking about it", "", "  applied the patch  "}

	var command []string
	engine, err := fake.NewEngine(fake.EngineConfig{Script: func(ctx context.Context, cmd []string, sc *fake.SessionController) {
		command = cmd
		_, _ = io.Copy(io.Discard, sc.Stdin())
		for _, line := range lines {
			sc.Emit(line + "\n")
		}
		sc.Exit(0)
	}})
	require.NoError(err)

	runtimeID, err := engine.Create(context.Background(), sandbox.Spec{SandboxID: "sbx-1"})
	require.NoError(err)

	r, err := codex.NewRunner(codex.RunnerConfig{})
	require.NoError(err)
	assert.Equal(model.AgentBackendCodex, r.Backend())

	run, err := r.Start(context.Background(), engine, runner.StartInput{
		RunID:        "run-1",
		TaskID:       "task-1",
		RuntimeID:    runtimeID,
		Instructions: "do it",
		IdleWindow:   5 * time.Second,
		MaxDuration:  30 * time.Second,
	})
	require.NoError(err)

	var got []string
	for chunk := range run.Output() {
		got = append(got, chunk.Data)
	}

	outcome, err := run.Wait(context.Background())
	require.NoError(err)

	assert.Equal(model.OutcomeSuccess, outcome.Kind)
	assert.Equal("applied the patch", outcome.Summary)
	assert.Equal(lines, got)
	assert.Contains(command, "codex")
	assert.Contains(command, "exec")
}
