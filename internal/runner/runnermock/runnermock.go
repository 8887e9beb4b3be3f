package runnermock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/runner"
	"github.com/slok/agentbox/internal/sandbox"
)

// MockRunner is a mock implementation of runner.Runner.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Backend() model.AgentBackend {
	args := m.Called()
	return args.Get(0).(model.AgentBackend)
}

func (m *MockRunner) Start(ctx context.Context, engine sandbox.Engine, in runner.StartInput) (runner.Run, error) {
	args := m.Called(ctx, engine, in)
	var run runner.Run
	if args.Get(0) != nil {
		run = args.Get(0).(runner.Run)
	}
	return run, args.Error(1)
}

// MockRun is a mock implementation of runner.Run.
type MockRun struct {
	mock.Mock
}

func (m *MockRun) Output() <-chan model.OutputChunk {
	args := m.Called()
	var out <-chan model.OutputChunk
	if args.Get(0) != nil {
		out = args.Get(0).(<-chan model.OutputChunk)
	}
	return out
}

func (m *MockRun) Wait(ctx context.Context) (model.Outcome, error) {
	args := m.Called(ctx)
	var outcome model.Outcome
	if args.Get(0) != nil {
		outcome = args.Get(0).(model.Outcome)
	}
	return outcome, args.Error(1)
}

func (m *MockRun) Cancel(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
