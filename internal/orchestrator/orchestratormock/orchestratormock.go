package orchestratormock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/agentbox/internal/model"
)

// MockProvisioner is a mock implementation of orchestrator.Provisioner.
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Provision(ctx context.Context, task model.Task) (*model.Sandbox, error) {
	args := m.Called(ctx, task)
	var sb *model.Sandbox
	if args.Get(0) != nil {
		sb = args.Get(0).(*model.Sandbox)
	}
	return sb, args.Error(1)
}

func (m *MockProvisioner) Teardown(ctx context.Context, sb *model.Sandbox) model.TeardownReport {
	args := m.Called(ctx, sb)
	return args.Get(0).(model.TeardownReport)
}

// MockPublisher is a mock implementation of orchestrator.Publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, checkout model.RepoCheckout) (*model.PublishResult, error) {
	args := m.Called(ctx, checkout)
	var res *model.PublishResult
	if args.Get(0) != nil {
		res = args.Get(0).(*model.PublishResult)
	}
	return res, args.Error(1)
}
