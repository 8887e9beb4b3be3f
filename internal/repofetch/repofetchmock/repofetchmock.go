package repofetchmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/agentbox/internal/model"
)

// MockFetcher is a mock implementation of repofetch.Fetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Checkout(ctx context.Context, repoRef string, sandboxID string) (*model.RepoCheckout, error) {
	args := m.Called(ctx, repoRef, sandboxID)
	var checkout *model.RepoCheckout
	if args.Get(0) != nil {
		checkout = args.Get(0).(*model.RepoCheckout)
	}
	return checkout, args.Error(1)
}

func (m *MockFetcher) Release(ctx context.Context, checkout model.RepoCheckout) error {
	args := m.Called(ctx, checkout)
	return args.Error(0)
}

func (m *MockFetcher) Publish(ctx context.Context, checkout model.RepoCheckout) (*model.PublishResult, error) {
	args := m.Called(ctx, checkout)
	var result *model.PublishResult
	if args.Get(0) != nil {
		result = args.Get(0).(*model.PublishResult)
	}
	return result, args.Error(1)
}

func (m *MockFetcher) LiveCheckouts(ctx context.Context) ([]model.RepoCheckout, error) {
	args := m.Called(ctx)
	var checkouts []model.RepoCheckout
	if args.Get(0) != nil {
		checkouts = args.Get(0).([]model.RepoCheckout)
	}
	return checkouts, args.Error(1)
}
