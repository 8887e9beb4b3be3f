package dbclonemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/agentbox/internal/model"
)

// MockCloner is a mock implementation of dbclone.Cloner.
type MockCloner struct {
	mock.Mock
}

func (m *MockCloner) Clone(ctx context.Context, templateRef string, sandboxID string) (*model.DatabaseClone, error) {
	args := m.Called(ctx, templateRef, sandboxID)
	var clone *model.DatabaseClone
	if args.Get(0) != nil {
		clone = args.Get(0).(*model.DatabaseClone)
	}
	return clone, args.Error(1)
}

func (m *MockCloner) Destroy(ctx context.Context, clone model.DatabaseClone) error {
	args := m.Called(ctx, clone)
	return args.Error(0)
}

func (m *MockCloner) LiveClones(ctx context.Context) ([]model.DatabaseClone, error) {
	args := m.Called(ctx)
	var clones []model.DatabaseClone
	if args.Get(0) != nil {
		clones = args.Get(0).([]model.DatabaseClone)
	}
	return clones, args.Error(1)
}
