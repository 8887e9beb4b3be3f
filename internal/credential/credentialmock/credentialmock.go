package credentialmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/agentbox/internal/model"
)

// MockIssuer is a mock implementation of credential.Issuer.
type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) Issue(ctx context.Context, sandboxID string) (*model.Credential, error) {
	args := m.Called(ctx, sandboxID)
	var cred *model.Credential
	if args.Get(0) != nil {
		cred = args.Get(0).(*model.Credential)
	}
	return cred, args.Error(1)
}

func (m *MockIssuer) Revoke(ctx context.Context, cred model.Credential) error {
	args := m.Called(ctx, cred)
	return args.Error(0)
}

func (m *MockIssuer) LiveCredentials(ctx context.Context) ([]model.Credential, error) {
	args := m.Called(ctx)
	var creds []model.Credential
	if args.Get(0) != nil {
		creds = args.Get(0).([]model.Credential)
	}
	return creds, args.Error(1)
}
