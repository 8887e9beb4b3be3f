package provision_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/credential/credentialmock"
	"github.com/slok/agentbox/internal/dbclone/dbclonemock"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/provision"
	"github.com/slok/agentbox/internal/repofetch/repofetchmock"
)

func taskFixture() model.Task {
	return model.Task{
		ID: "task-1",
		Descriptor: model.TaskDescriptor{
			Backend:       model.AgentBackendClaude,
			RepoRef:       "https://example.com/repo.git",
			DBTemplateRef: "orders.db",
			Instructions:  "do the thing",
		},
	}
}

func credFixture() *model.Credential {
	return &model.Credential{ID: "cred-1", CertPath: "/tmp/cred.crt", KeyPath: "/tmp/cred.key"}
}

func cloneFixture() *model.DatabaseClone {
	return &model.DatabaseClone{ID: "clone-1", TemplateRef: "orders.db", Path: "/tmp/clone.db"}
}

func checkoutFixture() *model.RepoCheckout {
	return &model.RepoCheckout{ID: "checkout-1", RepoRef: "https://example.com/repo.git", Path: "/tmp/checkout"}
}

func TestProvisionerProvision(t *testing.T) {
	tests := map[string]struct {
		mock        func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher)
		expErr      bool
		expResource model.ResourceKind
		expRollback map[model.ResourceKind]bool
		validate    func(t *testing.T, sb *model.Sandbox)
	}{
		"all three resources acquired in order": {
			mock: func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher) {
				mIssuer.On("Issue", mock.Anything, mock.Anything).Once().Return(credFixture(), nil)
				mCloner.On("Clone", mock.Anything, "orders.db", mock.Anything).Once().Return(cloneFixture(), nil)
				mFetcher.On("Checkout", mock.Anything, "https://example.com/repo.git", mock.Anything).Once().Return(checkoutFixture(), nil)
			},
			validate: func(t *testing.T, sb *model.Sandbox) {
				assert.Equal(t, model.ProvisionStatusReady, sb.Status)
				assert.NotNil(t, sb.Credential)
				assert.NotNil(t, sb.DBClone)
				assert.NotNil(t, sb.RepoCheckout)
				assert.NotEmpty(t, sb.ID)
			},
		},
		"credential failure rolls back nothing": {
			mock: func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher) {
				mIssuer.On("Issue", mock.Anything, mock.Anything).Once().Return(nil, fmt.Errorf("ca unavailable"))
			},
			expErr:      true,
			expResource: model.ResourceCredential,
		},
		"clone failure revokes the credential": {
			mock: func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher) {
				mIssuer.On("Issue", mock.Anything, mock.Anything).Once().Return(credFixture(), nil)
				mCloner.On("Clone", mock.Anything, "orders.db", mock.Anything).Once().Return(nil, fmt.Errorf("template missing"))
				mIssuer.On("Revoke", mock.Anything, *credFixture()).Once().Return(nil)
			},
			expErr:      true,
			expResource: model.ResourceDBClone,
		},
		"checkout failure destroys the clone and revokes the credential": {
			mock: func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher) {
				mIssuer.On("Issue", mock.Anything, mock.Anything).Once().Return(credFixture(), nil)
				mCloner.On("Clone", mock.Anything, "orders.db", mock.Anything).Once().Return(cloneFixture(), nil)
				mFetcher.On("Checkout", mock.Anything, mock.Anything, mock.Anything).Once().Return(nil, fmt.Errorf("clone failed"))
				mCloner.On("Destroy", mock.Anything, *cloneFixture()).Once().Return(nil)
				mIssuer.On("Revoke", mock.Anything, *credFixture()).Once().Return(nil)
			},
			expErr:      true,
			expResource: model.ResourceRepoCheckout,
		},
		"rollback failures are recorded on the error": {
			mock: func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher) {
				mIssuer.On("Issue", mock.Anything, mock.Anything).Once().Return(credFixture(), nil)
				mCloner.On("Clone", mock.Anything, "orders.db", mock.Anything).Once().Return(cloneFixture(), nil)
				mFetcher.On("Checkout", mock.Anything, mock.Anything, mock.Anything).Once().Return(nil, fmt.Errorf("clone failed"))
				mCloner.On("Destroy", mock.Anything, *cloneFixture()).Once().Return(fmt.Errorf("file busy"))
				mIssuer.On("Revoke", mock.Anything, *credFixture()).Once().Return(nil)
			},
			expErr:      true,
			expResource: model.ResourceRepoCheckout,
			expRollback: map[model.ResourceKind]bool{model.ResourceDBClone: true},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			mIssuer := &credentialmock.MockIssuer{}
			mCloner := &dbclonemock.MockCloner{}
			mFetcher := &repofetchmock.MockFetcher{}
			test.mock(mIssuer, mCloner, mFetcher)

			p, err := provision.NewProvisioner(provision.ProvisionerConfig{
				Credentials: mIssuer,
				Cloner:      mCloner,
				Fetcher:     mFetcher,
			})
			require.NoError(err)

			sb, err := p.Provision(context.Background(), taskFixture())

			if test.expErr {
				require.Error(err)
				var provErr *model.ProvisionError
				require.True(errors.As(err, &provErr))
				assert.Equal(test.expResource, provErr.Resource)
				for kind := range test.expRollback {
					assert.Contains(provErr.RollbackErrs, kind)
				}
				for kind := range provErr.RollbackErrs {
					assert.True(test.expRollback[kind], "unexpected rollback failure for %s", kind)
				}
			} else {
				require.NoError(err)
				test.validate(t, sb)
			}

			mIssuer.AssertExpectations(t)
			mCloner.AssertExpectations(t)
			mFetcher.AssertExpectations(t)
		})
	}
}

func TestProvisionerProvisionCancelledBetweenSteps(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	mIssuer := &credentialmock.MockIssuer{}
	mCloner := &dbclonemock.MockCloner{}
	mFetcher := &repofetchmock.MockFetcher{}

	ctx, cancel := context.WithCancel(context.Background())

	// The in-flight acquisition completes, cancellation is observed before
	// the next step, and the acquired credential is rolled back.
	mIssuer.On("Issue", mock.Anything, mock.Anything).Once().Run(func(args mock.Arguments) {
		cancel()
	}).Return(credFixture(), nil)
	mIssuer.On("Revoke", mock.Anything, *credFixture()).Once().Return(nil)

	p, err := provision.NewProvisioner(provision.ProvisionerConfig{
		Credentials: mIssuer,
		Cloner:      mCloner,
		Fetcher:     mFetcher,
	})
	require.NoError(err)

	sb, err := p.Provision(ctx, taskFixture())
	require.Error(err)
	assert.Nil(sb)

	var provErr *model.ProvisionError
	require.True(errors.As(err, &provErr))
	assert.ErrorIs(provErr.Err, context.Canceled)

	mIssuer.AssertExpectations(t)
	mCloner.AssertExpectations(t)
	mFetcher.AssertExpectations(t)
}

func TestProvisionerTeardown(t *testing.T) {
	tests := map[string]struct {
		mock      func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher)
		sandbox   func() *model.Sandbox
		expClean  bool
		expFailed []model.ResourceKind
	}{
		"full sandbox released in reverse order": {
			mock: func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher) {
				mFetcher.On("Release", mock.Anything, *checkoutFixture()).Once().Return(nil)
				mCloner.On("Destroy", mock.Anything, *cloneFixture()).Once().Return(nil)
				mIssuer.On("Revoke", mock.Anything, *credFixture()).Once().Return(nil)
			},
			sandbox: func() *model.Sandbox {
				return &model.Sandbox{
					ID:           "sb-1",
					Status:       model.ProvisionStatusReady,
					Credential:   credFixture(),
					DBClone:      cloneFixture(),
					RepoCheckout: checkoutFixture(),
				}
			},
			expClean: true,
		},
		"release failure doesn't halt the remaining releases": {
			mock: func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher) {
				mFetcher.On("Release", mock.Anything, *checkoutFixture()).Once().Return(fmt.Errorf("dir busy"))
				mCloner.On("Destroy", mock.Anything, *cloneFixture()).Once().Return(nil)
				mIssuer.On("Revoke", mock.Anything, *credFixture()).Once().Return(nil)
			},
			sandbox: func() *model.Sandbox {
				return &model.Sandbox{
					ID:           "sb-1",
					Status:       model.ProvisionStatusReady,
					Credential:   credFixture(),
					DBClone:      cloneFixture(),
					RepoCheckout: checkoutFixture(),
				}
			},
			expClean:  false,
			expFailed: []model.ResourceKind{model.ResourceRepoCheckout},
		},
		"empty sandbox tears down clean": {
			mock:     func(mIssuer *credentialmock.MockIssuer, mCloner *dbclonemock.MockCloner, mFetcher *repofetchmock.MockFetcher) {},
			sandbox:  func() *model.Sandbox { return &model.Sandbox{ID: "sb-1"} },
			expClean: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			mIssuer := &credentialmock.MockIssuer{}
			mCloner := &dbclonemock.MockCloner{}
			mFetcher := &repofetchmock.MockFetcher{}
			test.mock(mIssuer, mCloner, mFetcher)

			p, err := provision.NewProvisioner(provision.ProvisionerConfig{
				Credentials: mIssuer,
				Cloner:      mCloner,
				Fetcher:     mFetcher,
			})
			require.NoError(err)

			sb := test.sandbox()
			report := p.Teardown(context.Background(), sb)

			assert.Equal(test.expClean, report.Clean())
			assert.Equal(model.ProvisionStatusTornDown, sb.Status)
			for _, kind := range test.expFailed {
				assert.Contains(report.Failed, kind)
			}
			if test.expClean {
				assert.Empty(report.Warnings())
			}

			mIssuer.AssertExpectations(t)
			mCloner.AssertExpectations(t)
			mFetcher.AssertExpectations(t)
		})
	}
}
