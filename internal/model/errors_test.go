package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/agentbox/internal/model"
)

func TestProvisionError(t *testing.T) {
	assert := assert.New(t)

	cause := fmt.Errorf("template missing: %w", model.ErrNotFound)
	err := &model.ProvisionError{
		Resource: model.ResourceDBClone,
		Err:      cause,
		RollbackErrs: map[model.ResourceKind]error{
			model.ResourceCredential: errors.New("ca unreachable"),
		},
	}

	assert.Contains(err.Error(), "db_clone")
	assert.Contains(err.Error(), "template missing")
	assert.Contains(err.Error(), "ca unreachable")
	assert.ErrorIs(err, model.ErrNotFound)
}

func TestTeardownReport(t *testing.T) {
	tests := map[string]struct {
		report       model.TeardownReport
		expClean     bool
		expWarnings  int
	}{
		"no failures is clean": {
			report: model.TeardownReport{
				Released: []model.ResourceKind{model.ResourceCredential, model.ResourceDBClone},
			},
			expClean: true,
		},
		"failures produce one warning each": {
			report: model.TeardownReport{
				Released: []model.ResourceKind{model.ResourceCredential},
				Failed: map[model.ResourceKind]error{
					model.ResourceDBClone:      errors.New("file busy"),
					model.ResourceRepoCheckout: errors.New("dir busy"),
				},
			},
			expClean:    false,
			expWarnings: 2,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(test.expClean, test.report.Clean())
			assert.Len(test.report.Warnings(), test.expWarnings)
		})
	}
}

func TestSandboxLiveResources(t *testing.T) {
	assert := assert.New(t)

	sb := &model.Sandbox{ID: "sb-1"}
	assert.Empty(sb.LiveResources())

	sb.Credential = &model.Credential{ID: "cred-1"}
	sb.RepoCheckout = &model.RepoCheckout{ID: "checkout-1"}
	assert.Equal([]model.ResourceKind{model.ResourceCredential, model.ResourceRepoCheckout}, sb.LiveResources())
}
