package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/agentbox/internal/model"
)

func TestTaskStatusTransitions(t *testing.T) {
	tests := map[string]struct {
		from model.TaskStatus
		to   model.TaskStatus
		exp  bool
	}{
		"submitted to provisioning":         {from: model.TaskStatusSubmitted, to: model.TaskStatusProvisioning, exp: true},
		"submitted to cancelled":            {from: model.TaskStatusSubmitted, to: model.TaskStatusCancelled, exp: true},
		"submitted to running is skipped":   {from: model.TaskStatusSubmitted, to: model.TaskStatusRunning, exp: false},
		"provisioning to running":           {from: model.TaskStatusProvisioning, to: model.TaskStatusRunning, exp: true},
		"provisioning to failed":            {from: model.TaskStatusProvisioning, to: model.TaskStatusFailed, exp: true},
		"provisioning to cancelled":         {from: model.TaskStatusProvisioning, to: model.TaskStatusCancelled, exp: true},
		"provisioning to succeeded":         {from: model.TaskStatusProvisioning, to: model.TaskStatusSucceeded, exp: false},
		"running to finalizing":             {from: model.TaskStatusRunning, to: model.TaskStatusFinalizing, exp: true},
		"running straight to succeeded":     {from: model.TaskStatusRunning, to: model.TaskStatusSucceeded, exp: false},
		"running straight to cancelled":     {from: model.TaskStatusRunning, to: model.TaskStatusCancelled, exp: false},
		"finalizing to succeeded":           {from: model.TaskStatusFinalizing, to: model.TaskStatusSucceeded, exp: true},
		"finalizing to failed":              {from: model.TaskStatusFinalizing, to: model.TaskStatusFailed, exp: true},
		"finalizing to cancelled":           {from: model.TaskStatusFinalizing, to: model.TaskStatusCancelled, exp: true},
		"succeeded is terminal":             {from: model.TaskStatusSucceeded, to: model.TaskStatusRunning, exp: false},
		"failed is terminal":                {from: model.TaskStatusFailed, to: model.TaskStatusSubmitted, exp: false},
		"cancelled is terminal":             {from: model.TaskStatusCancelled, to: model.TaskStatusProvisioning, exp: false},
		"terminal states never reach other": {from: model.TaskStatusSucceeded, to: model.TaskStatusFailed, exp: false},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, test.from.CanTransition(test.to))
		})
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	tests := map[string]struct {
		status model.TaskStatus
		exp    bool
	}{
		"submitted":    {status: model.TaskStatusSubmitted, exp: false},
		"provisioning": {status: model.TaskStatusProvisioning, exp: false},
		"running":      {status: model.TaskStatusRunning, exp: false},
		"finalizing":   {status: model.TaskStatusFinalizing, exp: false},
		"succeeded":    {status: model.TaskStatusSucceeded, exp: true},
		"failed":       {status: model.TaskStatusFailed, exp: true},
		"cancelled":    {status: model.TaskStatusCancelled, exp: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, test.status.IsTerminal())
		})
	}
}

func TestTaskDescriptorValidate(t *testing.T) {
	valid := func() model.TaskDescriptor {
		return model.TaskDescriptor{
			Backend:       model.AgentBackendClaude,
			RepoRef:       "https://example.com/repo.git",
			DBTemplateRef: "orders.db",
			Instructions:  "fix the bug",
		}
	}

	tests := map[string]struct {
		descriptor func() model.TaskDescriptor
		expErr     bool
	}{
		"valid descriptor": {
			descriptor: valid,
		},
		"valid descriptor with overrides": {
			descriptor: func() model.TaskDescriptor {
				d := valid()
				d.MaxDuration = 10 * time.Minute
				d.IdleWindow = time.Minute
				d.Env = map[string]string{"FOO": "bar"}
				return d
			},
		},
		"unknown backend": {
			descriptor: func() model.TaskDescriptor {
				d := valid()
				d.Backend = "chatgpt"
				return d
			},
			expErr: true,
		},
		"missing repo reference": {
			descriptor: func() model.TaskDescriptor {
				d := valid()
				d.RepoRef = ""
				return d
			},
			expErr: true,
		},
		"missing db template reference": {
			descriptor: func() model.TaskDescriptor {
				d := valid()
				d.DBTemplateRef = ""
				return d
			},
			expErr: true,
		},
		"missing instructions": {
			descriptor: func() model.TaskDescriptor {
				d := valid()
				d.Instructions = ""
				return d
			},
			expErr: true,
		},
		"negative max duration": {
			descriptor: func() model.TaskDescriptor {
				d := valid()
				d.MaxDuration = -time.Second
				return d
			},
			expErr: true,
		},
		"negative idle window": {
			descriptor: func() model.TaskDescriptor {
				d := valid()
				d.IdleWindow = -time.Second
				return d
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			d := test.descriptor()
			err := d.Validate()

			if test.expErr {
				assert.Error(err)
				assert.ErrorIs(err, model.ErrNotValid)
			} else {
				assert.NoError(err)
			}
		})
	}
}
