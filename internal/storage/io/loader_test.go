package io_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	storageio "github.com/slok/agentbox/internal/storage/io"
)

func TestGetDescriptor(t *testing.T) {
	tests := map[string]struct {
		yaml   string
		expErr bool
		exp    model.TaskDescriptor
	}{
		"A full descriptor should load with every field mapped.": {
			yaml: `
backend: claude
repo: /srv/repos/orders.git
db_template: orders.db
instructions: fix the failing test
env:
  CGO_ENABLED: "0"
max_duration: 30m
idle_window: 5m
`,
			exp: model.TaskDescriptor{
				Backend:       model.AgentBackendClaude,
				RepoRef:       "/srv/repos/orders.git",
				DBTemplateRef: "orders.db",
				Instructions:  "fix the failing test",
				Env:           map[string]string{"CGO_ENABLED": "0"},
				MaxDuration:   30 * time.Minute,
				IdleWindow:    5 * time.Minute,
			},
		},

		"Durations are optional and default to zero.": {
			yaml: `
backend: codex
repo: /srv/repos/orders.git
db_template: orders.db
instructions: add pagination
`,
			exp: model.TaskDescriptor{
				Backend:       model.AgentBackendCodex,
				RepoRef:       "/srv/repos/orders.git",
				DBTemplateRef: "orders.db",
				Instructions:  "add pagination",
			},
		},

		"A malformed duration should fail.": {
			yaml: `
backend: claude
repo: /srv/repos/orders.git
db_template: orders.db
instructions: fix it
max_duration: thirty minutes
`,
			expErr: true,
		},

		"An unknown backend should fail validation.": {
			yaml: `
backend: chatgpt
repo: /srv/repos/orders.git
db_template: orders.db
instructions: fix it
`,
			expErr: true,
		},

		"A descriptor without instructions should fail validation.": {
			yaml: `
backend: claude
repo: /srv/repos/orders.git
db_template: orders.db
`,
			expErr: true,
		},

		"Invalid YAML should fail.": {
			yaml:   `backend: [`,
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			fs := fstest.MapFS{"task.yaml": {Data: []byte(test.yaml)}}
			repo := storageio.NewDescriptorYAMLRepository(fs)

			got, err := repo.GetDescriptor(context.Background(), "task.yaml")
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(t, err)
			assert.Equal(test.exp, got)
		})
	}
}

func TestGetDescriptorMissingFile(t *testing.T) {
	assert := assert.New(t)

	repo := storageio.NewDescriptorYAMLRepository(fstest.MapFS{})
	_, err := repo.GetDescriptor(context.Background(), "missing.yaml")
	assert.Error(err)
}
