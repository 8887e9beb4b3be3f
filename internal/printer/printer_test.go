package printer_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/printer"
)

func taskFixture() model.Task {
	createdAt := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	startedAt := createdAt.Add(5 * time.Second)
	return model.Task{
		ID: "01234567890ABCDEFGHIJKLMNOP",
		Descriptor: model.TaskDescriptor{
			Backend:       model.AgentBackendClaude,
			RepoRef:       "https://example.com/repo.git",
			DBTemplateRef: "orders.db",
			Instructions:  "fix the failing test",
		},
		Status:      model.TaskStatusRunning,
		SandboxID:   "SBX0123456789ABCDEFGHIJKLMN",
		CreatedAt:   createdAt,
		StartedAt:   &startedAt,
		OutputBytes: 2048,
	}
}

func TestTablePrinterPrintList(t *testing.T) {
	tests := map[string]struct {
		tasks       []model.Task
		expContains []string
		expEmpty    bool
	}{
		"empty list prints nothing": {
			tasks:    nil,
			expEmpty: true,
		},
		"tasks are printed with header": {
			tasks: []model.Task{taskFixture()},
			expContains: []string{
				"ID",
				"BACKEND",
				"STATUS",
				"01234567890ABCDEFGHIJKLMNOP",
				"claude",
				"running",
				"2.0 KB",
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			var b bytes.Buffer
			p := printer.NewTablePrinter(&b)
			err := p.PrintList(test.tasks)
			require.NoError(err)

			if test.expEmpty {
				assert.Empty(b.String())
				return
			}
			for _, exp := range test.expContains {
				assert.Contains(b.String(), exp)
			}
		})
	}
}

func TestTablePrinterPrintStatus(t *testing.T) {
	tests := map[string]struct {
		task        func() model.Task
		expContains []string
		expMissing  []string
	}{
		"running task shows core fields": {
			task: taskFixture,
			expContains: []string{
				"ID:           01234567890ABCDEFGHIJKLMNOP",
				"Backend:      claude",
				"Status:       running",
				"Repo:         https://example.com/repo.git",
				"DB template:  orders.db",
				"Sandbox:      SBX0123456789ABCDEFGHIJKLMN",
				"Started:      2026-01-30 10:00:05 UTC",
			},
			expMissing: []string{"Failed on:", "Error:", "Summary:"},
		},
		"failed task shows failing resource and error": {
			task: func() model.Task {
				task := taskFixture()
				task.Status = model.TaskStatusFailed
				task.FailingResource = model.ResourceDBClone
				task.ErrorMessage = "clone verification failed"
				task.Warnings = []string{"rollback: could not release credential: boom"}
				return task
			},
			expContains: []string{
				"Failed on:    db_clone",
				"Error:        clone verification failed",
				"Warning:      rollback: could not release credential: boom",
			},
		},
		"succeeded task shows summary": {
			task: func() model.Task {
				task := taskFixture()
				task.Status = model.TaskStatusSucceeded
				task.Summary = "done, tests green"
				return task
			},
			expContains: []string{"Summary:      done, tests green"},
			expMissing:  []string{"Error:"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			var b bytes.Buffer
			p := printer.NewTablePrinter(&b)
			err := p.PrintStatus(test.task())
			require.NoError(err)

			for _, exp := range test.expContains {
				assert.Contains(b.String(), exp)
			}
			for _, missing := range test.expMissing {
				assert.NotContains(b.String(), missing)
			}
		})
	}
}

func TestTablePrinterPrintChecks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	results := []model.CheckResult{
		{ID: "docker_available", Status: model.CheckStatusOK, Message: "Docker daemon reachable"},
		{ID: "git_available", Status: model.CheckStatusError, Message: "git binary not found"},
	}

	var b bytes.Buffer
	p := printer.NewTablePrinter(&b)
	err := p.PrintChecks(results)
	require.NoError(err)

	assert.Contains(b.String(), "docker_available")
	assert.Contains(b.String(), "git binary not found")
	assert.Contains(b.String(), "1 ok, 0 warnings, 1 errors")
}

func TestJSONPrinterPrintList(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var b bytes.Buffer
	p := printer.NewJSONPrinter(&b)
	err := p.PrintList([]model.Task{taskFixture()})
	require.NoError(err)

	out := b.String()
	assert.Contains(out, `"id": "01234567890ABCDEFGHIJKLMNOP"`)
	assert.Contains(out, `"backend": "claude"`)
	assert.Contains(out, `"status": "running"`)
	assert.Contains(out, `"output_bytes": 2048`)
}

func TestJSONPrinterPrintStatus(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	task := taskFixture()
	task.Status = model.TaskStatusFailed
	task.FailingResource = model.ResourceCredential
	task.ErrorMessage = "issue failed"

	var b bytes.Buffer
	p := printer.NewJSONPrinter(&b)
	err := p.PrintStatus(task)
	require.NoError(err)

	out := b.String()
	assert.Contains(out, `"failing_resource": "credential"`)
	assert.Contains(out, `"error_message": "issue failed"`)
	assert.True(strings.HasSuffix(strings.TrimSpace(out), "}"))
}

func TestJSONPrinterPrintMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var b bytes.Buffer
	p := printer.NewJSONPrinter(&b)
	err := p.PrintMessage("2 tasks purged")
	require.NoError(err)

	assert.JSONEq(`{"message": "2 tasks purged"}`, b.String())
}
