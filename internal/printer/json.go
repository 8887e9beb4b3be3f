package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/agentbox/internal/model"
)

// JSONPrinter prints task information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a task in the list output (subset of fields).
type listItem struct {
	ID          string    `json:"id"`
	Backend     string    `json:"backend"`
	Status      string    `json:"status"`
	OutputBytes int64     `json:"output_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// statusOutput represents the full task status output.
type statusOutput struct {
	ID              string     `json:"id"`
	Backend         string     `json:"backend"`
	Status          string     `json:"status"`
	RepoRef         string     `json:"repo_ref"`
	DBTemplateRef   string     `json:"db_template_ref"`
	SandboxID       string     `json:"sandbox_id,omitempty"`
	FailingResource string     `json:"failing_resource,omitempty"`
	OutputBytes     int64      `json:"output_bytes"`
	Summary         string     `json:"summary,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
}

// checkOutput represents a preflight check result.
type checkOutput struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintList prints tasks in JSON format with a subset of fields.
func (j *JSONPrinter) PrintList(tasks []model.Task) error {
	items := make([]listItem, len(tasks))
	for i, t := range tasks {
		items[i] = listItem{
			ID:          t.ID,
			Backend:     string(t.Descriptor.Backend),
			Status:      string(t.Status),
			OutputBytes: t.OutputBytes,
			CreatedAt:   t.CreatedAt.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintStatus prints detailed task status in JSON format.
func (j *JSONPrinter) PrintStatus(task model.Task) error {
	output := statusOutput{
		ID:              task.ID,
		Backend:         string(task.Descriptor.Backend),
		Status:          string(task.Status),
		RepoRef:         task.Descriptor.RepoRef,
		DBTemplateRef:   task.Descriptor.DBTemplateRef,
		SandboxID:       task.SandboxID,
		FailingResource: string(task.FailingResource),
		OutputBytes:     task.OutputBytes,
		Summary:         task.Summary,
		ErrorMessage:    task.ErrorMessage,
		Warnings:        task.Warnings,
		CreatedAt:       task.CreatedAt.UTC(),
	}

	if task.StartedAt != nil {
		utcTime := task.StartedAt.UTC()
		output.StartedAt = &utcTime
	}
	if task.FinishedAt != nil {
		utcTime := task.FinishedAt.UTC()
		output.FinishedAt = &utcTime
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// PrintChecks prints preflight check results in JSON format.
func (j *JSONPrinter) PrintChecks(results []model.CheckResult) error {
	items := make([]checkOutput, len(results))
	for i, r := range results {
		items[i] = checkOutput{
			ID:      r.ID,
			Status:  string(r.Status),
			Message: r.Message,
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	output := messageOutput{Message: msg}
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
