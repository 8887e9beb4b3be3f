package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/slok/agentbox/internal/model"
)

// TablePrinter prints task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintList prints tasks in a table format.
func (t *TablePrinter) PrintList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header
	fmt.Fprintln(tw, "ID\tBACKEND\tSTATUS\tOUTPUT\tCREATED")

	// Print rows
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			task.ID,
			task.Descriptor.Backend,
			task.Status,
			FormatBytes(task.OutputBytes),
			TimeAgo(task.CreatedAt),
		)
	}

	return nil
}

// PrintStatus prints detailed task status.
func (t *TablePrinter) PrintStatus(task model.Task) error {
	fmt.Fprintf(t.writer, "ID:           %s\n", task.ID)
	fmt.Fprintf(t.writer, "Backend:      %s\n", task.Descriptor.Backend)
	fmt.Fprintf(t.writer, "Status:       %s\n", task.Status)
	fmt.Fprintf(t.writer, "Repo:         %s\n", task.Descriptor.RepoRef)
	fmt.Fprintf(t.writer, "DB template:  %s\n", task.Descriptor.DBTemplateRef)

	if task.SandboxID != "" {
		fmt.Fprintf(t.writer, "Sandbox:      %s\n", task.SandboxID)
	}
	if task.FailingResource != "" {
		fmt.Fprintf(t.writer, "Failed on:    %s\n", task.FailingResource)
	}

	fmt.Fprintf(t.writer, "Output:       %s\n", FormatBytes(task.OutputBytes))
	fmt.Fprintf(t.writer, "Created:      %s\n", FormatTimestamp(task.CreatedAt))

	if task.StartedAt != nil {
		fmt.Fprintf(t.writer, "Started:      %s\n", FormatTimestamp(*task.StartedAt))
	}
	if task.FinishedAt != nil {
		fmt.Fprintf(t.writer, "Finished:     %s\n", FormatTimestamp(*task.FinishedAt))
	}

	if task.Summary != "" {
		fmt.Fprintf(t.writer, "Summary:      %s\n", task.Summary)
	}
	if task.ErrorMessage != "" {
		fmt.Fprintf(t.writer, "Error:        %s\n", task.ErrorMessage)
	}

	for _, w := range task.Warnings {
		fmt.Fprintf(t.writer, "Warning:      %s\n", w)
	}

	return nil
}

// PrintChecks prints preflight check results in a table format.
func (t *TablePrinter) PrintChecks(results []model.CheckResult) error {
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "CHECK\tSTATUS\tMESSAGE")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Status, r.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	ok, warnings, errors := model.CountByStatus(results)
	fmt.Fprintf(t.writer, "\n%d ok, %d warnings, %d errors\n", ok, warnings, errors)

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}
