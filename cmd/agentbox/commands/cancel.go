package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type CancelCommand struct {
	cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	output string
}

// NewCancelCommand returns the cancel command.
func NewCancelCommand(rootCmd *RootCommand, app *kingpin.Application) *CancelCommand {
	c := &CancelCommand{rootCmd: rootCmd}
	c.cmd = app.Command("cancel", "Requests cooperative cancellation of a task.")
	c.cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	registerOutputFlag(c.cmd, &c.output)

	return c
}

func (c CancelCommand) Name() string { return c.cmd.FullCommand() }

func (c CancelCommand) Run(ctx context.Context) error {
	repo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	p := newPrinter(c.output, c.rootCmd.Stdout)

	task, err := repo.GetTask(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	// Cancelling a finished task is an acknowledged no-op.
	if task.Status.IsTerminal() {
		return p.PrintMessage(fmt.Sprintf("Task %s already %s, nothing to cancel", task.ID, task.Status))
	}

	if err := repo.RequestCancel(ctx, c.taskID); err != nil {
		return fmt.Errorf("could not request cancel: %w", err)
	}

	return p.PrintMessage(fmt.Sprintf("Cancellation of task %s requested", task.ID))
}
