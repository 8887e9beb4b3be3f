package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type StatusCommand struct {
	cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	output string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}
	c.cmd = app.Command("status", "Shows the status of a task.")
	c.cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	registerOutputFlag(c.cmd, &c.output)

	return c
}

func (c StatusCommand) Name() string { return c.cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	repo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	task, err := repo.GetTask(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	return newPrinter(c.output, c.rootCmd.Stdout).PrintStatus(*task)
}
