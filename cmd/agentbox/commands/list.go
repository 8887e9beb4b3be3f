package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type ListCommand struct {
	cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	output string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}
	c.cmd = app.Command("list", "Lists all tasks.").Alias("ls")
	registerOutputFlag(c.cmd, &c.output)

	return c
}

func (c ListCommand) Name() string { return c.cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	repo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	tasks, err := repo.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}

	return newPrinter(c.output, c.rootCmd.Stdout).PrintList(tasks)
}
