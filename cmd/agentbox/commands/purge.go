package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/conventions"
)

type PurgeCommand struct {
	cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	olderThan time.Duration
	output    string
}

// NewPurgeCommand returns the purge command.
func NewPurgeCommand(rootCmd *RootCommand, app *kingpin.Application) *PurgeCommand {
	c := &PurgeCommand{rootCmd: rootCmd}
	c.cmd = app.Command("purge", "Deletes finished tasks and their output logs.")
	c.cmd.Flag("older-than", "Only purge tasks that finished longer ago than this.").Default("168h").DurationVar(&c.olderThan)
	registerOutputFlag(c.cmd, &c.output)

	return c
}

func (c PurgeCommand) Name() string { return c.cmd.FullCommand() }

func (c PurgeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	cutoff := time.Now().UTC().Add(-c.olderThan)

	// Remove the output logs first, the task rows are the source of truth
	// for which logs belong to purgeable tasks.
	tasks, err := repo.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}
	for _, task := range tasks {
		if !task.Status.IsTerminal() || task.FinishedAt == nil || !task.FinishedAt.Before(cutoff) {
			continue
		}
		path := conventions.TaskOutputPath(c.rootCmd.DataDir, task.ID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warningf("could not remove output log of task %s: %v", task.ID, err)
		}
	}

	purged, err := repo.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("could not purge tasks: %w", err)
	}

	return newPrinter(c.output, c.rootCmd.Stdout).PrintMessage(fmt.Sprintf("%d tasks purged", purged))
}
