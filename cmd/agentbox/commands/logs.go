package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/collector"
)

type LogsCommand struct {
	cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
}

// NewLogsCommand returns the logs command.
func NewLogsCommand(rootCmd *RootCommand, app *kingpin.Application) *LogsCommand {
	c := &LogsCommand{rootCmd: rootCmd}
	c.cmd = app.Command("logs", "Replays the collected output of a task from the start.")
	c.cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)

	return c
}

func (c LogsCommand) Name() string { return c.cmd.FullCommand() }

func (c LogsCommand) Run(ctx context.Context) error {
	repo, err := newRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	if _, err := repo.GetTask(ctx, c.taskID); err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}

	coll, err := collector.NewCollector(collector.CollectorConfig{
		DataDir: c.rootCmd.DataDir,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create collector: %w", err)
	}

	chunks, err := coll.Stream(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not read task output: %w", err)
	}
	for chunk := range chunks {
		fmt.Fprint(c.rootCmd.Stdout, chunk.Data)
	}

	return nil
}
