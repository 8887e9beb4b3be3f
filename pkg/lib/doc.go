// Package lib provides a Go SDK for running agentbox tasks programmatically.
//
// This package allows applications to submit coding-agent tasks, follow their
// output and manage their lifecycle without shelling out to the agentbox CLI
// binary. It is useful for scripting, automation, and building tools on top
// of agentbox.
//
// # Quick Start
//
// Create a client, submit a task and wait for it:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	taskID, err := client.SubmitTask(ctx, lib.TaskSpec{
//	    Backend:      lib.BackendClaude,
//	    Repo:         "/srv/repos/orders.git",
//	    DBTemplate:   "orders.db",
//	    Instructions: "fix the failing order total test",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	task, err := client.WaitTask(ctx, taskID)
//
// # Engines
//
// The SDK supports two sandbox engine types:
//
//   - [EngineDocker]: Real Docker containers. Requires a reachable Docker
//     daemon.
//   - [EngineFake]: In-memory fake engine for unit testing. No real
//     infrastructure needed. Set [Config].Engine to [EngineFake] to use it.
//
// # Streaming Output
//
// Every task's output is durably logged; readers always replay the full
// sequence from the start and then follow live output:
//
//	chunks, _ := client.StreamOutput(ctx, taskID)
//	for chunk := range chunks {
//	    fmt.Print(chunk.Data)
//	}
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Task or resource does not exist.
//   - [ErrAlreadyExists]: Resource with the same identity already exists.
//   - [ErrNotValid]: Invalid input (e.g. a malformed task spec).
//
// # Testing
//
// Use [EngineFake] and a temporary data directory to write tests without
// real infrastructure:
//
//	client, _ := lib.New(ctx, lib.Config{
//	    DataDir: t.TempDir(),
//	    Engine:  lib.EngineFake,
//	})
//	defer client.Close()
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines. The
// underlying storage uses SQLite with WAL mode.
package lib
