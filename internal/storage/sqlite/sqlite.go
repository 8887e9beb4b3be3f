package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

const taskColumns = `
	id, backend, repo_ref, db_template_ref, instructions, env,
	max_duration_ns, idle_window_ns,
	status, sandbox_id, agent_run_id, failing_resource, warnings,
	cancel_requested, summary, error_message, output_bytes,
	created_at, started_at, finished_at
`

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	warnings, err := json.Marshal(t.Warnings)
	if err != nil {
		return fmt.Errorf("could not marshal warnings: %w", err)
	}
	descEnv, err := json.Marshal(t.Descriptor.Env)
	if err != nil {
		return fmt.Errorf("could not marshal env: %w", err)
	}

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.Descriptor.Backend,
		t.Descriptor.RepoRef,
		t.Descriptor.DBTemplateRef,
		t.Descriptor.Instructions,
		string(descEnv),
		t.Descriptor.MaxDuration.Nanoseconds(),
		t.Descriptor.IdleWindow.Nanoseconds(),
		t.Status,
		t.SandboxID,
		t.AgentRunID,
		t.FailingResource,
		string(warnings),
		t.CancelRequested,
		t.Summary,
		t.ErrorMessage,
		t.OutputBytes,
		t.CreatedAt.Unix(),
		unixOrNil(t.StartedAt),
		unixOrNil(t.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("could not insert task: %w", err)
	}
	return nil
}

// GetTask returns a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks ordered by creation time.
func (r *Repository) ListTasks(ctx context.Context) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask updates an existing task. The cancel_requested column is left
// untouched, it only changes through RequestCancel.
func (r *Repository) UpdateTask(ctx context.Context, t model.Task) error {
	warnings, err := json.Marshal(t.Warnings)
	if err != nil {
		return fmt.Errorf("could not marshal warnings: %w", err)
	}

	query := `
		UPDATE tasks SET
			status = ?, sandbox_id = ?, agent_run_id = ?, failing_resource = ?,
			warnings = ?, summary = ?, error_message = ?, output_bytes = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(
		ctx,
		query,
		t.Status,
		t.SandboxID,
		t.AgentRunID,
		t.FailingResource,
		string(warnings),
		t.Summary,
		t.ErrorMessage,
		t.OutputBytes,
		unixOrNil(t.StartedAt),
		unixOrNil(t.FinishedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrNotFound)
	}
	return nil
}

// RequestCancel marks the task as cancellation requested.
func (r *Repository) RequestCancel(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET cancel_requested = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not request cancel: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// DeleteTask deletes a task.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// PurgeTerminalBefore deletes terminal tasks finished before t.
func (r *Repository) PurgeTerminalBefore(ctx context.Context, t time.Time) (int, error) {
	query := `
		DELETE FROM tasks
		WHERE status IN (?, ?, ?) AND finished_at IS NOT NULL AND finished_at < ?
	`
	res, err := r.db.ExecContext(ctx, query, model.TaskStatusSucceeded, model.TaskStatusFailed, model.TaskStatusCancelled, t.Unix())
	if err != nil {
		return 0, fmt.Errorf("could not purge tasks: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not get affected rows: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var maxDurationNs, idleWindowNs int64
	var warnings, descEnv string
	var createdAt int64
	var startedAt, finishedAt *int64

	err := row.Scan(
		&t.ID,
		&t.Descriptor.Backend,
		&t.Descriptor.RepoRef,
		&t.Descriptor.DBTemplateRef,
		&t.Descriptor.Instructions,
		&descEnv,
		&maxDurationNs,
		&idleWindowNs,
		&t.Status,
		&t.SandboxID,
		&t.AgentRunID,
		&t.FailingResource,
		&warnings,
		&t.CancelRequested,
		&t.Summary,
		&t.ErrorMessage,
		&t.OutputBytes,
		&createdAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Descriptor.MaxDuration = time.Duration(maxDurationNs)
	t.Descriptor.IdleWindow = time.Duration(idleWindowNs)
	if err := json.Unmarshal([]byte(warnings), &t.Warnings); err != nil {
		return nil, fmt.Errorf("could not unmarshal warnings: %w", err)
	}
	if err := json.Unmarshal([]byte(descEnv), &t.Descriptor.Env); err != nil {
		return nil, fmt.Errorf("could not unmarshal env: %w", err)
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.StartedAt = timeOrNil(startedAt)
	t.FinishedAt = timeOrNil(finishedAt)

	return &t, nil
}

func unixOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func timeOrNil(u *int64) *time.Time {
	if u == nil {
		return nil
	}
	t := time.Unix(*u, 0).UTC()
	return &t
}
