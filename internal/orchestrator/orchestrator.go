package orchestrator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/agentbox/internal/collector"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/runner"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/storage"
	"github.com/slok/agentbox/internal/utils/env"
)

// Provisioner prepares and tears down sandbox resources. Implemented by
// provision.Provisioner.
type Provisioner interface {
	Provision(ctx context.Context, task model.Task) (*model.Sandbox, error)
	Teardown(ctx context.Context, sb *model.Sandbox) model.TeardownReport
}

// Publisher publishes a checkout's changes after a successful run.
// Implemented by repofetch fetchers.
type Publisher interface {
	Publish(ctx context.Context, checkout model.RepoCheckout) (*model.PublishResult, error)
}

// Config is the configuration for the orchestrator.
type Config struct {
	Provisioner Provisioner
	Engine      sandbox.Engine
	Runners     runner.Registry
	Collector   *collector.Collector
	Repository  storage.Repository
	// Publisher is required only when PublishOnSuccess is set.
	Publisher Publisher
	Logger    log.Logger

	// MaxConcurrent bounds the number of tasks simultaneously provisioning
	// or running. Defaults to 4.
	MaxConcurrent int
	// DefaultIdleWindow is used when the task descriptor doesn't override it.
	// Defaults to 5 minutes.
	DefaultIdleWindow time.Duration
	// DefaultMaxDuration is used when the task descriptor doesn't override
	// it. Defaults to 30 minutes.
	DefaultMaxDuration time.Duration
	// SandboxImage is the runtime image used for sandbox instances.
	SandboxImage string
	// PublishOnSuccess pushes the checkout's changes upstream after a
	// successful run. Off by default, callers opt in.
	PublishOnSuccess bool
	// RetryProvision retries provisioning as a whole this many times before
	// failing the task. Run errors are never retried.
	RetryProvision int
}

func (c *Config) defaults() error {
	if c.Provisioner == nil {
		return fmt.Errorf("provisioner is required")
	}
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if len(c.Runners) == 0 {
		return fmt.Errorf("at least one runner is required")
	}
	if c.Collector == nil {
		return fmt.Errorf("collector is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.PublishOnSuccess && c.Publisher == nil {
		return fmt.Errorf("publisher is required when publish on success is enabled")
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.DefaultIdleWindow <= 0 {
		c.DefaultIdleWindow = 5 * time.Minute
	}
	if c.DefaultMaxDuration <= 0 {
		c.DefaultMaxDuration = 30 * time.Minute
	}
	if c.SandboxImage == "" {
		c.SandboxImage = "ubuntu:24.04"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "orchestrator.Orchestrator"})
	return nil
}

// Orchestrator owns the per-task state machine and drives provisioning,
// execution and teardown. Concurrency is across tasks: each task's lifecycle
// is advanced by exactly one goroutine, and a semaphore bounds how many tasks
// provision or run at once.
type Orchestrator struct {
	provisioner Provisioner
	engine      sandbox.Engine
	runners     runner.Registry
	collector   *collector.Collector
	repo        storage.Repository
	publisher   Publisher
	logger      log.Logger

	defaultIdleWindow  time.Duration
	defaultMaxDuration time.Duration
	sandboxImage       string
	publishOnSuccess   bool
	retryProvision     int

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	handles map[string]*taskHandle
}

// taskHandle is the live control surface of one in-flight task.
type taskHandle struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	run       runner.Run
}

// markCancelled flips the cancelled flag once and cancels the task context.
// Returns the running agent run (if any) so the caller can cancel it.
func (h *taskHandle) markCancelled() runner.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	h.cancel()
	return h.run
}

func (h *taskHandle) isCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *taskHandle) setRun(r runner.Run) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.run = r
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Orchestrator{
		provisioner:        cfg.Provisioner,
		engine:             cfg.Engine,
		runners:            cfg.Runners,
		collector:          cfg.Collector,
		repo:               cfg.Repository,
		publisher:          cfg.Publisher,
		logger:             cfg.Logger,
		defaultIdleWindow:  cfg.DefaultIdleWindow,
		defaultMaxDuration: cfg.DefaultMaxDuration,
		sandboxImage:       cfg.SandboxImage,
		publishOnSuccess:   cfg.PublishOnSuccess,
		retryProvision:     cfg.RetryProvision,
		sem:                make(chan struct{}, cfg.MaxConcurrent),
		handles:            map[string]*taskHandle{},
	}, nil
}

// Submit validates the descriptor and enqueues a new task. No resource is
// touched before validation passes. Returns the task ID.
func (o *Orchestrator) Submit(ctx context.Context, descriptor model.TaskDescriptor) (string, error) {
	if err := descriptor.Validate(); err != nil {
		return "", fmt.Errorf("invalid descriptor: %w", err)
	}
	// The backend is immutable after submission, reject unknown ones now.
	if _, err := o.runners.Get(descriptor.Backend); err != nil {
		return "", fmt.Errorf("invalid descriptor: %w", err)
	}

	task := model.Task{
		ID:         ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		Descriptor: descriptor,
		Status:     model.TaskStatusSubmitted,
		CreatedAt:  time.Now().UTC(),
	}

	if err := o.repo.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("could not save task: %w", err)
	}
	if err := o.collector.Open(task.ID); err != nil {
		return "", fmt.Errorf("could not open output stream: %w", err)
	}

	taskCtx, taskCancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &taskHandle{cancel: taskCancel}

	o.mu.Lock()
	o.handles[task.ID] = handle
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer taskCancel()
		o.drive(taskCtx, task, handle)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.watchCancelRequests(taskCtx, task.ID, handle)
	}()

	o.logger.Infof("task %s submitted (backend=%s)", task.ID, descriptor.Backend)

	return task.ID, nil
}

// Status returns a snapshot of a task.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*model.Task, error) {
	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	if !task.Status.IsTerminal() {
		task.OutputBytes = o.collector.OutputBytes(taskID)
	}
	return task, nil
}

// List returns all tasks.
func (o *Orchestrator) List(ctx context.Context) ([]model.Task, error) {
	return o.repo.ListTasks(ctx)
}

// Cancel requests cooperative cancellation of a task. Unknown tasks return
// model.ErrNotFound; cancelling an already terminal task is an idempotent
// acknowledgment with no side effects. A cancel during Running always cancels
// the agent run before teardown begins; once Finalizing has started the
// request is a no-op, teardown is already proceeding.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}
	if task.Status.IsTerminal() || task.Status == model.TaskStatusFinalizing {
		return nil
	}

	// Persist the request so the instance driving the task picks it up even
	// when that instance is another process.
	if err := o.repo.RequestCancel(ctx, taskID); err != nil {
		return fmt.Errorf("could not persist cancel request: %w", err)
	}

	o.mu.Lock()
	handle, ok := o.handles[taskID]
	o.mu.Unlock()
	if !ok {
		// Task is non-terminal but not driven by this instance, the driving
		// process observes the persisted request.
		return nil
	}

	run := handle.markCancelled()
	if run != nil {
		if err := run.Cancel(ctx); err != nil {
			o.logger.Warningf("could not cancel agent run of task %s: %v", taskID, err)
		}
	}

	o.logger.Infof("task %s cancellation requested", taskID)

	return nil
}

// Stream returns the task's output chunk sequence, replayed from the start of
// the durable log.
func (o *Orchestrator) Stream(ctx context.Context, taskID string) (<-chan model.OutputChunk, error) {
	if _, err := o.repo.GetTask(ctx, taskID); err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	return o.collector.Stream(ctx, taskID)
}

// Wait blocks until the task reaches a terminal state and returns it.
func (o *Orchestrator) Wait(ctx context.Context, taskID string) (*model.Task, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		task, err := o.repo.GetTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("could not get task: %w", err)
		}
		if task.Status.IsTerminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown waits for all in-flight tasks to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// watchCancelRequests polls the repository for a persisted cancel request on
// a live task and applies it. This is how a cancel issued by another process
// reaches the goroutine driving the task.
func (o *Orchestrator) watchCancelRequests(ctx context.Context, taskID string, handle *taskHandle) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		task, err := o.repo.GetTask(ctx, taskID)
		if err != nil {
			continue
		}
		if !task.CancelRequested || handle.isCancelled() {
			continue
		}

		// markCancelled cancels the task context, detach before signalling
		// the run.
		run := handle.markCancelled()
		if run != nil {
			if err := run.Cancel(context.WithoutCancel(ctx)); err != nil {
				o.logger.Warningf("could not cancel agent run of task %s: %v", taskID, err)
			}
		}
		o.logger.Infof("task %s cancellation request observed", taskID)
		return
	}
}

// drive advances one task through its whole lifecycle. It is the single
// logical owner of the task's state machine.
func (o *Orchestrator) drive(ctx context.Context, task model.Task, handle *taskHandle) {
	logger := o.logger.WithValues(log.Kv{"task": task.ID})

	defer func() {
		o.mu.Lock()
		delete(o.handles, task.ID)
		o.mu.Unlock()
	}()

	// Global concurrency limit: tasks beyond it stay in Submitted.
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		o.finalize(&task, model.TaskStatusCancelled, logger)
		return
	}
	defer func() { <-o.sem }()

	// Submitted -> Provisioning.
	if handle.isCancelled() {
		o.finalize(&task, model.TaskStatusCancelled, logger)
		return
	}
	o.transition(&task, model.TaskStatusProvisioning, logger)

	sb, err := o.provisionWithRetry(ctx, task, logger)
	if err != nil {
		var provErr *model.ProvisionError
		if errors.As(err, &provErr) {
			task.FailingResource = provErr.Resource
			for kind, rbErr := range provErr.RollbackErrs {
				task.Warnings = append(task.Warnings, fmt.Sprintf("rollback: could not release %s: %v", kind, rbErr))
			}
		}
		task.ErrorMessage = err.Error()

		final := model.TaskStatusFailed
		if handle.isCancelled() {
			final = model.TaskStatusCancelled
			task.ErrorMessage = ""
		}
		o.finalize(&task, final, logger)
		return
	}
	task.SandboxID = sb.ID

	// The isolation primitive instance hosts the agent with the checkout
	// mounted as its workspace.
	runtimeID, err := o.engine.Create(ctx, sandbox.Spec{
		SandboxID: sb.ID,
		Image:     o.sandboxImage,
		Mounts: map[string]string{
			sb.RepoCheckout.Path:   "/workspace",
			sb.DBClone.Path:        "/workspace/.agentbox/clone.db",
			sb.Credential.CertPath: "/workspace/.agentbox/client.crt",
			sb.Credential.KeyPath:  "/workspace/.agentbox/client.key",
		},
	})
	if err != nil {
		logger.Errorf("could not create sandbox instance: %v", err)
		task.ErrorMessage = fmt.Sprintf("could not create sandbox instance: %v", err)
		report := o.provisioner.Teardown(ctx, sb)
		task.Warnings = append(task.Warnings, report.Warnings()...)

		final := model.TaskStatusFailed
		if handle.isCancelled() {
			final = model.TaskStatusCancelled
			task.ErrorMessage = ""
		}
		o.finalize(&task, final, logger)
		return
	}
	sb.RuntimeID = runtimeID

	// Provisioning -> Running.
	if handle.isCancelled() {
		o.teardownAll(ctx, &task, sb, logger)
		o.finalize(&task, model.TaskStatusCancelled, logger)
		return
	}

	now := time.Now().UTC()
	task.StartedAt = &now
	o.transition(&task, model.TaskStatusRunning, logger)

	outcome := o.execute(ctx, &task, sb, handle, logger)

	// Running -> Finalizing. Entered on any terminal run outcome or on
	// cancellation; the stream becomes finite here.
	o.transition(&task, model.TaskStatusFinalizing, logger)
	if err := o.collector.CloseStream(task.ID); err != nil {
		logger.Warningf("could not close output stream: %v", err)
	}

	if outcome != nil && outcome.Kind == model.OutcomeSuccess && o.publishOnSuccess && !handle.isCancelled() {
		if _, err := o.publisher.Publish(ctx, *sb.RepoCheckout); err != nil {
			task.Warnings = append(task.Warnings, fmt.Sprintf("publish: %v", err))
		}
	}

	o.teardownAll(ctx, &task, sb, logger)

	final := model.TaskStatusFailed
	switch {
	case handle.isCancelled():
		final = model.TaskStatusCancelled
	case outcome == nil:
		// Run never resolved (runner error), already recorded on the task.
	case outcome.Kind == model.OutcomeSuccess:
		final = model.TaskStatusSucceeded
		task.Summary = outcome.Summary
	default:
		task.ErrorMessage = outcome.Reason
	}

	o.finalize(&task, final, logger)
}

// provisionWithRetry runs provisioning, retrying the whole operation when
// configured. Retries stop as soon as cancellation is requested.
func (o *Orchestrator) provisionWithRetry(ctx context.Context, task model.Task, logger log.Logger) (*model.Sandbox, error) {
	var lastErr error
	for attempt := 0; attempt <= o.retryProvision; attempt++ {
		if ctx.Err() != nil && lastErr != nil {
			return nil, lastErr
		}

		sb, err := o.provisioner.Provision(ctx, task)
		if err == nil {
			return sb, nil
		}
		lastErr = err
		logger.Warningf("provision attempt %d failed: %v", attempt+1, err)
	}
	return nil, lastErr
}

// execute starts the agent run and pumps its output into the collector until
// the run resolves. Returns nil when the run could not start or resolve.
func (o *Orchestrator) execute(ctx context.Context, task *model.Task, sb *model.Sandbox, handle *taskHandle, logger log.Logger) *model.Outcome {
	backendRunner, err := o.runners.Get(task.Descriptor.Backend)
	if err != nil {
		// Unreachable in practice, the backend was validated at submission.
		task.ErrorMessage = err.Error()
		return nil
	}

	idleWindow := task.Descriptor.IdleWindow
	if idleWindow == 0 {
		idleWindow = o.defaultIdleWindow
	}
	maxDuration := task.Descriptor.MaxDuration
	if maxDuration == 0 {
		maxDuration = o.defaultMaxDuration
	}

	runID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	task.AgentRunID = runID

	run, err := backendRunner.Start(ctx, o.engine, runner.StartInput{
		RunID:        runID,
		TaskID:       task.ID,
		RuntimeID:    sb.RuntimeID,
		WorkDir:      "/workspace",
		Instructions: task.Descriptor.Instructions,
		IdleWindow:   idleWindow,
		MaxDuration:  maxDuration,
		Env: env.MergeMaps(map[string]string{
			"AGENTBOX_DB":   "/workspace/.agentbox/clone.db",
			"AGENTBOX_CERT": "/workspace/.agentbox/client.crt",
			"AGENTBOX_KEY":  "/workspace/.agentbox/client.key",
		}, task.Descriptor.Env),
	})
	if err != nil {
		task.ErrorMessage = fmt.Sprintf("could not start agent: %v", err)
		return nil
	}
	handle.setRun(run)

	// A cancel may have landed between the check in Cancel and setRun.
	if handle.isCancelled() {
		if err := run.Cancel(ctx); err != nil {
			logger.Warningf("could not cancel agent run: %v", err)
		}
	}

	// Pump chunks into the collector. Delivery order is preserved, and the
	// collector is where back-pressure lives.
	for chunk := range run.Output() {
		if err := o.collector.Append(task.ID, chunk); err != nil {
			logger.Errorf("could not collect output chunk: %v", err)
		}
	}

	outcome, err := run.Wait(context.WithoutCancel(ctx))
	if err != nil {
		task.ErrorMessage = fmt.Sprintf("agent run failed: %v", err)
		return nil
	}
	return &outcome
}

// teardownAll removes the sandbox instance and releases the three resources.
// Failures become task warnings, they never change the run's classification.
func (o *Orchestrator) teardownAll(ctx context.Context, task *model.Task, sb *model.Sandbox, logger log.Logger) {
	ctx = context.WithoutCancel(ctx)

	if sb.RuntimeID != "" {
		if err := o.engine.Remove(ctx, sb.RuntimeID); err != nil {
			task.Warnings = append(task.Warnings, fmt.Sprintf("teardown: could not remove sandbox instance: %v", err))
		}
	}

	report := o.provisioner.Teardown(ctx, sb)
	task.Warnings = append(task.Warnings, report.Warnings()...)
}

// transition moves the task to the next state and persists it.
func (o *Orchestrator) transition(task *model.Task, next model.TaskStatus, logger log.Logger) {
	if !task.Status.CanTransition(next) {
		// State machine bug, make it loud.
		logger.Errorf("invalid transition %s -> %s", task.Status, next)
		return
	}

	task.Status = next
	if err := o.repo.UpdateTask(context.Background(), *task); err != nil {
		logger.Errorf("could not persist task transition to %s: %v", next, err)
	}
	logger.Debugf("task moved to %s", next)
}

// finalize moves the task to a terminal state. Terminal states are immutable
// once persisted.
func (o *Orchestrator) finalize(task *model.Task, final model.TaskStatus, logger log.Logger) {
	// Ensure the stream is finite even on paths that never reached Running.
	if err := o.collector.CloseStream(task.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		logger.Debugf("could not close output stream: %v", err)
	}

	now := time.Now().UTC()
	task.FinishedAt = &now
	task.OutputBytes = o.collector.OutputBytes(task.ID)
	task.Status = final

	if err := o.repo.UpdateTask(context.Background(), *task); err != nil {
		logger.Errorf("could not persist terminal state %s: %v", final, err)
	}

	logger.Infof("task finished: %s", final)
}
