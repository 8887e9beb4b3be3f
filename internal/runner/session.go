package runner

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// OutputParser converts one raw output line from an agent CLI into chunk text
// and captures the final result summary. Implementations are per backend and
// are the only thing (besides argv) that differs between runner variants.
type OutputParser interface {
	// ParseLine returns the chunk text for a raw line and whether the line
	// should be emitted to readers at all.
	ParseLine(line string) (text string, emit bool)
	// Summary returns the agent's final result text, once known.
	Summary() string
}

// run drives one agent CLI session inside a sandbox: it delivers the
// instructions once on stdin, reads output continuously, enforces the idle
// window and wall-clock deadline, and resolves a single terminal outcome.
type run struct {
	session sandbox.Session
	parser  OutputParser
	logger  log.Logger

	taskID string

	out  chan model.OutputChunk
	done chan struct{}

	mu           sync.Mutex
	lastActivity time.Time
	seq          int64
	timedOut     bool
	timeoutCause string
	cancelled    bool
	outcome      model.Outcome
	waitErr      error
}

// NewRun launches the command in the sandbox and begins streaming. Shared by
// all backend variants, which differ only in argv and parser.
func NewRun(ctx context.Context, engine sandbox.Engine, in StartInput, command []string, parser OutputParser, logger log.Logger) (Run, error) {
	if in.IdleWindow <= 0 {
		return nil, fmt.Errorf("idle window is required: %w", model.ErrNotValid)
	}
	if in.MaxDuration <= 0 {
		return nil, fmt.Errorf("max duration is required: %w", model.ErrNotValid)
	}

	session, err := engine.ExecStream(ctx, in.RuntimeID, sandbox.ExecSpec{
		Command:    command,
		WorkingDir: in.WorkDir,
		Env:        in.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("could not start agent process: %w", err)
	}

	r := &run{
		session:      session,
		parser:       parser,
		logger:       logger.WithValues(log.Kv{"task": in.TaskID, "run": in.RunID}),
		taskID:       in.TaskID,
		out:          make(chan model.OutputChunk),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}

	// Instructions are delivered once, then stdin is closed so end of input
	// is unambiguous to the tool.
	go func() {
		stdin := session.Stdin()
		if _, err := stdin.Write([]byte(in.Instructions + "\n")); err != nil {
			r.logger.Warningf("could not write instructions: %v", err)
		}
		_ = stdin.Close()
	}()

	go r.readLoop()

	// Watchdog for idle window and wall-clock deadline.
	watchCtx, watchCancel := context.WithCancel(context.WithoutCancel(ctx))
	go r.watchdog(watchCtx, in.IdleWindow, in.MaxDuration)

	go func() {
		r.resolve(context.WithoutCancel(ctx))
		watchCancel()
	}()

	return r, nil
}

// readLoop scans stdout line by line, tracks activity and pushes parsed
// chunks. It closes the output channel when the stream ends.
func (r *run) readLoop() {
	defer close(r.out)

	scanner := bufio.NewScanner(r.session.Stdout())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		r.mu.Lock()
		r.lastActivity = time.Now()
		seq := r.seq
		r.mu.Unlock()

		text, emit := r.parser.ParseLine(line)
		if !emit {
			continue
		}

		r.mu.Lock()
		r.seq++
		r.mu.Unlock()

		// Blocking send: chunks are never buffered here, back-pressure
		// belongs to the collector.
		r.out <- model.OutputChunk{
			TaskID: r.taskID,
			Seq:    seq,
			Data:   text,
			At:     time.Now(),
		}
	}
}

// watchdog cancels the run when the idle window or the wall-clock deadline
// expires.
func (r *run) watchdog(ctx context.Context, idleWindow, maxDuration time.Duration) {
	deadline := time.NewTimer(maxDuration)
	defer deadline.Stop()

	// Tiny idle windows would otherwise yield a non-positive ticker interval.
	tick := idleWindow / 4
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			r.timeout(ctx, fmt.Sprintf("wall-clock deadline %s exceeded", maxDuration))
			return
		case <-ticker.C:
			r.mu.Lock()
			idle := time.Since(r.lastActivity)
			r.mu.Unlock()
			if idle >= idleWindow {
				r.timeout(ctx, fmt.Sprintf("no output for %s (idle window %s)", idle.Round(time.Second), idleWindow))
				return
			}
		}
	}
}

// timeout marks the run as timed out and signals the process.
func (r *run) timeout(ctx context.Context, cause string) {
	r.mu.Lock()
	r.timedOut = true
	r.timeoutCause = cause
	r.mu.Unlock()

	r.logger.Warningf("agent run timed out: %s", cause)
	if err := r.session.Signal(ctx); err != nil {
		r.logger.Warningf("could not signal agent process: %v", err)
	}
}

// resolve waits for process exit and fixes the terminal outcome.
func (r *run) resolve(ctx context.Context) {
	defer close(r.done)

	exitCode, err := r.session.Wait(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case err != nil:
		r.waitErr = err
	case r.timedOut:
		r.outcome = model.Outcome{Kind: model.OutcomeTimedOut, ExitCode: exitCode, Reason: r.timeoutCause}
	case r.cancelled:
		r.outcome = model.Outcome{Kind: model.OutcomeFailure, ExitCode: exitCode, Reason: "cancelled"}
	case exitCode == 0:
		r.outcome = model.Outcome{Kind: model.OutcomeSuccess, Summary: r.parser.Summary()}
	default:
		r.outcome = model.Outcome{Kind: model.OutcomeFailure, ExitCode: exitCode, Reason: fmt.Sprintf("agent exited with code %d", exitCode)}
	}
}

func (r *run) Output() <-chan model.OutputChunk { return r.out }

func (r *run) Wait(ctx context.Context) (model.Outcome, error) {
	select {
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	case <-r.done:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waitErr != nil {
		return model.Outcome{}, fmt.Errorf("agent run failed: %w", r.waitErr)
	}
	return r.outcome, nil
}

func (r *run) Cancel(ctx context.Context) error {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()

	if err := r.session.Signal(ctx); err != nil {
		return fmt.Errorf("could not signal agent process: %w", err)
	}
	return nil
}
