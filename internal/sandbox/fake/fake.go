package fake

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// SessionScript drives a fake exec session. It receives the started command
// and a controller to read stdin, emit output and set the exit code. It runs
// on its own goroutine.
type SessionScript func(ctx context.Context, command []string, sc *SessionController)

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	// Script drives every exec session. When nil, sessions drain stdin, emit
	// a single "ok" line and exit 0.
	Script SessionScript
	// CreateErr, when set, makes Create fail.
	CreateErr error
	Logger    log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Script == nil {
		c.Script = func(ctx context.Context, command []string, sc *SessionController) {
			_, _ = io.Copy(io.Discard, sc.Stdin())
			sc.Emit("ok\n")
			sc.Exit(0)
		}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Fake"})
	return nil
}

// Engine is a fake implementation of the sandbox.Engine interface. It
// simulates instance lifecycle without any real isolation primitive.
type Engine struct {
	script    SessionScript
	createErr error
	logger    log.Logger

	mu        sync.Mutex
	instances map[string]bool
	removed   []string
	sessions  []*Session
}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		script:    cfg.Script,
		createErr: cfg.CreateErr,
		logger:    cfg.Logger,
		instances: map[string]bool{},
	}, nil
}

// Check always passes.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	return []model.CheckResult{{ID: "fake_engine", Message: "fake engine ready", Status: model.CheckStatusOK}}
}

// Create registers a fake instance.
func (e *Engine) Create(ctx context.Context, spec sandbox.Spec) (string, error) {
	if e.createErr != nil {
		return "", e.createErr
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	runtimeID := "fake-" + spec.SandboxID
	e.instances[runtimeID] = true
	e.logger.Debugf("created fake instance %s", runtimeID)
	return runtimeID, nil
}

// ExecStream starts a scripted session.
func (e *Engine) ExecStream(ctx context.Context, runtimeID string, spec sandbox.ExecSpec) (sandbox.Session, error) {
	e.mu.Lock()
	if !e.instances[runtimeID] {
		e.mu.Unlock()
		return nil, fmt.Errorf("instance %s: %w", runtimeID, model.ErrNotFound)
	}

	s := newSession()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()

	go e.script(ctx, spec.Command, s.controller)

	return s, nil
}

// Remove unregisters an instance. Idempotent.
func (e *Engine) Remove(ctx context.Context, runtimeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.instances, runtimeID)
	e.removed = append(e.removed, runtimeID)
	return nil
}

// Removed returns the runtime IDs passed to Remove, in call order.
func (e *Engine) Removed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.removed...)
}

// Sessions returns the sessions started so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session{}, e.sessions...)
}

// Session is a fake sandbox.Session driven by a SessionScript.
type Session struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	controller *SessionController

	mu        sync.Mutex
	exitCode  int
	exited    bool
	done      chan struct{}
	signalled chan struct{}
	sigOnce   sync.Once
}

func newSession() *Session {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	s := &Session{
		stdinR:    stdinR,
		stdinW:    stdinW,
		stdoutR:   stdoutR,
		stdoutW:   stdoutW,
		done:      make(chan struct{}),
		signalled: make(chan struct{}),
	}
	s.controller = &SessionController{s: s}
	return s
}

// Stdin returns the write side handed to the session's starter.
func (s *Session) Stdin() io.WriteCloser { return s.stdinW }

// Stdout returns the read side of the session output.
func (s *Session) Stdout() io.Reader { return s.stdoutR }

// Wait blocks until the script calls Exit (or the context ends).
func (s *Session) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, nil
}

// Signal marks the session as signalled. Scripts observing
// SessionController.Signalled should exit; unobservant scripts are force
// exited with code 137.
func (s *Session) Signal(ctx context.Context) error {
	s.sigOnce.Do(func() {
		close(s.signalled)
		s.controller.Exit(137)
	})
	return nil
}

// WasSignalled returns true once Signal has been called.
func (s *Session) WasSignalled() bool {
	select {
	case <-s.signalled:
		return true
	default:
		return false
	}
}

// SessionController is the script-facing side of a fake session.
type SessionController struct {
	s *Session
}

// Stdin is the input written by the session's starter.
func (c *SessionController) Stdin() io.Reader { return c.s.stdinR }

// Emit writes raw output to the session's stdout.
func (c *SessionController) Emit(data string) {
	_, _ = c.s.stdoutW.Write([]byte(data))
}

// Exit finishes the session with the given exit code. Idempotent, the first
// call wins.
func (c *SessionController) Exit(code int) {
	c.s.mu.Lock()
	if c.s.exited {
		c.s.mu.Unlock()
		return
	}
	c.s.exited = true
	c.s.exitCode = code
	c.s.mu.Unlock()

	c.s.stdoutW.Close()
	c.s.stdinR.Close()
	close(c.s.done)
}

// Signalled is closed when the session receives a termination signal.
func (c *SessionController) Signalled() <-chan struct{} { return c.s.signalled }
