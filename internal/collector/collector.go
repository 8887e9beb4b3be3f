package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/slok/agentbox/internal/conventions"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
)

// CollectorConfig is the configuration for the result collector.
type CollectorConfig struct {
	// DataDir is the agentbox data directory holding the durable output logs.
	DataDir string
	// WindowSize bounds the in-memory tail window per task. Defaults to 64
	// chunks.
	WindowSize int
	Logger     log.Logger
}

func (c *CollectorConfig) defaults() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.WindowSize == 0 {
		c.WindowSize = 64
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "collector.Collector"})
	return nil
}

// Collector buffers and persists agent output streams. Every chunk is
// appended to a durable per-task NDJSON log; a bounded in-memory window keeps
// the recent tail for status queries. Readers always replay from the start of
// the durable log and then follow live chunks in emission order, so a reader
// attaching after the run finished sees the complete stream.
type Collector struct {
	dataDir    string
	windowSize int
	logger     log.Logger

	mu      sync.Mutex
	streams map[string]*stream
}

// NewCollector creates a new collector.
func NewCollector(cfg CollectorConfig) (*Collector, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Collector{
		dataDir:    cfg.DataDir,
		windowSize: cfg.WindowSize,
		logger:     cfg.Logger,
		streams:    map[string]*stream{},
	}, nil
}

// stream is the collector-side state of one task's output.
type stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	file   *os.File
	path   string
	count  int64
	closed bool
	window []model.OutputChunk
	bytes  int64
}

func newStream(path string, file *os.File) *stream {
	s := &stream{file: file, path: path}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Open creates the durable log for a task. Must be called before Append.
func (c *Collector) Open(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.streams[taskID]; ok {
		return fmt.Errorf("stream for task %s: %w", taskID, model.ErrAlreadyExists)
	}

	path := conventions.TaskOutputPath(c.dataDir, taskID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("could not create output log: %w", err)
	}

	c.streams[taskID] = newStream(path, file)
	return nil
}

// Append persists one chunk and wakes the followers.
func (c *Collector) Append(taskID string, chunk model.OutputChunk) error {
	c.mu.Lock()
	s, ok := c.streams[taskID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream for task %s: %w", taskID, model.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("stream for task %s is finite: %w", taskID, model.ErrNotValid)
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("could not marshal chunk: %w", err)
	}
	// One chunk per line, written whole under the stream lock.
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("could not persist chunk: %w", err)
	}

	s.count++
	s.bytes += int64(len(chunk.Data))
	s.window = append(s.window, chunk)
	if len(s.window) > c.windowSize {
		s.window = s.window[1:]
	}

	s.cond.Broadcast()
	return nil
}

// CloseStream marks a task's stream finite. Readers finish once they drain
// the durable log. Idempotent.
func (c *Collector) CloseStream(taskID string) error {
	c.mu.Lock()
	s, ok := c.streams[taskID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream for task %s: %w", taskID, model.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("could not close output log: %w", err)
	}

	s.cond.Broadcast()
	return nil
}

// OutputBytes returns the accumulated output length of a task's stream.
func (c *Collector) OutputBytes(taskID string) int64 {
	c.mu.Lock()
	s, ok := c.streams[taskID]
	c.mu.Unlock()
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Tail returns the bounded in-memory tail window of a task's stream.
func (c *Collector) Tail(taskID string) []model.OutputChunk {
	c.mu.Lock()
	s, ok := c.streams[taskID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutputChunk{}, s.window...)
}

// Stream returns a channel that replays the task's chunks from the start of
// the durable log and then follows live chunks. The channel closes when the
// stream is finite and fully drained, or when ctx ends. Multiple simultaneous
// readers are supported; each gets the full sequence in emission order.
func (c *Collector) Stream(ctx context.Context, taskID string) (<-chan model.OutputChunk, error) {
	c.mu.Lock()
	s, ok := c.streams[taskID]
	c.mu.Unlock()

	if !ok {
		// The task may predate this process: replay straight from disk.
		path := conventions.TaskOutputPath(c.dataDir, taskID)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("stream for task %s: %w", taskID, model.ErrNotFound)
		}
		s = newStream(path, nil)
		s.closed = true
	}

	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("could not open output log: %w", err)
	}

	out := make(chan model.OutputChunk)
	done := make(chan struct{})

	// Wake followers blocked waiting for chunks when the reader detaches.
	// The watcher exits with the reader even under a non-cancellable ctx.
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer file.Close()
		c.follow(ctx, s, file, out)
	}()

	return out, nil
}

// follow reads the durable log sequentially, waiting for new chunks while the
// stream is live.
func (c *Collector) follow(ctx context.Context, s *stream, file *os.File, out chan<- model.OutputChunk) {
	reader := bufio.NewReader(file)
	var pending []byte
	var read int64

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			// Whole line available.
			full := append(pending, line...)
			pending = nil

			var chunk model.OutputChunk
			if jsonErr := json.Unmarshal(full, &chunk); jsonErr != nil {
				c.logger.Errorf("corrupt chunk in %s: %v", s.path, jsonErr)
				return
			}
			read++

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			continue
		}

		if err != nil && err != io.EOF {
			c.logger.Errorf("could not read output log %s: %v", s.path, err)
			return
		}

		// Partial line at EOF: keep it and retry once more data lands.
		pending = append(pending, line...)

		s.mu.Lock()
		for read >= s.count && !s.closed {
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			s.cond.Wait()
		}
		done := s.closed && read >= s.count
		s.mu.Unlock()

		if done {
			return
		}
	}
}
