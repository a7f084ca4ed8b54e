package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/ppe-safety-monitor/internal/capture"
	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
	"github.com/dj-oyu/ppe-safety-monitor/internal/metrics"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("detection already running")
	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("detection not running")
)

// State is the lifecycle state of the latest run.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// RunStatus describes the current or most recent run.
type RunStatus struct {
	State      State     `json:"state"`
	RunID      string    `json:"run_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Frames     uint64    `json:"frames"`
	Violations int       `json:"violations"`
	Err        string    `json:"error,omitempty"`
}

// Running reports whether a run is in progress.
func (s RunStatus) Running() bool {
	return s.State == StateRunning
}

// Controller starts and stops detection runs, one at a time.
type Controller struct {
	runner  *Runner
	open    capture.OpenFunc
	metrics *metrics.Metrics

	mu     sync.Mutex
	status RunStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a controller that opens sources with open and
// processes them with runner. m may be nil.
func NewController(runner *Runner, open capture.OpenFunc, m *metrics.Metrics) *Controller {
	if m == nil {
		m = runner.metrics
	}
	return &Controller{
		runner:  runner,
		open:    open,
		metrics: m,
		status:  RunStatus{State: StateIdle},
	}
}

// Start opens the source described by spec and processes it in the
// background. ctx bounds the lifetime of the run.
func (c *Controller) Start(ctx context.Context, spec capture.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.State == StateRunning {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	src, err := c.open(runCtx, spec)
	if err != nil {
		cancel()
		c.status = RunStatus{
			State:      StateFailed,
			Source:     spec.Describe(),
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
			Err:        err.Error(),
		}
		return fmt.Errorf("open %s: %w", spec.Describe(), err)
	}

	c.status = RunStatus{
		State:     StateRunning,
		RunID:     uuid.NewString(),
		Source:    spec.Describe(),
		StartedAt: time.Now(),
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	c.metrics.RunsStarted.Add(1)
	metrics.SetFlag(&c.metrics.RunActive, true)

	logger.Info("Pipeline", "Run %s started on %s", c.status.RunID, c.status.Source)
	go c.run(runCtx, cancel, src, c.status.RunID, c.done)
	return nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, src capture.Source, runID string, done chan struct{}) {
	defer close(done)
	defer cancel()

	progress := ObserverFunc(func(rep FrameReport) {
		c.mu.Lock()
		c.status.Frames = rep.Number
		c.status.Violations += len(rep.Violations)
		c.mu.Unlock()
	})

	err := c.runner.Run(ctx, src, progress)
	if cerr := src.Close(); cerr != nil {
		logger.Warn("Pipeline", "Closing source of run %s: %v", runID, cerr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.FinishedAt = time.Now()
	switch {
	case err == nil:
		c.status.State = StateFinished
		logger.Info("Pipeline", "Run %s finished after %d frames", runID, c.status.Frames)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.status.State = StateStopped
		logger.Info("Pipeline", "Run %s stopped after %d frames", runID, c.status.Frames)
	default:
		c.status.State = StateFailed
		c.status.Err = err.Error()
		logger.Error("Pipeline", "Run %s failed: %v", runID, err)
	}
	c.cancel = nil
	metrics.SetFlag(&c.metrics.RunActive, false)
}

// Stop cancels the current run and waits for it to wind down.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.status.State != StateRunning || c.cancel == nil {
		c.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Wait blocks until the current run, if any, has ended.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the current or most recent run.
func (c *Controller) Status() RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
