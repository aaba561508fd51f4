// Package worker runs extraction tasks pulled from the target queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-scraper/internal/logging"
	"github.com/JakeFAU/company-profile-scraper/internal/queue/memory"
	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// Queue is the source of targets for a worker.
type Queue interface {
	Dequeue(ctx context.Context) (scrape.Target, error)
}

// Recorder observes task lifecycles.
type Recorder interface {
	TaskStarted()
	TaskFinished(kind scrape.ErrorKind, d time.Duration)
}

// Config controls Worker behavior.
type Config struct {
	// Delay is waited before each dequeue.
	Delay time.Duration
	// TaskTimeout bounds one task from session start to the end of
	// extraction. Zero means unbounded.
	TaskTimeout time.Duration
}

// Worker consumes targets and emits one outcome per target.
type Worker struct {
	id        int
	queue     Queue
	sessions  scrape.SessionFactory
	extractor scrape.Extractor
	cfg       Config
	logger    *zap.Logger
	recorder  Recorder
}

// New constructs a Worker. A nil logger disables logging; a nil recorder
// disables metrics.
func New(
	id int,
	queue Queue,
	sessions scrape.SessionFactory,
	extractor scrape.Extractor,
	cfg Config,
	logger *zap.Logger,
	recorder Recorder,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		sessions:  sessions,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", id)),
		recorder:  recorder,
	}
}

// ID returns the worker index.
func (w *Worker) ID() int {
	return w.id
}

// Run dequeues until the queue is drained or ctx ends, sending every outcome
// to out. A task already dequeued always produces an outcome.
func (w *Worker) Run(ctx context.Context, out chan<- scrape.Outcome) {
	for {
		if !w.pause(ctx) {
			return
		}
		target, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && !isClosed(err) {
				w.logger.Error("queue dequeue failed", zap.Error(err))
			}
			return
		}
		out <- w.Process(ctx, target)
	}
}

func (w *Worker) pause(ctx context.Context) bool {
	if w.cfg.Delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(w.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Process runs one target to completion. The task context is detached from
// runCtx so cancelling the run never interrupts a task mid-flight; only the
// task timeout does. Panics become failure outcomes.
func (w *Worker) Process(runCtx context.Context, target scrape.Target) (outcome scrape.Outcome) {
	start := time.Now()
	logger := w.logger.With(zap.String("url", target.URL))
	w.started()
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("task panicked", zap.Any("panic", r))
			outcome = scrape.Failed(target, fmt.Errorf("scrape %s: %w: %v", target.ID(), scrape.ErrPanic, r))
		}
		outcome.Worker = w.id
		outcome.Duration = time.Since(start)
		w.finished(scrape.Classify(outcome.Err), outcome.Duration)
	}()

	taskCtx, cancel := w.taskContext(runCtx)
	defer cancel()
	taskCtx = logging.WithContext(taskCtx, logger)

	logger.Debug("task started")
	session, err := w.sessions.NewSession(taskCtx)
	if err != nil {
		if !errors.Is(err, scrape.ErrSession) {
			err = fmt.Errorf("%w: %w", scrape.ErrSession, err)
		}
		return scrape.Failed(target, fmt.Errorf("scrape %s: open session: %w", target.ID(), err))
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn("session close failed", zap.Error(closeErr))
		}
	}()

	rec, err := w.extractor.Extract(taskCtx, target, session)
	if err != nil {
		return scrape.Failed(target, err)
	}
	logger.Debug("task finished", zap.Duration("duration", time.Since(start)))
	return scrape.Succeeded(target, rec)
}

func (w *Worker) taskContext(runCtx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(runCtx)
	if w.cfg.TaskTimeout > 0 {
		return context.WithTimeout(detached, w.cfg.TaskTimeout)
	}
	return context.WithCancel(detached)
}

func (w *Worker) started() {
	if w.recorder != nil {
		w.recorder.TaskStarted()
	}
}

func (w *Worker) finished(kind scrape.ErrorKind, d time.Duration) {
	if w.recorder != nil {
		w.recorder.TaskFinished(kind, d)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, memory.ErrClosed)
}
