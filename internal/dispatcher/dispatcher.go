// Package dispatcher fans targets out to a bounded pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-scraper/internal/queue/memory"
	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
	"github.com/JakeFAU/company-profile-scraper/internal/worker"
)

// DefaultConcurrency is the pool size used when none is configured.
const DefaultConcurrency = 10

// Config controls the pool.
type Config struct {
	Concurrency int
	Worker      worker.Config
}

// Dispatcher runs one extraction task per target on a bounded pool.
type Dispatcher struct {
	cfg       Config
	sessions  scrape.SessionFactory
	extractor scrape.Extractor
	logger    *zap.Logger
	recorder  worker.Recorder
}

// New creates a Dispatcher.
func New(
	cfg Config,
	sessions scrape.SessionFactory,
	extractor scrape.Extractor,
	logger *zap.Logger,
	recorder worker.Recorder,
) (*Dispatcher, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		sessions:  sessions,
		extractor: extractor,
		logger:    logger,
		recorder:  recorder,
	}, nil
}

// PoolSize returns the number of workers started for n targets.
func (d *Dispatcher) PoolSize(n int) int {
	return min(d.cfg.Concurrency, n)
}

// Run enqueues targets in order and starts the pool. Outcomes arrive in
// completion order; the channel is closed after every worker has exited.
// Cancelling ctx stops workers from taking new targets but lets in-flight
// tasks finish, so the channel must be drained until closed.
func (d *Dispatcher) Run(ctx context.Context, targets []scrape.Target) <-chan scrape.Outcome {
	size := d.PoolSize(len(targets))
	out := make(chan scrape.Outcome, max(size, 1))
	if size == 0 {
		close(out)
		return out
	}

	queue := memory.NewQueue(len(targets))
	for _, target := range targets {
		// Capacity equals len(targets), so this never blocks.
		if err := queue.Enqueue(context.Background(), target); err != nil {
			d.logger.Error("enqueue target failed", zap.String("url", target.URL), zap.Error(err))
		}
	}
	queue.Close()

	logger := d.logger.Named("worker")
	var wg sync.WaitGroup
	for i := range size {
		w := worker.New(i, queue, d.sessions, d.extractor, d.cfg.Worker, logger, d.recorder)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx, out)
		}()
	}
	d.logger.Info("worker pool started", zap.Int("workers", size), zap.Int("targets", len(targets)))

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
