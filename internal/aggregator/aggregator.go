// Package aggregator collects records from concurrent workers and writes
// full snapshots of them on demand.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// DefaultRetryDelay separates the two attempts of a snapshot write.
const DefaultRetryDelay = 500 * time.Millisecond

// Snapshot is an immutable copy of the run state handed to writers.
type Snapshot struct {
	// Path is the destination the snapshot is written to.
	Path    string
	Records []scrape.Record
	// Final marks the end-of-run snapshot.
	Final bool
	// Seq increases by one for every snapshot taken in a run.
	Seq     int
	TakenAt time.Time
}

// SnapshotWriter persists a snapshot. Writers must replace, not append to,
// any previous snapshot at the same destination.
type SnapshotWriter interface {
	Name() string
	WriteSnapshot(ctx context.Context, snap Snapshot) error
}

// Clock supplies snapshot timestamps.
type Clock interface {
	Now() time.Time
}

// Recorder observes snapshot writes.
type Recorder interface {
	ObserveSnapshot(final bool, records int, err error)
}

// Config tunes an Aggregator.
type Config struct {
	RetryDelay time.Duration
	Clock      Clock
	Logger     *zap.Logger
	Recorder   Recorder
}

// Aggregator owns the run state: the arrival-ordered records and the count
// of completed tasks. All access goes through one mutex.
type Aggregator struct {
	cfg     Config
	writers []SnapshotWriter

	mu        sync.Mutex
	records   []scrape.Record
	completed int
	seq       int
}

// New builds an Aggregator writing snapshots through writers in order.
func New(cfg Config, writers ...SnapshotWriter) *Aggregator {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = utcClock{}
	}
	return &Aggregator{cfg: cfg, writers: writers}
}

// Submit appends rec and returns the new completed count.
func (a *Aggregator) Submit(rec scrape.Record) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	a.completed++
	return a.completed
}

// Len returns the number of records held.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Completed returns the number of submitted records.
func (a *Aggregator) Completed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// Records returns a copy of the records in arrival order.
func (a *Aggregator) Records() []scrape.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneRecords(a.records)
}

// Checkpoint writes every record accepted so far to path. The state is
// copied under the lock and written outside it, so Submit never waits on
// I/O. Each writer gets two attempts; any writer still failing fails the
// checkpoint.
func (a *Aggregator) Checkpoint(ctx context.Context, path string, final bool) (Snapshot, error) {
	snap := a.snapshot(path, final)
	logger := a.cfg.Logger.With(
		zap.String("path", path),
		zap.Int("records", len(snap.Records)),
		zap.Int("seq", snap.Seq),
		zap.Bool("final", final),
	)

	var errs []error
	for _, w := range a.writers {
		if err := a.write(ctx, w, snap, logger); err != nil {
			errs = append(errs, fmt.Errorf("%s snapshot: %w", w.Name(), err))
		}
	}
	err := errors.Join(errs...)
	if a.cfg.Recorder != nil {
		a.cfg.Recorder.ObserveSnapshot(final, len(snap.Records), err)
	}
	if err != nil {
		logger.Error("checkpoint write failed", zap.Error(err))
		return snap, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	logger.Info("checkpoint written")
	return snap, nil
}

func (a *Aggregator) snapshot(path string, final bool) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return Snapshot{
		Path:    path,
		Records: cloneRecords(a.records),
		Final:   final,
		Seq:     a.seq,
		TakenAt: a.cfg.Clock.Now(),
	}
}

func (a *Aggregator) write(ctx context.Context, w SnapshotWriter, snap Snapshot, logger *zap.Logger) error {
	attempt := 0
	op := func() error {
		attempt++
		return w.WriteSnapshot(ctx, snap)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(a.cfg.RetryDelay), 1), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn("snapshot write failed, retrying",
			zap.String("writer", w.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return err
	}
	return nil
}

func cloneRecords(in []scrape.Record) []scrape.Record {
	out := make([]scrape.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
