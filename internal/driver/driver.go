// Package driver runs one scrape job end to end: it feeds targets to the
// worker pool, routes outcomes, paces checkpoints and writes the final
// snapshot.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-scraper/internal/aggregator"
	"github.com/JakeFAU/company-profile-scraper/internal/progress"
	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// DefaultCheckpointEvery is the number of successes between checkpoints.
const DefaultCheckpointEvery = 10

const publishTimeout = 10 * time.Second

// Pool runs targets and streams their outcomes in completion order. The
// channel must be closed once every task has finished.
type Pool interface {
	Run(ctx context.Context, targets []scrape.Target) <-chan scrape.Outcome
}

// Publisher announces successful records.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Recorder receives run-level gauges.
type Recorder interface {
	SetTargets(n int)
}

// Config controls checkpoint pacing and output locations.
type Config struct {
	CheckpointPath  string
	FinalPath       string
	CheckpointEvery int
	RunID           string
	// Topic is required when a Publisher is set.
	Topic            string
	ProgressInterval time.Duration
}

// RecordMessage is the payload published for each successful record.
type RecordMessage struct {
	RunID     string            `json:"run_id"`
	SourceURL string            `json:"source_url"`
	AssetPath *string           `json:"asset_path"`
	Fields    map[string]string `json:"fields"`
}

// Summary reports a finished run.
type Summary struct {
	Submitted int
	Succeeded int
	Failed    int
	Assets    int
	Duration  time.Duration
	Final     aggregator.Snapshot
}

// Driver consumes the outcomes of one run.
type Driver struct {
	cfg       Config
	pool      Pool
	agg       *aggregator.Aggregator
	logger    *zap.Logger
	publisher Publisher
	recorder  Recorder
}

// Option customizes a Driver.
type Option func(*Driver)

// WithPublisher publishes every successful record to the configured topic.
func WithPublisher(p Publisher) Option {
	return func(d *Driver) { d.publisher = p }
}

// WithRecorder reports run gauges.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// New builds a Driver.
func New(cfg Config, pool Pool, agg *aggregator.Aggregator, logger *zap.Logger, opts ...Option) (*Driver, error) {
	if pool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if agg == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if cfg.FinalPath == "" {
		return nil, fmt.Errorf("final output path is required")
	}
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = cfg.FinalPath
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{cfg: cfg, pool: pool, agg: agg, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	if d.publisher != nil && cfg.Topic == "" {
		return nil, fmt.Errorf("publish topic is required when a publisher is set")
	}
	return d, nil
}

// Run processes targets until every task has finished, ctx is cancelled or
// a checkpoint fails. The final snapshot is always attempted, with a context
// that ignores cancellation. A checkpoint failure or a cancelled ctx is
// returned as an error alongside the summary.
func (d *Driver) Run(ctx context.Context, targets []scrape.Target) (Summary, error) {
	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	detached := context.WithoutCancel(ctx)

	if d.recorder != nil {
		d.recorder.SetTargets(len(targets))
	}
	reporter := progress.NewReporter(progress.Config{
		Total:    len(targets),
		Interval: d.cfg.ProgressInterval,
		Logger:   d.logger,
	})
	d.logger.Info("scrape run started",
		zap.String("run_id", d.cfg.RunID),
		zap.Int("targets", len(targets)),
	)

	summary := Summary{Submitted: len(targets)}
	var checkpointErr error
	for outcome := range d.pool.Run(runCtx, targets) {
		reporter.Done(outcome.OK())
		if !outcome.OK() {
			summary.Failed++
			d.logFailure(outcome)
			continue
		}
		summary.Succeeded++
		if outcome.Record.AssetPath != nil {
			summary.Assets++
		}
		completed := d.agg.Submit(*outcome.Record)
		d.publish(detached, *outcome.Record)

		if checkpointErr == nil && completed%d.cfg.CheckpointEvery == 0 {
			if _, err := d.agg.Checkpoint(detached, d.cfg.CheckpointPath, false); err != nil {
				checkpointErr = err
				d.logger.Error("checkpoint failed, stopping run", zap.Error(err))
				cancel()
			}
		}
	}

	final, finalErr := d.agg.Checkpoint(detached, d.cfg.FinalPath, true)
	summary.Final = final
	summary.Duration = time.Since(start)

	d.logger.Info("run summary",
		zap.String("run_id", d.cfg.RunID),
		zap.Int("submitted", summary.Submitted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("assets", summary.Assets),
		zap.Duration("duration", summary.Duration),
	)
	d.logger.Info("scraping completed", zap.Int("records", summary.Succeeded))

	var errs []error
	if checkpointErr != nil {
		errs = append(errs, checkpointErr)
	}
	if finalErr != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", finalErr))
	}
	if checkpointErr == nil && ctx.Err() != nil {
		errs = append(errs, fmt.Errorf("run interrupted: %w", ctx.Err()))
	}
	return summary, errors.Join(errs...)
}

func (d *Driver) logFailure(outcome scrape.Outcome) {
	d.logger.Error("scrape failed",
		zap.String("url", outcome.Target.ID()),
		zap.Int("worker", outcome.Worker),
		zap.String("kind", string(scrape.Classify(outcome.Err))),
		zap.Duration("duration", outcome.Duration),
		zap.Error(outcome.Err),
	)
}

// publish failures are logged; the record is already part of the run state.
func (d *Driver) publish(ctx context.Context, rec scrape.Record) {
	if d.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	msg := RecordMessage{
		RunID:     d.cfg.RunID,
		SourceURL: rec.SourceURL,
		AssetPath: rec.AssetPath,
		Fields:    make(map[string]string, rec.Fields.Len()),
	}
	for _, key := range rec.Fields.Keys() {
		msg.Fields[key], _ = rec.Fields.Get(key)
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.Topic, msg); err != nil {
		d.logger.Warn("record publish failed", zap.String("url", rec.SourceURL), zap.Error(err))
	}
}
