// Package app builds and holds the long-lived services of one scrape run,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-scraper/internal/aggregator"
	"github.com/JakeFAU/company-profile-scraper/internal/asset"
	"github.com/JakeFAU/company-profile-scraper/internal/clock/system"
	"github.com/JakeFAU/company-profile-scraper/internal/config"
	"github.com/JakeFAU/company-profile-scraper/internal/dispatcher"
	"github.com/JakeFAU/company-profile-scraper/internal/driver"
	"github.com/JakeFAU/company-profile-scraper/internal/id/uuid"
	"github.com/JakeFAU/company-profile-scraper/internal/input"
	"github.com/JakeFAU/company-profile-scraper/internal/metrics"
	"github.com/JakeFAU/company-profile-scraper/internal/output/csv"
	"github.com/JakeFAU/company-profile-scraper/internal/output/postgres"
	pubsubpublisher "github.com/JakeFAU/company-profile-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/company-profile-scraper/internal/render/headless"
	"github.com/JakeFAU/company-profile-scraper/internal/render/static"
	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
	"github.com/JakeFAU/company-profile-scraper/internal/storage/gcs"
	"github.com/JakeFAU/company-profile-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/company-profile-scraper/internal/storage/memory"
	"github.com/JakeFAU/company-profile-scraper/internal/worker"
)

// App holds the services of one run. Close releases them in reverse order
// of acquisition.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	runID    string
	metrics  *metrics.Recorder
	driver   *driver.Driver
	sessions scrape.SessionFactory
	closers  []closer
}

type closer struct {
	name string
	fn   func() error
}

// Option overrides a service built by New.
type Option func(*options)

type options struct {
	sessions  scrape.SessionFactory
	publisher driver.Publisher
}

// WithSessionFactory replaces the configured render engine.
func WithSessionFactory(f scrape.SessionFactory) Option {
	return func(o *options) { o.sessions = f }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p driver.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New initializes every service the run needs. It fails fast: anything
// already acquired is released before the error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	runID, err := resolveRunID(cfg.Run.ID)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("run_id", runID))
	a := &App{cfg: cfg, logger: logger, runID: runID, metrics: metrics.New(runID)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.sessions = o.sessions
	if a.sessions == nil {
		if a.sessions, err = a.buildSessions(); err != nil {
			return nil, err
		}
	}
	store, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	fetcher, err := asset.NewFetcher(store, asset.Config{
		Timeout:   cfg.AssetTimeout(),
		UserAgent: cfg.Render.UserAgent,
	}, asset.WithRecorder(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("init asset fetcher: %w", err)
	}

	extractorCfg := scrape.DefaultExtractorConfig()
	extractorCfg.BasePath = cfg.Scrape.BasePath
	extractorCfg.SettleWait = cfg.SettleWait()
	pool, err := dispatcher.New(dispatcher.Config{
		Concurrency: cfg.Scrape.Concurrency,
		Worker: worker.Config{
			Delay:       cfg.TaskDelay(),
			TaskTimeout: cfg.TaskTimeout(),
		},
	}, a.sessions, scrape.NewCompanyExtractor(extractorCfg, fetcher), logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}

	writers := []aggregator.SnapshotWriter{csv.New()}
	if cfg.DB.DSN != "" {
		mirror, err := postgres.Open(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			RunID:    runID,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres mirror: %w", err)
		}
		a.onClose("postgres", func() error { mirror.Close(); return nil })
		writers = append(writers, mirror)
		logger.Info("postgres mirror enabled", zap.String("table", cfg.DB.Table))
	}
	agg := aggregator.New(aggregator.Config{
		RetryDelay: cfg.RetryDelay(),
		Clock:      system.New(),
		Logger:     logger.Named("aggregator"),
		Recorder:   a.metrics,
	}, writers...)

	var driverOpts []driver.Option
	driverOpts = append(driverOpts, driver.WithRecorder(a.metrics))
	publisher := o.publisher
	if publisher == nil && cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.onClose("pubsub", pub.Close)
		publisher = pub
		logger.Info("pubsub notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	}
	if publisher != nil {
		driverOpts = append(driverOpts, driver.WithPublisher(publisher))
	}

	a.driver, err = driver.New(driver.Config{
		CheckpointPath:   cfg.Output.CheckpointPath,
		FinalPath:        cfg.Output.FinalPath,
		CheckpointEvery:  cfg.Output.CheckpointEvery,
		RunID:            runID,
		Topic:            cfg.PubSub.TopicName,
		ProgressInterval: cfg.ProgressInterval(),
	}, pool, agg, logger.Named("driver"), driverOpts...)
	if err != nil {
		return nil, fmt.Errorf("init driver: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("engine", cfg.Render.Engine),
		zap.String("asset_store", cfg.Assets.Store),
		zap.Int("concurrency", cfg.Scrape.Concurrency),
	)
	return a, nil
}

func (a *App) buildSessions() (scrape.SessionFactory, error) {
	switch a.cfg.Render.Engine {
	case config.EngineStatic:
		return static.New(static.Config{
			UserAgent: a.cfg.Render.UserAgent,
			Timeout:   a.cfg.NavTimeout(),
		}), nil
	case config.EngineChromedp:
		f, err := headless.NewChromedp(headless.Config{
			MaxParallel:       a.cfg.Scrape.Concurrency,
			UserAgent:         a.cfg.Render.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			Headful:           !a.cfg.Render.Headless,
			ExecPath:          a.cfg.Render.ExecPath,
		})
		if err != nil {
			return nil, fmt.Errorf("init chromedp: %w", err)
		}
		a.onClose("chromedp", func() error { f.Close(); return nil })
		return f, nil
	default:
		return nil, fmt.Errorf("unknown render engine %q", a.cfg.Render.Engine)
	}
}

func (a *App) buildBlobStore(ctx context.Context) (asset.BlobStore, error) {
	switch a.cfg.Assets.Store {
	case config.StoreLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Assets.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local asset store: %w", err)
		}
		return store, nil
	case config.StoreGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Assets.GCSBucket, Prefix: a.cfg.Assets.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs asset store: %w", err)
		}
		a.onClose("gcs", store.Close)
		return store, nil
	case config.StoreMemory:
		a.logger.Warn("memory asset store selected; logos are discarded at exit")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown asset store %q", a.cfg.Assets.Store)
	}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// RunID returns the identifier attached to logs, metrics and mirrored rows.
func (a *App) RunID() string { return a.runID }

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Metrics returns the run recorder.
func (a *App) Metrics() *metrics.Recorder { return a.metrics }

// Run reads the configured input files and processes every target. The
// metrics textfile is written even when the run fails.
func (a *App) Run(ctx context.Context) (driver.Summary, error) {
	targets, err := input.ReadFiles(input.Config{
		URLColumn:      a.cfg.Input.URLColumn,
		AssetDirColumn: a.cfg.Input.AssetDirColumn,
	}, a.cfg.Input.Files...)
	if err != nil {
		return driver.Summary{}, fmt.Errorf("read targets: %w", err)
	}
	a.logger.Info("targets loaded", zap.Int("targets", len(targets)), zap.Strings("files", a.cfg.Input.Files))

	summary, runErr := a.driver.Run(ctx, targets)
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.logger.Warn("metrics textfile write failed", zap.Error(err))
	}
	return summary, runErr
}

// Close shuts down every service in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("service close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	// Sync on a console sink may fail with EINVAL; nothing useful can be done then.
	_ = a.logger.Sync()
}

func resolveRunID(configured string) (string, error) {
	if configured != "" {
		id, err := uuid.Parse(configured)
		if err != nil {
			return "", fmt.Errorf("run.id: %w", err)
		}
		return id.String(), nil
	}
	id, err := uuid.New().NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}
