package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/company-profile-scraper/internal/aggregator"
	"github.com/JakeFAU/company-profile-scraper/internal/asset"
	"github.com/JakeFAU/company-profile-scraper/internal/dispatcher"
	"github.com/JakeFAU/company-profile-scraper/internal/output/csv"
	pubmemory "github.com/JakeFAU/company-profile-scraper/internal/publisher/memory"
	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
	"github.com/JakeFAU/company-profile-scraper/internal/scrape/scrapetest"
	"github.com/JakeFAU/company-profile-scraper/internal/storage/memory"
)

type harness struct {
	browser *scrapetest.Browser
	store   *memory.BlobStore
	logger  *zap.Logger
	logs    *observer.ObservedLogs
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return &harness{
		browser: scrapetest.NewBrowser(),
		store:   memory.NewBlobStore(),
		logger:  zap.New(core),
		logs:    logs,
		dir:     t.TempDir(),
	}
}

func (h *harness) pool(t *testing.T, concurrency int) *dispatcher.Dispatcher {
	t.Helper()
	fetcher, err := asset.NewFetcher(h.store, asset.Config{Timeout: 2 * time.Second})
	require.NoError(t, err)
	cfg := scrape.DefaultExtractorConfig()
	cfg.SettleWait = 0
	d, err := dispatcher.New(
		dispatcher.Config{Concurrency: concurrency},
		h.browser,
		scrape.NewCompanyExtractor(cfg, fetcher),
		h.logger,
		nil,
	)
	require.NoError(t, err)
	return d
}

func (h *harness) config() Config {
	return Config{
		CheckpointPath: filepath.Join(h.dir, "checkpoint.csv"),
		FinalPath:      filepath.Join(h.dir, "final.csv"),
		RunID:          "run-1",
	}
}

func targets(urls ...string) []scrape.Target {
	out := make([]scrape.Target, len(urls))
	for i, u := range urls {
		out[i] = scrape.Target{URL: u, Line: i + 2}
	}
	return out
}

func fieldsOf(rec scrape.Record) map[string]string {
	out := make(map[string]string)
	for _, k := range rec.Fields.Keys() {
		out[k], _ = rec.Fields.Get(k)
	}
	return out
}

func TestRunThreeTargetScenario(t *testing.T) {
	t.Parallel()

	logos := httptest.NewServer(http.NotFoundHandler())
	defer logos.Close()

	h := newHarness(t)
	h.browser.Serve("https://a.test/company/", scrapetest.CompanyPage("Acme", "Rockets.", "", scrapetest.Row{"Sector", "Tech"}))
	h.browser.FailNavigation("https://b.test/company/", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	h.browser.Serve("https://c.test/company/", scrapetest.CompanyPage("Beta", "Boats.", logos.URL+"/beta.svg", scrapetest.Row{"Address: 1 Main St"}))

	pub := pubmemory.New()
	cfg := h.config()
	cfg.Topic = "records"
	agg := aggregator.New(aggregator.Config{Logger: h.logger}, csv.New())
	d, err := New(cfg, h.pool(t, 10), agg, h.logger, WithPublisher(pub))
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), targets("https://a.test/", "https://b.test/", "https://c.test/"))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Submitted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Assets)

	byURL := make(map[string]scrape.Record)
	for _, rec := range summary.Final.Records {
		byURL[rec.SourceURL] = rec
	}
	require.Len(t, byURL, 2)
	assert.Equal(t, "Tech", fieldsOf(byURL["https://a.test/"])["Sector"])
	assert.Equal(t, "Acme", fieldsOf(byURL["https://a.test/"])[scrape.ColumnCompanyName])
	assert.Equal(t, "1 Main St", fieldsOf(byURL["https://c.test/"])[scrape.ColumnAddress])
	assert.Nil(t, byURL["https://c.test/"].AssetPath, "404 logo leaves a null asset path")

	failures := h.logs.FilterMessage("scrape failed").All()
	require.Len(t, failures, 1)
	ctxFields := failures[0].ContextMap()
	assert.Equal(t, "https://b.test/", ctxFields["url"])
	assert.Equal(t, "navigation", ctxFields["kind"])
	assert.Equal(t, 1, h.logs.FilterMessage("logo save failed").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("scraping completed").Len())

	data, err := os.ReadFile(cfg.FinalPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Original Link")
	assert.Len(t, pub.Messages(), 2)
}

func TestRunDuplicateCompanyNamesShareAsset(t *testing.T) {
	t.Parallel()

	logos := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = fmt.Fprintf(w, "<svg id=%q/>", r.URL.Path)
	}))
	defer logos.Close()

	h := newHarness(t)
	h.browser.Serve("https://one.test/company/", scrapetest.CompanyPage("Acme", "d", logos.URL+"/one.svg"))
	h.browser.Serve("https://two.test/company/", scrapetest.CompanyPage("Acme", "d", logos.URL+"/two.svg"))

	agg := aggregator.New(aggregator.Config{}, csv.New())
	d, err := New(h.config(), h.pool(t, 1), agg, h.logger)
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), targets("https://one.test/", "https://two.test/"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.Assets)

	assert.Equal(t, []string{"Acme_logo.svg"}, h.store.Paths())
	body, ok := h.store.Get("Acme_logo.svg")
	require.True(t, ok)
	assert.Equal(t, `<svg id="/two.svg"/>`, string(body), "the later write wins")
	for _, rec := range summary.Final.Records {
		require.NotNil(t, rec.AssetPath)
		assert.Equal(t, "memory://Acme_logo.svg", *rec.AssetPath)
	}
}

type snapshotLog struct {
	mu       sync.Mutex
	snaps    []aggregator.Snapshot
	failFrom int
}

func (s *snapshotLog) Name() string { return "log" }

func (s *snapshotLog) WriteSnapshot(_ context.Context, snap aggregator.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFrom > 0 && !snap.Final && len(snap.Records) >= s.failFrom {
		return errors.New("disk full")
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func servePages(h *harness, n int) []scrape.Target {
	urls := make([]string, n)
	for i := range n {
		urls[i] = fmt.Sprintf("https://c%02d.test/", i)
		h.browser.Serve(urls[i]+"company/", scrapetest.CompanyPage(fmt.Sprintf("Co %d", i), "d", ""))
	}
	return targets(urls...)
}

func TestRunCheckpointCadence(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tg := servePages(h, 25)
	w := &snapshotLog{}
	agg := aggregator.New(aggregator.Config{}, w)
	d, err := New(h.config(), h.pool(t, 4), agg, h.logger)
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), tg)
	require.NoError(t, err)
	assert.Equal(t, 25, summary.Succeeded)

	require.Len(t, w.snaps, 3)
	assert.Len(t, w.snaps[0].Records, 10)
	assert.Equal(t, h.config().CheckpointPath, w.snaps[0].Path)
	assert.Len(t, w.snaps[1].Records, 20)
	assert.Len(t, w.snaps[2].Records, 25)
	assert.True(t, w.snaps[2].Final)
	assert.Equal(t, h.config().FinalPath, w.snaps[2].Path)
}

func TestRunCheckpointFailureStopsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tg := servePages(h, 40)
	h.browser.SetLatency(5 * time.Millisecond)
	w := &snapshotLog{failFrom: 10}
	agg := aggregator.New(aggregator.Config{RetryDelay: time.Millisecond}, w)
	d, err := New(h.config(), h.pool(t, 1), agg, h.logger)
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), tg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Less(t, summary.Succeeded, 40, "scheduling stops after the failed checkpoint")

	require.NotEmpty(t, w.snaps)
	last := w.snaps[len(w.snaps)-1]
	assert.True(t, last.Final, "final snapshot still written")
	assert.Len(t, last.Records, summary.Succeeded)
}

func TestRunCancelledStillWritesFinal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tg := servePages(h, 5)
	w := &snapshotLog{}
	agg := aggregator.New(aggregator.Config{}, w)
	d, err := New(h.config(), h.pool(t, 2), agg, h.logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := d.Run(ctx, tg)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, w.snaps, 1)
	assert.True(t, w.snaps[0].Final)
	assert.Equal(t, summary.Succeeded, len(w.snaps[0].Records))
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic deleted")
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tg := servePages(h, 2)
	cfg := h.config()
	cfg.Topic = "records"
	agg := aggregator.New(aggregator.Config{}, &snapshotLog{})
	d, err := New(cfg, h.pool(t, 2), agg, h.logger, WithPublisher(failingPublisher{}))
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), tg)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, h.logs.FilterMessage("record publish failed").Len())
}

type targetCounter struct{ n int }

func (c *targetCounter) SetTargets(n int) { c.n = n }

func TestNewValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	agg := aggregator.New(aggregator.Config{})
	pool := h.pool(t, 1)

	_, err := New(h.config(), nil, agg, nil)
	require.Error(t, err)
	_, err = New(h.config(), pool, nil, nil)
	require.Error(t, err)
	_, err = New(Config{}, pool, agg, nil)
	require.Error(t, err)
	_, err = New(h.config(), pool, agg, nil, WithPublisher(pubmemory.New()))
	require.ErrorContains(t, err, "topic")

	rec := &targetCounter{}
	d, err := New(Config{FinalPath: filepath.Join(h.dir, "f.csv")}, pool, agg, nil, WithRecorder(rec))
	require.NoError(t, err)
	assert.Equal(t, d.cfg.FinalPath, d.cfg.CheckpointPath)
	assert.Equal(t, DefaultCheckpointEvery, d.cfg.CheckpointEvery)

	_, err = d.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.n)
}
