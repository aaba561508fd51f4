// Package headless provides rendering sessions backed by headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// ErrUnsupportedSelector is returned for selectors the browser cannot scope.
var ErrUnsupportedSelector = errors.New("unsupported selector")

// Config controls the behavior of the headless session factory.
type Config struct {
	// MaxParallel caps concurrently open browsers; zero means no cap.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Headful shows the browser window, useful when debugging selectors.
	Headful bool
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Factory implements scrape.SessionFactory. Every session owns its own
// browser process, started from a shared allocator.
type Factory struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a session factory backed by chromedp. No browser is
// started until the first session is opened.
func NewChromedp(cfg Config) (*Factory, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !cfg.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Factory{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, killing any browser still running.
func (f *Factory) Close() {
	f.allocCancel()
}

// NewSession starts a fresh browser and returns a session bound to it.
func (f *Factory) NewSession(ctx context.Context) (scrape.Session, error) {
	release, err := f.acquire(ctx)
	if err != nil {
		return nil, err
	}

	browserCtx, cancel := chromedp.NewContext(f.allocator)
	meta := newResponseMeta()
	chromedp.ListenTarget(browserCtx, meta.captureEvent)

	stopForward := forwardCancel(ctx, cancel)
	err = chromedp.Run(browserCtx, f.networkSetupAction())
	stopForward()
	if err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("%w: start browser: %w", scrape.ErrSession, err)
	}

	return &Session{
		ctx:        browserCtx,
		cancel:     cancel,
		release:    release,
		meta:       meta,
		navTimeout: f.navTimeout(),
	}, nil
}

func (f *Factory) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Factory) acquire(ctx context.Context) (func(), error) {
	if f.limiter == nil {
		return func() {}, nil
	}
	select {
	case f.limiter <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-f.limiter }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: browser slot wait canceled: %w", scrape.ErrSession, ctx.Err())
	}
}

func (f *Factory) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// Session is a scrape.Session driving one browser tab.
type Session struct {
	ctx        context.Context
	cancel     context.CancelFunc
	release    func()
	meta       *responseMeta
	navTimeout time.Duration
	closeOnce  sync.Once
	closeErr   error
}

// Navigate loads url and fails when the main document answers with an
// error status.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.meta.reset()
	if err := s.run(ctx, s.navTimeout, chromedp.Navigate(url)); err != nil {
		return err
	}
	if status, finalURL := s.meta.snapshot(); status >= http.StatusBadRequest {
		return fmt.Errorf("document %s answered %d", finalURL, status)
	}
	return nil
}

// Wait sleeps inside the browser context so teardown interrupts it.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return s.run(ctx, 0, chromedp.Sleep(d))
}

// FindOne implements scrape.Session.
func (s *Session) FindOne(ctx context.Context, sel scrape.Selector) (scrape.Element, error) {
	return s.findOne(ctx, sel, nil)
}

// FindAll implements scrape.Session.
func (s *Session) FindAll(ctx context.Context, sel scrape.Selector) ([]scrape.Element, error) {
	return s.findAll(ctx, sel, nil)
}

// Close shuts the browser down and frees its slot. Safe to call twice.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close browser: %w", err)
		}
		s.cancel()
		s.release()
	})
	return s.closeErr
}

func (s *Session) findOne(ctx context.Context, sel scrape.Selector, from *cdp.Node) (scrape.Element, error) {
	nodes, err := s.query(ctx, sel, from)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, scrape.NotFound(sel)
	}
	return &element{session: s, node: nodes[0]}, nil
}

func (s *Session) findAll(ctx context.Context, sel scrape.Selector, from *cdp.Node) ([]scrape.Element, error) {
	nodes, err := s.query(ctx, sel, from)
	if err != nil {
		return nil, err
	}
	out := make([]scrape.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{session: s, node: n})
	}
	return out, nil
}

func (s *Session) query(ctx context.Context, sel scrape.Selector, from *cdp.Node) ([]*cdp.Node, error) {
	opts, err := queryOptions(sel, from)
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	if err := s.run(ctx, 0, chromedp.Nodes(sel.Expr, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s: %w", sel, err)
	}
	return nodes, nil
}

// queryOptions never waits for a match: a missing element must fail fast.
func queryOptions(sel scrape.Selector, from *cdp.Node) ([]chromedp.QueryOption, error) {
	opts := []chromedp.QueryOption{chromedp.AtLeast(0)}
	switch sel.Kind {
	case scrape.KindXPath:
		if from != nil {
			return nil, fmt.Errorf("%w: %s below document root", ErrUnsupportedSelector, sel)
		}
		opts = append(opts, chromedp.BySearch)
	case scrape.KindCSS:
		opts = append(opts, chromedp.ByQueryAll)
		if from != nil {
			opts = append(opts, chromedp.FromNode(from))
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSelector, sel)
	}
	return opts, nil
}

// run executes actions in the browser context while honoring the caller's
// ctx, so task deadlines interrupt the browser call.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

type element struct {
	session *Session
	node    *cdp.Node
}

func (e *element) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

// Text returns the rendered inner text of the element.
func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.session.run(ctx, 0, chromedp.Text(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return text, nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	if err := e.session.run(ctx, 0, chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", false, err
	}
	return value, ok, nil
}

func (e *element) FindOne(ctx context.Context, sel scrape.Selector) (scrape.Element, error) {
	return e.session.findOne(ctx, sel, e.node)
}

func (e *element) FindAll(ctx context.Context, sel scrape.Selector) ([]scrape.Element, error) {
	return e.session.findAll(ctx, sel, e.node)
}

// responseMeta records the status of the first document response after a
// reset; later documents belong to frames.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
