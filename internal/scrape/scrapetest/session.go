// Package scrapetest provides an in-memory rendering session for tests.
package scrapetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// Node is a fake DOM element whose children are keyed by the selector that
// finds them.
type Node struct {
	Text     string
	Attrs    map[string]string
	Children map[scrape.Selector][]*Node
}

// Add registers children under sel and returns n for chaining.
func (n *Node) Add(sel scrape.Selector, children ...*Node) *Node {
	if n.Children == nil {
		n.Children = make(map[scrape.Selector][]*Node)
	}
	n.Children[sel] = append(n.Children[sel], children...)
	return n
}

// Row is one details-table row; one or two cell texts.
type Row []string

// CompanyPage builds a document matching scrape.DefaultExtractorConfig. An
// empty logoSrc omits the img element.
func CompanyPage(name, description, logoSrc string, rows ...Row) *Node {
	cfg := scrape.DefaultExtractorConfig()
	details := (&Node{}).Add(cfg.Name, &Node{Text: name})
	if logoSrc != "" {
		details.Add(cfg.Logo, &Node{Attrs: map[string]string{"src": logoSrc}})
	}
	for _, r := range rows {
		row := &Node{}
		for _, cell := range r {
			row.Add(cfg.Cells, &Node{Text: cell})
			if row.Text != "" {
				row.Text += " "
			}
			row.Text += cell
		}
		details.Add(cfg.Rows, row)
	}
	return (&Node{}).
		Add(cfg.Description, &Node{Text: "About " + name + "\n" + description}).
		Add(cfg.Details, details)
}

// Browser is a scrape.SessionFactory serving fixed documents by URL. It
// tracks open sessions so tests can assert isolation and teardown.
type Browser struct {
	mu        sync.Mutex
	pages     map[string]*Node
	navErrs   map[string]error
	panics    map[string]bool
	openErr   error
	latency   time.Duration
	active    int
	maxActive int
	opened    int
	closed    int
}

// NewBrowser returns an empty Browser.
func NewBrowser() *Browser {
	return &Browser{
		pages:   make(map[string]*Node),
		navErrs: make(map[string]error),
		panics:  make(map[string]bool),
	}
}

// Serve registers doc at url.
func (b *Browser) Serve(url string, doc *Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = doc
}

// FailNavigation makes navigating to url return err.
func (b *Browser) FailNavigation(url string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navErrs[url] = err
}

// PanicOn makes navigating to url panic.
func (b *Browser) PanicOn(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.panics[url] = true
}

// FailOpen makes NewSession return err.
func (b *Browser) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// SetLatency delays every navigation by d.
func (b *Browser) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// NewSession implements scrape.SessionFactory.
func (b *Browser) NewSession(_ context.Context) (scrape.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened++
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	return &Session{browser: b}, nil
}

// Stats returns opened, closed and peak concurrent session counts.
func (b *Browser) Stats() (opened, closed, maxActive int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.closed, b.maxActive
}

func (b *Browser) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active--
	b.closed++
}

// Session is a scrape.Session over a Browser's documents.
type Session struct {
	browser *Browser
	doc     *Node
	closed  bool
}

// Navigate implements scrape.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.closed {
		return errors.New("session closed")
	}
	s.browser.mu.Lock()
	doc, ok := s.browser.pages[url]
	navErr := s.browser.navErrs[url]
	shouldPanic := s.browser.panics[url]
	latency := s.browser.latency
	s.browser.mu.Unlock()

	if shouldPanic {
		panic("renderer crashed on " + url)
	}
	if latency > 0 {
		if err := s.Wait(ctx, latency); err != nil {
			return err
		}
	}
	if navErr != nil {
		return navErr
	}
	if !ok {
		return fmt.Errorf("no document served at %s", url)
	}
	s.doc = doc
	return nil
}

// Wait implements scrape.Session.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// FindOne implements scrape.Session.
func (s *Session) FindOne(_ context.Context, sel scrape.Selector) (scrape.Element, error) {
	if s.doc == nil {
		return nil, errors.New("no document loaded")
	}
	return findOne(s.doc, sel)
}

// FindAll implements scrape.Session.
func (s *Session) FindAll(_ context.Context, sel scrape.Selector) ([]scrape.Element, error) {
	if s.doc == nil {
		return nil, errors.New("no document loaded")
	}
	return findAll(s.doc, sel), nil
}

// Close implements scrape.Session.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.browser.release()
	return nil
}

type element struct {
	node *Node
}

func (e element) Text(context.Context) (string, error) {
	return e.node.Text, nil
}

func (e element) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.node.Attrs[name]
	return v, ok, nil
}

func (e element) FindOne(_ context.Context, sel scrape.Selector) (scrape.Element, error) {
	return findOne(e.node, sel)
}

func (e element) FindAll(_ context.Context, sel scrape.Selector) ([]scrape.Element, error) {
	return findAll(e.node, sel), nil
}

func findOne(n *Node, sel scrape.Selector) (scrape.Element, error) {
	matches := n.Children[sel]
	if len(matches) == 0 {
		return nil, scrape.NotFound(sel)
	}
	return element{node: matches[0]}, nil
}

func findAll(n *Node, sel scrape.Selector) []scrape.Element {
	matches := n.Children[sel]
	out := make([]scrape.Element, 0, len(matches))
	for _, m := range matches {
		out = append(out, element{node: m})
	}
	return out
}
