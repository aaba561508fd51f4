// Package static renders pages without a browser: the HTML is fetched with
// colly and queried with goquery (CSS) and htmlquery (XPath). It suits sites
// whose profile pages are server-rendered.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Factory implements scrape.SessionFactory. Sessions share one HTTP
// transport but never share documents.
type Factory struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Factory.
func New(cfg Config) *Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Factory{cfg: cfg, base: c}
}

// NewSession implements scrape.SessionFactory.
func (f *Factory) NewSession(context.Context) (scrape.Session, error) {
	return &Session{base: f.base}, nil
}

// Session is a scrape.Session over a fetched HTML document.
type Session struct {
	base   *colly.Collector
	doc    *goquery.Document
	closed bool
}

// Navigate fetches url and parses the body. Error statuses fail navigation.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.closed {
		return errors.New("session closed")
	}
	collector := s.base.Clone()
	collector.Context = ctx

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}
	s.doc = doc
	return nil
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// Wait implements scrape.Session. Static documents never change, but the
// wait is honored so timing matches the browser engine.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
	return findOne(s.doc.Selection, sel)
}

// FindAll implements scrape.Session.
func (s *Session) FindAll(_ context.Context, sel scrape.Selector) ([]scrape.Element, error) {
	if s.doc == nil {
		return nil, errors.New("no document loaded")
	}
	return findAll(s.doc.Selection, sel)
}

// Close implements scrape.Session.
func (s *Session) Close() error {
	s.closed = true
	s.doc = nil
	return nil
}

type element struct {
	sel *goquery.Selection
}

// Text returns the element text with one line per block element.
func (e element) Text(context.Context) (string, error) {
	var b strings.Builder
	for _, n := range e.sel.Nodes {
		writeText(&b, n)
	}
	return normalizeLines(b.String()), nil
}

func (e element) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

func (e element) FindOne(_ context.Context, sel scrape.Selector) (scrape.Element, error) {
	return findOne(e.sel, sel)
}

func (e element) FindAll(_ context.Context, sel scrape.Selector) ([]scrape.Element, error) {
	return findAll(e.sel, sel)
}

func findOne(scope *goquery.Selection, sel scrape.Selector) (scrape.Element, error) {
	matches, err := query(scope, sel)
	if err != nil {
		return nil, err
	}
	if matches.Length() == 0 {
		return nil, scrape.NotFound(sel)
	}
	return element{sel: matches.First()}, nil
}

func findAll(scope *goquery.Selection, sel scrape.Selector) ([]scrape.Element, error) {
	matches, err := query(scope, sel)
	if err != nil {
		return nil, err
	}
	out := make([]scrape.Element, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		out = append(out, element{sel: s})
	})
	return out, nil
}

func query(scope *goquery.Selection, sel scrape.Selector) (*goquery.Selection, error) {
	switch sel.Kind {
	case scrape.KindCSS:
		return scope.Find(sel.Expr), nil
	case scrape.KindXPath:
		var nodes []*html.Node
		for _, root := range scope.Nodes {
			found, err := htmlquery.QueryAll(root, sel.Expr)
			if err != nil {
				return nil, fmt.Errorf("xpath %q: %w", sel.Expr, err)
			}
			nodes = append(nodes, found...)
		}
		return scope.FindNodes(nodes...), nil
	default:
		return nil, fmt.Errorf("unsupported selector %s", sel)
	}
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Br: true,
	atom.Div: true, atom.Dd: true, atom.Dl: true, atom.Dt: true,
	atom.Footer: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true,
	atom.Li: true, atom.Ol: true, atom.P: true, atom.Section: true,
	atom.Table: true, atom.Tr: true, atom.Ul: true,
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
	}
	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

// normalizeLines collapses runs of whitespace within lines and drops blank
// lines, approximating rendered inner text.
func normalizeLines(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
