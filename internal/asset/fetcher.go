// Package asset downloads company logos and writes them to a blob store.
package asset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-scraper/internal/logging"
)

// DefaultTimeout bounds a single asset download.
const DefaultTimeout = 10 * time.Second

// Suffix is appended to the sanitized name of every stored logo.
const Suffix = "_logo.svg"

// BlobStore persists asset bytes and returns where they were written.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Recorder observes asset fetch results.
type Recorder interface {
	ObserveAsset(result string, d time.Duration)
}

// StatusError reports a non-2xx response for an asset URL.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("asset %s: unexpected status %d", e.URL, e.Code)
}

// Config tunes the Fetcher.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Fetcher implements scrape.AssetFetcher over HTTP.
type Fetcher struct {
	client    *http.Client
	store     BlobStore
	userAgent string
	recorder  Recorder
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRecorder reports every fetch to r.
func WithRecorder(r Recorder) Option {
	return func(f *Fetcher) { f.recorder = r }
}

// NewFetcher builds a Fetcher writing into store.
func NewFetcher(store BlobStore, cfg Config, opts ...Option) (*Fetcher, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f := &Fetcher{
		client:    &http.Client{Timeout: timeout},
		store:     store,
		userAgent: cfg.UserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch downloads assetURL and stores it as <dir>/<nameHint>_logo.svg. Two
// companies with the same name share a file; the last write wins.
func (f *Fetcher) Fetch(ctx context.Context, assetURL, dir, nameHint string) (string, error) {
	start := time.Now()
	logger := logging.FromContext(ctx).With(zap.String("asset_url", assetURL), zap.String("company", nameHint))

	location, err := f.fetch(ctx, assetURL, ObjectPath(dir, nameHint))
	elapsed := time.Since(start)
	if err != nil {
		f.observe("error", elapsed)
		logger.Error("logo save failed", zap.Error(err), zap.Duration("duration", elapsed))
		return "", err
	}
	f.observe("saved", elapsed)
	logger.Info("logo saved", zap.String("path", location), zap.Duration("duration", elapsed))
	return location, nil
}

func (f *Fetcher) fetch(ctx context.Context, assetURL, objectPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return "", fmt.Errorf("build asset request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get asset %s: %w", assetURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: assetURL, Code: resp.StatusCode}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/svg+xml"
	}
	location, err := f.store.PutObject(ctx, objectPath, contentType, resp.Body)
	if err != nil {
		return "", fmt.Errorf("store asset %s: %w", objectPath, err)
	}
	return location, nil
}

func (f *Fetcher) observe(result string, d time.Duration) {
	if f.recorder != nil {
		f.recorder.ObserveAsset(result, d)
	}
}

// ObjectPath returns the store path of a logo for a company name.
func ObjectPath(dir, nameHint string) string {
	name := SanitizeName(nameHint) + Suffix
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

// SanitizeName replaces whitespace and path separators with underscores.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
}
