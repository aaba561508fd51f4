package scrapetest

import (
	"context"
	"path"
	"strings"
	"sync"
)

// Assets is a scrape.AssetFetcher that records calls and fails selected URLs.
type Assets struct {
	mu    sync.Mutex
	fails map[string]error
	calls []AssetCall
}

// AssetCall captures one Fetch invocation.
type AssetCall struct {
	URL  string
	Dir  string
	Name string
}

// NewAssets returns an Assets that succeeds for every URL.
func NewAssets() *Assets {
	return &Assets{fails: make(map[string]error)}
}

// Fail makes fetching url return err.
func (a *Assets) Fail(url string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fails[url] = err
}

// Fetch implements scrape.AssetFetcher.
func (a *Assets) Fetch(_ context.Context, assetURL, dir, nameHint string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, AssetCall{URL: assetURL, Dir: dir, Name: nameHint})
	if err := a.fails[assetURL]; err != nil {
		return "", err
	}
	return path.Join(dir, strings.ReplaceAll(nameHint, " ", "_")+"_logo.svg"), nil
}

// Calls returns the recorded invocations.
func (a *Assets) Calls() []AssetCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AssetCall(nil), a.calls...)
}
