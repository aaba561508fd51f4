package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	factory, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer factory.Close()
	if cap(factory.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(factory.limiter))
	}
}

func TestFactoryNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	factory := &Factory{}
	if got := factory.navTimeout(); got != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	factory.cfg.NavigationTimeout = time.Second
	if got := factory.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	factory := &Factory{limiter: make(chan struct{}, 1)}
	release, err := factory.acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := factory.acquire(ctx); !errors.Is(err, scrape.ErrSession) {
		t.Fatalf("expected session error while slot is held, got %v", err)
	}

	release()
	release()
	if len(factory.limiter) != 0 {
		t.Fatalf("expected slot released exactly once, got %d held", len(factory.limiter))
	}
}

func TestQueryOptions(t *testing.T) {
	t.Parallel()

	node := &cdp.Node{NodeID: 7}
	cases := []struct {
		name    string
		sel     scrape.Selector
		from    *cdp.Node
		want    int
		wantErr bool
	}{
		{name: "xpath at root", sel: scrape.XPath(`//*[@id="main"]`), want: 2},
		{name: "css at root", sel: scrape.CSS("img"), want: 2},
		{name: "css scoped", sel: scrape.CSS("td"), from: node, want: 3},
		{name: "xpath scoped", sel: scrape.XPath("./div"), from: node, wantErr: true},
		{name: "unknown kind", sel: scrape.Selector{Kind: 99, Expr: "x"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts, err := queryOptions(tc.sel, tc.from)
			if tc.wantErr {
				if !errors.Is(err, ErrUnsupportedSelector) {
					t.Fatalf("expected unsupported selector error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(opts) != tc.want {
				t.Fatalf("expected %d options, got %d", tc.want, len(opts))
			}
		})
	}
}

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://example.com/logo.svg"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/company/"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example.com/frame"},
	})

	status, url := meta.snapshot()
	if status != 404 || url != "https://example.com/company/" {
		t.Fatalf("unexpected snapshot: status=%d url=%s", status, url)
	}

	meta.reset()
	if status, url := meta.snapshot(); status != 0 || url != "" {
		t.Fatalf("expected reset snapshot, got status=%d url=%s", status, url)
	}
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("expected parent cancellation to reach child")
	}
}

func TestSessionRunReportsCause(t *testing.T) {
	t.Parallel()

	s := &Session{ctx: context.Background()}
	for _, timeout := range []time.Duration{0, time.Second} {
		err := s.run(context.Background(), timeout, chromedp.Sleep(0))
		if !errors.Is(err, chromedp.ErrInvalidContext) {
			t.Fatalf("timeout %v: expected invalid context error, got %v", timeout, err)
		}
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.run(canceled, time.Second, chromedp.Sleep(0)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected caller cancellation to win, got %v", err)
	}
}
