package static

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
	"github.com/JakeFAU/company-profile-scraper/internal/scrape/scrapetest"
)

const profilePage = `<html><body>
<div id="main">
  <div>navigation</div>
  <div>
    <div>
      <h2>About Acme Corp</h2>
      <p>Acme   builds rockets.</p>
    </div>
    <div>
      <img src="/logos/acme.svg">
      <span class="text-2xl">Acme Corp</span>
      <table>
        <tr><td>Sector</td><td> Technology </td></tr>
        <tr><td>Address: 1 Main St</td></tr>
        <tr><td>Employees</td><td>1,200</td></tr>
      </table>
    </div>
  </div>
</div>
<script>var hidden = "x";</script>
</body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/stocks/acme/company/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(profilePage))
	})
	mux.HandleFunc("/slow/", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestExtractorOverStaticSession(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	session, err := New(Config{UserAgent: "test-agent"}).NewSession(context.Background())
	require.NoError(t, err)
	defer session.Close()

	cfg := scrape.DefaultExtractorConfig()
	cfg.SettleWait = 0
	assets := scrapetest.NewAssets()
	target := scrape.Target{URL: srv.URL + "/stocks/acme/", AssetDir: "us"}

	rec, err := scrape.NewCompanyExtractor(cfg, assets).Extract(context.Background(), target, session)
	require.NoError(t, err)

	get := func(k string) string {
		v, _ := rec.Fields.Get(k)
		return v
	}
	assert.Equal(t, "Acme Corp", get(scrape.ColumnCompanyName))
	assert.Equal(t, "Acme builds rockets.", get(scrape.ColumnDescription))
	assert.Equal(t, "Technology", get("Sector"))
	assert.Equal(t, "1 Main St", get(scrape.ColumnAddress))
	assert.Equal(t, "1,200", get("Employees"))

	calls := assets.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, srv.URL+"/logos/acme.svg", calls[0].URL)
	assert.Equal(t, "us", calls[0].Dir)
}

func TestNavigateErrorStatus(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	session, err := New(Config{}).NewSession(context.Background())
	require.NoError(t, err)

	err = session.Navigate(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNavigateHonorsContext(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	session, err := New(Config{}).NewSession(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = session.Navigate(ctx, srv.URL+"/slow/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueriesBeforeNavigateFail(t *testing.T) {
	t.Parallel()

	session := &Session{}
	_, err := session.FindOne(context.Background(), scrape.CSS("div"))
	require.Error(t, err)
	_, err = session.FindAll(context.Background(), scrape.CSS("div"))
	require.Error(t, err)
}

func TestScopedQueries(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	session, err := New(Config{}).NewSession(context.Background())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, session.Navigate(ctx, srv.URL+"/stocks/acme/company/"))

	details, err := session.FindOne(ctx, scrape.XPath(`//*[@id="main"]/div[2]/div[2]`))
	require.NoError(t, err)

	rows, err := details.FindAll(ctx, scrape.CSS("tr"))
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	span, err := details.FindOne(ctx, scrape.XPath("./span"))
	require.NoError(t, err)
	text, err := span.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", text)

	_, err = details.FindOne(ctx, scrape.CSS(".absent"))
	assert.ErrorIs(t, err, scrape.ErrElementNotFound)

	img, err := details.FindOne(ctx, scrape.CSS("img"))
	require.NoError(t, err)
	src, ok, err := img.Attribute(ctx, "src")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/logos/acme.svg", src)
	_, ok, err = img.Attribute(ctx, "alt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNormalizeLines(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b\nc", normalizeLines("\n  a   b \n\n\t c\n"))
	assert.Equal(t, "", normalizeLines(" \n "))
}
