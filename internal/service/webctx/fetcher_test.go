package webctx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
	"github.com/bryanowens-dev/walker/internal/testutil"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Acme &amp; Co <b>Dashboard</b></title>
  <script>var tracked = "do not leak";</script>
  <style>.hidden { display: none; }</style>
</head>
<body>
  <nav><a href="/pricing">Pricing</a></nav>
  <h1>Welcome to Acme</h1>
  <h2>Latest <em>releases</em></h2>
  <p>We build widgets &amp; gadgets for everyone.</p>
  <footer>Copyright Acme</footer>
</body>
</html>`

func pageServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsPageContent(t *testing.T) {
	srv := pageServer(t, http.StatusOK, samplePage)
	browser := testutil.NewMockBrowser()
	f := NewFetcher(browser, logging.NewNop()).WithHTTPClient(srv.Client())
	dir := t.TempDir()

	pages := f.Fetch(context.Background(), []string{srv.URL}, dir)
	require.Len(t, pages, 1)

	p := pages[0]
	require.NoError(t, p.Err)
	assert.Equal(t, srv.URL, p.URL)
	assert.Equal(t, "Acme & Co Dashboard", p.Title)

	assert.Contains(t, p.Text, "# Welcome to Acme")
	assert.Contains(t, p.Text, "## Latest releases")
	assert.Contains(t, p.Text, "Content preview:")
	assert.Contains(t, p.Text, "widgets & gadgets")
	assert.NotContains(t, p.Text, "do not leak", "script bodies are dropped")
	assert.NotContains(t, p.Text, "Pricing", "nav content is dropped")
	assert.NotContains(t, p.Text, "Copyright", "footer content is dropped")

	assert.Equal(t, filepath.Join(dir, "website_1.png"), p.Screenshot)
	assert.FileExists(t, p.Screenshot)
	assert.Equal(t, []string{srv.URL}, browser.CapturedURLs())
}

func TestFetchTruncatesLongBody(t *testing.T) {
	long := strings.Repeat("word ", 400)
	srv := pageServer(t, http.StatusOK, "<html><body><p>"+long+"</p></body></html>")
	f := NewFetcher(nil, logging.NewNop()).WithHTTPClient(srv.Client())

	pages := f.Fetch(context.Background(), []string{srv.URL}, t.TempDir())
	require.Len(t, pages, 1)
	require.NoError(t, pages[0].Err)

	text := strings.TrimPrefix(pages[0].Text, "Content preview:\n")
	assert.True(t, strings.HasSuffix(text, "..."), "long body ends with ellipsis")
	assert.LessOrEqual(t, len([]rune(text)), maxTextRunes+3)
}

func TestFetchErrorStatus(t *testing.T) {
	srv := pageServer(t, http.StatusNotFound, "gone")
	browser := testutil.NewMockBrowser()
	f := NewFetcher(browser, logging.NewNop()).WithHTTPClient(srv.Client())

	pages := f.Fetch(context.Background(), []string{srv.URL}, t.TempDir())
	require.Len(t, pages, 1)

	require.Error(t, pages[0].Err)
	var derr *core.DomainError
	require.True(t, errors.As(pages[0].Err, &derr))
	assert.Equal(t, "WEB_FETCH_FAILED", derr.Code)
	assert.Equal(t, 0, browser.CallCount("Capture"), "failed pages are not screenshotted")
}

func TestFetchUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := srv.Client()
	url := srv.URL
	srv.Close()

	f := NewFetcher(nil, logging.NewNop()).WithHTTPClient(client)
	pages := f.Fetch(context.Background(), []string{url}, t.TempDir())
	require.Len(t, pages, 1)
	assert.Error(t, pages[0].Err)
	assert.True(t, core.IsCategory(pages[0].Err, core.ErrCatNetwork))
}

func TestFetchCapsPageCount(t *testing.T) {
	srv := pageServer(t, http.StatusOK, samplePage)
	f := NewFetcher(testutil.NewMockBrowser(), logging.NewNop()).WithHTTPClient(srv.Client())
	dir := t.TempDir()

	urls := make([]string, 7)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/page/%d", srv.URL, i)
	}

	pages := f.Fetch(context.Background(), urls, dir)
	require.Len(t, pages, maxPages)
	assert.Equal(t, filepath.Join(dir, "website_5.png"), pages[4].Screenshot)
}

func TestFetchWithoutBrowser(t *testing.T) {
	srv := pageServer(t, http.StatusOK, samplePage)
	f := NewFetcher(nil, logging.NewNop()).WithHTTPClient(srv.Client())

	pages := f.Fetch(context.Background(), []string{srv.URL}, t.TempDir())
	require.Len(t, pages, 1)
	require.NoError(t, pages[0].Err)
	assert.Empty(t, pages[0].Screenshot)
	assert.Contains(t, pages[0].Text, "# Welcome to Acme")
}

func TestFetchScreenshotFailureKeepsText(t *testing.T) {
	srv := pageServer(t, http.StatusOK, samplePage)
	browser := testutil.NewMockBrowser().WithError(errors.New("chromium crashed"))
	f := NewFetcher(browser, logging.NewNop()).WithHTTPClient(srv.Client())

	pages := f.Fetch(context.Background(), []string{srv.URL}, t.TempDir())
	require.Len(t, pages, 1)
	require.NoError(t, pages[0].Err)
	assert.Empty(t, pages[0].Screenshot)
	assert.Contains(t, pages[0].Text, "# Welcome to Acme")
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "headings without body",
			html: "<html><h1>Alpha</h1><h3>Beta</h3></html>",
			want: "# Alpha\n### Beta",
		},
		{
			name: "headings repeat in the preview",
			html: "<html><body><h1>Alpha</h1><p>more</p></body></html>",
			want: "# Alpha\n\nContent preview:\nAlpha more",
		},
		{
			name: "no content",
			html: "<html><head><title>bare</title></head></html>",
			want: "No text content extracted",
		},
		{
			name: "text only",
			html: "<html><body><p>just   some\n\ntext</p></body></html>",
			want: "Content preview:\njust some text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractText(tt.html))
		})
	}
}

func TestExtractTitleMissing(t *testing.T) {
	assert.Empty(t, extractTitle("<html><body>untitled</body></html>"))
}
