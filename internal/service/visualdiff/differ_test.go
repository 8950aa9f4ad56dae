package visualdiff

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanowens-dev/walker/internal/logging"
	"github.com/bryanowens-dev/walker/internal/testutil"
)

// pageServer fakes a dev server: routes respond per the status map,
// anything else is a 404.
func pageServer(t *testing.T, statuses map[string]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, ok := statuses[r.URL.Path]
		if !ok {
			status = http.StatusNotFound
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCapture_HappyPath(t *testing.T) {
	srv := pageServer(t, map[string]int{"/": 200, "/about": 200})
	outDir := filepath.Join(testutil.TempDir(t), ".screenshots")

	browser := testutil.NewMockBrowser()
	media := testutil.NewMockMedia()
	d := NewDiffer(browser, media, outDir, logging.NewNop())

	shots, err := d.Capture(context.Background(), "before", srv.URL, []string{"/", "/about"})
	require.NoError(t, err)
	require.Len(t, shots, 2)

	assert.Equal(t, "/", shots[0].URL)
	assert.Equal(t, "home", shots[0].Label)
	assert.Equal(t, filepath.Join(outDir, "before_home.png"), shots[0].LocalPath)
	assert.Equal(t, "https://media.example.com/before_home.png", shots[0].RemoteURL)

	assert.Equal(t, "/about", shots[1].URL)
	assert.Equal(t, "before_about.png", filepath.Base(shots[1].LocalPath))

	// The browser rendered against the dev server, not the media host.
	for _, u := range browser.CapturedURLs() {
		assert.Contains(t, u, srv.URL)
	}
	// PNGs exist on disk for the git stage that follows.
	for _, s := range shots {
		_, err := os.Stat(s.LocalPath)
		assert.NoError(t, err)
	}
}

func TestCapture_SkipsErrorPages(t *testing.T) {
	srv := pageServer(t, map[string]int{"/": 200, "/broken": 500})
	outDir := testutil.TempDir(t)

	d := NewDiffer(testutil.NewMockBrowser(), testutil.NewMockMedia(), outDir, logging.NewNop())

	shots, err := d.Capture(context.Background(), "after", srv.URL, []string{"/", "/broken", "/missing"})
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.Equal(t, "/", shots[0].URL)
}

func TestCapture_HeadRejectedFallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := NewDiffer(testutil.NewMockBrowser(), testutil.NewMockMedia(), testutil.TempDir(t), logging.NewNop())

	shots, err := d.Capture(context.Background(), "before", srv.URL, []string{"/"})
	require.NoError(t, err)
	assert.Len(t, shots, 1)
}

func TestCapture_BrowserFailureSkipsPage(t *testing.T) {
	srv := pageServer(t, map[string]int{"/": 200})

	browser := testutil.NewMockBrowser().WithError(testutil.ErrTest)
	d := NewDiffer(browser, testutil.NewMockMedia(), testutil.TempDir(t), logging.NewNop())

	shots, err := d.Capture(context.Background(), "before", srv.URL, []string{"/"})
	require.NoError(t, err)
	assert.Empty(t, shots)
}

func TestCapture_UploadFailureKeepsLocalShot(t *testing.T) {
	srv := pageServer(t, map[string]int{"/": 200})

	media := testutil.NewMockMedia().WithUploadError(testutil.ErrTest)
	d := NewDiffer(testutil.NewMockBrowser(), media, testutil.TempDir(t), logging.NewNop())

	shots, err := d.Capture(context.Background(), "before", srv.URL, []string{"/"})
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.Empty(t, shots[0].RemoteURL)
	assert.NotEmpty(t, shots[0].LocalPath)
}

func TestCapture_ContextCancelled(t *testing.T) {
	srv := pageServer(t, map[string]int{"/": 200})

	d := NewDiffer(testutil.NewMockBrowser(), testutil.NewMockMedia(), testutil.TempDir(t), logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Capture(ctx, "before", srv.URL, []string{"/"})
	assert.Error(t, err)
}
