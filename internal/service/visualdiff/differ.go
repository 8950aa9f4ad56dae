package visualdiff

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

const (
	// warmUpTimeout bounds the blocking GET that lets compile-on-demand
	// frameworks build a page before it is screenshotted.
	warmUpTimeout = 15 * time.Second

	// validateTimeout bounds the HEAD/GET reachability check.
	validateTimeout = 10 * time.Second
)

// Shot is one captured page.
type Shot struct {
	// URL is the page path, e.g. "/settings".
	URL string
	// LocalPath is the PNG inside the working tree.
	LocalPath string
	// RemoteURL is the stable raw-content URL on the media branch.
	// Empty when the upload failed; the shot still exists locally.
	RemoteURL string
	// Label is the slug the file name derives from.
	Label string
}

// Differ captures page screenshots against a running dev server and
// uploads them to the media store.
type Differ struct {
	browser core.BrowserDriver
	media   core.MediaStore
	client  *http.Client
	outDir  string
	logger  *logging.Logger
}

// NewDiffer creates a differ writing PNGs under outDir.
func NewDiffer(browser core.BrowserDriver, media core.MediaStore, outDir string, logger *logging.Logger) *Differ {
	return &Differ{
		browser: browser,
		media:   media,
		client:  &http.Client{},
		outDir:  outDir,
		logger:  logger,
	}
}

// WithHTTPClient substitutes the warm-up/validation client.
func (d *Differ) WithHTTPClient(client *http.Client) *Differ {
	d.client = client
	return d
}

// Capture renders each URL against baseURL and uploads the PNGs. An
// unreachable or error-status page is skipped, not failed: one broken
// route must not cost the task its remaining screenshots.
func (d *Differ) Capture(ctx context.Context, prefix, baseURL string, urls []string) ([]Shot, error) {
	if err := d.media.EnsureBranch(ctx); err != nil {
		return nil, core.Wrap(err, core.ErrCatNetwork, "MEDIA_BRANCH", "ensuring media branch")
	}
	if err := os.MkdirAll(d.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating screenshot dir: %w", err)
	}

	base := strings.TrimRight(baseURL, "/")
	shots := make([]Shot, 0, len(urls))
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return shots, err
		}

		full := base + u
		d.warmUp(ctx, full)
		if !d.validate(ctx, full) {
			d.logger.Info("skipping unreachable page", "url", full)
			continue
		}

		slug := Slug(u)
		name := fmt.Sprintf("%s_%s.png", prefix, slug)
		local := filepath.Join(d.outDir, name)
		if err := d.browser.Capture(ctx, full, local, core.DefaultShotOptions()); err != nil {
			d.logger.Warn("screenshot failed", "url", full, "error", err)
			continue
		}

		shot := Shot{URL: u, LocalPath: local, Label: slug}
		remote, err := d.media.Upload(ctx, local, name)
		if err != nil {
			d.logger.Warn("screenshot upload failed", "file", name, "error", err)
		} else {
			shot.RemoteURL = remote
		}
		shots = append(shots, shot)
	}

	d.logger.Info("screenshots captured", "prefix", prefix, "count", len(shots), "requested", len(urls))
	return shots, nil
}

// warmUp blocks on one GET so the framework compiles the page before
// the screenshot. Failures only log; validation decides reachability.
func (d *Differ) warmUp(ctx context.Context, url string) {
	wctx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(wctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Debug("warm-up request failed", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
}

// validate checks the page answers without an error status. HEAD
// first; dev servers that reject HEAD with 405 get a GET instead.
func (d *Differ) validate(ctx context.Context, url string) bool {
	vctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	status, ok := d.statusOf(vctx, http.MethodHead, url)
	if ok && status == http.StatusMethodNotAllowed {
		status, ok = d.statusOf(vctx, http.MethodGet, url)
	}
	return ok && status < 400
}

func (d *Differ) statusOf(ctx context.Context, method, url string) (int, bool) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, true
}
