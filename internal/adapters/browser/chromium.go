// Package browser renders URLs to PNGs by shelling out to headless
// chromium. No CDP session, no driver daemon: one process per shot.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// Candidate binary names, probed in order.
var defaultBinaries = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// fullPageWindowHeight bounds full-page shots. The CLI screenshots the
// window, not the document, so a taller window stands in for full page.
const fullPageWindowHeight = 3000

// execSlack covers chromium startup and PNG encode time beyond the
// page-load timeout.
const execSlack = 10 * time.Second

// CommandRunner abstracts process execution so tests can fake the
// browser.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs real processes, merging stdout and stderr: chromium
// logs diagnostics to both and only the file output matters.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Chromium implements core.BrowserDriver over the chromium CLI.
type Chromium struct {
	binary string
	runner CommandRunner
	logger *logging.Logger
}

// NewChromium creates a driver for the given binary path. An empty
// path probes the usual names on PATH.
func NewChromium(binary string, logger *logging.Logger) (*Chromium, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if binary == "" {
		found, err := Detect()
		if err != nil {
			return nil, err
		}
		binary = found
	}
	return &Chromium{
		binary: binary,
		runner: ExecRunner{},
		logger: logger.With("adapter", "browser"),
	}, nil
}

// WithRunner replaces the process runner. Used in tests.
func (c *Chromium) WithRunner(r CommandRunner) *Chromium {
	c.runner = r
	return c
}

// Detect probes PATH for a usable chromium binary.
func Detect() (string, error) {
	for _, name := range defaultBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", core.ErrNotFound("browser binary", strings.Join(defaultBinaries, ", "))
}

// Ping checks the binary exists and answers --version.
func (c *Chromium) Ping(ctx context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return core.ErrNotFound("browser binary", c.binary)
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := c.runner.Run(ctx, c.binary, "--version"); err != nil {
		return core.Wrap(err, core.ErrCatExecution, "BROWSER_UNUSABLE", "probing browser version")
	}
	return nil
}

// Capture renders url into a PNG at outPath. Zero-valued options fall
// back to the defaults. The shot is only trusted if chromium leaves a
// non-empty file behind: the CLI exits 0 on some render failures.
func (c *Chromium) Capture(ctx context.Context, url, outPath string, opts core.ShotOptions) error {
	opts = withDefaults(opts)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return core.Wrap(err, core.ErrCatExecution, "CAPTURE_FAILED", "creating screenshot directory")
	}
	// A stale file from an earlier shot must not pass for this one.
	if err := os.Remove(outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return core.Wrap(err, core.ErrCatExecution, "CAPTURE_FAILED", "clearing previous screenshot")
	}

	args := c.buildArgs(url, outPath, opts)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout+opts.SettleDelay+execSlack)
	defer cancel()

	c.logger.Debug("capturing screenshot", "url", url, "out", outPath)
	output, err := c.runner.Run(ctx, c.binary, args...)
	if err != nil {
		// exec kills on deadline and reports an ExitError, so the
		// context carries the real signal.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.ErrTimeout(fmt.Sprintf("capturing %s", url))
		}
		return core.Wrap(err, core.ErrCatExecution, "CAPTURE_FAILED",
			fmt.Sprintf("capturing %s: %s", url, tail(output, 300)))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return core.ErrExecution("CAPTURE_EMPTY", fmt.Sprintf("browser produced no image for %s", url))
	}
	return nil
}

func (c *Chromium) buildArgs(url, outPath string, opts core.ShotOptions) []string {
	height := opts.Height
	if opts.FullPage && height < fullPageWindowHeight {
		height = fullPageWindowHeight
	}
	return []string{
		"--headless=new",
		"--disable-gpu",
		"--no-sandbox",
		"--hide-scrollbars",
		"--disable-dev-shm-usage",
		fmt.Sprintf("--window-size=%d,%d", opts.Width, height),
		fmt.Sprintf("--screenshot=%s", outPath),
		fmt.Sprintf("--virtual-time-budget=%d", opts.SettleDelay.Milliseconds()),
		fmt.Sprintf("--timeout=%d", opts.Timeout.Milliseconds()),
		url,
	}
}

func withDefaults(o core.ShotOptions) core.ShotOptions {
	def := core.DefaultShotOptions()
	if o.Width <= 0 {
		o.Width = def.Width
	}
	if o.Height <= 0 {
		o.Height = def.Height
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = def.SettleDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	return o
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

var _ core.BrowserDriver = (*Chromium)(nil)
