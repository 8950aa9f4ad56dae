package devserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

const (
	probeInterval = 2 * time.Second
	stopGrace     = 10 * time.Second
)

// cacheDirs are the build caches removed before an "after" start, so
// stale artifacts cannot mask the task's changes.
var cacheDirs = []string{".next", ".vite", "dist", ".cache", "out"}

// scriptPriority is the order package.json scripts are tried.
var scriptPriority = []string{"dev", "start", "develop", "serve"}

// Options configures one server start.
type Options struct {
	// PreferredPort overrides the framework default. Zero picks from
	// the detected framework.
	PreferredPort int
	// ClearCache removes known build caches before starting.
	ClearCache bool
}

// Config tunes the controller.
type Config struct {
	// AltPorts are tried in order when the preferred port is busy.
	AltPorts []int
	// InstallTimeout bounds the dependency install.
	InstallTimeout time.Duration
	// ReadyTimeout bounds the whole wait for the first HTTP answer.
	ReadyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.AltPorts) == 0 {
		c.AltPorts = []int{3001, 3002, 4000, 5000, 8080, 8081}
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = 180 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 5 * time.Minute
	}
	return c
}

// Server is a running dev server. Stop terminates its whole process
// group; dev servers fork watchers and bundlers that must not survive
// the task.
type Server struct {
	URL  string
	Port int

	cmd      *exec.Cmd
	waitCh   chan error
	monitor  *Monitor
	logger   *logging.Logger
	stopOnce sync.Once
}

// Stop shuts the server down: SIGTERM to the group, SIGKILL after the
// grace period. Safe to call more than once, and on a server that never
// started a child.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if s.logger != nil {
			s.logger.Info("stopping dev server", "port", s.Port)
		}
		s.terminate(ctx, stopGrace)
	})
	return nil
}

// Controller starts a project's dev server inside the working tree and
// waits for it to answer HTTP.
type Controller struct {
	dir    string
	cfg    Config
	clock  core.Clock
	client *http.Client
	logger *logging.Logger
}

// NewController creates a controller over the working tree at dir.
func NewController(dir string, cfg Config, logger *logging.Logger) *Controller {
	return &Controller{
		dir:    dir,
		cfg:    cfg.withDefaults(),
		clock:  core.SystemClock{},
		client: &http.Client{},
		logger: logger,
	}
}

// WithClock substitutes the clock.
func (c *Controller) WithClock(clock core.Clock) *Controller {
	c.clock = clock
	return c
}

// Start launches the dev server and blocks until it answers HTTP or a
// failure rule fires. The returned server is ready for captures.
func (c *Controller) Start(ctx context.Context, opts Options) (*Server, error) {
	pkg, err := readPackageJSON(c.dir)
	if err != nil {
		return nil, core.ErrExecution("NO_DEV_SCRIPT", "no readable package.json in working tree").WithCause(err)
	}
	script, ok := pkg.devScript()
	if !ok {
		return nil, core.ErrExecution("NO_DEV_SCRIPT", "package.json has no dev/start/develop/serve script")
	}

	preferred := opts.PreferredPort
	if preferred == 0 {
		preferred = pkg.frameworkPort()
	}
	port, err := c.pickPort(preferred)
	if err != nil {
		return nil, err
	}

	if opts.ClearCache {
		c.clearCache()
	}
	if err := c.ensureDeps(ctx); err != nil {
		return nil, err
	}

	cmd := exec.Command("npm", "run", script)
	cmd.Dir = c.dir
	// BROWSER=none stops CRA-style scripts opening a desktop browser.
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", port), "BROWSER=none")
	configureProcAttr(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	monitor := NewMonitor(c.clock)
	if err := cmd.Start(); err != nil {
		return nil, core.Wrap(err, core.ErrCatExecution, "DEVSERVER_START", "starting dev server")
	}

	srv := &Server{
		URL:     fmt.Sprintf("http://localhost:%d", port),
		Port:    port,
		cmd:     cmd,
		waitCh:  make(chan error, 1),
		monitor: monitor,
		logger:  c.logger,
	}

	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			monitor.Observe(line)
			c.logger.Debug("devserver", "line", line)
		}
	}()
	go func() {
		err := cmd.Wait()
		pw.Close()
		srv.waitCh <- err
	}()

	c.logger.Info("dev server starting", "script", script, "port", port, "clear_cache", opts.ClearCache)

	if err := c.awaitReady(ctx, srv); err != nil {
		_ = srv.Stop(context.Background())
		return nil, err
	}
	c.logger.Info("dev server ready", "url", srv.URL)
	return srv, nil
}

// awaitReady polls HTTP until the server answers, a failure rule fires,
// the child exits, or the overall deadline passes.
func (c *Controller) awaitReady(ctx context.Context, srv *Server) error {
	deadline := c.clock.Now().Add(c.cfg.ReadyTimeout)
	for {
		select {
		case exitErr := <-srv.waitCh:
			c.logFailure(srv, FailExit)
			return core.ErrExecution(FailExit.Code(),
				fmt.Sprintf("dev server exited before ready: %v", exitErr))
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if fail := srv.monitor.Check(); fail != FailNone {
			c.logFailure(srv, fail)
			return failureErr(fail, srv.monitor.Tail())
		}

		if c.probe(ctx, srv) {
			return nil
		}

		if c.clock.Now().After(deadline) {
			c.logFailure(srv, FailRuntimeHang)
			return core.ErrTimeout(fmt.Sprintf("dev server not ready after %s", c.cfg.ReadyTimeout))
		}
		if err := c.clock.Sleep(ctx, probeInterval); err != nil {
			return err
		}
	}
}

// probe issues one GET with the monitor's adaptive timeout. Any HTTP
// answer means the server is up; only timeouts feed the hang counter,
// a refused connection is just a server that is not listening yet.
func (c *Controller) probe(ctx context.Context, srv *Server) bool {
	pctx, cancel := context.WithTimeout(ctx, srv.monitor.ProbeWindow())
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			srv.monitor.ProbeTimedOut()
			c.logger.Debug("dev server probe timed out", "url", srv.URL)
		}
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	srv.monitor.ProbeSucceeded()
	return true
}

func (c *Controller) logFailure(srv *Server, fail Failure) {
	c.logger.Error("dev server failed",
		"failure", fail.String(),
		"port", srv.Port,
		"output", strings.Join(srv.monitor.Tail(), "\n"))
}

// failureErr converts a classified failure into its domain error. The
// output tail rides along for the repair prompt.
func failureErr(fail Failure, tail []string) error {
	return core.ErrExecution(fail.Code(), fmt.Sprintf("dev server failure: %s", fail)).
		WithDetail("output", strings.Join(tail, "\n"))
}

// pickPort returns the first free port: preferred, then the fixed
// alternatives.
func (c *Controller) pickPort(preferred int) (int, error) {
	candidates := append([]int{preferred}, c.cfg.AltPorts...)
	for _, port := range candidates {
		if portFree(port) {
			return port, nil
		}
	}
	return 0, core.ErrExecution(core.CodeNoFreePort, fmt.Sprintf("no free port among %v", candidates))
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

func (c *Controller) clearCache() {
	for _, name := range cacheDirs {
		if err := os.RemoveAll(filepath.Join(c.dir, name)); err != nil {
			c.logger.Warn("cache clear failed", "dir", name, "error", err)
		}
	}
	c.logger.Info("build caches cleared", "dir", c.dir)
}

// ensureDeps installs node dependencies when node_modules is absent.
// Unlike the validation gate, a failed install here is fatal: the
// server cannot start without its dependencies.
func (c *Controller) ensureDeps(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(c.dir, "node_modules")); err == nil {
		return nil
	}

	ictx, cancel := context.WithTimeout(ctx, c.cfg.InstallTimeout)
	defer cancel()

	c.logger.Info("installing dependencies for dev server", "dir", c.dir)
	cmd := exec.CommandContext(ictx, "npm", "install")
	cmd.Dir = c.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ictx.Err() == context.DeadlineExceeded {
			return core.ErrTimeout(fmt.Sprintf("npm install timed out after %s", c.cfg.InstallTimeout))
		}
		return core.Wrap(err, core.ErrCatExecution, "INSTALL_FAILED", lastLines(string(out), 10))
	}
	return nil
}

// packageJSON is the subset of package.json the controller reads.
type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func readPackageJSON(dir string) (*packageJSON, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, err
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parsing package.json: %w", err)
	}
	return &pkg, nil
}

// devScript picks the script to run, in fixed priority order.
func (p *packageJSON) devScript() (string, bool) {
	for _, name := range scriptPriority {
		if _, ok := p.Scripts[name]; ok {
			return name, true
		}
	}
	return "", false
}

func (p *packageJSON) hasDep(name string) bool {
	if _, ok := p.Dependencies[name]; ok {
		return true
	}
	_, ok := p.DevDependencies[name]
	return ok
}

// frameworkPort guesses the port the project's framework defaults to.
func (p *packageJSON) frameworkPort() int {
	switch {
	case p.hasDep("next"):
		return 3000
	case p.hasDep("vite"):
		return 5173
	case p.hasDep("react-scripts"):
		return 3000
	case p.hasDep("@angular/core"):
		return 4200
	case p.hasDep("vue") || p.hasDep("@vue/cli-service"):
		return 8080
	default:
		return 3000
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
