// Package validate type-checks a task's working tree after each editing
// pass. Findings feed the repair prompt; a tree that cannot be checked
// passes by definition.
package validate

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

	"github.com/bryanowens-dev/walker/internal/logging"
)

// Kind is a detected project flavor.
type Kind string

const (
	KindNode   Kind = "node"
	KindPython Kind = "python"
	KindGo     Kind = "go"
	KindRust   Kind = "rust"
)

const (
	installTimeout = 180 * time.Second
	checkTimeout   = 120 * time.Second
	buildTimeout   = 300 * time.Second
)

// Result is one validator invocation's outcome. A nonzero compiler exit
// is reported through ExitCode; the error return is reserved for
// commands that could not run at all.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a validator command in a directory. Tests substitute
// a fake.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// ExecRunner is the production Runner.
type ExecRunner struct{}

// Run executes name with args in dir, capturing both output streams.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// Report aggregates one validation pass.
type Report struct {
	OK     bool
	Errors []string
	Kinds  []Kind
}

// Gate runs the per-language type checkers available in the tree.
// Missing toolchains are not findings: only a checker that ran and
// exited nonzero produces errors.
type Gate struct {
	dir    string
	runner Runner
	logger *logging.Logger
}

// NewGate creates a gate over the working tree at dir.
func NewGate(dir string, logger *logging.Logger) *Gate {
	return &Gate{dir: dir, runner: ExecRunner{}, logger: logger}
}

// WithRunner substitutes the command runner.
func (g *Gate) WithRunner(r Runner) *Gate {
	g.runner = r
	return g
}

// Validate detects the project kinds in the tree and runs each kind's
// checker. changed is the task's changed-file list; the Python gate
// only fires when it contains .py files. A tree with no detectable
// validators passes.
func (g *Gate) Validate(ctx context.Context, changed []string) (Report, error) {
	report := Report{Kinds: g.detectKinds()}

	for _, kind := range report.Kinds {
		var (
			errs []string
			err  error
		)
		switch kind {
		case KindNode:
			errs, err = g.checkNode(ctx)
		case KindPython:
			errs, err = g.checkPython(ctx, changed)
		case KindGo:
			errs, err = g.checkTool(ctx, checkTimeout, "go", "vet", "./...")
		case KindRust:
			errs, err = g.checkTool(ctx, buildTimeout, "cargo", "check")
		}
		if err != nil {
			return Report{}, err
		}
		report.Errors = append(report.Errors, errs...)
	}

	report.OK = len(report.Errors) == 0
	if len(report.Kinds) == 0 {
		g.logger.Debug("no validators detected", "dir", g.dir)
	}
	return report, nil
}

// detectKinds inspects the tree root for language sentinel files.
// Multiple kinds are allowed; monorepos often mix them.
func (g *Gate) detectKinds() []Kind {
	var kinds []Kind
	if g.hasFile("package.json") {
		kinds = append(kinds, KindNode)
	}
	if g.hasFile("pyproject.toml") || g.hasFile("setup.py") || g.hasFile("requirements.txt") {
		kinds = append(kinds, KindPython)
	}
	if g.hasFile("go.mod") {
		kinds = append(kinds, KindGo)
	}
	if g.hasFile("Cargo.toml") {
		kinds = append(kinds, KindRust)
	}
	return kinds
}

func (g *Gate) hasFile(name string) bool {
	_, err := os.Stat(filepath.Join(g.dir, name))
	return err == nil
}

// checkNode installs dependencies when absent, locates the nearest
// tsconfig.json and type-checks that project. No tsconfig means no
// TypeScript to check.
func (g *Gate) checkNode(ctx context.Context) ([]string, error) {
	if !g.hasFile("node_modules") {
		if err := g.installDeps(ctx); err != nil {
			return nil, err
		}
	}

	tsDir, ok := g.findTSConfig()
	if !ok {
		g.logger.Debug("no tsconfig.json found, skipping type check", "dir", g.dir)
		return nil, nil
	}
	return g.checkTool(ctx, checkTimeout, "npx", "tsc", "--noEmit", "-p", tsDir)
}

// installDeps runs npm install with a hard bound. Install trouble is an
// environment problem, not a code finding, so failures only log.
func (g *Gate) installDeps(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	g.logger.Info("installing node dependencies", "dir", g.dir)
	res, err := g.runner.Run(cctx, g.dir, "npm", "install")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Warn("npm install did not run", "error", err)
		return nil
	}
	if res.ExitCode != 0 {
		g.logger.Warn("npm install failed", "exit", res.ExitCode, "stderr", tail(res.Stderr, 10))
	}
	return nil
}

// findTSConfig locates the type-check project: the repo root first,
// then the conventional monorepo locations.
func (g *Gate) findTSConfig() (string, bool) {
	candidates := []string{g.dir}
	for _, pattern := range []string{"apps/*", "packages/*"} {
		matches, _ := filepath.Glob(filepath.Join(g.dir, pattern))
		candidates = append(candidates, matches...)
	}
	for _, sub := range []string{"frontend", "web", "client"} {
		candidates = append(candidates, filepath.Join(g.dir, sub))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(filepath.Join(dir, "tsconfig.json")); err == nil && !info.IsDir() {
			return dir, true
		}
	}
	return "", false
}

// checkPython runs mypy over the task's changed .py files. Nothing
// changed in Python means nothing to check.
func (g *Gate) checkPython(ctx context.Context, changed []string) ([]string, error) {
	var pyFiles []string
	for _, f := range changed {
		if strings.HasSuffix(f, ".py") {
			pyFiles = append(pyFiles, f)
		}
	}
	if len(pyFiles) == 0 {
		return nil, nil
	}

	args := append([]string{"--ignore-missing-imports"}, pyFiles...)
	return g.checkTool(ctx, checkTimeout, "mypy", args...)
}

// checkTool runs one checker and classifies the outcome: tool missing
// or unable to start is a pass, nonzero exit is a finding carrying the
// verbatim output.
func (g *Gate) checkTool(ctx context.Context, timeout time.Duration, name string, args ...string) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := g.runner.Run(cctx, g.dir, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			g.logger.Warn("validator timed out", "tool", name, "timeout", timeout)
			return nil, nil
		}
		g.logger.Debug("validator unavailable", "tool", name, "error", err)
		return nil, nil
	}
	if res.ExitCode != 0 {
		out := strings.TrimSpace(res.Stdout + "\n" + res.Stderr)
		g.logger.Warn("validator found errors", "tool", name, "exit", res.ExitCode)
		return []string{fmt.Sprintf("%s %s:\n%s", name, strings.Join(args, " "), out)}, nil
	}

	g.logger.Debug("validator passed", "tool", name)
	return nil, nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
