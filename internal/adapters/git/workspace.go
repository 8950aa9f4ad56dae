// Package git manages the per-task working tree: an authenticated
// clone, the task branch, and commits made under the dog identity.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

const (
	// PlaceholderFile seeds the task branch so the draft PR opens
	// against a non-empty diff. Removed again at finalization.
	PlaceholderFile = ".walker-task"

	// ImagesDir holds input images staged for the editing agent.
	ImagesDir = ".images"

	defaultTimeout = 30 * time.Second
	networkTimeout = 2 * time.Minute
	cloneTimeout   = 5 * time.Minute
)

// Runner executes git in a directory. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner is the production Runner, shelling out to the git binary.
type ExecRunner struct{}

// Run executes git with the given arguments in dir.
func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %s: %w",
			strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Workspace is one task's working tree. It is created empty, populated
// by Clone and removed by Cleanup; nothing outside the task touches it.
type Workspace struct {
	dir        string
	repo       string // "owner/repo"
	dog        core.Dog
	baseBranch string
	runner     Runner
	logger     *logging.Logger
}

// NewWorkspace creates a workspace rooted at dir for the given repo.
// dir does not need to exist yet; Clone creates it.
func NewWorkspace(dir, repo string, dog core.Dog, baseBranch string, logger *logging.Logger) *Workspace {
	return &Workspace{
		dir:        dir,
		repo:       repo,
		dog:        dog,
		baseBranch: baseBranch,
		runner:     ExecRunner{},
		logger:     logger,
	}
}

// WithRunner substitutes the command runner.
func (w *Workspace) WithRunner(r Runner) *Workspace {
	w.runner = r
	return w
}

// Dir returns the working tree path.
func (w *Workspace) Dir() string { return w.dir }

// BaseBranch returns the branch the task diffs against.
func (w *Workspace) BaseBranch() string { return w.baseBranch }

func (w *Workspace) cloneURL() string {
	return fmt.Sprintf("https://%s@github.com/%s.git", w.dog.Credential, w.repo)
}

// redact strips the dog credential from text destined for errors or
// logs. Git prints the remote URL, token included, on transport errors.
func (w *Workspace) redact(s string) string {
	if w.dog.Credential == "" {
		return s
	}
	return strings.ReplaceAll(s, w.dog.Credential, "***")
}

// run executes one git command inside the working tree with a bounded
// timeout.
func (w *Workspace) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := w.runner.Run(ctx, w.dir, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTimeout(fmt.Sprintf("git %s timed out after %s", args[0], timeout))
		}
		return "", err
	}
	return out, nil
}

// netErr converts a transport-boundary git failure into a retryable
// error with the credential redacted.
func (w *Workspace) netErr(err error, code, message string) error {
	if core.IsCategory(err, core.ErrCatTimeout) {
		return err
	}
	return core.Wrap(errors.New(w.redact(err.Error())), core.ErrCatNetwork, code, message)
}

// Clone fetches a fresh copy of the repository into the workspace dir
// and configures the dog's commit identity. An existing tree at the
// same path is replaced.
func (w *Workspace) Clone(ctx context.Context) error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("clearing workspace: %w", err)
	}
	parent := filepath.Dir(w.dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating workspace root: %w", err)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()
	if _, err := w.runner.Run(cloneCtx, parent, "clone", w.cloneURL(), w.dir); err != nil {
		if cloneCtx.Err() == context.DeadlineExceeded {
			return core.ErrTimeout("git clone timed out")
		}
		return w.netErr(err, "CLONE_FAILED", fmt.Sprintf("cloning %s", w.repo))
	}

	if _, err := w.run(ctx, defaultTimeout, "config", "user.name", w.dog.Name); err != nil {
		return err
	}
	if _, err := w.run(ctx, defaultTimeout, "config", "user.email", w.dog.Email); err != nil {
		return err
	}

	w.logger.Info("repository cloned", "repo", w.repo, "dir", w.dir, "dog", w.dog.Name)
	return nil
}

// CreateBranch checks out the base branch, pulls it up to date and
// branches off it.
func (w *Workspace) CreateBranch(ctx context.Context, name string) error {
	if _, err := w.run(ctx, defaultTimeout, "checkout", w.baseBranch); err != nil {
		return err
	}
	if _, err := w.run(ctx, networkTimeout, "pull", "origin", w.baseBranch); err != nil {
		return w.netErr(err, "PULL_FAILED", fmt.Sprintf("pulling %s", w.baseBranch))
	}
	if _, err := w.run(ctx, defaultTimeout, "checkout", "-b", name); err != nil {
		return err
	}
	w.logger.Info("branch created", "branch", name, "base", w.baseBranch)
	return nil
}

// Commit stages everything and commits. Returns false without error
// when the tree is clean.
func (w *Workspace) Commit(ctx context.Context, message string) (bool, error) {
	status, err := w.run(ctx, defaultTimeout, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if status == "" {
		w.logger.Debug("nothing to commit", "dir", w.dir)
		return false, nil
	}
	if _, err := w.run(ctx, defaultTimeout, "add", "-A"); err != nil {
		return false, err
	}
	if _, err := w.run(ctx, defaultTimeout, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// Push publishes the branch with upstream tracking.
func (w *Workspace) Push(ctx context.Context, branch string) error {
	if _, err := w.run(ctx, networkTimeout, "push", "-u", "origin", branch); err != nil {
		return w.netErr(err, "PUSH_FAILED", fmt.Sprintf("pushing %s", branch))
	}
	w.logger.Info("branch pushed", "branch", branch)
	return nil
}

// ChangedFiles lists the paths the task branch changed relative to the
// base branch. Workspace bookkeeping files are filtered out.
func (w *Workspace) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := w.run(ctx, defaultTimeout,
		"diff", "--name-only", fmt.Sprintf("origin/%s...HEAD", w.baseBranch))
	if err != nil {
		return nil, err
	}
	files := make([]string, 0)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == PlaceholderFile || line == ".gitkeep" {
			continue
		}
		files = append(files, line)
	}
	return files, nil
}

// DiffStat renders the branch diff as a per-file change summary.
func (w *Workspace) DiffStat(ctx context.Context) (string, error) {
	return w.run(ctx, defaultTimeout,
		"diff", "--stat", fmt.Sprintf("origin/%s...HEAD", w.baseBranch))
}

// RevCount counts commits on the task branch past the base branch.
func (w *Workspace) RevCount(ctx context.Context) (int, error) {
	out, err := w.run(ctx, defaultTimeout,
		"rev-list", "--count", fmt.Sprintf("origin/%s..HEAD", w.baseBranch))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, core.ErrExecution(core.CodeParseFailed,
			fmt.Sprintf("unexpected rev-list output %q", out))
	}
	return n, nil
}

// WritePlaceholder writes the task marker file at the tree root.
func (w *Workspace) WritePlaceholder(payload string) error {
	return os.WriteFile(filepath.Join(w.dir, PlaceholderFile), []byte(payload), 0o644)
}

// RemovePlaceholder deletes the task marker file. Missing is fine.
func (w *Workspace) RemovePlaceholder() error {
	err := os.Remove(filepath.Join(w.dir, PlaceholderFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StageImages writes input attachments under .images/ and returns their
// absolute paths in input order.
func (w *Workspace) StageImages(images []core.ImageAttachment) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	dir := filepath.Join(w.dir, ImagesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(images))
	for i, img := range images {
		name := filepath.Base(img.Filename)
		if name == "." || name == "/" || name == "" {
			name = fmt.Sprintf("image-%d%s", i+1, extForMime(img.Mime))
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, img.Data, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	w.logger.Info("images staged", "count", len(paths), "dir", dir)
	return paths, nil
}

// Subdir creates (if needed) and returns a task-owned directory inside
// the tree, such as ".screenshots" or ".web".
func (w *Workspace) Subdir(name string) (string, error) {
	dir := filepath.Join(w.dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Cleanup removes the working tree. Safe to call more than once.
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.dir)
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
