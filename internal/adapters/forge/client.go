package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
)

// Client implements core.ForgeClient over the gh CLI. Repo-scoped
// operations authenticate with the orchestrator token; invitation
// operations authenticate with the per-dog credential the caller
// passes in.
type Client struct {
	repo    string // "owner/repo"
	token   string
	runner  CommandRunner
	timeout time.Duration
}

// NewClient creates a client for one repository.
func NewClient(repo, token string) *Client {
	return &Client{
		repo:    repo,
		token:   token,
		runner:  NewExecRunner(),
		timeout: 60 * time.Second,
	}
}

// WithRunner substitutes the command runner.
func (c *Client) WithRunner(r CommandRunner) *Client {
	c.runner = r
	return c
}

// WithTimeout sets the per-command timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Repo returns "owner/repo".
func (c *Client) Repo() string {
	return c.repo
}

// run executes gh with the repo-scoped token.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	return c.runAs(ctx, c.token, args...)
}

// runAs executes gh with a specific credential.
func (c *Client) runAs(ctx context.Context, credential string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.runner.Run(ctx, []string{"GH_TOKEN=" + credential}, "gh", args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTimeout(fmt.Sprintf("gh %s timed out", args[0]))
		}
		return "", classify(err)
	}
	return out, nil
}

// classify maps a gh failure onto the error taxonomy by sniffing the
// HTTP status gh prints to stderr.
func classify(err error) error {
	var runErr *RunError
	if !errors.As(err, &runErr) {
		return err
	}
	stderr := strings.ToLower(runErr.Stderr)
	switch {
	case strings.Contains(stderr, "http 404") || strings.Contains(stderr, "not found"):
		return core.Wrap(err, core.ErrCatNotFound, "NOT_FOUND", runErr.Command)
	case strings.Contains(stderr, "http 401") || strings.Contains(stderr, "http 403") ||
		strings.Contains(stderr, "bad credentials"):
		return core.Wrap(err, core.ErrCatAuth, "AUTH_FAILED", runErr.Command)
	case strings.Contains(stderr, "http 5") || strings.Contains(stderr, "timeout") ||
		strings.Contains(stderr, "connection") || strings.Contains(stderr, "could not resolve"):
		return core.Wrap(err, core.ErrCatNetwork, "FORGE_UNAVAILABLE", runErr.Command)
	default:
		return err
	}
}

// Ping checks gh is installed and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.run(ctx, "auth", "status")
	return err
}

// CreatePR opens a pull request and returns it. The number is parsed
// from the URL gh prints, saving a follow-up view call.
func (c *Client) CreatePR(ctx context.Context, opts core.CreatePROptions) (*core.PullRequest, error) {
	args := []string{"pr", "create",
		"--repo", c.repo,
		"--title", opts.Title,
		"--body", opts.Body,
		"--base", opts.Base,
		"--head", opts.Head,
	}
	if opts.Draft {
		args = append(args, "--draft")
	}
	if opts.Assignee != "" {
		args = append(args, "--assignee", opts.Assignee)
	}

	url, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	return &core.PullRequest{
		Number:  prNumberFromURL(url),
		Title:   opts.Title,
		Body:    opts.Body,
		URL:     url,
		State:   "open",
		Draft:   opts.Draft,
		HeadRef: opts.Head,
		BaseRef: opts.Base,
	}, nil
}

// prNumberFromURL extracts the trailing number from a PR URL.
func prNumberFromURL(url string) int {
	parts := strings.Split(strings.TrimSpace(url), "/")
	var n int
	if len(parts) > 0 {
		fmt.Sscanf(parts[len(parts)-1], "%d", &n)
	}
	return n
}

// UpdatePR edits title and/or body. Empty fields are left alone; both
// empty is a no-op.
func (c *Client) UpdatePR(ctx context.Context, number int, title, body string) error {
	if title == "" && body == "" {
		return nil
	}
	args := []string{"pr", "edit", fmt.Sprintf("%d", number), "--repo", c.repo}
	if title != "" {
		args = append(args, "--title", title)
	}
	if body != "" {
		args = append(args, "--body", body)
	}
	_, err := c.run(ctx, args...)
	return err
}

// MarkReady flips a draft PR to ready for review.
func (c *Client) MarkReady(ctx context.Context, number int) error {
	_, err := c.run(ctx, "pr", "ready", fmt.Sprintf("%d", number), "--repo", c.repo)
	return err
}

// BranchExists probes for a remote branch. A 404 is a clean "no".
func (c *Client) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := c.run(ctx, "api", fmt.Sprintf("repos/%s/branches/%s", c.repo, name))
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DefaultBranch returns the repository's default branch name.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "repo", "view", c.repo, "--json", "defaultBranchRef")
	if err != nil {
		return "", err
	}

	var data struct {
		DefaultBranchRef struct {
			Name string `json:"name"`
		} `json:"defaultBranchRef"`
	}
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		return "", fmt.Errorf("parsing default branch: %w", err)
	}
	return data.DefaultBranchRef.Name, nil
}

// PendingInvitations lists repository invitations waiting on the dog
// account that owns the credential.
func (c *Client) PendingInvitations(ctx context.Context, credential string) ([]core.Invitation, error) {
	out, err := c.runAs(ctx, credential, "api", "user/repository_invitations")
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID         int64 `json:"id"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		Inviter struct {
			Login string `json:"login"`
		} `json:"inviter"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parsing invitations: %w", err)
	}

	invs := make([]core.Invitation, len(raw))
	for i, inv := range raw {
		invs[i] = core.Invitation{
			ID:      inv.ID,
			Repo:    inv.Repository.FullName,
			Inviter: inv.Inviter.Login,
		}
	}
	return invs, nil
}

// AcceptInvitation accepts one invitation as the dog account.
func (c *Client) AcceptInvitation(ctx context.Context, credential string, id int64) error {
	_, err := c.runAs(ctx, credential, "api", "--method", "PATCH",
		fmt.Sprintf("user/repository_invitations/%d", id))
	return err
}

var _ core.ForgeClient = (*Client)(nil)
