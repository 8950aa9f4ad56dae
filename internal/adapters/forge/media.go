package forge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bryanowens-dev/walker/internal/core"
)

// Media hosts PR-body images on a dedicated branch of the target
// repository, written through the contents API so no local checkout is
// needed.
type Media struct {
	client *Client
	branch string
	base   string
}

// NewMedia creates a media store on branch, created from base when
// missing.
func NewMedia(client *Client, branch, base string) *Media {
	return &Media{client: client, branch: branch, base: base}
}

// EnsureBranch creates the media branch from the base tip if it does
// not exist. Losing the creation race to another worker is fine.
func (m *Media) EnsureBranch(ctx context.Context) error {
	exists, err := m.client.BranchExists(ctx, m.branch)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	out, err := m.client.run(ctx, "api",
		fmt.Sprintf("repos/%s/git/ref/heads/%s", m.client.repo, m.base))
	if err != nil {
		return err
	}
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := json.Unmarshal([]byte(out), &ref); err != nil {
		return fmt.Errorf("parsing base ref: %w", err)
	}

	_, err = m.client.run(ctx, "api", "--method", "POST",
		fmt.Sprintf("repos/%s/git/refs", m.client.repo),
		"-f", "ref=refs/heads/"+m.branch,
		"-f", "sha="+ref.Object.SHA)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	return err
}

// Upload stores a local file at remoteName on the media branch and
// returns a stable raw-content URL. The request body travels through a
// temp file; base64 image payloads do not fit in an argv entry.
func (m *Media) Upload(ctx context.Context, localPath, remoteName string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", localPath, err)
	}

	payload := struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch"`
	}{
		Message: "walker: add " + remoteName,
		Content: base64.StdEncoding.EncodeToString(data),
		Branch:  m.branch,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "walker-upload-*.json")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	out, err := m.client.run(ctx, "api", "--method", "PUT",
		fmt.Sprintf("repos/%s/contents/%s", m.client.repo, remoteName),
		"--input", tmp.Name())
	if err != nil {
		return "", err
	}

	var resp struct {
		Content struct {
			DownloadURL string `json:"download_url"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err == nil && resp.Content.DownloadURL != "" {
		return resp.Content.DownloadURL, nil
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s",
		m.client.repo, m.branch, remoteName), nil
}

var _ core.MediaStore = (*Media)(nil)
