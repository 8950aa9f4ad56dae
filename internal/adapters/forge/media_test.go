package forge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestMedia(runner *MockRunner) *Media {
	return NewMedia(newTestClient(runner), "walker-media", "main")
}

func TestMedia_EnsureBranch_AlreadyExists(t *testing.T) {
	runner := NewMockRunner()
	runner.OnCommand("gh api repos/acme/widgets/branches/walker-media").Return(`{"name": "walker-media"}`)

	media := newTestMedia(runner)
	if err := media.EnsureBranch(context.Background()); err != nil {
		t.Fatalf("EnsureBranch() error = %v", err)
	}
	if len(runner.Calls) != 1 {
		t.Errorf("expected only the branch probe, got %d calls", len(runner.Calls))
	}
}

func TestMedia_EnsureBranch_CreatesFromBase(t *testing.T) {
	runner := NewMockRunner()
	runner.OnCommand("gh api repos/acme/widgets/branches/walker-media").ReturnError(&RunError{
		Command: "gh api", Stderr: "gh: Not Found (HTTP 404)", Err: errors.New("exit status 1"),
	})
	runner.OnCommand("gh api repos/acme/widgets/git/ref/heads/main").Return(`{
		"ref": "refs/heads/main",
		"object": {"sha": "abc123def456"}
	}`)
	runner.OnCommand("gh api --method POST").Return(`{"ref": "refs/heads/walker-media"}`)

	media := newTestMedia(runner)
	if err := media.EnsureBranch(context.Background()); err != nil {
		t.Fatalf("EnsureBranch() error = %v", err)
	}

	call := runner.LastCall()
	if !hasArg(call.Args, "ref=refs/heads/walker-media") {
		t.Errorf("create args %v missing ref", call.Args)
	}
	if !hasArg(call.Args, "sha=abc123def456") {
		t.Errorf("create args %v missing base sha", call.Args)
	}
}

func TestMedia_EnsureBranch_LosesCreationRace(t *testing.T) {
	runner := NewMockRunner()
	runner.OnCommand("gh api repos/acme/widgets/branches/walker-media").ReturnError(&RunError{
		Command: "gh api", Stderr: "gh: Not Found (HTTP 404)", Err: errors.New("exit status 1"),
	})
	runner.OnCommand("gh api repos/acme/widgets/git/ref/heads/main").Return(`{"object": {"sha": "abc123"}}`)
	runner.OnCommand("gh api --method POST").ReturnError(&RunError{
		Command: "gh api", Stderr: "Reference already exists (HTTP 422)", Err: errors.New("exit status 1"),
	})

	media := newTestMedia(runner)
	if err := media.EnsureBranch(context.Background()); err != nil {
		t.Fatalf("EnsureBranch() error = %v, want nil when another worker won the race", err)
	}
}

// capturingRunner reads the --input payload during Run; the temp file is
// gone by the time Upload returns.
type capturingRunner struct {
	*MockRunner
	body []byte
}

func (r *capturingRunner) Run(ctx context.Context, env []string, name string, args ...string) (string, error) {
	if path := argAfter(args, "--input"); path != "" {
		r.body, _ = os.ReadFile(path)
	}
	return r.MockRunner.Run(ctx, env, name, args...)
}

func TestMedia_Upload(t *testing.T) {
	local := filepath.Join(t.TempDir(), "after_home.png")
	pngBytes := []byte("\x89PNG fake image data")
	if err := os.WriteFile(local, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	mock := NewMockRunner()
	mock.OnCommand("gh api --method PUT").Return(`{
		"content": {"download_url": "https://raw.githubusercontent.com/acme/widgets/walker-media/task-1/after_home.png"}
	}`)
	runner := &capturingRunner{MockRunner: mock}

	media := NewMedia(NewClient("acme/widgets", "ghp_orchestrator").WithRunner(runner), "walker-media", "main")
	url, err := media.Upload(context.Background(), local, "task-1/after_home.png")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if url != "https://raw.githubusercontent.com/acme/widgets/walker-media/task-1/after_home.png" {
		t.Errorf("Upload() url = %q", url)
	}

	call := mock.LastCall()
	if !strings.Contains(strings.Join(call.Args, " "), "repos/acme/widgets/contents/task-1/after_home.png") {
		t.Errorf("args %v missing contents path", call.Args)
	}

	var payload struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch"`
	}
	if err := json.Unmarshal(runner.body, &payload); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if payload.Branch != "walker-media" {
		t.Errorf("payload branch = %q, want walker-media", payload.Branch)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(payload.Content); string(decoded) != string(pngBytes) {
		t.Errorf("payload content does not round-trip to the local file")
	}
}

func TestMedia_Upload_FallsBackToConstructedURL(t *testing.T) {
	local := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(local, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := NewMockRunner()
	runner.OnCommand("gh api --method PUT").Return(`{"commit": {"sha": "abc"}}`)

	media := newTestMedia(runner)
	url, err := media.Upload(context.Background(), local, "task-2/shot.png")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	want := "https://raw.githubusercontent.com/acme/widgets/walker-media/task-2/shot.png"
	if url != want {
		t.Errorf("Upload() url = %q, want %q", url, want)
	}
}

func TestMedia_Upload_MissingLocalFile(t *testing.T) {
	runner := NewMockRunner()
	media := newTestMedia(runner)

	_, err := media.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.png"), "x.png")
	if err == nil {
		t.Fatal("expected error for missing local file")
	}
	if len(runner.Calls) != 0 {
		t.Errorf("expected no gh calls, got %d", len(runner.Calls))
	}
}
