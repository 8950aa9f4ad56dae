package core

import (
	"context"
	"time"
)

// =============================================================================
// CoordinationStore Port
// =============================================================================

// CoordinationStore is the typed layer over the shared key-value store.
// It binds chat threads to tasks, tracks per-dog load, carries the
// cancellation flag and buffers thread messages for the workers.
//
// Status queries (ActiveTaskCount, Cancellation reads) degrade on store
// outage: implementations return zero values and log instead of failing.
// Signal writes (SetCancellation, BindThread) propagate errors.
type CoordinationStore interface {
	// Dog load accounting over walker:active_tasks:{dog}.
	AddActiveTask(ctx context.Context, dog, taskID string) error
	RemoveActiveTask(ctx context.Context, dog, taskID string) (bool, error)
	ActiveTaskCount(ctx context.Context, dog string) (int64, error)

	// Cancellation flag over walker:cancel:{task_id}, TTL one hour.
	SetCancellation(ctx context.Context, taskID string, c Cancellation) error
	Cancellation(ctx context.Context, taskID string) (*Cancellation, error)
	ClearCancellation(ctx context.Context, taskID string) error

	// Thread binding over walker:thread_task:{thread_ts}.
	BindThread(ctx context.Context, threadTS, taskID string) error
	ThreadTask(ctx context.Context, threadTS string) (string, error)
	UnbindThread(ctx context.Context, threadTS string) error

	// Thread inbox over walker:thread_messages:{thread_ts}, TTL one day.
	AppendThreadMessage(ctx context.Context, threadTS string, msg ThreadMessage) error
	ThreadMessages(ctx context.Context, threadTS string, from int64) ([]ThreadMessage, error)

	// ServerTime returns the store's clock, used for cancellation stamps.
	ServerTime(ctx context.Context) (time.Time, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// =============================================================================
// ChatClient Port
// =============================================================================

// ChatClient is the outgoing half of the chat platform adapter.
type ChatClient interface {
	// PostMessage posts text into a thread. Returns the message timestamp.
	PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error)

	// PostBlocks posts a rich message (section text plus optional action
	// buttons). Returns the message timestamp.
	PostBlocks(ctx context.Context, channelID, threadTS string, blocks MessageBlocks) (string, error)

	// UpdateMessage replaces an existing message's text and blocks.
	UpdateMessage(ctx context.Context, channelID, messageTS string, blocks MessageBlocks) error

	// AddReaction adds an emoji reaction to a message.
	AddReaction(ctx context.Context, channelID, messageTS, name string) error

	// UserDisplayName resolves a user id to a display name, falling back
	// through profile fields to "Unknown User".
	UserDisplayName(ctx context.Context, userID string) string

	// AuthIdentity returns the bot's own user id.
	AuthIdentity(ctx context.Context) (string, error)
}

// MessageBlocks is a platform-neutral rich message: markdown text plus
// optional action buttons.
type MessageBlocks struct {
	Text    string
	Buttons []MessageButton
}

// MessageButton is one interactive button on a message.
type MessageButton struct {
	Label    string
	ActionID string
	Value    string
	Style    string // "", "primary", "danger"
}

// =============================================================================
// ForgeClient Port
// =============================================================================

// ForgeClient is the code-forge adapter: pull requests, branch probes
// and user-level repository invitations.
type ForgeClient interface {
	CreatePR(ctx context.Context, opts CreatePROptions) (*PullRequest, error)
	UpdatePR(ctx context.Context, number int, title, body string) error
	MarkReady(ctx context.Context, number int) error
	BranchExists(ctx context.Context, name string) (bool, error)
	DefaultBranch(ctx context.Context) (string, error)

	// Invitations are user-level: they use the dog credential, not the
	// repo-scoped token.
	PendingInvitations(ctx context.Context, credential string) ([]Invitation, error)
	AcceptInvitation(ctx context.Context, credential string, id int64) error
}

// CreatePROptions configures pull request creation.
type CreatePROptions struct {
	Title    string
	Body     string
	Head     string
	Base     string
	Draft    bool
	Assignee string
}

// PullRequest represents a pull request on the forge.
type PullRequest struct {
	Number  int
	Title   string
	Body    string
	URL     string
	State   string
	Draft   bool
	HeadRef string
	BaseRef string
}

// Invitation is a pending repository invitation for a dog account.
type Invitation struct {
	ID      int64
	Repo    string
	Inviter string
}

// =============================================================================
// MediaStore Port
// =============================================================================

// MediaStore hosts image blobs that PR bodies reference. The production
// implementation is a dedicated branch of the target repository.
type MediaStore interface {
	// EnsureBranch creates the media branch from the default branch if it
	// does not exist. Idempotent.
	EnsureBranch(ctx context.Context) error

	// Upload stores a local file under remoteName and returns a stable
	// raw-content URL.
	Upload(ctx context.Context, localPath, remoteName string) (string, error)
}

// =============================================================================
// EditingAgent Port
// =============================================================================

// EditingAgent is the black-box code editor: given a prompt and a
// working tree, it produces commits.
type EditingAgent interface {
	// Name returns the adapter identifier (e.g. "claude").
	Name() string

	// Ping checks the agent CLI is installed and authenticated.
	Ping(ctx context.Context) error

	// Execute runs one editing pass in opts.WorkDir.
	Execute(ctx context.Context, opts EditOptions) (*EditResult, error)
}

// EditOptions configures one editing-agent invocation.
type EditOptions struct {
	Prompt     string
	WorkDir    string
	Model      string
	Timeout    time.Duration
	ImagePaths []string
}

// EditResult is the raw agent outcome before the façade inspects the
// working tree.
type EditResult struct {
	Output    string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Model     string
	Duration  time.Duration
}

// =============================================================================
// TextGenerator Port
// =============================================================================

// TextGenerator produces prose (titles, plans, PR bodies) as opposed to
// working-tree edits.
type TextGenerator interface {
	Generate(ctx context.Context, req TextRequest) (*TextResult, error)
}

// TextRequest is one text-generation call.
type TextRequest struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
}

// TextResult carries the generated text and its token usage for the
// cost ledger.
type TextResult struct {
	Text      string
	TokensIn  int
	TokensOut int
	Model     string
}

// =============================================================================
// BrowserDriver Port
// =============================================================================

// BrowserDriver renders a URL to a PNG.
type BrowserDriver interface {
	Capture(ctx context.Context, url, outPath string, opts ShotOptions) error
}

// ShotOptions configures a screenshot.
type ShotOptions struct {
	Width       int
	Height      int
	FullPage    bool
	SettleDelay time.Duration
	Timeout     time.Duration
}

// DefaultShotOptions matches the before/after capture settings.
func DefaultShotOptions() ShotOptions {
	return ShotOptions{
		Width:       1920,
		Height:      1080,
		FullPage:    true,
		SettleDelay: 2 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// =============================================================================
// SearchProvider Port
// =============================================================================

// SearchProvider is the web search collaborator.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// SearchResult is one search hit.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// =============================================================================
// JobQueue Port
// =============================================================================

// JobProducer enqueues task payloads for the worker pool.
type JobProducer interface {
	Enqueue(ctx context.Context, payload TaskPayload) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
