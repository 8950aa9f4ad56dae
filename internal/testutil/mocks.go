// Package testutil provides hand-written fakes for the core ports.
// Every fake records its calls and accepts With* overrides, so tests
// can both script behavior and assert interactions.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
)

// MockCall records a call to a mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// callRecorder is embedded by the mocks for shared call bookkeeping.
type callRecorder struct {
	mu    sync.Mutex
	calls []MockCall
}

func (r *callRecorder) recordCall(method string, args interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// Calls returns recorded calls.
func (r *callRecorder) Calls() []MockCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MockCall{}, r.calls...)
}

// CallCount returns the number of calls to a method.
func (r *callRecorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, c := range r.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears call history.
func (r *callRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// =============================================================================
// MockStore
// =============================================================================

// MockStore implements core.CoordinationStore in memory.
type MockStore struct {
	callRecorder

	mu       sync.Mutex
	active   map[string]map[string]bool
	cancels  map[string]core.Cancellation
	threads  map[string]string
	inbox    map[string][]core.ThreadMessage
	now      time.Time
	pingErr  error
	countErr error
	writeErr error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		active:  make(map[string]map[string]bool),
		cancels: make(map[string]core.Cancellation),
		threads: make(map[string]string),
		inbox:   make(map[string][]core.ThreadMessage),
		now:     time.Date(2025, 6, 3, 14, 41, 7, 0, time.UTC),
	}
}

// WithLoad seeds n synthetic active tasks for a dog.
func (m *MockStore) WithLoad(dog string, n int) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		set[fmt.Sprintf("seed-task-%d", i)] = true
	}
	m.active[dog] = set
	return m
}

// WithPingError makes Ping fail, simulating a store outage.
func (m *MockStore) WithPingError(err error) *MockStore {
	m.pingErr = err
	return m
}

// WithCountError makes ActiveTaskCount fail.
func (m *MockStore) WithCountError(err error) *MockStore {
	m.countErr = err
	return m
}

// WithWriteError makes every mutating call fail.
func (m *MockStore) WithWriteError(err error) *MockStore {
	m.writeErr = err
	return m
}

// WithTime pins the store clock.
func (m *MockStore) WithTime(t time.Time) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
	return m
}

func (m *MockStore) AddActiveTask(ctx context.Context, dog, taskID string) error {
	m.recordCall("AddActiveTask", []string{dog, taskID})
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[dog] == nil {
		m.active[dog] = make(map[string]bool)
	}
	m.active[dog][taskID] = true
	return nil
}

func (m *MockStore) RemoveActiveTask(ctx context.Context, dog, taskID string) (bool, error) {
	m.recordCall("RemoveActiveTask", []string{dog, taskID})
	if m.writeErr != nil {
		return false, m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active[dog][taskID] {
		return false, nil
	}
	delete(m.active[dog], taskID)
	return true, nil
}

func (m *MockStore) ActiveTaskCount(ctx context.Context, dog string) (int64, error) {
	m.recordCall("ActiveTaskCount", dog)
	if m.countErr != nil {
		return 0, m.countErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.active[dog])), nil
}

// ActiveTasks returns the dog's live task ids, sorted.
func (m *MockStore) ActiveTasks(dog string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := make([]string, 0, len(m.active[dog]))
	for id := range m.active[dog] {
		tasks = append(tasks, id)
	}
	sort.Strings(tasks)
	return tasks
}

func (m *MockStore) SetCancellation(ctx context.Context, taskID string, c core.Cancellation) error {
	m.recordCall("SetCancellation", taskID)
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[taskID] = c
	return nil
}

func (m *MockStore) Cancellation(ctx context.Context, taskID string) (*core.Cancellation, error) {
	m.recordCall("Cancellation", taskID)
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cancels[taskID]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (m *MockStore) ClearCancellation(ctx context.Context, taskID string) error {
	m.recordCall("ClearCancellation", taskID)
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, taskID)
	return nil
}

func (m *MockStore) BindThread(ctx context.Context, threadTS, taskID string) error {
	m.recordCall("BindThread", []string{threadTS, taskID})
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadTS] = taskID
	return nil
}

func (m *MockStore) ThreadTask(ctx context.Context, threadTS string) (string, error) {
	m.recordCall("ThreadTask", threadTS)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threads[threadTS], nil
}

func (m *MockStore) UnbindThread(ctx context.Context, threadTS string) error {
	m.recordCall("UnbindThread", threadTS)
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadTS)
	return nil
}

func (m *MockStore) AppendThreadMessage(ctx context.Context, threadTS string, msg core.ThreadMessage) error {
	m.recordCall("AppendThreadMessage", msg)
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox[threadTS] = append(m.inbox[threadTS], msg)
	return nil
}

func (m *MockStore) ThreadMessages(ctx context.Context, threadTS string, from int64) ([]core.ThreadMessage, error) {
	m.recordCall("ThreadMessages", []interface{}{threadTS, from})
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.inbox[threadTS]
	if from >= int64(len(msgs)) {
		return nil, nil
	}
	if from < 0 {
		from = 0
	}
	return append([]core.ThreadMessage{}, msgs[from:]...), nil
}

func (m *MockStore) ServerTime(ctx context.Context) (time.Time, error) {
	m.recordCall("ServerTime", nil)
	if m.pingErr != nil {
		return time.Time{}, m.pingErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now, nil
}

func (m *MockStore) Ping(ctx context.Context) error {
	m.recordCall("Ping", nil)
	return m.pingErr
}

var _ core.CoordinationStore = (*MockStore)(nil)

// =============================================================================
// MockChat
// =============================================================================

// PostedMessage is one recorded chat post.
type PostedMessage struct {
	ChannelID string
	ThreadTS  string
	Text      string
	Blocks    *core.MessageBlocks
	MessageTS string
}

// MockChat implements core.ChatClient, recording every post.
type MockChat struct {
	callRecorder

	mu           sync.Mutex
	posts        []PostedMessage
	updates      []PostedMessage
	reactions    []string
	displayNames map[string]string
	identity     string
	postErr      error
	seq          int
}

// NewMockChat creates a chat fake.
func NewMockChat() *MockChat {
	return &MockChat{
		displayNames: make(map[string]string),
		identity:     "UBOT",
	}
}

// WithPostError makes posting fail.
func (m *MockChat) WithPostError(err error) *MockChat {
	m.postErr = err
	return m
}

// WithDisplayName maps a user id to a display name.
func (m *MockChat) WithDisplayName(userID, name string) *MockChat {
	m.displayNames[userID] = name
	return m
}

func (m *MockChat) nextTS() string {
	m.seq++
	return fmt.Sprintf("1700000000.%06d", m.seq)
}

func (m *MockChat) PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error) {
	m.recordCall("PostMessage", text)
	if m.postErr != nil {
		return "", m.postErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.nextTS()
	m.posts = append(m.posts, PostedMessage{ChannelID: channelID, ThreadTS: threadTS, Text: text, MessageTS: ts})
	return ts, nil
}

func (m *MockChat) PostBlocks(ctx context.Context, channelID, threadTS string, blocks core.MessageBlocks) (string, error) {
	m.recordCall("PostBlocks", blocks)
	if m.postErr != nil {
		return "", m.postErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.nextTS()
	b := blocks
	m.posts = append(m.posts, PostedMessage{ChannelID: channelID, ThreadTS: threadTS, Text: blocks.Text, Blocks: &b, MessageTS: ts})
	return ts, nil
}

func (m *MockChat) UpdateMessage(ctx context.Context, channelID, messageTS string, blocks core.MessageBlocks) error {
	m.recordCall("UpdateMessage", blocks)
	if m.postErr != nil {
		return m.postErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := blocks
	m.updates = append(m.updates, PostedMessage{ChannelID: channelID, MessageTS: messageTS, Text: blocks.Text, Blocks: &b})
	return nil
}

func (m *MockChat) AddReaction(ctx context.Context, channelID, messageTS, name string) error {
	m.recordCall("AddReaction", name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, name)
	return nil
}

func (m *MockChat) UserDisplayName(ctx context.Context, userID string) string {
	m.recordCall("UserDisplayName", userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.displayNames[userID]; ok {
		return name
	}
	return "Unknown User"
}

func (m *MockChat) AuthIdentity(ctx context.Context) (string, error) {
	m.recordCall("AuthIdentity", nil)
	return m.identity, nil
}

// Posts returns recorded posts in order.
func (m *MockChat) Posts() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostedMessage{}, m.posts...)
}

// Updates returns recorded message updates in order.
func (m *MockChat) Updates() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostedMessage{}, m.updates...)
}

// Reactions returns recorded reaction names in order.
func (m *MockChat) Reactions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.reactions...)
}

// LastPost returns the most recent post, or a zero value.
func (m *MockChat) LastPost() PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.posts) == 0 {
		return PostedMessage{}
	}
	return m.posts[len(m.posts)-1]
}

var _ core.ChatClient = (*MockChat)(nil)

// =============================================================================
// MockForge
// =============================================================================

// MockForge implements core.ForgeClient in memory.
type MockForge struct {
	callRecorder

	mu            sync.Mutex
	prs           map[int]*core.PullRequest
	ready         map[int]bool
	branches      map[string]bool
	defaultBranch string
	invitations   map[string][]core.Invitation
	accepted      map[string][]int64
	createErr     error
	updateErr     error
	nextNumber    int
}

// NewMockForge creates a forge fake with default branch "main".
func NewMockForge() *MockForge {
	return &MockForge{
		prs:           make(map[int]*core.PullRequest),
		ready:         make(map[int]bool),
		branches:      make(map[string]bool),
		defaultBranch: "main",
		invitations:   make(map[string][]core.Invitation),
		accepted:      make(map[string][]int64),
		nextNumber:    100,
	}
}

// WithBranch marks a branch as existing.
func (m *MockForge) WithBranch(name string) *MockForge {
	m.branches[name] = true
	return m
}

// WithCreateError makes CreatePR fail.
func (m *MockForge) WithCreateError(err error) *MockForge {
	m.createErr = err
	return m
}

// WithUpdateError makes UpdatePR and MarkReady fail.
func (m *MockForge) WithUpdateError(err error) *MockForge {
	m.updateErr = err
	return m
}

// WithInvitations seeds pending invitations for a credential.
func (m *MockForge) WithInvitations(credential string, invs ...core.Invitation) *MockForge {
	m.invitations[credential] = invs
	return m
}

func (m *MockForge) CreatePR(ctx context.Context, opts core.CreatePROptions) (*core.PullRequest, error) {
	m.recordCall("CreatePR", opts)
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNumber++
	pr := &core.PullRequest{
		Number:  m.nextNumber,
		Title:   opts.Title,
		Body:    opts.Body,
		URL:     fmt.Sprintf("https://github.com/acme/widgets/pull/%d", m.nextNumber),
		State:   "open",
		Draft:   opts.Draft,
		HeadRef: opts.Head,
		BaseRef: opts.Base,
	}
	m.prs[pr.Number] = pr
	m.branches[opts.Head] = true
	return pr, nil
}

func (m *MockForge) UpdatePR(ctx context.Context, number int, title, body string) error {
	m.recordCall("UpdatePR", number)
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.prs[number]
	if !ok {
		return core.ErrNotFound("pull request", fmt.Sprintf("%d", number))
	}
	if title != "" {
		pr.Title = title
	}
	if body != "" {
		pr.Body = body
	}
	return nil
}

func (m *MockForge) MarkReady(ctx context.Context, number int) error {
	m.recordCall("MarkReady", number)
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.prs[number]
	if !ok {
		return core.ErrNotFound("pull request", fmt.Sprintf("%d", number))
	}
	pr.Draft = false
	m.ready[number] = true
	return nil
}

func (m *MockForge) BranchExists(ctx context.Context, name string) (bool, error) {
	m.recordCall("BranchExists", name)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.branches[name], nil
}

func (m *MockForge) DefaultBranch(ctx context.Context) (string, error) {
	m.recordCall("DefaultBranch", nil)
	return m.defaultBranch, nil
}

func (m *MockForge) PendingInvitations(ctx context.Context, credential string) ([]core.Invitation, error) {
	m.recordCall("PendingInvitations", credential)
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Invitation{}, m.invitations[credential]...), nil
}

func (m *MockForge) AcceptInvitation(ctx context.Context, credential string, id int64) error {
	m.recordCall("AcceptInvitation", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted[credential] = append(m.accepted[credential], id)
	remaining := m.invitations[credential][:0]
	for _, inv := range m.invitations[credential] {
		if inv.ID != id {
			remaining = append(remaining, inv)
		}
	}
	m.invitations[credential] = remaining
	return nil
}

// PR returns a created PR by number.
func (m *MockForge) PR(number int) *core.PullRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prs[number]
}

// PRs returns all created PRs ordered by number.
func (m *MockForge) PRs() []*core.PullRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	nums := make([]int, 0, len(m.prs))
	for n := range m.prs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	out := make([]*core.PullRequest, 0, len(nums))
	for _, n := range nums {
		out = append(out, m.prs[n])
	}
	return out
}

// IsReady reports whether MarkReady ran for the PR.
func (m *MockForge) IsReady(number int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready[number]
}

// Accepted returns invitation ids accepted with a credential.
func (m *MockForge) Accepted(credential string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64{}, m.accepted[credential]...)
}

var _ core.ForgeClient = (*MockForge)(nil)

// =============================================================================
// MockMedia
// =============================================================================

// MockMedia implements core.MediaStore.
type MockMedia struct {
	callRecorder

	mu        sync.Mutex
	uploads   map[string]string
	uploadErr error
}

// NewMockMedia creates a media fake.
func NewMockMedia() *MockMedia {
	return &MockMedia{uploads: make(map[string]string)}
}

// WithUploadError makes Upload fail.
func (m *MockMedia) WithUploadError(err error) *MockMedia {
	m.uploadErr = err
	return m
}

func (m *MockMedia) EnsureBranch(ctx context.Context) error {
	m.recordCall("EnsureBranch", nil)
	return nil
}

func (m *MockMedia) Upload(ctx context.Context, localPath, remoteName string) (string, error) {
	m.recordCall("Upload", remoteName)
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	url := "https://media.example.com/" + remoteName
	m.uploads[remoteName] = localPath
	return url, nil
}

// Uploads returns remoteName -> localPath for every upload.
func (m *MockMedia) Uploads() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.uploads))
	for k, v := range m.uploads {
		out[k] = v
	}
	return out
}

var _ core.MediaStore = (*MockMedia)(nil)

// =============================================================================
// MockEditor
// =============================================================================

// MockEditor implements core.EditingAgent.
type MockEditor struct {
	callRecorder

	name        string
	executeFunc func(context.Context, core.EditOptions) (*core.EditResult, error)
	pingErr     error
}

// NewMockEditor creates an editing-agent fake.
func NewMockEditor() *MockEditor {
	return &MockEditor{name: "mock-editor"}
}

// WithExecuteFunc scripts Execute.
func (m *MockEditor) WithExecuteFunc(fn func(context.Context, core.EditOptions) (*core.EditResult, error)) *MockEditor {
	m.executeFunc = fn
	return m
}

// WithError makes Execute fail.
func (m *MockEditor) WithError(err error) *MockEditor {
	m.executeFunc = func(context.Context, core.EditOptions) (*core.EditResult, error) {
		return nil, err
	}
	return m
}

// WithPingError makes Ping fail.
func (m *MockEditor) WithPingError(err error) *MockEditor {
	m.pingErr = err
	return m
}

func (m *MockEditor) Name() string { return m.name }

func (m *MockEditor) Ping(ctx context.Context) error {
	m.recordCall("Ping", nil)
	return m.pingErr
}

func (m *MockEditor) Execute(ctx context.Context, opts core.EditOptions) (*core.EditResult, error) {
	m.recordCall("Execute", opts)
	if m.executeFunc != nil {
		return m.executeFunc(ctx, opts)
	}
	return &core.EditResult{
		Output:    "done",
		TokensIn:  1200,
		TokensOut: 340,
		CostUSD:   0.0087,
		Model:     "mock-model",
		Duration:  50 * time.Millisecond,
	}, nil
}

// Prompts returns the prompt of every Execute call, in order.
func (m *MockEditor) Prompts() []string {
	var prompts []string
	for _, c := range m.Calls() {
		if c.Method != "Execute" {
			continue
		}
		if opts, ok := c.Args.(core.EditOptions); ok {
			prompts = append(prompts, opts.Prompt)
		}
	}
	return prompts
}

var _ core.EditingAgent = (*MockEditor)(nil)

// =============================================================================
// MockTextGen
// =============================================================================

// MockTextGen implements core.TextGenerator.
type MockTextGen struct {
	callRecorder

	generateFunc func(context.Context, core.TextRequest) (*core.TextResult, error)
	responses    []string
	idx          int
	mu           sync.Mutex
}

// NewMockTextGen creates a text-generation fake.
func NewMockTextGen() *MockTextGen {
	return &MockTextGen{}
}

// WithGenerateFunc scripts Generate.
func (m *MockTextGen) WithGenerateFunc(fn func(context.Context, core.TextRequest) (*core.TextResult, error)) *MockTextGen {
	m.generateFunc = fn
	return m
}

// WithResponses queues fixed responses, returned in order; the last one
// repeats.
func (m *MockTextGen) WithResponses(texts ...string) *MockTextGen {
	m.responses = texts
	return m
}

// WithError makes Generate fail.
func (m *MockTextGen) WithError(err error) *MockTextGen {
	m.generateFunc = func(context.Context, core.TextRequest) (*core.TextResult, error) {
		return nil, err
	}
	return m
}

func (m *MockTextGen) Generate(ctx context.Context, req core.TextRequest) (*core.TextResult, error) {
	m.recordCall("Generate", req)
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	text := "mock generated text"
	m.mu.Lock()
	if len(m.responses) > 0 {
		if m.idx >= len(m.responses) {
			text = m.responses[len(m.responses)-1]
		} else {
			text = m.responses[m.idx]
			m.idx++
		}
	}
	m.mu.Unlock()
	return &core.TextResult{
		Text:      text,
		TokensIn:  200,
		TokensOut: 80,
		Model:     req.Model,
	}, nil
}

// Requests returns every Generate request, in order.
func (m *MockTextGen) Requests() []core.TextRequest {
	var reqs []core.TextRequest
	for _, c := range m.Calls() {
		if c.Method != "Generate" {
			continue
		}
		if req, ok := c.Args.(core.TextRequest); ok {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

var _ core.TextGenerator = (*MockTextGen)(nil)

// =============================================================================
// MockBrowser
// =============================================================================

// MockBrowser implements core.BrowserDriver. By default it writes a
// small placeholder file, so download paths exist on disk.
type MockBrowser struct {
	callRecorder

	captureFunc func(context.Context, string, string, core.ShotOptions) error
}

// NewMockBrowser creates a browser fake.
func NewMockBrowser() *MockBrowser {
	return &MockBrowser{}
}

// WithCaptureFunc scripts Capture.
func (m *MockBrowser) WithCaptureFunc(fn func(context.Context, string, string, core.ShotOptions) error) *MockBrowser {
	m.captureFunc = fn
	return m
}

// WithError makes Capture fail.
func (m *MockBrowser) WithError(err error) *MockBrowser {
	m.captureFunc = func(context.Context, string, string, core.ShotOptions) error {
		return err
	}
	return m
}

func (m *MockBrowser) Capture(ctx context.Context, url, outPath string, opts core.ShotOptions) error {
	m.recordCall("Capture", []string{url, outPath})
	if m.captureFunc != nil {
		return m.captureFunc(ctx, url, outPath, opts)
	}
	return os.WriteFile(outPath, []byte("PNG"), 0o644)
}

// CapturedURLs returns the url of every Capture call, in order.
func (m *MockBrowser) CapturedURLs() []string {
	var urls []string
	for _, c := range m.Calls() {
		if c.Method != "Capture" {
			continue
		}
		if args, ok := c.Args.([]string); ok && len(args) > 0 {
			urls = append(urls, args[0])
		}
	}
	return urls
}

var _ core.BrowserDriver = (*MockBrowser)(nil)

// =============================================================================
// MockSearch
// =============================================================================

// MockSearch implements core.SearchProvider.
type MockSearch struct {
	callRecorder

	results   []core.SearchResult
	searchErr error
}

// NewMockSearch creates a search fake.
func NewMockSearch() *MockSearch {
	return &MockSearch{}
}

// WithResults sets the results every query returns.
func (m *MockSearch) WithResults(results ...core.SearchResult) *MockSearch {
	m.results = results
	return m
}

// WithError makes Search fail.
func (m *MockSearch) WithError(err error) *MockSearch {
	m.searchErr = err
	return m
}

func (m *MockSearch) Search(ctx context.Context, query string, maxResults int) ([]core.SearchResult, error) {
	m.recordCall("Search", query)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if maxResults > 0 && len(m.results) > maxResults {
		return m.results[:maxResults], nil
	}
	return m.results, nil
}

var _ core.SearchProvider = (*MockSearch)(nil)

// =============================================================================
// MockProducer
// =============================================================================

// MockProducer implements core.JobProducer.
type MockProducer struct {
	callRecorder

	mu         sync.Mutex
	payloads   []core.TaskPayload
	enqueueErr error
}

// NewMockProducer creates a producer fake.
func NewMockProducer() *MockProducer {
	return &MockProducer{}
}

// WithEnqueueError makes Enqueue fail.
func (m *MockProducer) WithEnqueueError(err error) *MockProducer {
	m.enqueueErr = err
	return m
}

func (m *MockProducer) Enqueue(ctx context.Context, payload core.TaskPayload) error {
	m.recordCall("Enqueue", payload)
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

// Enqueued returns every enqueued payload, in order.
func (m *MockProducer) Enqueued() []core.TaskPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.TaskPayload{}, m.payloads...)
}

var _ core.JobProducer = (*MockProducer)(nil)

// =============================================================================
// FakeClock
// =============================================================================

// FakeClock implements core.Clock with manual control. Sleep advances
// the clock immediately, so polling loops run without wall time.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock creates a clock pinned to a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2025, 6, 3, 14, 41, 7, 0, time.UTC)}
}

// Now returns the fake instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep records the request and advances the clock by d.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns every Sleep duration, in order.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration{}, c.sleeps...)
}

var _ core.Clock = (*FakeClock)(nil)
