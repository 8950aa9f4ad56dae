package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
	"github.com/bryanowens-dev/walker/internal/service/costs"
	"github.com/bryanowens-dev/walker/internal/service/devserver"
	"github.com/bryanowens-dev/walker/internal/service/validate"
	"github.com/bryanowens-dev/walker/internal/service/visualdiff"
	"github.com/bryanowens-dev/walker/internal/testutil"
)

// fakeTree scripts the façade's view of the working tree. Editor fakes
// mutate it mid-call to simulate real edits: set dirty and the changed
// list, and the next Commit turns the dirt into a revision.
type fakeTree struct {
	mu      sync.Mutex
	dir     string
	revs    int
	dirty   bool
	changed []string
	commits []string

	commitErr error
}

func (t *fakeTree) Dir() string { return t.dir }

func (t *fakeTree) Commit(_ context.Context, message string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.commitErr != nil {
		return false, t.commitErr
	}
	if !t.dirty {
		return false, nil
	}
	t.dirty = false
	t.revs++
	t.commits = append(t.commits, message)
	return true, nil
}

func (t *fakeTree) ChangedFiles(context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.changed...), nil
}

func (t *fakeTree) RevCount(context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revs, nil
}

// edit marks the tree dirty with the given changed files, the way a
// real editing pass would.
func (t *fakeTree) edit(files ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = true
	if len(files) > 0 {
		t.changed = files
	}
}

// fakeGate returns queued validation reports in call order; the last
// one repeats.
type fakeGate struct {
	reports []validate.Report
	calls   [][]string
	err     error
}

func (g *fakeGate) Validate(_ context.Context, changed []string) (validate.Report, error) {
	g.calls = append(g.calls, append([]string(nil), changed...))
	if g.err != nil {
		return validate.Report{}, g.err
	}
	if len(g.reports) == 0 {
		return validate.Report{OK: true}, nil
	}
	i := len(g.calls) - 1
	if i >= len(g.reports) {
		i = len(g.reports) - 1
	}
	return g.reports[i], nil
}

// fakeNotifier records thread posts.
type fakeNotifier struct {
	posts []string
}

func (n *fakeNotifier) Post(_ context.Context, text string) {
	n.posts = append(n.posts, text)
}

// fakeDev scripts Controller.Start per call and records the options.
type fakeDev struct {
	url  string
	errs []error
	opts []devserver.Options
}

func (d *fakeDev) Start(_ context.Context, opts devserver.Options) (*devserver.Server, error) {
	d.opts = append(d.opts, opts)
	if i := len(d.opts) - 1; i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	return &devserver.Server{URL: d.url}, nil
}

// fakeCapturer records capture calls and returns scripted shots.
type fakeCapturer struct {
	shots    []visualdiff.Shot
	err      error
	prefixes []string
	bases    []string
	urls     [][]string
}

func (c *fakeCapturer) Capture(_ context.Context, prefix, baseURL string, urls []string) ([]visualdiff.Shot, error) {
	c.prefixes = append(c.prefixes, prefix)
	c.bases = append(c.bases, baseURL)
	c.urls = append(c.urls, append([]string(nil), urls...))
	if c.err != nil {
		return nil, c.err
	}
	return c.shots, nil
}

// fixture bundles the façade's dependencies with every port faked.
// Tests nil out the optional ones to exercise degradation.
type fixture struct {
	editor  *testutil.MockEditor
	textgen *testutil.MockTextGen
	tree    *fakeTree
	gate    *fakeGate
	notes   *fakeNotifier
	ledger  *costs.Ledger
	search  *testutil.MockSearch
	dev     *fakeDev
	differ  *fakeCapturer
}

func newFixture() *fixture {
	return &fixture{
		editor:  testutil.NewMockEditor(),
		textgen: testutil.NewMockTextGen(),
		tree:    &fakeTree{dir: "/work/task/clone"},
		gate:    &fakeGate{},
		notes:   &fakeNotifier{},
		ledger:  costs.NewLedger(0, logging.NewNop()),
		search:  testutil.NewMockSearch(),
		dev:     &fakeDev{url: "http://localhost:3000"},
		differ:  &fakeCapturer{},
	}
}

// facade builds the façade. Optional deps are only wired when the
// fixture still holds them, so a nil field really means absent (a nil
// concrete pointer in an interface would not).
func (fx *fixture) facade(t *testing.T) *Facade {
	t.Helper()
	deps := Deps{
		Editor:  fx.editor,
		TextGen: fx.textgen,
		Tree:    fx.tree,
		Ledger:  fx.ledger,
		Logger:  logging.NewNop(),
	}
	if fx.gate != nil {
		deps.Gate = fx.gate
	}
	if fx.notes != nil {
		deps.Thread = fx.notes
	}
	if fx.search != nil {
		deps.Search = fx.search
	}
	if fx.dev != nil {
		deps.Dev = fx.dev
	}
	if fx.differ != nil {
		deps.Differ = fx.differ
	}
	f, err := New(deps)
	require.NoError(t, err)
	return f
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var derr *core.DomainError
	require.ErrorAs(t, err, &derr)
	return derr.Code
}

func TestNewRejectsMissingCoreDeps(t *testing.T) {
	fx := newFixture()

	_, err := New(Deps{TextGen: fx.textgen, Tree: fx.tree, Ledger: fx.ledger})
	assert.Equal(t, core.CodeInvalidConfig, domainCode(t, err))

	_, err = New(Deps{Editor: fx.editor, TextGen: fx.textgen, Tree: fx.tree})
	assert.Equal(t, core.CodeInvalidConfig, domainCode(t, err))
}

func TestNewDefaultsTimeoutAndLogger(t *testing.T) {
	fx := newFixture()
	f, err := New(Deps{Editor: fx.editor, TextGen: fx.textgen, Tree: fx.tree, Ledger: fx.ledger})
	require.NoError(t, err)
	assert.Equal(t, defaultEditTimeout, f.editTimeout)
	assert.NotNil(t, f.logger)
}

func TestTitleUsesFirstLineOfReply(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("Add dark mode toggle to settings\n\nThis title reflects the task.")
	f := fx.facade(t)

	title, err := f.Title(context.Background(), "add a dark mode toggle")
	require.NoError(t, err)
	assert.Equal(t, "Add dark mode toggle to settings", title)

	reqs := fx.textgen.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "add a dark mode toggle")
	assert.Contains(t, reqs[0].Prompt, "60")

	entry := fx.ledger.Entries()[costs.CategoryTitle]
	assert.Equal(t, 1, entry.Calls)
	assert.Equal(t, 200, entry.TokensIn)
}

func TestTitleTruncatesAtWordBoundary(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses(`"Implement the new full-text search indexing pipeline for documents"`)
	f := fx.facade(t)

	title, err := f.Title(context.Background(), "search indexing")
	require.NoError(t, err)
	assert.Equal(t, "Implement the new full-text search indexing pipeline for", title)
	assert.LessOrEqual(t, len([]rune(title)), 60)
}

func TestTitlePropagatesGeneratorError(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithError(core.ErrRateLimit("anthropic overloaded"))
	f := fx.facade(t)

	_, err := f.Title(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, "RATE_LIMITED", domainCode(t, err))
	assert.Zero(t, fx.ledger.Total())
}

func TestPlanEmbedsContextBlocks(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("1. Edit src/App.tsx\n2. Add tests")
	f := fx.facade(t)

	webCtx := "CONTEXT - Referenced Websites:\nsite text"
	searchCtx := "CONTEXT - Internet Research:\nQuery: react 19"
	plan, err := f.Plan(context.Background(), "redo the header", webCtx, searchCtx)
	require.NoError(t, err)
	assert.Equal(t, "1. Edit src/App.tsx\n2. Add tests", plan)

	reqs := fx.textgen.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "redo the header")
	assert.Contains(t, reqs[0].Prompt, webCtx)
	assert.Contains(t, reqs[0].Prompt, searchCtx)
	assert.Equal(t, 1, fx.ledger.Entries()[costs.CategoryPlan].Calls)
}

func TestDraftBodyCondensesPlan(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("1. Rework header layout")
	f := fx.facade(t)

	report := core.PRReport{Description: "redo the header", RequesterName: "Dana"}
	body := f.DraftBody(context.Background(), report, "1. Rework the header layout in src/Header.tsx, touching flex rules")

	assert.Contains(t, body, "1. Rework header layout")
	assert.Contains(t, body, "redo the header")
	assert.Equal(t, 1, fx.ledger.Entries()[costs.CategoryDraftBody].Calls)
}

func TestDraftBodyFallsBackToRawPlan(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithError(errors.New("api down"))
	f := fx.facade(t)

	plan := "1. Rework the header layout in src/Header.tsx"
	body := f.DraftBody(context.Background(), core.PRReport{Description: "redo the header"}, plan)

	assert.Contains(t, body, plan)
}

func TestFinalBodyCarriesEverySection(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("- Reworked the header layout")
	f := fx.facade(t)

	body := f.FinalBody(context.Background(), FinalBodyRequest{
		Report:         core.PRReport{Description: "redo the header", RequesterName: "Dana"},
		Duration:       12 * time.Minute,
		FilesModified:  []string{"src/Header.tsx"},
		Plan:           "1. Rework the header",
		DiffStat:       "1 file changed, 40 insertions(+)",
		CriticalReview: "- Flex fallback on old Safari",
		ThreadFeedback: "make it sticky too",
		Visuals: core.VisualChanges{
			Before: []core.Screenshot{{URL: "https://media.example.com/before-home.png", Label: "home"}},
			After:  []core.Screenshot{{URL: "https://media.example.com/after-home.png", Label: "home"}},
		},
	})

	assert.Contains(t, body, "- Reworked the header layout")
	assert.Contains(t, body, "src/Header.tsx")
	assert.Contains(t, body, "- Flex fallback on old Safari")
	assert.Contains(t, body, "make it sticky too")
	assert.Equal(t, 1, fx.ledger.Entries()[costs.CategoryFinalBody].Calls)

	reqs := fx.textgen.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "1 file changed, 40 insertions(+)")
}

func TestFinalBodyFallsBackToRawPlan(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithError(errors.New("api down"))
	f := fx.facade(t)

	body := f.FinalBody(context.Background(), FinalBodyRequest{
		Report: core.PRReport{Description: "redo the header"},
		Plan:   "1. Rework the header",
	})
	assert.Contains(t, body, "1. Rework the header")
}

func TestCriticalReviewSkipsEmptyDiff(t *testing.T) {
	fx := newFixture()
	f := fx.facade(t)

	assert.Empty(t, f.CriticalReview(context.Background(), "  \n"))
	assert.Empty(t, fx.textgen.Requests())
}

func TestCriticalReviewDegradesOnError(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithError(errors.New("api down"))
	f := fx.facade(t)

	assert.Empty(t, f.CriticalReview(context.Background(), "2 files changed"))
}

func TestCriticalReviewReturnsBullets(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("- The cache TTL math\n- The new retry loop")
	f := fx.facade(t)

	review := f.CriticalReview(context.Background(), "3 files changed, 120 insertions(+)")
	assert.Equal(t, "- The cache TTL math\n- The new retry loop", review)
	assert.Equal(t, 1, fx.ledger.Entries()[costs.CategoryCriticalReview].Calls)
}

func TestTruncateTitle(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short stays", "Add dark mode", 60, "Add dark mode"},
		{"quotes trimmed", `"Add dark mode"`, 60, "Add dark mode"},
		{"cut at word boundary", "Fix the flaky login retry", 12, "Fix the"},
		{"exact fit", "Fix login", 9, "Fix login"},
		{"single long word cut hard", "Supercalifragilistic", 5, "Super"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, truncateTitle(tc.in, tc.max))
		})
	}
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Add dark mode", firstLine("\n  \nAdd dark mode\nrationale"))
	assert.Equal(t, "", firstLine("  \n\t\n"))
}
