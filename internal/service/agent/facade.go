// Package agent fronts a task's two LLM surfaces behind one façade: the
// code-editing CLI that rewrites the working tree, and the messages API
// that writes the prose around it (titles, plans, PR bodies). Every
// call charges the task's cost ledger under its category.
//
// A Facade is task-scoped: it is built over one working tree and one
// thread, lives for one pipeline run, and is not safe for concurrent
// use.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
	"github.com/bryanowens-dev/walker/internal/service/costs"
	"github.com/bryanowens-dev/walker/internal/service/devserver"
	"github.com/bryanowens-dev/walker/internal/service/validate"
	"github.com/bryanowens-dev/walker/internal/service/visualdiff"
)

// maxTitleLen bounds the raw PR title, before the "[Walker] " prefix.
const maxTitleLen = 60

const defaultEditTimeout = 30 * time.Minute

// Tree is the slice of the git workspace the façade drives.
type Tree interface {
	Dir() string
	Commit(ctx context.Context, message string) (bool, error)
	ChangedFiles(ctx context.Context) ([]string, error)
	RevCount(ctx context.Context) (int, error)
}

// Validator type-checks the working tree after an editing pass.
type Validator interface {
	Validate(ctx context.Context, changed []string) (validate.Report, error)
}

// Notifier posts progress notes into the task thread.
type Notifier interface {
	Post(ctx context.Context, text string)
}

// DevController starts the project's dev server for screenshot capture.
type DevController interface {
	Start(ctx context.Context, opts devserver.Options) (*devserver.Server, error)
}

// Capturer validates, renders and uploads page screenshots.
type Capturer interface {
	Capture(ctx context.Context, prefix, baseURL string, urls []string) ([]visualdiff.Shot, error)
}

// Deps wires the façade. Editor, TextGen, Tree and Ledger are required.
// The rest degrade: nil Gate skips validation, nil Search skips
// research, nil Dev or Differ disables screenshots, nil Thread silences
// progress notes.
type Deps struct {
	Editor  core.EditingAgent
	TextGen core.TextGenerator
	Gate    Validator
	Tree    Tree
	Thread  Notifier
	Ledger  *costs.Ledger
	Search  core.SearchProvider
	Dev     DevController
	Differ  Capturer
	Logger  *logging.Logger

	// Model overrides the editing agent's default model. Empty keeps it.
	Model string
	// EditTimeout bounds one editing pass.
	EditTimeout time.Duration
}

// Facade exposes the task's text and edit operations.
type Facade struct {
	editor  core.EditingAgent
	textgen core.TextGenerator
	gate    Validator
	tree    Tree
	thread  Notifier
	ledger  *costs.Ledger
	search  core.SearchProvider
	dev     DevController
	differ  Capturer
	logger  *logging.Logger

	model       string
	editTimeout time.Duration
}

// New builds the façade for one task.
func New(deps Deps) (*Facade, error) {
	if deps.Editor == nil || deps.TextGen == nil || deps.Tree == nil || deps.Ledger == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			"agent façade needs an editor, a text generator, a tree and a ledger")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.EditTimeout <= 0 {
		deps.EditTimeout = defaultEditTimeout
	}
	return &Facade{
		editor:      deps.Editor,
		textgen:     deps.TextGen,
		gate:        deps.Gate,
		tree:        deps.Tree,
		thread:      deps.Thread,
		ledger:      deps.Ledger,
		search:      deps.Search,
		dev:         deps.Dev,
		differ:      deps.Differ,
		logger:      deps.Logger,
		model:       deps.Model,
		editTimeout: deps.EditTimeout,
	}, nil
}

// Title asks for a PR title bounded to maxTitleLen runes. The model
// gets the length instruction; the truncation below is the safety net
// for when it ignores it.
func (f *Facade) Title(ctx context.Context, desc string) (string, error) {
	prompt, err := render("title", titleParams{Description: desc, MaxLen: maxTitleLen})
	if err != nil {
		return "", err
	}
	res, err := f.generate(ctx, costs.CategoryTitle, prompt)
	if err != nil {
		return "", err
	}
	return truncateTitle(firstLine(res.Text), maxTitleLen), nil
}

// Plan asks for the implementation plan posted to the thread and pasted
// into the draft PR.
func (f *Facade) Plan(ctx context.Context, desc, webCtx, searchCtx string) (string, error) {
	prompt, err := render("plan", planParams{
		Description:   desc,
		WebContext:    webCtx,
		SearchContext: searchCtx,
	})
	if err != nil {
		return "", err
	}
	res, err := f.generate(ctx, costs.CategoryPlan, prompt)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// DraftBody writes the draft PR body: the report preamble plus a
// condensed plan. A failed summarization falls back to the raw plan;
// body prose never fails a pipeline.
func (f *Facade) DraftBody(ctx context.Context, report core.PRReport, plan string) string {
	summary := plan
	if prompt, err := render("draft-summary", draftParams{Plan: plan}); err == nil {
		if res, gerr := f.generate(ctx, costs.CategoryDraftBody, prompt); gerr == nil {
			summary = res.Text
		} else {
			f.logger.Warn("draft body summarization failed, using raw plan", "error", gerr)
		}
	}
	return core.DraftPRBody(report, summary)
}

// FinalBodyRequest carries everything the completed-task PR body shows.
type FinalBodyRequest struct {
	Report         core.PRReport
	Duration       time.Duration
	FilesModified  []string
	Plan           string
	DiffStat       string
	CriticalReview string
	ThreadFeedback string
	Visuals        core.VisualChanges
}

// FinalBody writes the completed-task PR body. The plan summary is
// regenerated against the actual diff; on failure the raw plan stands
// in.
func (f *Facade) FinalBody(ctx context.Context, req FinalBodyRequest) string {
	summary := req.Plan
	prompt, err := render("final-summary", finalParams{
		Description: req.Report.Description,
		Plan:        req.Plan,
		DiffStat:    req.DiffStat,
	})
	if err == nil {
		if res, gerr := f.generate(ctx, costs.CategoryFinalBody, prompt); gerr == nil {
			summary = res.Text
		} else {
			f.logger.Warn("final body summarization failed, using raw plan", "error", gerr)
		}
	}
	return core.FinalPRBody(req.Report, req.Duration, req.FilesModified,
		summary, req.CriticalReview, req.ThreadFeedback, req.Visuals)
}

// CriticalReview asks for reviewer guidance over the branch diff.
// Failures degrade to an empty section.
func (f *Facade) CriticalReview(ctx context.Context, diffSummary string) string {
	if strings.TrimSpace(diffSummary) == "" {
		return ""
	}
	prompt, err := render("critical-review", criticalParams{DiffSummary: diffSummary})
	if err != nil {
		return ""
	}
	res, err := f.generate(ctx, costs.CategoryCriticalReview, prompt)
	if err != nil {
		f.logger.Warn("critical review failed", "error", err)
		return ""
	}
	return res.Text
}

// generate runs one prose call and charges its category.
func (f *Facade) generate(ctx context.Context, category, prompt string) (*core.TextResult, error) {
	res, err := f.textgen.Generate(ctx, core.TextRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	f.ledger.Add(category, res.TokensIn, res.TokensOut, res.Model)
	return res, nil
}

// notify posts into the thread when one is bound.
func (f *Facade) notify(ctx context.Context, text string) {
	if f.thread != nil {
		f.thread.Post(ctx, text)
	}
}

// firstLine returns the first nonempty line of a model reply.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// truncateTitle bounds s to max runes, cutting at a word boundary.
func truncateTitle(s string, max int) string {
	s = strings.TrimSpace(strings.Trim(s, `"`))
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := max
	for i := max; i > 0; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), " ")
}
