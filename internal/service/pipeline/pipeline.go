// Package pipeline drives one task through the Walker phase machine:
// init → planning → implementation → self_review → testing →
// finalization. Between every two adjacent phases a cancellation
// checkpoint runs; a checkpoint returns a tagged decision rather than
// aborting mid-step, so a phase that has started always completes
// before a cancel lands.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
	"github.com/bryanowens-dev/walker/internal/service/agent"
	"github.com/bryanowens-dev/walker/internal/service/costs"
	"github.com/bryanowens-dev/walker/internal/service/report"
	"github.com/bryanowens-dev/walker/internal/service/visualdiff"
	"github.com/bryanowens-dev/walker/internal/service/webctx"
)

const (
	// cleanupTimeout bounds the busy-mark and thread-binding release
	// once the run context is gone.
	cleanupTimeout = 15 * time.Second
	// terminalTimeout bounds the PR annotation and final thread post on
	// the cancelled and failed paths, which must still run after the
	// run context is cancelled.
	terminalTimeout = time.Minute
	// maxBranchAttempts caps the remote-collision probe before the task
	// is declared unroutable.
	maxBranchAttempts = 10
)

// Tree is the slice of the git workspace the pipeline drives. The
// editing façade holds its own narrower view of the same workspace.
type Tree interface {
	Clone(ctx context.Context) error
	CreateBranch(ctx context.Context, name string) error
	Commit(ctx context.Context, message string) (bool, error)
	Push(ctx context.Context, branch string) error
	ChangedFiles(ctx context.Context) ([]string, error)
	DiffStat(ctx context.Context) (string, error)
	StageImages(images []core.ImageAttachment) ([]string, error)
	Subdir(name string) (string, error)
	WritePlaceholder(payload string) error
	RemovePlaceholder() error
}

// Agent is the editing-façade surface the phases call.
type Agent interface {
	Title(ctx context.Context, desc string) (string, error)
	Plan(ctx context.Context, desc, webCtx, searchCtx string) (string, error)
	DraftBody(ctx context.Context, report core.PRReport, plan string) string
	FinalBody(ctx context.Context, req agent.FinalBodyRequest) string
	CriticalReview(ctx context.Context, diffSummary string) string
	SearchContext(ctx context.Context, desc string) string
	Implement(ctx context.Context, req agent.ImplementRequest) (core.EditOutcome, error)
	SelfReview(ctx context.Context, desc string) (core.EditOutcome, error)
	Tests(ctx context.Context, desc string) (core.EditOutcome, error)
	CaptureBefore(ctx context.Context, plan string) []visualdiff.Shot
	CaptureAfter(ctx context.Context, before []visualdiff.Shot) []visualdiff.Shot
}

// Conversation is the task thread the pipeline reports through. Dog
// commentary goes through the façade; the pipeline only posts
// milestones, which carry their own speaker line.
type Conversation interface {
	Announce(ctx context.Context, text string)
	DrainNew(ctx context.Context) (string, bool)
	AllMessages(ctx context.Context) []core.ThreadMessage
}

// Assigner tracks the dog's live load.
type Assigner interface {
	MarkBusy(ctx context.Context, dog, taskID string) error
	MarkFree(ctx context.Context, dog, taskID string) error
}

// Canceller reads and clears the task's cancellation flag.
type Canceller interface {
	IsCancelled(ctx context.Context, taskID string) bool
	Info(ctx context.Context, taskID string) (*core.Cancellation, error)
	Clear(ctx context.Context, taskID string) error
}

// Binder maintains the thread→task binding that routes mid-flight
// feedback and cancel clicks to this run.
type Binder interface {
	BindThread(ctx context.Context, threadTS, taskID string) error
	UnbindThread(ctx context.Context, threadTS string) error
}

// WebFetcher pulls pages referenced in the task description into the
// working tree.
type WebFetcher interface {
	Fetch(ctx context.Context, urls []string, outDir string) []webctx.Page
}

// ReportWriter persists the terminal task artifact.
type ReportWriter interface {
	Write(a report.Artifact) (string, error)
}

// Deps carries everything one run needs. Tree, Channel and Ledger are
// task-scoped; the rest are process singletons shared across workers.
type Deps struct {
	Dog       core.Dog
	Tree      Tree
	Forge     core.ForgeClient
	Agent     Agent
	Channel   Conversation
	Assigner  Assigner
	Canceller Canceller
	Binder    Binder
	Ledger    *costs.Ledger

	// Web fetches sites referenced in the request. Optional; without it
	// the task simply runs without web context.
	Web WebFetcher
	// Report persists the terminal artifact. Optional.
	Report ReportWriter

	// Repo is the owner/name target, recorded in the report artifact.
	Repo string
	// BaseBranch is the PR base. Defaults to main.
	BaseBranch string

	Clock  core.Clock
	Logger *logging.Logger
}

// Pipeline runs exactly one task. Build a fresh one per job; a requeued
// job gets a fresh feedback pointer and re-absorbs prior thread
// messages, which is the desired behavior.
type Pipeline struct {
	deps Deps
}

// New validates the wiring and returns a single-task pipeline.
func New(deps Deps) (*Pipeline, error) {
	if err := deps.Dog.Validate(); err != nil {
		return nil, err
	}
	if deps.Tree == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "pipeline requires a workspace")
	}
	if deps.Forge == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "pipeline requires a forge client")
	}
	if deps.Agent == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "pipeline requires an editing agent facade")
	}
	if deps.Channel == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "pipeline requires a thread channel")
	}
	if deps.Assigner == nil || deps.Canceller == nil || deps.Binder == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "pipeline requires coordination accessors")
	}
	if deps.Ledger == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "pipeline requires a cost ledger")
	}
	if deps.BaseBranch == "" {
		deps.BaseBranch = "main"
	}
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Pipeline{deps: deps}, nil
}

// taskRun is the mutable state threaded through one run.
type taskRun struct {
	payload   core.TaskPayload
	report    core.PRReport
	startedAt time.Time

	branch   string
	title    string
	plan     string
	web      string
	search   string
	images   []string
	before   []visualdiff.Shot
	frontend bool
	// feedback is thread text drained at the last checkpoint, consumed
	// by the next implementation pass.
	feedback string

	pr        *core.PullRequest
	completed core.Phase

	bound bool
	busy  bool
}

// decision is a checkpoint's tagged outcome.
type decision struct {
	cancelled bool
	by        string
}

// Run drives payload through every phase and returns the terminal
// result.
//
// A result with an empty Status means the run failed before any
// user-visible side effect existed; the job runtime may retry such
// failures wholesale. Once Status is set the terminal side effects
// (final thread post, PR annotation, report artifact) have already
// happened exactly once and the job must not be re-run.
func (p *Pipeline) Run(ctx context.Context, payload core.TaskPayload) (core.TaskResult, error) {
	if err := payload.Validate(); err != nil {
		return core.TaskResult{TaskID: payload.TaskID}, err
	}

	run := &taskRun{payload: payload, startedAt: payload.StartTime}
	if run.startedAt.IsZero() {
		run.startedAt = p.deps.Clock.Now()
	}
	run.report = core.PRReport{
		Description:   payload.Description,
		RequesterName: payload.RequesterName,
		RequesterURL:  payload.RequesterURL,
		StartTime:     run.startedAt,
	}

	// Load and binding are released on every exit path, even when the
	// run context is already dead.
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		p.release(rctx, run)
	}()

	log := p.deps.Logger.WithTask(payload.TaskID).WithDog(p.deps.Dog.Name)
	log.Info("task starting", "thread_ts", payload.ThreadTS)

	if err := p.init(ctx, run); err != nil {
		log.Error("task init failed", "error", err)
		return core.TaskResult{
			TaskID:     payload.TaskID,
			BranchName: run.branch,
			StartedAt:  run.startedAt,
		}, err
	}
	run.completed = core.PhaseInit

	steps := []struct {
		phase core.Phase
		fn    func(context.Context, *taskRun) error
	}{
		{core.PhasePlanning, p.planning},
		{core.PhaseImplementation, p.implementation},
		{core.PhaseSelfReview, p.selfReview},
		{core.PhaseTesting, p.testing},
	}
	for _, step := range steps {
		if d := p.checkpoint(ctx, payload.TaskID); d.cancelled {
			return p.finishCancelled(ctx, run, d)
		}
		log.Info("phase starting", "phase", step.phase)
		if err := step.fn(ctx, run); err != nil {
			log.Error("phase failed", "phase", step.phase, "error", err)
			return p.finishFailed(ctx, run, err)
		}
		run.completed = step.phase
	}

	if d := p.checkpoint(ctx, payload.TaskID); d.cancelled {
		return p.finishCancelled(ctx, run, d)
	}
	res, err := p.finalize(ctx, run)
	if err != nil {
		log.Error("finalization failed", "error", err)
		return p.finishFailed(ctx, run, err)
	}
	log.Info("task done", "pr", res.PRURL, "cost_usd", res.CostTotal)
	return res, nil
}

// release undoes the busy mark and the thread binding so the dog's load
// always returns to its pre-task value.
func (p *Pipeline) release(ctx context.Context, run *taskRun) {
	if run.busy {
		if err := p.deps.Assigner.MarkFree(ctx, p.deps.Dog.Name, run.payload.TaskID); err != nil {
			p.deps.Logger.Error("mark free failed", "task_id", run.payload.TaskID, "error", err)
		}
		run.busy = false
	}
	if run.bound {
		if err := p.deps.Binder.UnbindThread(ctx, run.payload.ThreadTS); err != nil {
			p.deps.Logger.Warn("thread unbind failed", "thread_ts", run.payload.ThreadTS, "error", err)
		}
		run.bound = false
	}
}

// checkpoint reads the cancellation flag between phases. Store outages
// read as "not cancelled"; the user can click again.
func (p *Pipeline) checkpoint(ctx context.Context, taskID string) decision {
	if !p.deps.Canceller.IsCancelled(ctx, taskID) {
		return decision{}
	}
	by := "unknown"
	if info, err := p.deps.Canceller.Info(ctx, taskID); err == nil && info != nil && info.CancelledBy != "" {
		by = info.CancelledBy
	}
	return decision{cancelled: true, by: by}
}

// init prepares the working tree and registers the task: clone, branch,
// stage attachments, fetch referenced web pages, placeholder commit,
// push, bind the thread, mark the dog busy. Nothing here is
// user-visible, so failures leave the task safe to retry wholesale.
func (p *Pipeline) init(ctx context.Context, run *taskRun) error {
	if err := p.deps.Tree.Clone(ctx); err != nil {
		return err
	}

	branch, err := p.branchFor(ctx, run.payload)
	if err != nil {
		return err
	}
	run.branch = branch
	if err := p.deps.Tree.CreateBranch(ctx, branch); err != nil {
		return err
	}

	staged, err := p.deps.Tree.StageImages(run.payload.Images)
	if err != nil {
		return err
	}
	run.images = staged

	p.fetchWebContext(ctx, run)

	payload := fmt.Sprintf("task: %s\nbranch: %s\n", run.payload.TaskID, branch)
	if err := p.deps.Tree.WritePlaceholder(payload); err != nil {
		return err
	}
	if _, err := p.deps.Tree.Commit(ctx, "Start Walker task"); err != nil {
		return err
	}
	if err := p.deps.Tree.Push(ctx, branch); err != nil {
		return err
	}

	if err := p.deps.Binder.BindThread(ctx, run.payload.ThreadTS, run.payload.TaskID); err != nil {
		return err
	}
	run.bound = true
	if err := p.deps.Assigner.MarkBusy(ctx, p.deps.Dog.Name, run.payload.TaskID); err != nil {
		return err
	}
	run.busy = true
	return nil
}

// branchFor resolves the task branch, probing the forge for collisions
// and suffixing -2, -3, ... until a free name is found.
func (p *Pipeline) branchFor(ctx context.Context, payload core.TaskPayload) (string, error) {
	date := payload.StartTime
	if date.IsZero() {
		date = p.deps.Clock.Now()
	}
	for attempt := 1; attempt <= maxBranchAttempts; attempt++ {
		name := payload.BranchName
		switch {
		case name == "":
			name = core.BranchCandidate(p.deps.Dog.Name, date, payload.Description, attempt)
		case attempt > 1:
			name = fmt.Sprintf("%s-%d", name, attempt)
		}
		exists, err := p.deps.Forge.BranchExists(ctx, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		p.deps.Logger.Warn("branch already exists, retrying", "branch", name, "attempt", attempt)
	}
	return "", core.ErrState(core.CodeBranchConflict,
		fmt.Sprintf("no free branch name after %d attempts", maxBranchAttempts))
}

// fetchWebContext pulls pages referenced in the description into .web/
// and prepares the context block for the planning and implementation
// prompts. Fetch problems degrade to a task without web context.
func (p *Pipeline) fetchWebContext(ctx context.Context, run *taskRun) {
	if p.deps.Web == nil {
		return
	}
	urls := webctx.ExtractURLs(run.payload.Description)
	if len(urls) == 0 {
		return
	}
	dir, err := p.deps.Tree.Subdir(webctx.Dir)
	if err != nil {
		p.deps.Logger.Warn("web context dir failed", "error", err)
		return
	}
	pages := p.deps.Web.Fetch(ctx, urls, dir)
	run.web = webctx.FormatContext(pages)
	run.images = append(run.images, webctx.ScreenshotPaths(pages)...)
}

// planning produces the title and plan, opens the draft PR, posts the
// plan preview to the thread, and takes "before" screenshots when the
// plan reads as frontend work.
func (p *Pipeline) planning(ctx context.Context, run *taskRun) error {
	title, err := p.deps.Agent.Title(ctx, run.payload.Description)
	if err != nil {
		return err
	}
	run.title = core.PRTitle(title)

	run.search = p.deps.Agent.SearchContext(ctx, run.payload.Description)

	plan, err := p.deps.Agent.Plan(ctx, run.payload.Description, run.web, run.search)
	if err != nil {
		return err
	}
	run.plan = plan

	body := p.deps.Agent.DraftBody(ctx, run.report, plan)
	pr, err := p.deps.Forge.CreatePR(ctx, core.CreatePROptions{
		Title:    run.title,
		Body:     body,
		Head:     run.branch,
		Base:     p.deps.BaseBranch,
		Draft:    true,
		Assignee: p.deps.Dog.Name,
	})
	if err != nil {
		return err
	}
	run.pr = pr
	p.deps.Logger.Info("draft PR created", "task_id", run.payload.TaskID, "pr", pr.URL)

	p.deps.Channel.Announce(ctx,
		core.FormatDraftPRCreated(run.title, pr.URL, core.PlanPreview(run.plan), p.deps.Dog.Name))

	run.frontend = visualdiff.IsFrontend(run.plan, nil)
	if run.frontend {
		run.before = p.deps.Agent.CaptureBefore(ctx, run.plan)
	}

	run.feedback, _ = p.deps.Channel.DrainNew(ctx)
	return nil
}

// implementation runs the main edit pass, then absorbs any feedback
// that arrived while it ran with one follow-up pass.
func (p *Pipeline) implementation(ctx context.Context, run *taskRun) error {
	_, err := p.deps.Agent.Implement(ctx, agent.ImplementRequest{
		Desc:          run.payload.Description,
		Feedback:      run.feedback,
		WebContext:    run.web,
		SearchContext: run.search,
		Images:        run.images,
	})
	if err != nil {
		return err
	}
	run.feedback = ""
	return p.absorbFeedback(ctx, run)
}

// selfReview runs the review pass and absorbs fresh feedback.
func (p *Pipeline) selfReview(ctx context.Context, run *taskRun) error {
	if _, err := p.deps.Agent.SelfReview(ctx, run.payload.Description); err != nil {
		return err
	}
	return p.absorbFeedback(ctx, run)
}

// testing writes and runs tests, then re-implements and re-tests once
// if feedback arrived while the tests ran.
func (p *Pipeline) testing(ctx context.Context, run *taskRun) error {
	if _, err := p.deps.Agent.Tests(ctx, run.payload.Description); err != nil {
		return err
	}
	feedback, ok := p.deps.Channel.DrainNew(ctx)
	if !ok {
		return nil
	}
	if err := p.implementFeedback(ctx, run, feedback); err != nil {
		return err
	}
	_, err := p.deps.Agent.Tests(ctx, run.payload.Description)
	return err
}

// absorbFeedback drains the thread and, when something new arrived,
// runs one extra implementation pass that may legitimately change
// nothing.
func (p *Pipeline) absorbFeedback(ctx context.Context, run *taskRun) error {
	feedback, ok := p.deps.Channel.DrainNew(ctx)
	if !ok {
		return nil
	}
	return p.implementFeedback(ctx, run, feedback)
}

func (p *Pipeline) implementFeedback(ctx context.Context, run *taskRun, feedback string) error {
	p.deps.Logger.Info("absorbing thread feedback", "task_id", run.payload.TaskID)
	_, err := p.deps.Agent.Implement(ctx, agent.ImplementRequest{
		Desc:           run.payload.Description,
		Feedback:       feedback,
		WebContext:     run.web,
		SearchContext:  run.search,
		Images:         run.images,
		AllowNoChanges: true,
	})
	return err
}

// finalize turns the branch into a reviewable PR: placeholder removed,
// final push, after-screenshots, the long-form body, ready flip, and
// the completion post. The report artifact is written before the forge
// calls so it survives a forge outage.
func (p *Pipeline) finalize(ctx context.Context, run *taskRun) (core.TaskResult, error) {
	if err := p.deps.Tree.RemovePlaceholder(); err != nil {
		return core.TaskResult{}, err
	}
	if _, err := p.deps.Tree.Commit(ctx, "Remove task placeholder"); err != nil {
		return core.TaskResult{}, err
	}
	if err := p.deps.Tree.Push(ctx, run.branch); err != nil {
		return core.TaskResult{}, err
	}

	changed, err := p.deps.Tree.ChangedFiles(ctx)
	if err != nil {
		p.deps.Logger.Warn("changed files unavailable", "error", err)
		changed = nil
	}

	// The plan alone may have missed frontend work the edits revealed.
	if !run.frontend {
		run.frontend = visualdiff.IsFrontend(run.plan, changed)
	}
	var after []visualdiff.Shot
	if run.frontend {
		after = p.deps.Agent.CaptureAfter(ctx, run.before)
	}

	stat, err := p.deps.Tree.DiffStat(ctx)
	if err != nil {
		p.deps.Logger.Warn("diff stat unavailable", "error", err)
		stat = ""
	}
	review := p.deps.Agent.CriticalReview(ctx, stat)
	feedback := core.FormatThreadFeedback(p.deps.Channel.AllMessages(ctx))

	duration := p.deps.Clock.Now().Sub(run.startedAt)
	body := p.deps.Agent.FinalBody(ctx, agent.FinalBodyRequest{
		Report:         run.report,
		Duration:       duration,
		FilesModified:  changed,
		Plan:           run.plan,
		DiffStat:       stat,
		CriticalReview: review,
		ThreadFeedback: feedback,
		Visuals: core.VisualChanges{
			Before: screenshots(run.before),
			After:  screenshots(after),
		},
	})

	res := p.result(run, core.StatusDone)
	res.CompletedPhase = core.PhaseFinalization
	p.writeReport(run, res, body)

	if err := p.deps.Forge.UpdatePR(ctx, run.pr.Number, "", body); err != nil {
		return core.TaskResult{}, err
	}
	if err := p.deps.Forge.MarkReady(ctx, run.pr.Number); err != nil {
		return core.TaskResult{}, err
	}
	run.completed = core.PhaseFinalization

	p.deps.Channel.Announce(ctx, core.FormatTaskCompleted(run.title, run.pr.URL, p.deps.Dog.Name))
	return res, nil
}

// finishCancelled is the terminal arm for an observed cancel flag: the
// draft PR (if any) is annotated, the single cancellation post goes to
// the thread, the flag is cleared.
func (p *Pipeline) finishCancelled(ctx context.Context, run *taskRun, d decision) (core.TaskResult, error) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalTimeout)
	defer cancel()

	res := p.result(run, core.StatusCancelled)
	res.CancelledBy = d.by
	p.deps.Logger.Info("task cancelled", "task_id", run.payload.TaskID,
		"by", d.by, "completed", run.completed)

	var body string
	if run.pr != nil {
		body = core.CancelledPRBody(run.report, d.by, run.completed, res.Duration())
		if err := p.deps.Forge.UpdatePR(tctx, run.pr.Number, "", body); err != nil {
			p.deps.Logger.Warn("cancelled PR annotation failed", "pr", run.pr.Number, "error", err)
		}
	}

	prURL := ""
	phase := ""
	if run.pr != nil {
		prURL = run.pr.URL
		phase = run.completed.String()
	}
	p.deps.Channel.Announce(tctx, core.FormatTaskCancelled(p.deps.Dog.Name, d.by, prURL, phase))

	if err := p.deps.Canceller.Clear(tctx, run.payload.TaskID); err != nil {
		p.deps.Logger.Warn("cancel flag clear failed", "task_id", run.payload.TaskID, "error", err)
	}

	p.writeReport(run, res, body)
	return res, nil
}

// finishFailed is the terminal arm for a phase error past init: the
// draft PR (if any) is annotated, the single failure post goes to the
// thread, and the original error is returned for the log.
func (p *Pipeline) finishFailed(ctx context.Context, run *taskRun, cause error) (core.TaskResult, error) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalTimeout)
	defer cancel()

	res := p.result(run, core.StatusFailed)
	res.Error = cause.Error()

	var body string
	if run.pr != nil {
		body = core.FailedPRBody(run.report, cause.Error(), res.Duration())
		if err := p.deps.Forge.UpdatePR(tctx, run.pr.Number, "", body); err != nil {
			p.deps.Logger.Warn("failed PR annotation failed", "pr", run.pr.Number, "error", err)
		}
	}

	p.deps.Channel.Announce(tctx, core.FormatTaskFailed(cause.Error()))
	p.writeReport(run, res, body)
	return res, cause
}

// result snapshots the run into a terminal TaskResult.
func (p *Pipeline) result(run *taskRun, status core.TaskStatus) core.TaskResult {
	res := core.TaskResult{
		TaskID:         run.payload.TaskID,
		Status:         status,
		BranchName:     run.branch,
		CompletedPhase: run.completed,
		CostTotal:      p.deps.Ledger.Total(),
		CostBreakdown:  p.deps.Ledger.Breakdown(),
		StartedAt:      run.startedAt,
		FinishedAt:     p.deps.Clock.Now(),
	}
	if run.pr != nil {
		res.PRURL = run.pr.URL
	}
	return res
}

// writeReport persists the terminal artifact. Failures are logged, not
// returned: the report never blocks the task outcome.
func (p *Pipeline) writeReport(run *taskRun, res core.TaskResult, prBody string) {
	if p.deps.Report == nil {
		return
	}
	path, err := p.deps.Report.Write(report.Artifact{
		Result:     res,
		Dog:        p.deps.Dog.Name,
		Requester:  run.payload.RequesterName,
		Repository: p.deps.Repo,
		CostReport: p.deps.Ledger.Report(),
		PRBody:     prBody,
	})
	if err != nil {
		p.deps.Logger.Warn("report write failed", "task_id", run.payload.TaskID, "error", err)
		return
	}
	p.deps.Logger.Info("report written", "path", path)
}

func screenshots(shots []visualdiff.Shot) []core.Screenshot {
	if len(shots) == 0 {
		return nil
	}
	out := make([]core.Screenshot, 0, len(shots))
	for _, s := range shots {
		out = append(out, core.Screenshot{Label: s.Label, URL: s.RemoteURL})
	}
	return out
}
