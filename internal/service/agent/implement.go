package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/service/costs"
)

// noChangeDiagLines bounds the output excerpt a NO_CHANGES error carries.
const noChangeDiagLines = 15

// ImplementRequest describes one implementation pass.
type ImplementRequest struct {
	Desc string
	// Feedback is combined thread feedback, already drained. Empty on
	// the first pass.
	Feedback string
	// WebContext is the "CONTEXT - Referenced Websites:" block.
	WebContext string
	// SearchContext is the "CONTEXT - Internet Research:" block.
	SearchContext string
	// Images are staged attachment paths inside the working tree.
	Images []string
	// AllowNoChanges permits an empty pass. Feedback and review re-runs
	// may legitimately conclude nothing needs changing; the first pass
	// may not.
	AllowNoChanges bool
}

// Implement runs one editing pass: prompt the agent, commit what it
// left uncommitted, enforce the no-change rule, then validate with one
// repair re-prompt. A second validation failure is terminal.
func (f *Facade) Implement(ctx context.Context, req ImplementRequest) (core.EditOutcome, error) {
	feedback := ""
	if req.Feedback != "" {
		feedback = strings.TrimSpace(core.FormatFeedbackForPrompt(req.Feedback))
	}
	prompt, err := render("implement", implementParams{
		Description:   req.Desc,
		Feedback:      feedback,
		WebContext:    req.WebContext,
		SearchContext: req.SearchContext,
	})
	if err != nil {
		return core.EditOutcome{}, err
	}
	outcome, _, err := f.editPass(ctx, editPass{
		prompt:         prompt,
		category:       costs.CategoryImplementation,
		commitMsg:      "Apply task changes",
		images:         req.Images,
		allowNoChanges: req.AllowNoChanges,
	})
	return outcome, err
}

// SelfReview runs a review pass over the branch. The reviewer may fix
// what it finds; finding nothing is fine.
func (f *Facade) SelfReview(ctx context.Context, desc string) (core.EditOutcome, error) {
	changed, err := f.tree.ChangedFiles(ctx)
	if err != nil {
		return core.EditOutcome{}, err
	}
	prompt, err := render("self-review", reviewParams{Description: desc, ChangedFiles: changed})
	if err != nil {
		return core.EditOutcome{}, err
	}
	outcome, _, err := f.editPass(ctx, editPass{
		prompt:         prompt,
		category:       costs.CategorySelfReview,
		commitMsg:      "Address self-review findings",
		allowNoChanges: true,
	})
	return outcome, err
}

// Tests has the agent write and run the project's tests. An explicit
// FAIL verdict in the reply is terminal.
func (f *Facade) Tests(ctx context.Context, desc string) (core.EditOutcome, error) {
	changed, err := f.tree.ChangedFiles(ctx)
	if err != nil {
		return core.EditOutcome{}, err
	}
	prompt, err := render("testing", testingParams{Description: desc, ChangedFiles: changed})
	if err != nil {
		return core.EditOutcome{}, err
	}
	outcome, output, err := f.editPass(ctx, editPass{
		prompt:         prompt,
		category:       costs.CategoryTesting,
		commitMsg:      "Add tests",
		allowNoChanges: true,
	})
	if err != nil {
		return outcome, err
	}
	if verdict, found := testVerdict(output); found && strings.HasPrefix(strings.ToUpper(verdict), "FAIL") {
		return outcome, core.ErrExecution(core.CodeTestsFailed,
			"agent reported failing tests").WithDetail("verdict", verdict)
	}
	return outcome, nil
}

// editPass is one editor invocation plus the bookkeeping around it.
type editPass struct {
	prompt         string
	category       string
	commitMsg      string
	images         []string
	allowNoChanges bool
}

// editPass runs the editor, commits leftovers, enforces the no-change
// rule, and validates the branch with one repair re-prompt. It returns
// the agent's final reply alongside the outcome.
func (f *Facade) editPass(ctx context.Context, pass editPass) (core.EditOutcome, string, error) {
	var outcome core.EditOutcome

	before, err := f.tree.RevCount(ctx)
	if err != nil {
		return outcome, "", err
	}

	res, err := f.execute(ctx, pass.prompt, pass.images, pass.category)
	if err != nil {
		return outcome, "", err
	}
	outcome.TokensIn = res.TokensIn
	outcome.TokensOut = res.TokensOut
	outcome.CostUSD = res.CostUSD

	// The agent may commit by itself; stage and commit whatever it left.
	if _, err := f.tree.Commit(ctx, pass.commitMsg); err != nil {
		return outcome, res.Output, err
	}
	if err := f.refresh(ctx, &outcome, before); err != nil {
		return outcome, res.Output, err
	}

	if outcome.Commits == 0 && !pass.allowNoChanges {
		return outcome, res.Output, core.ErrExecution(core.CodeNoChanges,
			"editing agent made no changes to the working tree").
			WithDetail("output", lastLines(res.Output, noChangeDiagLines)).
			WithDetail("duration", res.Duration.String())
	}

	if f.gate == nil || len(outcome.ChangedFiles) == 0 {
		return outcome, res.Output, nil
	}
	report, err := f.gate.Validate(ctx, outcome.ChangedFiles)
	if err != nil {
		return outcome, res.Output, err
	}
	if report.OK {
		return outcome, res.Output, nil
	}

	// One repair pass with the verbatim findings, then revalidate.
	f.logger.Warn("validation failed, running repair pass", "findings", len(report.Errors))
	f.notify(ctx, "Type checks failed - fixing the reported errors...")

	repairPrompt, err := render("repair", repairParams{Errors: report.Errors})
	if err != nil {
		return outcome, res.Output, err
	}
	repairRes, err := f.execute(ctx, repairPrompt, nil, costs.CategoryRepair)
	if err != nil {
		return outcome, res.Output, err
	}
	outcome.TokensIn += repairRes.TokensIn
	outcome.TokensOut += repairRes.TokensOut
	outcome.CostUSD += repairRes.CostUSD
	outcome.Repaired = true

	if _, err := f.tree.Commit(ctx, "Fix validation errors"); err != nil {
		return outcome, repairRes.Output, err
	}
	if err := f.refresh(ctx, &outcome, before); err != nil {
		return outcome, repairRes.Output, err
	}

	report, err = f.gate.Validate(ctx, outcome.ChangedFiles)
	if err != nil {
		return outcome, repairRes.Output, err
	}
	if !report.OK {
		return outcome, repairRes.Output, core.ErrExecution(core.CodeValidationUnfixed,
			fmt.Sprintf("type checks still failing after repair pass (%d findings)", len(report.Errors))).
			WithDetail("errors", strings.Join(report.Errors, "\n\n"))
	}
	return outcome, repairRes.Output, nil
}

// refresh recomputes the outcome's branch view: files changed against
// the base and commits made past the pass's starting point.
func (f *Facade) refresh(ctx context.Context, outcome *core.EditOutcome, baseline int) error {
	changed, err := f.tree.ChangedFiles(ctx)
	if err != nil {
		return err
	}
	count, err := f.tree.RevCount(ctx)
	if err != nil {
		return err
	}
	outcome.ChangedFiles = changed
	outcome.Commits = count - baseline
	return nil
}

// execute runs one editor invocation and charges the ledger. The CLI
// reports its own spend when it can; the token-derived price is the
// fallback.
func (f *Facade) execute(ctx context.Context, prompt string, images []string, category string) (*core.EditResult, error) {
	res, err := f.editor.Execute(ctx, core.EditOptions{
		Prompt:     prompt,
		WorkDir:    f.tree.Dir(),
		Model:      f.model,
		Timeout:    f.editTimeout,
		ImagePaths: images,
	})
	if err != nil {
		return nil, err
	}
	if res.CostUSD > 0 {
		f.ledger.AddUSD(category, res.CostUSD)
	} else {
		f.ledger.Add(category, res.TokensIn, res.TokensOut, res.Model)
	}
	return res, nil
}

// testVerdict finds the last "TEST RESULT:" line in the agent's reply.
// A missing verdict does not fail the task; the validation gate still
// stands behind it.
func testVerdict(output string) (verdict string, found bool) {
	for _, line := range strings.Split(output, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "TEST RESULT:"); ok {
			verdict, found = strings.TrimSpace(rest), true
		}
	}
	return verdict, found
}

// lastLines keeps the tail of a command output for diagnostics.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
