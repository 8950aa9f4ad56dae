package core

import (
	"fmt"
	"strings"
	"time"
)

// PRReport carries the task facts every PR body variant opens with.
type PRReport struct {
	Description   string
	RequesterName string
	RequesterURL  string
	StartTime     time.Time
}

const prBodyHeader = "## 🐕 Walker Task Report"

const prBodyFooter = "---\n🤖 Generated with [Walker](https://github.com/bryanowens-dev/walker)"

// requestTimeLayout matches "June 3, 2025 at 2:41:07 PM PDT".
const requestTimeLayout = "January 2, 2006 at 3:04:05 PM MST"

func (r PRReport) requesterLink() string {
	if r.RequesterURL != "" {
		return fmt.Sprintf("[%s](%s)", r.RequesterName, r.RequesterURL)
	}
	return r.RequesterName
}

func (r PRReport) preamble() string {
	return fmt.Sprintf(`%s

### 👤 Requester
**%s** requested this change

### 📋 Request
> %s

### 📅 When
Requested on **%s**
`, prBodyHeader, r.requesterLink(), r.Description, r.StartTime.Format(requestTimeLayout))
}

// DraftPRBody is the body a freshly opened draft PR carries: the plan,
// plus a banner saying implementation is still running.
func DraftPRBody(r PRReport, plan string) string {
	return fmt.Sprintf(`%s
### 🎯 Implementation Plan
%s

---

🚧 **This is a draft PR** - Implementation in progress...

_This PR will be updated with changes and marked ready for review when complete._

%s
`, r.preamble(), plan, prBodyFooter)
}

// Screenshot is one captured page referenced from a PR body.
type Screenshot struct {
	// Label names the page, e.g. "home" or "users_settings".
	Label string
	// URL is the stable raw-content URL on the media branch.
	URL string
}

// VisualChanges pairs the before/after captures for the final body.
type VisualChanges struct {
	Before []Screenshot
	After  []Screenshot
}

func (v VisualChanges) empty() bool {
	return len(v.Before) == 0 && len(v.After) == 0
}

func (v VisualChanges) section() string {
	var b strings.Builder
	b.WriteString("\n### 📸 Visual Changes\n")
	writeShots := func(heading string, shots []Screenshot) {
		if len(shots) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n**%s:**\n\n", heading)
		for _, s := range shots {
			if s.URL == "" {
				continue
			}
			fmt.Fprintf(&b, "![%s](%s)\n", s.Label, s.URL)
		}
	}
	writeShots("Before", v.Before)
	writeShots("After", v.After)
	return b.String()
}

// FinalPRBody is the long-form report written when a task completes.
// Optional sections are dropped when their input is empty.
func FinalPRBody(
	r PRReport,
	duration time.Duration,
	filesModified []string,
	planSummary string,
	criticalReview string,
	threadFeedback string,
	visuals VisualChanges,
) string {
	var b strings.Builder
	b.WriteString(r.preamble())

	b.WriteString("\n### 🎯 Implementation Plan\n")
	if planSummary != "" {
		b.WriteString(planSummary + "\n")
	} else {
		b.WriteString("_AI agent autonomously determined the implementation approach_\n")
	}

	b.WriteString("\n### 📝 Changes Made\n")
	if len(filesModified) > 0 {
		b.WriteString("The following files were modified:\n")
		for _, file := range filesModified {
			fmt.Fprintf(&b, "- `%s`\n", file)
		}
	} else {
		b.WriteString("_File changes were committed automatically by the AI agent_\n")
	}

	if !visuals.empty() {
		b.WriteString(visuals.section())
	}

	if strings.TrimSpace(criticalReview) != "" {
		fmt.Fprintf(&b, "\n### ⚠️ Critical Review Areas\n%s\n", criticalReview)
	}

	if strings.TrimSpace(threadFeedback) != "" {
		fmt.Fprintf(&b, "\n### 💬 Thread Feedback\n%s\n", threadFeedback)
	}

	fmt.Fprintf(&b, `
### ✅ Quality Assurance
This PR has been:
- Self-reviewed by the AI agent
- Comprehensive tests written and verified passing
- All code changes validated before submission

### ⏱️ Task Duration
Completed in **%s**

%s
`, FormatDuration(duration), prBodyFooter)

	return b.String()
}

// CancelledPRBody annotates a draft PR that was stopped by a user. The
// draft is never deleted; this body records what did and did not run.
func CancelledPRBody(
	r PRReport,
	cancelledBy string,
	lastCompleted Phase,
	elapsed time.Duration,
) string {
	var b strings.Builder
	b.WriteString(r.preamble())

	fmt.Fprintf(&b, "\n### 🛑 Task Cancelled\nCancelled by **%s**.\n\n", cancelledBy)

	if lastCompleted != "" {
		fmt.Fprintf(&b, "**Completed phases:** %s\n", completedPhaseList(lastCompleted))
		if remaining := RemainingPhases(lastCompleted); len(remaining) > 0 {
			fmt.Fprintf(&b, "**Not completed:** %s\n", phaseList(remaining))
		}
	} else {
		b.WriteString("**Completed phases:** none - the task was stopped before making changes.\n")
	}

	fmt.Fprintf(&b, `
### ⏱️ Elapsed Time
Stopped after **%s**

%s
`, FormatDuration(elapsed), prBodyFooter)

	return b.String()
}

// FailedPRBody annotates a draft PR whose pipeline hit a terminal error.
func FailedPRBody(r PRReport, errorMessage string, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString(r.preamble())

	fmt.Fprintf(&b, "\n### ❌ Task Failed\n```\n%s\n```\n", errorMessage)

	fmt.Fprintf(&b, `
### ⏱️ Elapsed Time
Failed after **%s**

%s
`, FormatDuration(elapsed), prBodyFooter)

	return b.String()
}

func completedPhaseList(lastCompleted Phase) string {
	var done []Phase
	for _, p := range AllPhases() {
		done = append(done, p)
		if p == lastCompleted {
			break
		}
	}
	return phaseList(done)
}

func phaseList(phases []Phase) string {
	names := make([]string, 0, len(phases))
	for _, p := range phases {
		names = append(names, p.String())
	}
	return strings.Join(names, ", ")
}
