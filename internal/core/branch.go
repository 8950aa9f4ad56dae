package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// PRTitlePrefix marks every Walker pull request.
	PRTitlePrefix = "[Walker] "

	// MaxPRTitleLength bounds the full title, prefix included.
	MaxPRTitleLength = 70

	// maxTaskSlugLength bounds the description part of a branch name.
	maxTaskSlugLength = 40

	// planPreviewLimit is the longest plan that posts to the thread
	// untruncated.
	planPreviewLimit = 350
)

// BranchName builds the work branch for a task:
// "{dog-slug}/{YYYY-MM-DD}-{task-slug}". Deterministic for a given
// (dog, date, description) triple.
func BranchName(dogName string, date time.Time, description string) string {
	slug := Slugify(description)
	if len(slug) > maxTaskSlugLength {
		slug = strings.TrimRight(slug[:maxTaskSlugLength], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return fmt.Sprintf("%s/%s-%s", Slugify(dogName), date.Format("2006-01-02"), slug)
}

// BranchCandidate returns the attempt-th branch name for a task.
// Attempt 1 is BranchName itself; later attempts append "-2", "-3", …
// so a conflicting remote branch never blocks a new task in the same
// thread-day.
func BranchCandidate(dogName string, date time.Time, description string, attempt int) string {
	base := BranchName(dogName, date, description)
	if attempt <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt)
}

// PRTitle prefixes and bounds a pull request title. Titles that would
// exceed MaxPRTitleLength are cut at a word boundary and suffixed with
// "...".
func PRTitle(title string) string {
	title = strings.TrimSpace(title)
	full := PRTitlePrefix + title
	if utf8.RuneCountInString(full) <= MaxPRTitleLength {
		return full
	}

	budget := MaxPRTitleLength - utf8.RuneCountInString(PRTitlePrefix) - len("...")
	runes := []rune(title)
	cut := budget
	for i := budget; i > 0; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	truncated := strings.TrimRight(string(runes[:cut]), " ")
	return PRTitlePrefix + truncated + "..."
}

// PlanPreview shortens a plan for the thread post. Plans at or under
// the limit pass through unchanged; longer plans are cut to 347 runes
// plus "...".
func PlanPreview(plan string) string {
	if utf8.RuneCountInString(plan) <= planPreviewLimit {
		return plan
	}
	return string([]rune(plan)[:planPreviewLimit-3]) + "..."
}
