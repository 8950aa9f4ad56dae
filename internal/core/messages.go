package core

import (
	"fmt"
	"strings"
	"time"
)

// Fixed chat and PR text. The thread is the task's audit log, so the
// wording here is part of the contract: tests assert on these exact
// shapes and humans grep them.

// FormatDogMessage prefixes text with the dog identity marker.
func FormatDogMessage(dogName, text string) string {
	return fmt.Sprintf("🐕 **%s:** %s", dogName, text)
}

// FormatQuestion wraps a question for the thread.
func FormatQuestion(question string) string {
	return fmt.Sprintf("❓ **Question:** %s\n\n_Please reply in this thread. I'll check back shortly._", question)
}

// FormatFeedbackForPrompt wraps drained thread feedback in the preamble
// the editing agent receives.
func FormatFeedbackForPrompt(feedback string) string {
	return fmt.Sprintf(`
IMPORTANT - HUMAN FEEDBACK:
The human has provided the following feedback/change request in the Slack thread:

%s

Please incorporate this feedback into your current work. Adjust your implementation
to match the human's request while maintaining code quality and best practices.
`, feedback)
}

// FormatUsageHint answers a mention that carried no task description.
func FormatUsageHint() string {
	return "Please provide a task description! Example: `@walker add rate limiting to /api/login`"
}

// FormatIntakeError reports an intake failure in the thread.
func FormatIntakeError(err error) string {
	return fmt.Sprintf("⚠️ Something went wrong! (%v)", err)
}

// FormatCancelFailed reports that the cancel click could not be
// recorded. The task keeps running.
func FormatCancelFailed(err error) string {
	return fmt.Sprintf("⚠️ Could not cancel task: %v", err)
}

// FormatTaskStarted is the acknowledgement message carrying the cancel
// button. Returns the fallback text and the rich blocks.
func FormatTaskStarted(dogName, description, taskID string) (string, MessageBlocks) {
	fallback := fmt.Sprintf("🐕 %s is taking this task! %s", dogName, description)
	blocks := MessageBlocks{
		Text: fmt.Sprintf("🐕 *%s* is taking this task!\n\n_%s_", dogName, description),
		Buttons: []MessageButton{
			{
				Label:    "Cancel Task",
				ActionID: "cancel_task",
				Value:    taskID,
				Style:    "danger",
			},
		},
	}
	return fallback, blocks
}

// FormatDraftPRCreated announces the draft PR and the plan preview.
func FormatDraftPRCreated(prTitle, prURL, planPreview, dogName string) string {
	return fmt.Sprintf(`📋 *%s created a draft PR with the plan*

<%s|%s>

*Plan preview:*
%s
%s
%s

_Now implementing the changes..._`, dogName, prURL, prTitle, "```", planPreview, "```")
}

// FormatTaskCompleted is the single final post for a successful task.
func FormatTaskCompleted(prTitle, prURL, dogName string) string {
	return fmt.Sprintf(`✅ *Work complete! PR ready for review*

<%s|%s>

_Completed by %s_`, prURL, prTitle, dogName)
}

// FormatTaskFailed is the single final post for a failed task.
func FormatTaskFailed(errorMessage string) string {
	return fmt.Sprintf("❌ *Task failed*\n\n```%s```", errorMessage)
}

// FormatTaskCancelled is the single final post for a cancelled task.
func FormatTaskCancelled(dogName, cancelledBy, prURL, phaseCompleted string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛑 *Task cancelled by %s*\n\n", cancelledBy)
	if phaseCompleted != "" {
		fmt.Fprintf(&b, "_%s completed: %s_\n\n", dogName, phaseCompleted)
	} else {
		fmt.Fprintf(&b, "_%s stopped before making changes._\n\n", dogName)
	}
	if prURL != "" {
		fmt.Fprintf(&b, "Draft PR with partial progress: <%s|View PR>", prURL)
	} else {
		b.WriteString("No PR was created.")
	}
	return b.String()
}

// FormatCancelRequested replaces the acknowledgement message once the
// cancel button is clicked, removing the button.
func FormatCancelRequested(cancelledBy string) MessageBlocks {
	return MessageBlocks{
		Text: fmt.Sprintf("🛑 *Cancellation requested by %s*\n\n_The dog will stop at the next safe checkpoint..._", cancelledBy),
	}
}

// EscapeMarkdown escapes emphasis markers in user text quoted into PR
// bodies.
func EscapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "*", "\\*")
	return strings.ReplaceAll(text, "_", "\\_")
}

// FormatThreadFeedback renders all thread messages as markdown bullets
// for the final PR body. Returns "" when the thread had no messages.
func FormatThreadFeedback(messages []ThreadMessage) string {
	if len(messages) == 0 {
		return ""
	}
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		name := msg.UserName
		if name == "" {
			name = "Unknown User"
		}
		lines = append(lines, fmt.Sprintf("- **%s:** %s", name, EscapeMarkdown(msg.Text)))
	}
	return strings.Join(lines, "\n")
}

// CombineFeedback joins drained messages into the single text block the
// prompt preamble wraps.
func CombineFeedback(messages []ThreadMessage) string {
	if len(messages) == 0 {
		return ""
	}
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, fmt.Sprintf("%s: %s", msg.UserName, msg.Text))
	}
	return strings.Join(parts, "\n\n")
}

// FormatDuration renders an elapsed time the way the PR body reports it.
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	minutes := total / 60
	seconds := total % 60
	if minutes > 0 {
		return fmt.Sprintf("%d minute%s and %d second%s",
			minutes, plural(minutes), seconds, plural(seconds))
	}
	return fmt.Sprintf("%d second%s", seconds, plural(seconds))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
