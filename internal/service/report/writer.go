// Package report writes the per-task markdown artifact: what ran, what
// it cost, and the PR body that was (or should have been) posted. The
// file is written atomically during finalization, before any forge
// call, so the record survives a failed PR update.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/renameio/v2"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// Artifact bundles everything one task report shows.
type Artifact struct {
	Result     core.TaskResult
	Dog        string
	Requester  string
	Repository string
	// CostReport is the ledger's markdown rendering.
	CostReport string
	// PRBody is the final, cancelled or failed body.
	PRBody string
}

// Writer persists task reports under one directory.
type Writer struct {
	dir    string
	logger *logging.Logger
}

// NewWriter creates a report writer rooted at dir.
func NewWriter(dir string, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{dir: dir, logger: logger}
}

// Write renders the artifact and writes {dir}/{task_id}.md atomically.
// It returns the path written.
func (w *Writer) Write(a Artifact) (string, error) {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	path := filepath.Join(w.dir, sanitizeFilename(a.Result.TaskID)+".md")
	if err := renameio.WriteFile(path, []byte(render(a)), 0o644); err != nil {
		return "", fmt.Errorf("writing task report: %w", err)
	}
	w.logger.Info("task report written", "path", path, "status", a.Result.Status)
	return path, nil
}

// render builds the report markdown.
func render(a Artifact) string {
	res := a.Result

	var b strings.Builder
	b.WriteString("# Walker Task Report\n\n")
	fmt.Fprintf(&b, "- **Task:** `%s`\n", res.TaskID)
	fmt.Fprintf(&b, "- **Status:** %s\n", res.Status)
	if a.Dog != "" {
		fmt.Fprintf(&b, "- **Dog:** %s\n", a.Dog)
	}
	if a.Requester != "" {
		fmt.Fprintf(&b, "- **Requester:** %s\n", a.Requester)
	}
	if a.Repository != "" {
		fmt.Fprintf(&b, "- **Repository:** %s\n", a.Repository)
	}
	if res.BranchName != "" {
		fmt.Fprintf(&b, "- **Branch:** `%s`\n", res.BranchName)
	}
	if res.PRURL != "" {
		fmt.Fprintf(&b, "- **Pull request:** %s\n", res.PRURL)
	}
	if res.CompletedPhase != "" {
		fmt.Fprintf(&b, "- **Last completed phase:** %s\n", res.CompletedPhase)
	}
	if !res.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Started:** %s\n", res.StartedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- **Duration:** %s\n", core.FormatDuration(res.Duration()))
	if res.CancelledBy != "" {
		fmt.Fprintf(&b, "- **Cancelled by:** %s\n", res.CancelledBy)
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", res.Error)
	}

	b.WriteString("\n## Cost\n\n")
	if a.CostReport != "" {
		b.WriteString(strings.TrimRight(a.CostReport, "\n"))
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "**Total cost:** $%.4f\n", res.CostTotal)
	}

	if a.PRBody != "" {
		b.WriteString("\n## Pull request body\n\n")
		b.WriteString(strings.TrimRight(a.PRBody, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// sanitizeFilename keeps task ids filesystem-safe. Channel and thread
// ids are alphanumeric with dots already; anything else becomes a dash.
func sanitizeFilename(s string) string {
	var out strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.':
			out.WriteRune(r)
		default:
			out.WriteRune('-')
		}
	}
	if out.Len() == 0 {
		return "task"
	}
	return out.String()
}
