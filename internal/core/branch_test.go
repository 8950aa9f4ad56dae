package core

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBranchName(t *testing.T) {
	date := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	got := BranchName("Rex", date, "Add a hello endpoint")
	if got != "rex/2025-06-03-add-a-hello-endpoint" {
		t.Fatalf("unexpected branch name: %s", got)
	}

	// Deterministic for the same inputs.
	if again := BranchName("Rex", date, "Add a hello endpoint"); again != got {
		t.Fatalf("branch name not deterministic: %s vs %s", got, again)
	}
}

func TestBranchName_LongDescription(t *testing.T) {
	date := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	long := strings.Repeat("refactor the whole storage layer ", 5)

	got := BranchName("Rex", date, long)
	parts := strings.SplitN(got, "/", 2)
	if len(parts) != 2 {
		t.Fatalf("expected dog/name shape: %s", got)
	}
	slug := strings.TrimPrefix(parts[1], "2025-06-03-")
	if len(slug) > 40 {
		t.Fatalf("task slug too long (%d): %s", len(slug), slug)
	}
	if strings.HasSuffix(slug, "-") {
		t.Fatalf("slug must not end with a dash: %s", slug)
	}
}

func TestBranchName_EmptyDescription(t *testing.T) {
	date := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	got := BranchName("Rex", date, "!!!")
	if got != "rex/2025-06-03-task" {
		t.Fatalf("expected fallback slug, got %s", got)
	}
}

func TestBranchCandidate(t *testing.T) {
	date := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	base := BranchCandidate("Rex", date, "fix login", 1)
	if base != "rex/2025-06-03-fix-login" {
		t.Fatalf("attempt 1 must be the base name: %s", base)
	}
	if got := BranchCandidate("Rex", date, "fix login", 2); got != base+"-2" {
		t.Fatalf("unexpected second candidate: %s", got)
	}
	if got := BranchCandidate("Rex", date, "fix login", 3); got != base+"-3" {
		t.Fatalf("unexpected third candidate: %s", got)
	}
}

func TestPRTitle_Short(t *testing.T) {
	got := PRTitle("Add a hello endpoint")
	if got != "[Walker] Add a hello endpoint" {
		t.Fatalf("unexpected title: %s", got)
	}
}

func TestPRTitle_Truncates(t *testing.T) {
	long := "Implement the new storage layer with sharding support and background compaction for all tenants"
	got := PRTitle(long)

	if utf8.RuneCountInString(got) > MaxPRTitleLength {
		t.Fatalf("title too long (%d): %s", utf8.RuneCountInString(got), got)
	}
	if !strings.HasPrefix(got, PRTitlePrefix) {
		t.Fatalf("missing prefix: %s", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated title should end with ellipsis: %s", got)
	}
	// Word boundary: the rune before the ellipsis is not a space and the
	// cut did not split a word in half relative to the source.
	body := strings.TrimSuffix(strings.TrimPrefix(got, PRTitlePrefix), "...")
	if !strings.HasPrefix(long, body+" ") && body != long {
		t.Fatalf("cut not on a word boundary: %q", body)
	}
}

func TestPlanPreview(t *testing.T) {
	short := strings.Repeat("a", 350)
	if PlanPreview(short) != short {
		t.Fatalf("plan at limit must pass through")
	}

	long := strings.Repeat("b", 351)
	got := PlanPreview(long)
	if utf8.RuneCountInString(got) != 350 {
		t.Fatalf("unexpected preview length: %d", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("preview should end with ellipsis")
	}
	if got[:347] != long[:347] {
		t.Fatalf("preview must keep the first 347 chars")
	}
}

func TestTextProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	date := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	properties.Property("branch candidates increase strictly with attempt", prop.ForAll(
		func(desc string, attempt int) bool {
			a := BranchCandidate("rex", date, desc, attempt)
			b := BranchCandidate("rex", date, desc, attempt+1)
			return a != b && strings.HasPrefix(b, BranchName("rex", date, desc))
		},
		gen.AlphaString(),
		gen.IntRange(2, 50),
	))

	properties.Property("PR titles never exceed the limit", prop.ForAll(
		func(title string) bool {
			got := PRTitle(title)
			return utf8.RuneCountInString(got) <= MaxPRTitleLength &&
				strings.HasPrefix(got, PRTitlePrefix)
		},
		gen.AnyString(),
	))

	properties.Property("plan preview truncates exactly above the limit", prop.ForAll(
		func(plan string) bool {
			got := PlanPreview(plan)
			if utf8.RuneCountInString(plan) <= 350 {
				return got == plan
			}
			return utf8.RuneCountInString(got) == 350 && strings.HasSuffix(got, "...")
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
