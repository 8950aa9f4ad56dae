package core

import "fmt"

// Phase represents a stage in the task pipeline.
type Phase string

const (
	// PhaseInit is the setup phase: clone, branch, placeholder commit,
	// thread binding, dog load accounting.
	PhaseInit Phase = "init"

	// PhasePlanning generates the title and plan and opens the draft PR.
	PhasePlanning Phase = "planning"

	// PhaseImplementation drives the editing agent over the working tree
	// and gates the result through validation.
	PhaseImplementation Phase = "implementation"

	// PhaseSelfReview re-invokes the agent to review its own changes.
	PhaseSelfReview Phase = "self_review"

	// PhaseTesting writes and runs tests for the change.
	PhaseTesting Phase = "testing"

	// PhaseFinalization pushes, captures after-screenshots, builds the
	// final PR body and marks the PR ready.
	PhaseFinalization Phase = "finalization"
)

// AllPhases returns all phases in execution order.
func AllPhases() []Phase {
	return []Phase{
		PhaseInit,
		PhasePlanning,
		PhaseImplementation,
		PhaseSelfReview,
		PhaseTesting,
		PhaseFinalization,
	}
}

// PhaseOrder returns the numeric order of a phase (0-indexed).
func PhaseOrder(p Phase) int {
	for i, phase := range AllPhases() {
		if phase == p {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase following the given phase.
// Returns empty string if current phase is the last.
func NextPhase(p Phase) Phase {
	order := PhaseOrder(p)
	all := AllPhases()
	if order < 0 || order >= len(all)-1 {
		return ""
	}
	return all[order+1]
}

// RemainingPhases returns the phases strictly after p, in order.
// Used to annotate a cancelled PR with the work that never ran.
func RemainingPhases(p Phase) []Phase {
	order := PhaseOrder(p)
	if order < 0 {
		return AllPhases()
	}
	return AllPhases()[order+1:]
}

// ValidPhase checks if a phase string is valid.
func ValidPhase(p Phase) bool {
	return PhaseOrder(p) >= 0
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseInit:
		return "Clone the repository and prepare the task branch"
	case PhasePlanning:
		return "Generate the implementation plan and open the draft PR"
	case PhaseImplementation:
		return "Apply code changes with the editing agent"
	case PhaseSelfReview:
		return "Review the changes for quality and completeness"
	case PhaseTesting:
		return "Write and run tests for the changes"
	case PhaseFinalization:
		return "Push, capture screenshots and mark the PR ready"
	default:
		return "Unknown phase"
	}
}

// TaskStatus is the terminal outcome of a pipeline run.
type TaskStatus string

const (
	StatusDone      TaskStatus = "done"
	StatusCancelled TaskStatus = "cancelled"
	StatusFailed    TaskStatus = "failed"
)

// ValidStatus checks if a status string is a known terminal status.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusDone, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}
