package core

import (
	"fmt"
	"strings"
	"unicode"
)

// Dog is a named agent identity: display name, commit email and the
// forge credential used for its pushes and PRs. The roster is fixed for
// a process lifetime.
type Dog struct {
	Name       string `json:"name" mapstructure:"name"`
	Email      string `json:"email" mapstructure:"email"`
	Credential string `json:"credential" mapstructure:"credential"`
}

// Validate checks a dog has the fields every pipeline step needs.
func (d Dog) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrValidation(CodeNoDogs, "dog name is required")
	}
	if !strings.Contains(d.Email, "@") {
		return ErrValidation(CodeInvalidConfig,
			fmt.Sprintf("dog %q has invalid email %q", d.Name, d.Email))
	}
	if d.Credential == "" {
		return ErrValidation(CodeInvalidConfig,
			fmt.Sprintf("dog %q has no forge credential", d.Name))
	}
	return nil
}

// Slug returns the branch-prefix form of the dog's name: lowercase,
// non-alphanumerics collapsed to single dashes.
func (d Dog) Slug() string {
	return Slugify(d.Name)
}

// Roster is the ordered set of dogs loaded at startup. Order matters:
// the selector breaks load ties by roster position.
type Roster []Dog

// Validate checks the roster is non-empty, every dog is valid and names
// are unique.
func (r Roster) Validate() error {
	if len(r) == 0 {
		return ErrValidation(CodeNoDogs, "at least one dog must be configured")
	}
	seen := make(map[string]bool, len(r))
	for _, d := range r {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return ErrValidation(CodeInvalidConfig,
				fmt.Sprintf("duplicate dog name %q", d.Name))
		}
		seen[d.Name] = true
	}
	return nil
}

// ByName finds a dog in the roster.
func (r Roster) ByName(name string) (Dog, bool) {
	for _, d := range r {
		if d.Name == name {
			return d, true
		}
	}
	return Dog{}, false
}

// Names returns the roster names in order.
func (r Roster) Names() []string {
	names := make([]string, len(r))
	for i, d := range r {
		names[i] = d.Name
	}
	return names
}

// Slugify lowercases s and collapses every run of non-alphanumeric
// characters into a single dash, trimming dashes at both ends.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
