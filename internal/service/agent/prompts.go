package agent

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/bryanowens-dev/walker/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// templates holds every prompt, parsed once at startup. Names are the
// template file names, e.g. "implement.md.tmpl".
var templates = template.Must(template.ParseFS(promptsFS, "prompts/*.md.tmpl"))

// render executes the named prompt template.
func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name+".md.tmpl", data); err != nil {
		return "", core.ErrInternal(fmt.Sprintf("rendering %s prompt: %v", name, err))
	}
	return strings.TrimSpace(buf.String()), nil
}

type implementParams struct {
	Description   string
	Feedback      string
	WebContext    string
	SearchContext string
}

type repairParams struct {
	Errors []string
}

type reviewParams struct {
	Description  string
	ChangedFiles []string
}

type testingParams struct {
	Description  string
	ChangedFiles []string
}

type titleParams struct {
	Description string
	MaxLen      int
}

type planParams struct {
	Description   string
	WebContext    string
	SearchContext string
}

type draftParams struct {
	Plan string
}

type finalParams struct {
	Description string
	Plan        string
	DiffStat    string
}

type criticalParams struct {
	DiffSummary string
}

type probeParams struct {
	Description string
}

type hangParams struct {
	Output string
}
