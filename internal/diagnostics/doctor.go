// Package diagnostics implements the checks behind `walker doctor`:
// config validity, store connectivity, the binaries the pipeline
// shells out to, and disk/memory headroom, reported before a dog takes
// its first task.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"gopkg.in/yaml.v3"

	"github.com/bryanowens-dev/walker/internal/adapters/browser"
	"github.com/bryanowens-dev/walker/internal/adapters/state"
	"github.com/bryanowens-dev/walker/internal/config"
	"github.com/bryanowens-dev/walker/internal/coord"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// Headroom thresholds. Clones plus npm installs eat disk quickly, and
// a dev server with less than half a gigabyte of free memory tends to
// die mid-screenshot.
const (
	critDiskFreeGB = 1.0
	minDiskFreeGB  = 5.0
	minMemFreeMB   = 512.0
)

const (
	probeTimeout     = 10 * time.Second
	storePingTimeout = 5 * time.Second
	recentTaskRows   = 5
)

// Status classifies one check line. Warnings degrade features (no
// screenshots, no type checks); failures mean tasks cannot run.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one doctor finding.
type Check struct {
	Name   string
	Status Status
	Detail string
}

// Report is everything `walker doctor` prints.
type Report struct {
	Checks     []Check
	ConfigYAML string
	Recent     []state.TaskRecord
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
}

// Healthy reports whether no check failed.
func (r *Report) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

// Render writes the human-readable report.
func (r *Report) Render(w io.Writer) {
	for _, c := range r.Checks {
		fmt.Fprintf(w, "%s %-20s %s\n", c.Status.mark(), c.Name, c.Detail)
	}
	if r.ConfigYAML != "" {
		fmt.Fprintf(w, "\neffective config (secrets redacted):\n\n")
		for _, line := range strings.Split(strings.TrimRight(r.ConfigYAML, "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if len(r.Recent) > 0 {
		fmt.Fprintf(w, "\nrecent tasks:\n\n")
		for _, rec := range r.Recent {
			fmt.Fprintf(w, "  %-28s %-10s %-10s $%.2f  %s\n",
				rec.TaskID, rec.Dog, rec.Status, rec.CostTotal,
				rec.FinishedAt.Format("2006-01-02 15:04"))
		}
	}
}

func (s Status) mark() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarn:
		return "!"
	default:
		return "✗"
	}
}

// CommandRunner abstracts process execution for version probes.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// History is the slice of the task archive the doctor reads.
type History interface {
	Recent(ctx context.Context, n int) ([]state.TaskRecord, error)
}

// Doctor runs the checks. Collaborators are plain function fields so
// tests can stub a missing binary or a full disk without either.
type Doctor struct {
	cfg      *config.Config
	settings map[string]any
	logger   *logging.Logger

	runner        CommandRunner
	lookPath      func(file string) (string, error)
	pingStore     func(ctx context.Context) error
	openHistory   func() (History, func(), error)
	detectBrowser func() (string, error)
	diskUsage     func(path string) (*disk.UsageStat, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
}

// New builds a doctor for the loaded config. settings is the raw
// settings map the loader resolved; it feeds the sanitized YAML dump.
func New(cfg *config.Config, settings map[string]any, logger *logging.Logger) *Doctor {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Doctor{
		cfg:           cfg,
		settings:      settings,
		logger:        logger,
		runner:        browser.ExecRunner{},
		lookPath:      exec.LookPath,
		detectBrowser: browser.Detect,
		diskUsage:     disk.Usage,
		virtualMemory: mem.VirtualMemory,
	}
	d.pingStore = d.defaultPingStore
	d.openHistory = d.defaultOpenHistory
	return d
}

// Run executes every check. Failures land in the report, never in an
// error: the report is the product.
func (d *Doctor) Run(ctx context.Context) *Report {
	r := &Report{}
	r.add(d.checkConfig())
	r.add(d.checkStore(ctx))
	r.add(d.checkBinary(ctx, "git", true, ""))
	r.add(d.checkBinary(ctx, "gh", true, ""))
	r.add(d.checkAgent(ctx))
	r.add(d.checkBinary(ctx, "node", false, "dev server checks will be skipped"))
	r.add(d.checkBinary(ctx, "npm", false, "dev server checks will be skipped"))
	r.add(d.checkBinary(ctx, "npx", false, "type checks will be skipped"))
	r.add(d.checkBrowser(ctx))
	r.add(d.checkDisk())
	r.add(d.checkMemory())
	check, recent := d.checkArchive(ctx)
	r.add(check)
	r.Recent = recent
	r.ConfigYAML = d.renderConfig()
	return r
}

func (d *Doctor) checkConfig() Check {
	if err := config.ValidateConfig(d.cfg); err != nil {
		return Check{Name: "config", Status: StatusFail, Detail: err.Error()}
	}
	return Check{Name: "config", Status: StatusOK, Detail: "valid"}
}

func (d *Doctor) checkStore(ctx context.Context) Check {
	if err := d.pingStore(ctx); err != nil {
		return Check{Name: "coordination store", Status: StatusFail, Detail: err.Error()}
	}
	return Check{Name: "coordination store", Status: StatusOK, Detail: redactURL(d.cfg.Store.URL)}
}

func (d *Doctor) defaultPingStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	s, err := coord.Open(ctx, d.cfg.Store.URL, d.logger)
	if err != nil {
		return err
	}
	return s.Close()
}

func (d *Doctor) checkBinary(ctx context.Context, name string, required bool, hint string) Check {
	if _, err := d.lookPath(name); err != nil {
		detail := "not found on PATH"
		if hint != "" {
			detail += " (" + hint + ")"
		}
		status := StatusWarn
		if required {
			status = StatusFail
		}
		return Check{Name: name, Status: status, Detail: detail}
	}
	return Check{Name: name, Status: StatusOK, Detail: d.version(ctx, name)}
}

// checkAgent probes the editing-agent binary. The configured path may
// carry flags, so only the first field is looked up.
func (d *Doctor) checkAgent(ctx context.Context) Check {
	bin := d.cfg.Agent.Path
	if parts := strings.Fields(bin); len(parts) > 0 {
		bin = parts[0]
	}
	if bin == "" {
		return Check{Name: "agent", Status: StatusFail, Detail: "agent.path not configured"}
	}
	if _, err := d.lookPath(bin); err != nil {
		return Check{Name: "agent", Status: StatusFail,
			Detail: fmt.Sprintf("%s not found on PATH", bin)}
	}
	return Check{Name: "agent", Status: StatusOK, Detail: d.version(ctx, bin)}
}

func (d *Doctor) checkBrowser(ctx context.Context) Check {
	bin, err := d.detectBrowser()
	if err != nil {
		return Check{Name: "browser", Status: StatusWarn,
			Detail: "no chromium found (screenshots will be skipped)"}
	}
	return Check{Name: "browser", Status: StatusOK, Detail: d.version(ctx, bin)}
}

func (d *Doctor) checkDisk() Check {
	path := d.cfg.Worker.WorkDir
	if _, err := os.Stat(path); err != nil {
		path = "."
	}
	usage, err := d.diskUsage(path)
	if err != nil {
		return Check{Name: "disk", Status: StatusWarn,
			Detail: fmt.Sprintf("usage unavailable: %v", err)}
	}
	freeGB := float64(usage.Free) / 1024 / 1024 / 1024
	detail := fmt.Sprintf("%.1f GB free on %s", freeGB, path)
	switch {
	case freeGB < critDiskFreeGB:
		return Check{Name: "disk", Status: StatusFail,
			Detail: detail + " (clones and npm installs will fail)"}
	case freeGB < minDiskFreeGB:
		return Check{Name: "disk", Status: StatusWarn, Detail: detail}
	}
	return Check{Name: "disk", Status: StatusOK, Detail: detail}
}

func (d *Doctor) checkMemory() Check {
	vm, err := d.virtualMemory()
	if err != nil {
		return Check{Name: "memory", Status: StatusWarn,
			Detail: fmt.Sprintf("usage unavailable: %v", err)}
	}
	freeMB := float64(vm.Available) / 1024 / 1024
	detail := fmt.Sprintf("%.0f MB available", freeMB)
	if freeMB < minMemFreeMB {
		return Check{Name: "memory", Status: StatusWarn,
			Detail: detail + " (dev servers may be killed)"}
	}
	return Check{Name: "memory", Status: StatusOK, Detail: detail}
}

func (d *Doctor) checkArchive(ctx context.Context) (Check, []state.TaskRecord) {
	h, closeFn, err := d.openHistory()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Check{Name: "archive", Status: StatusOK, Detail: "no tasks archived yet"}, nil
		}
		return Check{Name: "archive", Status: StatusWarn,
			Detail: fmt.Sprintf("unreadable: %v", err)}, nil
	}
	defer closeFn()
	recent, err := h.Recent(ctx, recentTaskRows)
	if err != nil {
		return Check{Name: "archive", Status: StatusWarn,
			Detail: fmt.Sprintf("unreadable: %v", err)}, nil
	}
	return Check{Name: "archive", Status: StatusOK,
		Detail: fmt.Sprintf("%d recent tasks", len(recent))}, recent
}

func (d *Doctor) defaultOpenHistory() (History, func(), error) {
	path := d.cfg.State.ArchivePath
	// Stat first: OpenArchive creates the file, and the doctor must
	// not leave artifacts behind.
	if _, err := os.Stat(path); err != nil {
		return nil, nil, err
	}
	a, err := state.OpenArchive(path)
	if err != nil {
		return nil, nil, err
	}
	return a, func() { _ = a.Close() }, nil
}

// version asks a binary for --version. Probe failures degrade to
// "found": presence was already established.
func (d *Doctor) version(ctx context.Context, name string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := d.runner.Run(ctx, name, "--version")
	if err != nil {
		return "found"
	}
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	if line == "" {
		return "found"
	}
	return line
}

// renderConfig dumps the effective settings as YAML with secrets
// masked by key, then passes the text through the log sanitizer in
// case a credential hides in an unexpected field.
func (d *Doctor) renderConfig() string {
	if len(d.settings) == 0 {
		return ""
	}
	out, err := yaml.Marshal(redactSettings(d.settings))
	if err != nil {
		d.logger.Warn("config dump failed", "error", err)
		return ""
	}
	return logging.NewSanitizer().Sanitize(string(out))
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "configured"
	}
	return u.Redacted()
}

// secretKey reports whether a settings key holds a credential.
func secretKey(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range []string{"token", "key", "credential", "secret", "password"} {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// redactSettings deep-copies a settings tree, masking secret string
// values. Non-string values under secret-looking keys (max_tokens) are
// left alone.
func redactSettings(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = redactValue(k, v)
	}
	return out
}

func redactValue(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return redactSettings(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(key, item)
		}
		return out
	case []map[string]any:
		// The roster lands in viper as this exact shape.
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactSettings(item)
		}
		return out
	case string:
		if secretKey(key) && val != "" {
			return "[REDACTED]"
		}
		return val
	default:
		return v
	}
}
