// Package devserver starts a project's frontend dev server for the
// visual-diff captures and watches it for the ways such servers wedge:
// compile errors, compile hangs, runtime hangs and silent stalls.
package devserver

import (
	"strings"
	"sync"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
)

// Signal classifies one line of dev-server stdout.
type Signal int

const (
	SignalNone Signal = iota
	SignalReady
	SignalCompileStart
	SignalCompileDone
	SignalCompileError
)

// Failure classifies a dead or wedged dev server.
type Failure int

const (
	FailNone Failure = iota
	FailCompileError
	FailCompileHang
	FailRuntimeHang
	FailSilentHang
	FailExit
)

// String names the failure for logs.
func (f Failure) String() string {
	switch f {
	case FailCompileError:
		return "compile_error"
	case FailCompileHang:
		return "compile_hang"
	case FailRuntimeHang:
		return "runtime_hang"
	case FailSilentHang:
		return "silent_hang"
	case FailExit:
		return "server_exit"
	default:
		return "none"
	}
}

// Code maps the failure to its domain error code.
func (f Failure) Code() string {
	switch f {
	case FailCompileError:
		return core.CodeCompileError
	case FailCompileHang:
		return core.CodeCompileHang
	case FailRuntimeHang:
		return core.CodeRuntimeHang
	case FailSilentHang:
		return core.CodeSilentHang
	case FailExit:
		return core.CodeServerExit
	default:
		return ""
	}
}

const (
	// compileHangAfter fails a compilation that started but never
	// reported completion.
	compileHangAfter = 60 * time.Second

	// silentHangAfter fails a server whose stdout went quiet after the
	// ready banner while HTTP probes time out.
	silentHangAfter = 40 * time.Second

	// runtimeHangTimeouts is the consecutive HTTP-timeout count that
	// fails a server outright.
	runtimeHangTimeouts = 4

	// tailKeep is how many stdout lines the monitor retains for the
	// failure log.
	tailKeep = 50

	probeTimeoutBeforeReady = 10 * time.Second
	probeTimeoutAfterReady  = 30 * time.Second
)

// Line markers, matched case-insensitively. Error markers win over
// ready markers, ready over compile-done, compile-done over start:
// "compiled successfully" is a ready banner, not a bare completion.
var (
	compileErrorMarkers = []string{
		"failed to compile",
		"module not found",
		"syntaxerror",
		"typeerror",
		"error in ",
		"error:",
	}
	readyMarkers = []string{
		"ready in",
		"ready - started",
		"ready on",
		"compiled successfully",
		"local:",
		"localhost:",
		"listening on",
		"started server",
		"server running",
	}
	compileDoneMarkers = []string{
		"compiled",
		"built in",
		"build completed",
		"done in",
	}
	compileStartMarkers = []string{
		"compiling",
		"rebuilding",
		"bundling",
	}
)

func classify(line string) Signal {
	l := strings.ToLower(line)
	for _, m := range compileErrorMarkers {
		if strings.Contains(l, m) {
			return SignalCompileError
		}
	}
	for _, m := range readyMarkers {
		if strings.Contains(l, m) {
			return SignalReady
		}
	}
	for _, m := range compileDoneMarkers {
		if strings.Contains(l, m) {
			return SignalCompileDone
		}
	}
	for _, m := range compileStartMarkers {
		if strings.Contains(l, m) {
			return SignalCompileStart
		}
	}
	return SignalNone
}

// Monitor tracks the dev server's observable state: stdout signals and
// HTTP probe outcomes. All transitions live here so the failure rules
// stay in one place.
type Monitor struct {
	mu    sync.Mutex
	clock core.Clock

	readySeen    bool
	compiling    bool
	compileStart time.Time
	compileError bool
	lastOutput   time.Time
	timeouts     int
	lines        []string
}

// NewMonitor creates a monitor. The clock seeds the last-output stamp
// so silence is measured from start, not from the zero time.
func NewMonitor(clock core.Clock) *Monitor {
	return &Monitor{clock: clock, lastOutput: clock.Now()}
}

// Observe feeds one stdout line through the transition table and
// returns its classification.
func (m *Monitor) Observe(line string) Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastOutput = m.clock.Now()
	m.lines = append(m.lines, line)
	if len(m.lines) > tailKeep {
		m.lines = m.lines[1:]
	}

	sig := classify(line)
	switch sig {
	case SignalReady:
		m.readySeen = true
		m.compiling = false
	case SignalCompileStart:
		if !m.compiling {
			m.compiling = true
			m.compileStart = m.clock.Now()
		}
	case SignalCompileDone:
		m.compiling = false
	case SignalCompileError:
		m.compileError = true
		m.compiling = false
	}
	return sig
}

// ProbeSucceeded records a successful HTTP probe, breaking any timeout
// chain.
func (m *Monitor) ProbeSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = 0
}

// ProbeTimedOut records one HTTP probe timeout. Connection refusals are
// not recorded: a server that is not listening yet is not hanging.
func (m *Monitor) ProbeTimedOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

// ProbeWindow returns the adaptive HTTP probe timeout: short before the
// ready banner, generous after it when first loads compile on demand.
func (m *Monitor) ProbeWindow() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readySeen {
		return probeTimeoutAfterReady
	}
	return probeTimeoutBeforeReady
}

// ReadySeen reports whether the ready banner was observed.
func (m *Monitor) ReadySeen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readySeen
}

// Check evaluates the failure rules against the current state.
func (m *Monitor) Check() Failure {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	switch {
	case m.compileError:
		return FailCompileError
	case m.compiling && now.Sub(m.compileStart) > compileHangAfter:
		return FailCompileHang
	case m.timeouts >= runtimeHangTimeouts:
		return FailRuntimeHang
	case m.readySeen && now.Sub(m.lastOutput) > silentHangAfter && m.timeouts >= 1:
		return FailSilentHang
	default:
		return FailNone
	}
}

// Tail returns a copy of the retained stdout lines.
func (m *Monitor) Tail() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return out
}
