package forge

import (
	"context"
	"errors"
	"strings"
)

// MockRunner is a test double for CommandRunner.
type MockRunner struct {
	// Responses maps command patterns to responses. A pattern matches
	// exactly, then by prefix, then by substring against the joined
	// command line.
	Responses map[string]MockResponse

	// Calls records all calls made to the runner.
	Calls []MockCall

	// DefaultResponse is used when no pattern matches.
	DefaultResponse *MockResponse
}

// MockResponse is a scripted command result.
type MockResponse struct {
	Output string
	Err    error
}

// MockCall records a single call to the runner.
type MockCall struct {
	Name string
	Args []string
	Env  []string
}

// NewMockRunner creates a new MockRunner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Responses: make(map[string]MockResponse),
		Calls:     make([]MockCall, 0),
	}
}

// Run implements CommandRunner.
func (m *MockRunner) Run(_ context.Context, env []string, name string, args ...string) (string, error) {
	m.Calls = append(m.Calls, MockCall{Name: name, Args: args, Env: env})

	fullCmd := name + " " + strings.Join(args, " ")

	if resp, ok := m.Responses[fullCmd]; ok {
		return resp.Output, resp.Err
	}
	for pattern, resp := range m.Responses {
		if strings.HasPrefix(fullCmd, pattern) {
			return resp.Output, resp.Err
		}
	}
	for pattern, resp := range m.Responses {
		if strings.Contains(fullCmd, pattern) {
			return resp.Output, resp.Err
		}
	}
	if m.DefaultResponse != nil {
		return m.DefaultResponse.Output, m.DefaultResponse.Err
	}
	return "", errors.New("no mock response configured for: " + fullCmd)
}

// OnCommand sets a response for a command pattern.
func (m *MockRunner) OnCommand(pattern string) *MockResponseBuilder {
	return &MockResponseBuilder{runner: m, pattern: pattern}
}

// MockResponseBuilder builds mock responses fluently.
type MockResponseBuilder struct {
	runner  *MockRunner
	pattern string
}

// Return sets the output for this command.
func (b *MockResponseBuilder) Return(output string) *MockRunner {
	b.runner.Responses[b.pattern] = MockResponse{Output: output}
	return b.runner
}

// ReturnError sets an error for this command.
func (b *MockResponseBuilder) ReturnError(err error) *MockRunner {
	b.runner.Responses[b.pattern] = MockResponse{Err: err}
	return b.runner
}

// CallCount returns how many calls matched a pattern.
func (m *MockRunner) CallCount(pattern string) int {
	count := 0
	for _, call := range m.Calls {
		fullCmd := call.Name + " " + strings.Join(call.Args, " ")
		if strings.Contains(fullCmd, pattern) {
			count++
		}
	}
	return count
}

// LastCall returns the last call made, or nil.
func (m *MockRunner) LastCall() *MockCall {
	if len(m.Calls) == 0 {
		return nil
	}
	return &m.Calls[len(m.Calls)-1]
}

// Reset clears all recorded calls.
func (m *MockRunner) Reset() {
	m.Calls = m.Calls[:0]
}
