// Package cli shells out to the external code-editing agent. The agent
// is a black box: given a prompt and a working tree, it produces
// commits. Everything here is plumbing around that contract.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// LogCallback is called for each line of stderr output during execution.
// This enables real-time visibility into agent progress.
type LogCallback func(line string)

// AgentConfig holds adapter configuration.
type AgentConfig struct {
	Name    string
	Path    string
	Model   string
	Timeout time.Duration
	WorkDir string
}

// defaultTimeout bounds a single editing pass when neither the call nor
// the config sets one. Implementation passes on large trees run long.
const defaultTimeout = 30 * time.Minute

// BaseAdapter provides common CLI execution functionality: the timeout
// cascade, process-group isolation, stderr streaming and error
// classification.
type BaseAdapter struct {
	config      AgentConfig
	logger      *logging.Logger
	logCallback LogCallback

	// ExtraEnv holds additional environment variables to set for command
	// execution. Values are applied on top of the current process
	// environment.
	ExtraEnv map[string]string

	mu        sync.Mutex
	activeCmd *exec.Cmd
}

// NewBaseAdapter creates a new base adapter.
func NewBaseAdapter(cfg AgentConfig, logger *logging.Logger) *BaseAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BaseAdapter{
		config: cfg,
		logger: logger,
	}
}

// SetLogCallback sets a callback that receives stderr lines in real-time.
func (b *BaseAdapter) SetLogCallback(cb LogCallback) {
	b.logCallback = cb
}

// Config returns the adapter configuration.
func (b *BaseAdapter) Config() AgentConfig {
	return b.config
}

// CommandResult holds the result of a CLI execution.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExecuteCommand runs a CLI command with the given options.
// If a LogCallback is set, stderr lines are streamed in real-time.
// The optTimeout parameter allows overriding the default timeout; pass 0
// to use the config default.
func (b *BaseAdapter) ExecuteCommand(ctx context.Context, args []string, stdin, workDir string, optTimeout time.Duration) (*CommandResult, error) {
	// Apply timeout: prefer explicit timeout, then config, then default
	timeout := optTimeout
	if timeout == 0 {
		timeout = b.config.Timeout
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdPath := b.config.Path
	if cmdPath == "" {
		return nil, core.ErrValidation("NO_PATH", "adapter path not configured")
	}

	// Handle multi-word commands (e.g. "npx some-agent")
	cmdParts := strings.Fields(cmdPath)
	if len(cmdParts) > 1 {
		cmdPath = cmdParts[0]
		args = append(cmdParts[1:], args...)
	}

	// #nosec G204 -- command path and args come from validated config
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	configureProcAttr(cmd)
	if workDir != "" {
		cmd.Dir = workDir
	} else if b.config.WorkDir != "" {
		cmd.Dir = b.config.WorkDir
	}

	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	// Stream stderr if a callback exists, otherwise buffer it.
	var stderr bytes.Buffer
	var stderrPipe io.ReadCloser
	var pipeErr error

	if b.logCallback != nil {
		stderrPipe, pipeErr = cmd.StderrPipe()
		if pipeErr != nil {
			cmd.Stderr = &stderr
			stderrPipe = nil
		}
	} else {
		cmd.Stderr = &stderr
	}

	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "WALKER_MANAGED=true", fmt.Sprintf("WALKER_AGENT=%s", b.config.Name))
	for k, v := range b.ExtraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	promptPreview := stdin
	if promptPreview == "" && len(args) > 0 {
		promptPreview = args[len(args)-1]
	}
	if len(promptPreview) > 500 {
		promptPreview = promptPreview[:500] + "... [truncated]"
	}
	b.logger.Info("cli: executing command",
		"adapter", b.config.Name,
		"path", cmdPath,
		"work_dir", cmd.Dir,
		"prompt_preview", promptPreview,
		"timeout", timeout,
	)

	startTime := time.Now()

	if err := cmd.Start(); err != nil {
		if stderrPipe != nil {
			_ = stderrPipe.Close()
		}
		return nil, fmt.Errorf("starting command: %w", err)
	}
	b.setActiveProcess(cmd)
	defer b.clearActiveProcess()

	b.logger.Info("cli: process started", "adapter", b.config.Name, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	if stderrPipe != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.streamStderr(stderrPipe, &stderr)
		}()
	}

	err := cmd.Wait()
	wg.Wait()

	duration := time.Since(startTime)

	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	truncateForLog := func(s string, maxLen int) string {
		if len(s) > maxLen {
			return s[:maxLen] + "... [truncated]"
		}
		return s
	}

	if ctx.Err() == context.DeadlineExceeded {
		b.logger.Error("cli: command timeout",
			"adapter", b.config.Name,
			"duration", duration,
			"timeout", timeout,
			"stderr_preview", truncateForLog(result.Stderr, 1000),
		)
		return result, core.ErrTimeout(fmt.Sprintf("command timed out after %v", timeout))
	}
	if ctx.Err() == context.Canceled {
		b.logger.Info("cli: command cancelled",
			"adapter", b.config.Name,
			"duration", duration,
		)
		return result, core.ErrState("CANCELLED", "task cancelled")
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			b.logger.Error("cli: command failed",
				"adapter", b.config.Name,
				"exit_code", result.ExitCode,
				"duration", duration,
				"stderr", truncateForLog(result.Stderr, 2000),
				"stdout_preview", truncateForLog(result.Stdout, 500),
			)
			return result, b.classifyError(result)
		}
		b.logger.Error("cli: command execution error",
			"adapter", b.config.Name,
			"error", err,
			"duration", duration,
		)
		return result, fmt.Errorf("executing command: %w", err)
	}

	b.logger.Info("cli: command completed",
		"adapter", b.config.Name,
		"exit_code", 0,
		"duration", duration,
		"stdout_length", len(result.Stdout),
	)

	result.ExitCode = 0
	return result, nil
}

// streamStderr reads stderr line by line, calling the callback for each
// line while also writing to the buffer for final capture.
func (b *BaseAdapter) streamStderr(pipe io.ReadCloser, buf *bytes.Buffer) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteString("\n")
		if b.logCallback != nil {
			b.logCallback(line)
		}
	}
	// Ignore scanner errors - pipe may close abruptly on timeout
}

// classifyError converts command errors to domain errors.
func (b *BaseAdapter) classifyError(result *CommandResult) error {
	errorMsg := strings.TrimSpace(result.Stderr)
	if errorMsg == "" {
		// Some CLIs report errors as JSON on stdout.
		errorMsg = extractErrorFromOutput(result.Stdout)
	}
	if errorMsg == "" {
		errorMsg = "(no error message captured)"
	}

	errorMsgLower := strings.ToLower(errorMsg)

	if containsAny(errorMsgLower, []string{"rate limit", "too many requests", "429", "quota"}) {
		return core.ErrRateLimit(errorMsg)
	}
	if containsAny(errorMsgLower, []string{"unauthorized", "authentication", "api key", "credit balance"}) {
		return core.ErrAuth(errorMsg)
	}
	if containsAny(errorMsgLower, []string{"connection", "network", "timeout", "unreachable"}) {
		return core.ErrNetwork("AGENT_NETWORK", errorMsg)
	}

	return core.ErrExecution("AGENT_ERROR",
		fmt.Sprintf("command failed with exit code %d: %s", result.ExitCode, errorMsg),
	)
}

// extractErrorFromOutput tries to extract error messages from stdout.
func extractErrorFromOutput(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- { // errors are usually at the end
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}

		if errMsg, ok := obj["error"].(string); ok && errMsg != "" {
			return errMsg
		}
		if errObj, ok := obj["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
		// Print-mode envelope: {"type":"result","subtype":"error", "result":"..."}
		if objType, ok := obj["type"].(string); ok && objType == "result" {
			if subtype, ok := obj["subtype"].(string); ok && strings.HasPrefix(subtype, "error") {
				if msg, ok := obj["result"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !strings.HasPrefix(line, "{") {
			if len(line) > 200 {
				return line[:200] + "..."
			}
			return line
		}
	}

	return ""
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ParseJSON attempts to parse JSON from output.
func (b *BaseAdapter) ParseJSON(output string, v interface{}) error {
	if err := json.Unmarshal([]byte(output), v); err == nil {
		return nil
	}

	extracted := b.ExtractJSON(output)
	if extracted != "" {
		if err := json.Unmarshal([]byte(extracted), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no valid JSON found in output")
}

// ExtractJSON finds and extracts JSON from mixed text output.
func (b *BaseAdapter) ExtractJSON(output string) string {
	start := strings.Index(output, "{")
	if start == -1 {
		start = strings.Index(output, "[")
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	openChar := output[start]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	for i := start; i < len(output); i++ {
		c := output[i]

		if escaped {
			escaped = false
			continue
		}

		if c == '\\' && inString {
			escaped = true
			continue
		}

		if c == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return output[start : i+1]
			}
		}
	}

	return ""
}

var versionPattern = regexp.MustCompile(`v?\d+\.\d+(\.\d+)?(-[a-zA-Z0-9]+)?`)

// GetVersion retrieves the CLI version.
func (b *BaseAdapter) GetVersion(ctx context.Context, versionArg string) (string, error) {
	result, err := b.ExecuteCommand(ctx, []string{versionArg}, "", "", 30*time.Second)
	if err != nil {
		return "", err
	}

	output := result.Stdout + result.Stderr
	match := versionPattern.FindString(output)
	if match != "" {
		return match, nil
	}

	return strings.TrimSpace(output), nil
}

// CheckAvailability verifies the CLI is installed and accessible.
func (b *BaseAdapter) CheckAvailability(_ context.Context) error {
	cmdPath := b.config.Path
	if cmdPath == "" {
		return core.ErrValidation("NO_PATH", "adapter path not configured")
	}

	cmdParts := strings.Fields(cmdPath)
	cmdPath = cmdParts[0]

	if _, err := exec.LookPath(cmdPath); err != nil {
		return core.ErrNotFound("CLI", cmdPath)
	}

	return nil
}

// TokenEstimate provides a rough token count estimate.
func (b *BaseAdapter) TokenEstimate(text string) int {
	// Rough estimate: ~4 characters per token for English
	return len(text) / 4
}
