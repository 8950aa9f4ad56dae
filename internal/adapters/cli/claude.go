package cli

import (
	"context"
	"strings"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// ClaudeAdapter drives the claude CLI in non-interactive print mode.
type ClaudeAdapter struct {
	*BaseAdapter
}

// NewClaudeAdapter creates the claude editing agent.
func NewClaudeAdapter(cfg AgentConfig, logger *logging.Logger) *ClaudeAdapter {
	if cfg.Name == "" {
		cfg.Name = "claude"
	}
	if cfg.Path == "" {
		cfg.Path = "claude"
	}
	if logger != nil {
		logger = logger.With("adapter", "claude")
	}
	return &ClaudeAdapter{BaseAdapter: NewBaseAdapter(cfg, logger)}
}

// Name returns the adapter identifier.
func (c *ClaudeAdapter) Name() string {
	return "claude"
}

// Ping checks the CLI is installed and responds.
func (c *ClaudeAdapter) Ping(ctx context.Context) error {
	if err := c.CheckAvailability(ctx); err != nil {
		return err
	}
	_, err := c.GetVersion(ctx, "--version")
	return err
}

// Execute runs one editing pass in opts.WorkDir. The prompt travels as
// the final positional argument; the agent commits directly to the
// working tree.
func (c *ClaudeAdapter) Execute(ctx context.Context, opts core.EditOptions) (*core.EditResult, error) {
	model := opts.Model
	if model == "" {
		model = c.config.Model
	}

	args := buildClaudeArgs(model)
	args = append(args, buildPrompt(opts))

	result, err := c.ExecuteCommand(ctx, args, "", opts.WorkDir, opts.Timeout)
	if err != nil {
		return nil, err
	}

	return c.parseResult(result, model)
}

// buildClaudeArgs constructs the print-mode invocation.
func buildClaudeArgs(model string) []string {
	args := []string{"--print"}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "--output-format", "json")
	// Auto-accept: there is no human at this terminal.
	args = append(args, "--dangerously-skip-permissions")
	return args
}

// buildPrompt appends staged screenshot paths so the agent reads them
// from the working tree.
func buildPrompt(opts core.EditOptions) string {
	if len(opts.ImagePaths) == 0 {
		return opts.Prompt
	}

	var sb strings.Builder
	sb.WriteString(opts.Prompt)
	sb.WriteString("\n\nAttached images (read these files for visual context):\n")
	for _, p := range opts.ImagePaths {
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	return sb.String()
}

// printEnvelope is the JSON result the CLI emits in print mode.
type printEnvelope struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype"`
	IsError   bool    `json:"is_error"`
	Result    string  `json:"result"`
	TotalCost float64 `json:"total_cost_usd"`
	Usage     struct {
		InputTokens              int `json:"input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		OutputTokens             int `json:"output_tokens"`
	} `json:"usage"`
}

// parseResult extracts the agent's answer and usage from the envelope.
// Output that is not the expected JSON is passed through with estimated
// usage so the ledger still gets a number.
func (c *ClaudeAdapter) parseResult(result *CommandResult, model string) (*core.EditResult, error) {
	edit := &core.EditResult{
		Output:   result.Stdout,
		Model:    model,
		Duration: result.Duration,
	}

	var envelope printEnvelope
	if err := c.ParseJSON(result.Stdout, &envelope); err != nil || envelope.Type != "result" {
		edit.TokensOut = c.TokenEstimate(result.Stdout)
		return edit, nil
	}

	if envelope.IsError {
		msg := envelope.Result
		if msg == "" {
			msg = "agent reported an error without detail"
		}
		return nil, core.ErrExecution("AGENT_ERROR", msg)
	}

	if envelope.Result != "" {
		edit.Output = envelope.Result
	}
	// Cache writes and reads are billed input; the ledger wants the
	// billed number, not the context size.
	edit.TokensIn = envelope.Usage.InputTokens +
		envelope.Usage.CacheCreationInputTokens +
		envelope.Usage.CacheReadInputTokens
	edit.TokensOut = envelope.Usage.OutputTokens
	edit.CostUSD = envelope.TotalCost

	if edit.TokensIn == 0 && edit.TokensOut == 0 {
		edit.TokensOut = c.TokenEstimate(edit.Output)
	}
	return edit, nil
}

var _ core.EditingAgent = (*ClaudeAdapter)(nil)
