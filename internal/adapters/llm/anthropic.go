// Package llm generates prose (titles, plans, PR bodies) through the
// Anthropic Messages API. Working-tree edits go through the cli
// adapter; this client never touches the filesystem.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter calls. It is satisfied by *sdk.MessageService so callers can
// pass either a real client or a stub in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

const defaultMaxTokens = 2048

// Generator implements core.TextGenerator on the Messages API.
type Generator struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	logger       *logging.Logger
}

// New builds a Generator from an existing messages client.
func New(msg MessagesClient, defaultModel string, maxTokens int, logger *logging.Logger) (*Generator, error) {
	if msg == nil {
		return nil, errors.New("messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Generator{
		msg:          msg,
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
		logger:       logger,
	}, nil
}

// NewFromAPIKey constructs a Generator using the default Anthropic HTTP
// client.
func NewFromAPIKey(apiKey, defaultModel string, maxTokens int, logger *logging.Logger) (*Generator, error) {
	if apiKey == "" {
		return nil, core.ErrValidation("NO_API_KEY", "anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, defaultModel, maxTokens, logger)
}

// Generate issues one non-streaming Messages call and returns the
// concatenated text blocks with usage for the cost ledger.
func (g *Generator) Generate(ctx context.Context, req core.TextRequest) (*core.TextResult, error) {
	if req.Prompt == "" {
		return nil, core.ErrValidation("EMPTY_PROMPT", "text generation needs a prompt")
	}

	model := req.Model
	if model == "" {
		model = g.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := g.msg.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, core.ErrExecution("EMPTY_COMPLETION", "model returned no text blocks")
	}

	result := &core.TextResult{
		Text:  text,
		Model: model,
		// Cache writes and reads are billed input.
		TokensIn: int(msg.Usage.InputTokens +
			msg.Usage.CacheCreationInputTokens +
			msg.Usage.CacheReadInputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
	}

	g.logger.Debug("llm: generated",
		"model", model,
		"tokens_in", result.TokensIn,
		"tokens_out", result.TokensOut,
		"stop_reason", string(msg.StopReason),
	)
	return result, nil
}

// classify maps SDK failures onto the error taxonomy by HTTP status.
// Transport-level failures (no API response) count as network errors.
func classify(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return core.Wrap(err, core.ErrCatNetwork, "LLM_UNREACHABLE", "anthropic api unreachable")
	}

	msg := fmt.Sprintf("anthropic: http %d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode))
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return core.Wrap(err, core.ErrCatRateLimit, "LLM_RATE_LIMITED", msg)
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return core.Wrap(err, core.ErrCatAuth, "LLM_AUTH_FAILED", msg)
	case apiErr.StatusCode >= 500:
		return core.Wrap(err, core.ErrCatNetwork, "LLM_UNAVAILABLE", msg)
	default:
		return core.Wrap(err, core.ErrCatExecution, "LLM_ERROR", msg)
	}
}

var _ core.TextGenerator = (*Generator)(nil)
