package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bryanowens-dev/walker/internal/core"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func textMessage(blocks ...string) *sdk.Message {
	msg := &sdk.Message{
		StopReason: sdk.StopReasonEndTurn,
		Usage: sdk.Usage{
			InputTokens:              120,
			CacheCreationInputTokens: 30,
			OutputTokens:             45,
		},
	}
	for _, b := range blocks {
		msg.Content = append(msg.Content, sdk.ContentBlockUnion{Type: "text", Text: b})
	}
	return msg
}

func newTestGenerator(t *testing.T, stub *stubMessagesClient) *Generator {
	t.Helper()
	gen, err := New(stub, "claude-3-5-haiku-20241022", 1024, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return gen
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, "model", 0, nil); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := New(&stubMessagesClient{}, "", 0, nil); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestGenerate(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("Add dark mode toggle")}
	gen := newTestGenerator(t, stub)

	result, err := gen.Generate(context.Background(), core.TextRequest{
		System: "You write PR titles.",
		Prompt: "Summarize: add a dark mode toggle to settings",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.Text != "Add dark mode toggle" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.TokensIn != 150 {
		t.Errorf("TokensIn = %d, want 150 (input + cache creation)", result.TokensIn)
	}
	if result.TokensOut != 45 {
		t.Errorf("TokensOut = %d, want 45", result.TokensOut)
	}
	if result.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("Model = %q, want the generator default", result.Model)
	}

	if got := string(stub.lastParams.Model); got != "claude-3-5-haiku-20241022" {
		t.Errorf("params.Model = %q", got)
	}
	if stub.lastParams.MaxTokens != 1024 {
		t.Errorf("params.MaxTokens = %d, want 1024", stub.lastParams.MaxTokens)
	}
	if len(stub.lastParams.System) != 1 || stub.lastParams.System[0].Text != "You write PR titles." {
		t.Errorf("params.System = %+v", stub.lastParams.System)
	}
	if len(stub.lastParams.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(stub.lastParams.Messages))
	}
	content := stub.lastParams.Messages[0].Content
	if len(content) != 1 || content[0].OfText == nil ||
		content[0].OfText.Text != "Summarize: add a dark mode toggle to settings" {
		t.Errorf("message content = %+v", content)
	}
}

func TestGenerate_PerRequestOverrides(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("plan")}
	gen := newTestGenerator(t, stub)

	result, err := gen.Generate(context.Background(), core.TextRequest{
		Prompt:    "plan this",
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 4000,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q, want the override", result.Model)
	}
	if stub.lastParams.MaxTokens != 4000 {
		t.Errorf("params.MaxTokens = %d, want 4000", stub.lastParams.MaxTokens)
	}
	if len(stub.lastParams.System) != 0 {
		t.Errorf("params.System should be empty, got %+v", stub.lastParams.System)
	}
}

func TestGenerate_ConcatenatesTextBlocks(t *testing.T) {
	stub := &stubMessagesClient{resp: textMessage("first ", "second")}
	gen := newTestGenerator(t, stub)

	result, err := gen.Generate(context.Background(), core.TextRequest{Prompt: "go"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Text != "first second" {
		t.Errorf("Text = %q, want blocks joined and trimmed", result.Text)
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	gen := newTestGenerator(t, &stubMessagesClient{})

	_, err := gen.Generate(context.Background(), core.TextRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Errorf("expected validation category, got %v", err)
	}
}

func TestGenerate_EmptyCompletion(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	gen := newTestGenerator(t, stub)

	_, err := gen.Generate(context.Background(), core.TextRequest{Prompt: "go"})
	if err == nil {
		t.Fatal("expected error for empty completion")
	}
	if !core.IsCategory(err, core.ErrCatExecution) {
		t.Errorf("expected execution category, got %v", err)
	}
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		category  core.ErrorCategory
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, core.ErrCatRateLimit, true},
		{"bad key", http.StatusUnauthorized, core.ErrCatAuth, false},
		{"overloaded", http.StatusServiceUnavailable, core.ErrCatNetwork, true},
		{"bad request", http.StatusBadRequest, core.ErrCatExecution, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
			stub := &stubMessagesClient{err: &sdk.Error{
				StatusCode: tt.status,
				Request:    req,
				Response:   &http.Response{StatusCode: tt.status},
			}}
			gen := newTestGenerator(t, stub)

			_, err := gen.Generate(context.Background(), core.TextRequest{Prompt: "go"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !core.IsCategory(err, tt.category) {
				t.Errorf("category = %v, want %v", err, tt.category)
			}
			if core.IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v", core.IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestGenerate_TransportErrorIsNetwork(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("dial tcp: connection refused")}
	gen := newTestGenerator(t, stub)

	_, err := gen.Generate(context.Background(), core.TextRequest{Prompt: "go"})
	if !core.IsCategory(err, core.ErrCatNetwork) {
		t.Errorf("expected network category for transport failure, got %v", err)
	}
	if !core.IsRetryable(err) {
		t.Error("transport failure should be retryable")
	}
}

func TestNewFromAPIKey_RequiresKey(t *testing.T) {
	if _, err := NewFromAPIKey("", "model", 0, nil); err == nil {
		t.Error("expected error for empty api key")
	}
}
