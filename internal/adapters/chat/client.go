// Package chat talks to the chat platform. Client covers the outgoing
// Web API (messages, reactions, user lookups); Socket holds the
// socket-mode connection that delivers mentions, thread replies and
// button clicks as typed events.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

const (
	defaultAPIBase = "https://slack.com/api"

	// unknownUser is the display-name fallback when every profile field
	// is empty or the lookup fails outright.
	unknownUser = "Unknown User"

	maxResponseBody = 1 << 20

	// maxFileBytes caps attachment downloads. Task images ride the job
	// queue as payload bytes, so oversized files are refused here.
	maxFileBytes = 10 << 20
)

// Client is the Web API half of the chat adapter.
type Client struct {
	token   string
	apiBase string
	httpc   *http.Client
	logger  *logging.Logger
}

// NewClient creates a Web API client authenticated with the bot token.
func NewClient(token string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		token:   token,
		apiBase: defaultAPIBase,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("adapter", "chat"),
	}
}

// WithAPIBase overrides the Web API base URL. Used in tests.
func (c *Client) WithAPIBase(base string) *Client {
	c.apiBase = strings.TrimRight(base, "/")
	return c
}

// WithHTTPClient overrides the HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpc = h
	return c
}

// apiEnvelope is the shared ok/error wrapper on every Web API response.
type apiEnvelope struct {
	OK       bool   `json:"ok"`
	ErrorMsg string `json:"error"`
}

func (e apiEnvelope) ok() bool         { return e.OK }
func (e apiEnvelope) apiError() string { return e.ErrorMsg }

type apiResult interface {
	ok() bool
	apiError() string
}

type postMessageResponse struct {
	apiEnvelope
	TS string `json:"ts"`
}

type userInfoResponse struct {
	apiEnvelope
	User struct {
		Name    string `json:"name"`
		Profile struct {
			DisplayNameNormalized string `json:"display_name_normalized"`
			DisplayName           string `json:"display_name"`
			RealNameNormalized    string `json:"real_name_normalized"`
			RealName              string `json:"real_name"`
		} `json:"profile"`
	} `json:"user"`
}

type authTestResponse struct {
	apiEnvelope
	UserID string `json:"user_id"`
	User   string `json:"user"`
}

// PostMessage posts plain text into a thread and returns the new
// message's timestamp.
func (c *Client) PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error) {
	body := map[string]any{
		"channel": channelID,
		"text":    text,
	}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	var resp postMessageResponse
	if err := c.post(ctx, "chat.postMessage", body, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

// PostBlocks posts a rich message: a markdown section plus optional
// action buttons. Returns the new message's timestamp.
func (c *Client) PostBlocks(ctx context.Context, channelID, threadTS string, blocks core.MessageBlocks) (string, error) {
	body := map[string]any{
		"channel": channelID,
		"text":    blocks.Text, // notification fallback
		"blocks":  renderBlocks(blocks),
	}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	var resp postMessageResponse
	if err := c.post(ctx, "chat.postMessage", body, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

// UpdateMessage replaces an existing message's text and blocks. Posting
// blocks without buttons removes any button the message carried.
func (c *Client) UpdateMessage(ctx context.Context, channelID, messageTS string, blocks core.MessageBlocks) error {
	body := map[string]any{
		"channel": channelID,
		"ts":      messageTS,
		"text":    blocks.Text,
		"blocks":  renderBlocks(blocks),
	}
	var resp postMessageResponse
	return c.post(ctx, "chat.update", body, &resp)
}

// AddReaction adds an emoji reaction to a message. Reacting twice is
// not an error.
func (c *Client) AddReaction(ctx context.Context, channelID, messageTS, name string) error {
	body := map[string]any{
		"channel":   channelID,
		"timestamp": messageTS,
		"name":      name,
	}
	var resp apiEnvelope
	err := c.post(ctx, "reactions.add", body, &resp)
	if err != nil && resp.ErrorMsg == "already_reacted" {
		return nil
	}
	return err
}

// UserDisplayName resolves a user id through the profile field chain,
// falling back to "Unknown User". Lookup failures are logged, never
// surfaced: a missing name must not fail the message that needed it.
func (c *Client) UserDisplayName(ctx context.Context, userID string) string {
	var resp userInfoResponse
	if err := c.get(ctx, "users.info", url.Values{"user": {userID}}, &resp); err != nil {
		c.logger.Warn("user lookup failed", "user", userID, "error", err)
		return unknownUser
	}
	p := resp.User.Profile
	for _, candidate := range []string{
		p.DisplayNameNormalized,
		p.DisplayName,
		p.RealNameNormalized,
		p.RealName,
		resp.User.Name,
	} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return unknownUser
}

// AuthIdentity returns the bot's own user id, used to strip the
// mention prefix from task text.
func (c *Client) AuthIdentity(ctx context.Context) (string, error) {
	var resp authTestResponse
	if err := c.post(ctx, "auth.test", nil, &resp); err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// DownloadFile fetches a private attachment URL with the bot token.
// Files over maxFileBytes are refused.
func (c *Client) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, core.ErrInternal(fmt.Sprintf("building file request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, core.Wrap(err, core.ErrCatNetwork, "CHAT_UNREACHABLE", "downloading attachment")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.ErrNetwork("CHAT_FILE_FAILED",
			fmt.Sprintf("chat: attachment download returned http %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes+1))
	if err != nil {
		return nil, core.Wrap(err, core.ErrCatNetwork, "CHAT_UNREACHABLE", "reading attachment")
	}
	if len(data) > maxFileBytes {
		return nil, core.ErrValidation("FILE_TOO_LARGE",
			fmt.Sprintf("attachment exceeds %d bytes", maxFileBytes))
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, method string, body any, out apiResult) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return core.ErrInternal(fmt.Sprintf("encoding %s body: %v", method, err))
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, payload)
	if err != nil {
		return core.ErrInternal(fmt.Sprintf("building %s request: %v", method, err))
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.do(req, method, out)
}

func (c *Client) get(ctx context.Context, method string, query url.Values, out apiResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/"+method+"?"+query.Encode(), nil)
	if err != nil {
		return core.ErrInternal(fmt.Sprintf("building %s request: %v", method, err))
	}
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out apiResult) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return core.Wrap(err, core.ErrCatNetwork, "CHAT_UNREACHABLE", "calling "+method)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return core.ErrRateLimit("chat: " + method + " rate limited")
	}
	if resp.StatusCode >= 500 {
		return core.ErrNetwork("CHAT_UNAVAILABLE", fmt.Sprintf("chat: %s returned http %d", method, resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return core.Wrap(err, core.ErrCatNetwork, "CHAT_UNREACHABLE", "reading "+method+" response")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.ErrExecution("CHAT_BAD_RESPONSE", fmt.Sprintf("chat: %s: %v", method, err))
	}
	if !out.ok() {
		return classifyAPIError(method, out.apiError())
	}
	return nil
}

// classifyAPIError maps the platform's error strings onto the domain
// taxonomy so callers can route on category instead of string-matching.
func classifyAPIError(method, code string) error {
	msg := "chat: " + method + ": " + code
	switch code {
	case "ratelimited", "rate_limited":
		return core.ErrRateLimit(msg)
	case "invalid_auth", "not_authed", "token_revoked", "token_expired", "account_inactive", "missing_scope":
		return core.ErrAuth(msg)
	case "channel_not_found", "user_not_found", "message_not_found", "thread_not_found":
		return core.ErrNotFound("chat resource", code)
	default:
		return core.ErrExecution("CHAT_ERROR", msg)
	}
}

// renderBlocks converts the platform-neutral blocks into Block Kit JSON.
func renderBlocks(blocks core.MessageBlocks) []map[string]any {
	out := []map[string]any{
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": blocks.Text},
		},
	}
	if len(blocks.Buttons) == 0 {
		return out
	}
	elements := make([]map[string]any, 0, len(blocks.Buttons))
	for _, b := range blocks.Buttons {
		el := map[string]any{
			"type":      "button",
			"text":      map[string]any{"type": "plain_text", "text": b.Label},
			"action_id": b.ActionID,
			"value":     b.Value,
		}
		if b.Style != "" {
			el["style"] = b.Style
		}
		elements = append(elements, el)
	}
	return append(out, map[string]any{"type": "actions", "elements": elements})
}

var _ core.ChatClient = (*Client)(nil)
