package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordingHandler struct {
	mentions chan MentionEvent
	messages chan ThreadMessageEvent
	cancels  chan CancelActionEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		mentions: make(chan MentionEvent, 8),
		messages: make(chan ThreadMessageEvent, 8),
		cancels:  make(chan CancelActionEvent, 8),
	}
}

func (h *recordingHandler) HandleMention(_ context.Context, ev MentionEvent) { h.mentions <- ev }
func (h *recordingHandler) HandleThreadMessage(_ context.Context, ev ThreadMessageEvent) {
	h.messages <- ev
}
func (h *recordingHandler) HandleCancelAction(_ context.Context, ev CancelActionEvent) {
	h.cancels <- ev
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

// TestSocket_DeliversTypedEvents runs a full connection lifetime: URL
// grant, dial, hello, three envelopes each acknowledged within the
// deadline, orderly disconnect and reconnect with a fresh URL.
func TestSocket_DeliversTypedEvents(t *testing.T) {
	var openCalls atomic.Int32
	var wsConns atomic.Int32
	reconnected := make(chan struct{})

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	var wsURL string
	mux.HandleFunc("/apps.connections.open", func(w http.ResponseWriter, r *http.Request) {
		openCalls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer xapp-test-token" {
			t.Errorf("app token header = %q", got)
		}
		fmt.Fprintf(w, `{"ok":true,"url":%q}`, wsURL)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if wsConns.Add(1) > 1 {
			// Second connection proves the disconnect envelope forced a
			// fresh URL grant. Hold it open without events.
			close(reconnected)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}

		_ = conn.WriteJSON(map[string]any{"type": "hello"})

		send := func(id string, envType string, payload map[string]any) bool {
			if err := conn.WriteJSON(map[string]any{
				"envelope_id": id,
				"type":        envType,
				"payload":     payload,
			}); err != nil {
				t.Errorf("writing envelope %s: %v", id, err)
				return false
			}
			var ack socketAck
			_ = conn.SetReadDeadline(time.Now().Add(ackDeadline))
			if err := conn.ReadJSON(&ack); err != nil {
				t.Errorf("reading ack for %s: %v", id, err)
				return false
			}
			if ack.EnvelopeID != id {
				t.Errorf("ack envelope id = %q, want %q", ack.EnvelopeID, id)
			}
			return true
		}

		ok := send("env-1", "events_api", map[string]any{
			"event": map[string]any{
				"type":    "app_mention",
				"user":    "U123",
				"text":    "<@UBOT> add rate limiting to /api/login",
				"channel": "C9",
				"ts":      "1700000000.000100",
			},
		})
		ok = ok && send("env-2", "events_api", map[string]any{
			"event": map[string]any{
				"type":      "message",
				"user":      "U456",
				"text":      "also cover the signup endpoint",
				"channel":   "C9",
				"ts":        "1700000000.000200",
				"thread_ts": "1700000000.000100",
				"bot_id":    "B42",
				"subtype":   "bot_message",
			},
		})
		ok = ok && send("env-3", "interactive", map[string]any{
			"type": "block_actions",
			"user": map[string]any{"id": "U789"},
			"actions": []map[string]any{
				{"action_id": "cancel_task", "value": "C9_1700000000.000100"},
			},
			"container": map[string]any{
				"channel_id": "C9",
				"message_ts": "1700000000.000150",
			},
		})
		if !ok {
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "disconnect", "reason": "test_complete"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	wsURL = "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/ws"

	handler := newRecordingHandler()
	sock := NewSocket("xapp-test-token", handler, nil).
		WithAPIBase(srv.URL).
		WithReconnectWait(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- sock.Run(ctx) }()

	mention := waitFor(t, handler.mentions, "mention event")
	if mention.Channel != "C9" || mention.User != "U123" || mention.TS != "1700000000.000100" {
		t.Errorf("mention = %+v", mention)
	}
	if !strings.Contains(mention.Text, "add rate limiting") {
		t.Errorf("mention text = %q", mention.Text)
	}
	if mention.ThreadTS != "" {
		t.Errorf("top-level mention should have no thread_ts, got %q", mention.ThreadTS)
	}

	msg := waitFor(t, handler.messages, "thread message event")
	if msg.ThreadTS != "1700000000.000100" || msg.User != "U456" {
		t.Errorf("message = %+v", msg)
	}
	if msg.BotID != "B42" || msg.Subtype != "bot_message" {
		t.Errorf("bot markers must pass through raw: %+v", msg)
	}

	click := waitFor(t, handler.cancels, "cancel action event")
	if click.ActionID != "cancel_task" || click.Value != "C9_1700000000.000100" {
		t.Errorf("cancel action = %+v", click)
	}
	if click.UserID != "U789" || click.ChannelID != "C9" || click.MessageTS != "1700000000.000150" {
		t.Errorf("cancel envelope fields = %+v", click)
	}

	waitFor(t, reconnected, "reconnect after disconnect envelope")
	if openCalls.Load() < 2 {
		t.Errorf("expected a fresh URL grant per connection, got %d", openCalls.Load())
	}

	cancel()
	if err := waitFor(t, runErr, "Run to exit"); !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestSocket_RetriesFailedURLGrant(t *testing.T) {
	var openCalls atomic.Int32
	attempts := make(chan int32, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := openCalls.Add(1)
		select {
		case attempts <- n:
		default:
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sock := NewSocket("xapp-test-token", newRecordingHandler(), nil).
		WithAPIBase(srv.URL).
		WithReconnectWait(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- sock.Run(ctx) }()

	waitFor(t, attempts, "first attempt")
	waitFor(t, attempts, "second attempt")
	cancel()
	if err := waitFor(t, runErr, "Run to exit"); !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestDispatch_InteractiveFiltering(t *testing.T) {
	handler := newRecordingHandler()
	sock := NewSocket("xapp", handler, nil)

	cases := []struct {
		name    string
		payload string
		want    bool
	}{
		{"view submission ignored", `{"type":"view_submission"}`, false},
		{"empty actions ignored", `{"type":"block_actions","actions":[]}`, false},
		{"button click delivered", `{"type":"block_actions","user":{"id":"U1"},"actions":[{"action_id":"cancel_task","value":"T1"}],"container":{"channel_id":"C1","message_ts":"1.0"}}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sock.dispatch(context.Background(), socketEnvelope{
				Type:    envelopeInteractive,
				Payload: json.RawMessage(tc.payload),
			})
			select {
			case ev := <-handler.cancels:
				if !tc.want {
					t.Errorf("unexpected dispatch: %+v", ev)
				}
			default:
				if tc.want {
					t.Error("expected a cancel action event")
				}
			}
		})
	}
}

func TestDispatch_IgnoresUnknownEventTypes(t *testing.T) {
	handler := newRecordingHandler()
	sock := NewSocket("xapp", handler, nil)

	sock.dispatch(context.Background(), socketEnvelope{
		Type:    envelopeEventsAPI,
		Payload: json.RawMessage(`{"event":{"type":"reaction_added","user":"U1"}}`),
	})

	select {
	case ev := <-handler.mentions:
		t.Errorf("unexpected mention: %+v", ev)
	case ev := <-handler.messages:
		t.Errorf("unexpected message: %+v", ev)
	default:
	}
}
