package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// The platform expects every event envelope to be acknowledged within
// three seconds or it redelivers the event to another connection.
const ackDeadline = 3 * time.Second

const defaultReconnectWait = 2 * time.Second

// Envelope types on the socket.
const (
	envelopeHello       = "hello"
	envelopeDisconnect  = "disconnect"
	envelopeEventsAPI   = "events_api"
	envelopeInteractive = "interactive"
)

// MentionEvent is the bot being @-mentioned in a channel. TS is the
// mention's own timestamp and becomes the thread root when ThreadTS is
// empty.
type MentionEvent struct {
	Channel  string
	User     string
	Text     string
	TS       string
	ThreadTS string
	Files    []FileRef
}

// FileRef points at a file attached to a message. DownloadURL is
// private: fetching it needs the bot token.
type FileRef struct {
	Name        string
	Mime        string
	DownloadURL string
}

// ThreadMessageEvent is any message event. BotID and Subtype are passed
// through raw so the intake layer can filter echoes and edits.
type ThreadMessageEvent struct {
	Channel  string
	User     string
	Text     string
	TS       string
	ThreadTS string
	BotID    string
	Subtype  string
}

// CancelActionEvent is a button click. Value carries the task id the
// button was armed with.
type CancelActionEvent struct {
	UserID    string
	ActionID  string
	Value     string
	ChannelID string
	MessageTS string
}

// Handler receives typed events from the socket loop. Handlers run on
// their own goroutine; the envelope is acknowledged before dispatch, so
// a slow handler cannot trip the redelivery deadline.
type Handler interface {
	HandleMention(ctx context.Context, ev MentionEvent)
	HandleThreadMessage(ctx context.Context, ev ThreadMessageEvent)
	HandleCancelAction(ctx context.Context, ev CancelActionEvent)
}

// Socket maintains the socket-mode connection: it asks the Web API for
// a connection URL, dials it, acknowledges envelopes and dispatches the
// decoded events. Disconnect envelopes and read errors reconnect with a
// fresh URL.
type Socket struct {
	appToken string
	apiBase  string
	httpc    *Client
	dialer   *websocket.Dialer
	handler  Handler
	logger   *logging.Logger

	reconnectWait time.Duration

	writeMu sync.Mutex
}

// NewSocket creates a socket-mode listener. The app-level token is
// distinct from the bot token: it only grants connection URLs.
func NewSocket(appToken string, handler Handler, logger *logging.Logger) *Socket {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Socket{
		appToken:      appToken,
		apiBase:       defaultAPIBase,
		httpc:         NewClient(appToken, logger),
		dialer:        websocket.DefaultDialer,
		handler:       handler,
		logger:        logger.With("adapter", "chat_socket"),
		reconnectWait: defaultReconnectWait,
	}
}

// WithAPIBase overrides the Web API base URL. Used in tests.
func (s *Socket) WithAPIBase(base string) *Socket {
	s.httpc.WithAPIBase(base)
	return s
}

// WithReconnectWait overrides the pause between connection attempts.
func (s *Socket) WithReconnectWait(d time.Duration) *Socket {
	s.reconnectWait = d
	return s
}

type socketEnvelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type socketAck struct {
	EnvelopeID string `json:"envelope_id"`
}

type connectionsOpenResponse struct {
	apiEnvelope
	URL string `json:"url"`
}

type eventsAPIPayload struct {
	Event struct {
		Type     string `json:"type"`
		User     string `json:"user"`
		BotID    string `json:"bot_id"`
		Subtype  string `json:"subtype"`
		Text     string `json:"text"`
		Channel  string `json:"channel"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
		Files    []struct {
			Name        string `json:"name"`
			Mimetype    string `json:"mimetype"`
			DownloadURL string `json:"url_private_download"`
		} `json:"files"`
	} `json:"event"`
}

type interactivePayload struct {
	Type string `json:"type"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
	Container struct {
		ChannelID string `json:"channel_id"`
		MessageTS string `json:"message_ts"`
	} `json:"container"`
}

// Run connects and serves events until ctx is cancelled. Every exit
// path other than cancellation reconnects after reconnectWait.
func (s *Socket) Run(ctx context.Context) error {
	for {
		wsURL, err := s.connectionURL(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("connection open failed", "error", err)
			if err := s.pause(ctx); err != nil {
				return err
			}
			continue
		}

		if err := s.serve(ctx, wsURL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("connection lost", "error", err)
		}
		if err := s.pause(ctx); err != nil {
			return err
		}
	}
}

func (s *Socket) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectWait):
		return nil
	}
}

// connectionURL asks the Web API for a single-use socket URL.
func (s *Socket) connectionURL(ctx context.Context) (string, error) {
	var resp connectionsOpenResponse
	if err := s.httpc.post(ctx, "apps.connections.open", nil, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", core.ErrExecution("CHAT_BAD_RESPONSE", "chat: apps.connections.open returned no url")
	}
	return resp.URL, nil
}

// serve runs one connection lifetime: dial, read envelopes, ack,
// dispatch. Returns nil on an orderly disconnect envelope.
func (s *Socket) serve(ctx context.Context, wsURL string) error {
	conn, resp, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		e := core.Wrap(err, core.ErrCatNetwork, "CHAT_UNREACHABLE", "dialing socket")
		if resp != nil {
			e = e.WithDetail("status", resp.StatusCode)
		}
		return e
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return core.Wrap(err, core.ErrCatNetwork, "CHAT_UNREACHABLE", "reading socket")
		}

		var env socketEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("undecodable envelope", "error", err)
			continue
		}

		switch env.Type {
		case envelopeHello:
			s.logger.Info("socket connected")
		case envelopeDisconnect:
			s.logger.Info("socket disconnect requested", "reason", env.Reason)
			return nil
		case envelopeEventsAPI, envelopeInteractive:
			if env.EnvelopeID != "" {
				if err := s.acknowledge(conn, env.EnvelopeID); err != nil {
					return core.Wrap(err, core.ErrCatNetwork, "CHAT_UNREACHABLE", "acknowledging envelope")
				}
			}
			go s.dispatch(ctx, env)
		default:
			s.logger.Debug("ignoring envelope", "type", env.Type)
		}
	}
}

func (s *Socket) acknowledge(conn *websocket.Conn, envelopeID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(ackDeadline))
	return conn.WriteJSON(socketAck{EnvelopeID: envelopeID})
}

func (s *Socket) dispatch(ctx context.Context, env socketEnvelope) {
	switch env.Type {
	case envelopeEventsAPI:
		var p eventsAPIPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Warn("undecodable event payload", "error", err)
			return
		}
		switch p.Event.Type {
		case "app_mention":
			var files []FileRef
			for _, f := range p.Event.Files {
				files = append(files, FileRef{
					Name:        f.Name,
					Mime:        f.Mimetype,
					DownloadURL: f.DownloadURL,
				})
			}
			s.handler.HandleMention(ctx, MentionEvent{
				Channel:  p.Event.Channel,
				User:     p.Event.User,
				Text:     p.Event.Text,
				TS:       p.Event.TS,
				ThreadTS: p.Event.ThreadTS,
				Files:    files,
			})
		case "message":
			s.handler.HandleThreadMessage(ctx, ThreadMessageEvent{
				Channel:  p.Event.Channel,
				User:     p.Event.User,
				Text:     p.Event.Text,
				TS:       p.Event.TS,
				ThreadTS: p.Event.ThreadTS,
				BotID:    p.Event.BotID,
				Subtype:  p.Event.Subtype,
			})
		}
	case envelopeInteractive:
		var p interactivePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Warn("undecodable interactive payload", "error", err)
			return
		}
		if p.Type != "block_actions" || len(p.Actions) == 0 {
			return
		}
		s.handler.HandleCancelAction(ctx, CancelActionEvent{
			UserID:    p.User.ID,
			ActionID:  p.Actions[0].ActionID,
			Value:     p.Actions[0].Value,
			ChannelID: p.Container.ChannelID,
			MessageTS: p.Container.MessageTS,
		})
	}
}
