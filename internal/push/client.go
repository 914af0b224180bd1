// Package push subscribes to the backend's session event stream over a
// websocket and delivers normalized push-events.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/ambuwatch/internal/backend"
	"github.com/user/ambuwatch/internal/types"
)

// Frame is the websocket envelope used in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventJoin asks the server to start streaming a session's events.
const EventJoin = "join_session"

// Config holds the push channel settings.
type Config struct {
	URL               string
	Token             string
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxMessageSize    int64
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * c.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
}

// Client implements types.PushChannel.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
}

// New creates a push client.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Subscribe connects and joins the session. The returned subscription
// reconnects on its own until Close is called or ctx is done. Only events
// for sessionID reach handler; they are delivered on the reader goroutine.
func (c *Client) Subscribe(ctx context.Context, sessionID types.SessionID, handler func(*types.PushEvent)) (types.Subscription, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("push channel not configured")
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		client:    c,
		sessionID: sessionID,
		handler:   handler,
		ctx:       sctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	conn, err := s.connect()
	if err != nil {
		cancel()
		return nil, err
	}
	go s.run(conn)
	return s, nil
}

func (c *Client) endpoint(sessionID types.SessionID) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing push url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("sessionId", string(sessionID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type subscription struct {
	client    *Client
	sessionID types.SessionID
	handler   func(*types.PushEvent)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (s *subscription) connect() (*websocket.Conn, error) {
	addr, err := s.client.endpoint(s.sessionID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if s.client.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.client.cfg.Token)
	}
	conn, resp, err := s.client.dialer.DialContext(s.ctx, addr, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing push channel: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing push channel: %w", err)
	}
	conn.SetReadLimit(s.client.cfg.MaxMessageSize)

	payload, _ := json.Marshal(map[string]string{"sessionId": string(s.sessionID)})
	if err := s.write(conn, websocket.TextMessage, mustFrame(EventJoin, payload)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("joining session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

func mustFrame(event string, payload json.RawMessage) []byte {
	data, _ := json.Marshal(Frame{Event: event, Payload: payload})
	return data
}

func (s *subscription) write(conn *websocket.Conn, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.client.cfg.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}

func (s *subscription) run(conn *websocket.Conn) {
	defer close(s.done)
	for {
		s.serve(conn)
		if s.ctx.Err() != nil {
			return
		}
		conn = s.reconnect()
		if conn == nil {
			return
		}
	}
}

// serve reads frames until the connection fails, pinging in the background.
func (s *subscription) serve(conn *websocket.Conn) {
	stop := make(chan struct{})
	go s.ping(conn, stop)
	defer func() {
		close(stop)
		conn.Close()
	}()

	readTimeout := s.client.cfg.ReadTimeout
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("push channel read failed", "session_id", string(s.sessionID), "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.dispatch(data)
	}
}

func (s *subscription) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.client.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *subscription) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Debug("ignoring malformed push frame", "session_id", string(s.sessionID), "error", err)
		return
	}
	ev, ok := backend.NormalizePushEvent(f.Event, f.Payload)
	if !ok {
		slog.Debug("ignoring push frame", "session_id", string(s.sessionID), "event", f.Event)
		return
	}
	if ev.SessionID != s.sessionID {
		slog.Debug("dropping event for another session", "session_id", string(s.sessionID), "event_session", string(ev.SessionID))
		return
	}
	if s.handler != nil {
		s.handler(ev)
	}
}

// reconnect dials with exponential backoff. It returns nil once the
// subscription is closed.
func (s *subscription) reconnect() *websocket.Conn {
	delay := s.client.cfg.ReconnectDelay
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(delay):
		}
		conn, err := s.connect()
		if err == nil {
			slog.Info("push channel reconnected", "session_id", string(s.sessionID))
			return conn
		}
		if s.ctx.Err() != nil {
			return nil
		}
		slog.Warn("push channel reconnect failed", "session_id", string(s.sessionID), "error", err, "retry_in", delay)
		delay *= 2
		if delay > s.client.cfg.MaxReconnectDelay {
			delay = s.client.cfg.MaxReconnectDelay
		}
	}
}

// Close detaches the subscription and waits for the reader to exit.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := s.write(conn, websocket.CloseMessage, msg); err != nil {
				slog.Debug("push channel close handshake failed", "session_id", string(s.sessionID), "error", err)
			}
			conn.Close()
		}
	})
	<-s.done
	return nil
}

var _ types.PushChannel = (*Client)(nil)
