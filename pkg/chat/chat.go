// Package chat is the streaming chat client for the assistant endpoint.
//
// Each request is one JSON text frame {message, history}. The server streams
// the reply as text frames and terminates it with EndMarker, or aborts it
// with ErrorMarker.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Stream markers sent by the chat server.
const (
	EndMarker   = "<<<END>>>"
	ErrorMarker = "<<<ERROR>>>"
)

// Roles kept in the conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrEmptyMessage is returned for blank messages; the server would reject them.
	ErrEmptyMessage = errors.New("empty chat message")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("chat session closed")
	// ErrChatProtocol is returned when the server aborts a reply.
	ErrChatProtocol = errors.New("chat server reported an error")
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the JSON frame sent for each user message.
type Request struct {
	Message string    `json:"message"`
	History []Message `json:"history"`
}

// Session is a conversation over a single websocket connection.
// Sends are serialized; the connection is dialed lazily and redialed after
// a transport failure.
type Session struct {
	url    string
	dialer *websocket.Dialer
	log    *slog.Logger

	// sendMu serializes Send. mu guards the fields below and is never held
	// while waiting on the network, so Close can interrupt a streaming reply.
	sendMu  sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	history []Message
	closed  bool
}

// Option configures a Session.
type Option func(*Session)

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session for the chat endpoint, e.g. ws://localhost:8000/ws/chat.
func NewSession(url string, opts ...Option) *Session {
	s := &Session{
		url:    url,
		dialer: websocket.DefaultDialer,
		log:    slog.Default().With("component", "chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the chat endpoint.
func (s *Session) URL() string { return s.url }

// History returns a copy of the conversation so far.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Reset clears the conversation history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Close closes the underlying connection, if any. A reply being streamed
// is aborted and later sends fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Send sends a user message and streams the reply. onChunk, if non-nil, is
// called for every chunk in arrival order. On success both turns are added
// to the history and the full reply is returned.
func (s *Session) Send(ctx context.Context, message string, onChunk func(string)) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	conn, history, err := s.connect(ctx)
	if err != nil {
		return "", err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		if !stop() {
			s.drop(conn)
		}
	}()

	if err := conn.WriteJSON(Request{Message: message, History: history}); err != nil {
		return "", s.fail(ctx, conn, fmt.Errorf("send chat message: %w", err))
	}

	var reply strings.Builder
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", s.fail(ctx, conn, fmt.Errorf("read chat reply: %w", err))
		}
		chunk := string(data)
		switch chunk {
		case EndMarker:
			s.mu.Lock()
			s.history = append(s.history,
				Message{Role: RoleUser, Content: message},
				Message{Role: RoleAssistant, Content: reply.String()},
			)
			s.mu.Unlock()
			s.log.Debug("Chat reply complete.", "chars", reply.Len())
			return reply.String(), nil
		case ErrorMarker:
			return "", ErrChatProtocol
		}
		reply.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
}

// connect returns the open connection, dialing one if needed, plus the
// history to send with the next message.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, []Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrClosed
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		c, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("dial chat %s: %w", s.url, err)
		}
		conn = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return nil, nil, ErrClosed
	}
	s.conn = conn
	history := make([]Message, 0, len(s.history))
	for _, m := range s.history {
		if m.Role == RoleUser || m.Role == RoleAssistant {
			history = append(history, m)
		}
	}
	return conn, history, nil
}

// drop forgets conn if it is still the session's connection.
func (s *Session) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
}

// fail drops the broken connection so the next Send redials.
func (s *Session) fail(ctx context.Context, conn *websocket.Conn, err error) error {
	conn.Close()
	s.drop(conn)
	if ctx.Err() != nil {
		return fmt.Errorf("chat: %w", ctx.Err())
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.log.Warn("Chat connection failed.", "error", err)
	return err
}
