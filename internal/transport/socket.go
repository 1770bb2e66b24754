package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/chatlink/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256

	// closeAbnormal is reported when the peer vanished without a close frame.
	closeAbnormal = websocket.CloseAbnormalClosure
)

// Events are the callbacks a Socket invokes from its reader goroutine.
// OnClose is called exactly once.
type Events struct {
	OnMessage func(data []byte)
	OnClose   func(code int, reason string)
}

// Socket is one open push-channel connection.
type Socket interface {
	// Send queues data for writing. It must not block.
	Send(data []byte) error
	// Close sends a close frame with code and releases the connection.
	Close(code int, reason string) error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string, ev Events) (Socket, error)
}

// HandshakeError is returned when the server rejects the upgrade with an
// HTTP status. Authentication statuses carry the equivalent close code.
type HandshakeError struct {
	Status    int
	CloseCode int
	Err       error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed with status %d: %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// handshakeCloseCode maps an HTTP rejection to a close code.
func handshakeCloseCode(status int) int {
	switch status {
	case http.StatusUnauthorized:
		return auth.CloseSessionExpired
	case http.StatusForbidden:
		return auth.CloseForbidden
	case http.StatusTooManyRequests:
		return auth.CloseRateLimited
	default:
		return 0
	}
}

// WebSocketDialer dials push channels with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
	Logger *slog.Logger
}

// NewWebSocketDialer returns a dialer with a handshake timeout.
func NewWebSocketDialer(handshakeTimeout time.Duration, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	return &WebSocketDialer{Dialer: &d, Logger: logger}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, ev Events) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, &HandshakeError{Status: resp.StatusCode, CloseCode: handshakeCloseCode(resp.StatusCode), Err: err}
		}
		return nil, err
	}
	_ = resp.Body.Close()

	s := &wsSocket{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		events: ev,
		logger: d.Logger,
	}
	go s.writePump()
	go s.readPump()
	return s, nil
}

type wsSocket struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	events Events
	logger *slog.Logger

	closeOnce sync.Once
	closed    sync.Once
}

var errSocketClosed = errors.New("socket closed")

func (s *wsSocket) Send(data []byte) error {
	select {
	case <-s.done:
		return errSocketClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return errSocketClosed
	default:
		return errors.New("socket send buffer full")
	}
}

func (s *wsSocket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		err = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		close(s.done)
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func (s *wsSocket) readPump() {
	code, reason := closeAbnormal, ""
	defer func() {
		s.closeOnce.Do(func() {
			close(s.done)
			_ = s.conn.Close()
		})
		s.closed.Do(func() {
			if s.events.OnClose != nil {
				s.events.OnClose(code, reason)
			}
		})
	}()

	s.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if s.events.OnMessage != nil {
			s.events.OnMessage(data)
		}
	}
}

func (s *wsSocket) writePump() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				_ = s.conn.Close()
				return
			}
		}
	}
}
