// Package ws serves the chat and notification websockets on top of the
// realtime registries.
package ws

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const closeGrace = time.Second

// socket adapts a websocket connection to realtime.Conn. Writes from the
// registry and from the read loop share one mutex, and every write is
// bounded by a deadline.
type socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newSocket(conn *websocket.Conn, writeTimeout time.Duration) *socket {
	return &socket{conn: conn, writeTimeout: writeTimeout}
}

// WriteMessage sends one text frame.
func (s *socket) WriteMessage(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// ping sends a ping control frame. Browsers answer it without any client
// code, which keeps listen-only sockets past the idle timeout.
func (s *socket) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// Close tears down the transport. Safe to call more than once.
func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// closeWith sends a close frame carrying code before closing.
func (s *socket) closeWith(code int, reason string) {
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeGrace))
	_ = s.Close()
}
