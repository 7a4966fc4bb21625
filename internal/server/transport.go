// Package server adapts WebSocket connections to the byte stream the chat
// sessions read frames from.
package server

import (
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod bounds the close handshake write on teardown.
const closeGracePeriod = time.Second

// wsStream exposes a WebSocket connection as a Stream. Incoming messages are
// concatenated, so a frame may span messages or share one with other
// frames. Each Write is sent as one binary message.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal closure message and closes the connection.
func (s *wsStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil && !isExpectedCloseError(err) {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}

func (s *wsStream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *wsStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}
