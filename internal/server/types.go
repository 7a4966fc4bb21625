// Package server defines shared peer and transport types and utility helpers
// that are reused across session and roster logic.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Peer is the roster's view of a connected session. Deliver must not block:
// it queues an encoded reply frame and reports false when the peer cannot
// take it. Close tears the peer down after pending frames are flushed.
type Peer interface {
	Deliver(frame []byte) bool
	Close() error
}

// Stream is the byte transport a Session runs over. net.Conn satisfies it,
// and so does the WebSocket adapter.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}

// isTimeout reports whether err is a network deadline error.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
