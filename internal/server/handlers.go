// Package server exposes HTTP handlers, including the WebSocket gateway into
// the chat room and the health check.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler returns a handler that upgrades GET requests from allowed
// origins and runs a chat session over the connection. The session speaks
// the same framed protocol as TCP clients and joins the same room.
func WebSocketHandler(srv *Server) http.HandlerFunc {
	cfg := srv.Config()
	policy := newOriginPolicy(cfg.AllowedOrigins, srv.log)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			srv.log.WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		conn.SetReadLimit(cfg.MaxMessageSize)

		if err := srv.Accept(newWSStream(conn), r.RemoteAddr); err != nil {
			srv.log.WithError(err).WithField("addr", r.RemoteAddr).Debug("WebSocket session refused")
		}
	}
}

// HealthHandler returns a plain text status line with the number of members online.
func HealthHandler(roster *Roster) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "Chat server is running! %d user(s) online", roster.Len())
	}
}
