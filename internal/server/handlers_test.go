package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

const allowedOrigin = "http://allowed.example"

// startGateway serves the HTTP routes of a running chat server.
func startGateway(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(SetupRoutes(srv))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, ts *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}
	conn, resp, err := dialer.Dial(wsURL(ts), header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readWSReply(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ioTimeout)))
	mt, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	reply, n, err := protocol.DecodeReply(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n, "one reply per message")
	return reply
}

// TestHealthHandler tests the status line and the online count.
func TestHealthHandler(t *testing.T) {
	srv := New(testConfig(), testLogger())
	ts := startGateway(t, srv)

	get := func() string {
		resp, err := http.Get(ts.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	assert.Equal(t, "Chat server is running! 0 user(s) online", get())

	require.NoError(t, srv.Roster().Register(uuid.New(), "alice", &fakePeer{}))
	assert.Equal(t, "Chat server is running! 1 user(s) online", get())
}

// TestWebSocketHandlerRejectsNonGet tests the method guard on the gateway.
func TestWebSocketHandlerRejectsNonGet(t *testing.T) {
	srv := New(testConfig(), testLogger())
	ts := startGateway(t, srv)

	resp, err := http.Post(ts.URL+"/ws", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestWebSocketOriginPolicy tests that only configured origins may upgrade.
func TestWebSocketOriginPolicy(t *testing.T) {
	srv := New(testConfig(), testLogger())
	ts := startGateway(t, srv)

	_, resp, err := dialWS(t, ts, "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dialWS(t, ts, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialWS(t, ts, "HTTP://Allowed.Example")
	require.NoError(t, err)
	require.NotNil(t, conn)
}

// TestWebSocketSharesRoomWithTCP tests that gateway and TCP clients chat in
// the same room over the same framing.
func TestWebSocketSharesRoomWithTCP(t *testing.T) {
	srv, addr := startServer(t, testConfig())
	ts := startGateway(t, srv)

	alice := join(t, addr, "alice")

	ws, _, err := dialWS(t, ts, allowedOrigin)
	require.NoError(t, err)

	// A frame split across two messages is reassembled.
	greeting, err := protocol.Encode(protocol.Chat{From: "webby", Body: "joined from a browser"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, greeting[:5]))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, greeting[5:]))
	assert.Equal(t, "15:04 webby joined from a browser", alice.expect(t))

	alice.send(t, protocol.Chat{From: "alice", Body: "welcome"})
	assert.Equal(t, "15:04 @alice welcome", readWSReply(t, ws))

	private, err := protocol.Encode(protocol.PrivateMessage{From: "webby", Target: "alice", Body: "thanks"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, private))
	assert.Equal(t, "15:04 !webby thanks", alice.expect(t))

	alice.send(t, protocol.Kick{From: "alice", Target: "webby"})
	assert.Equal(t, msgKicked, readWSReply(t, ws))
	assert.Equal(t, "webby has been kicked from the chat!", readWSReply(t, ws))
	assert.Equal(t, "webby has been kicked from the chat!", alice.expect(t))
	assert.Equal(t, "15:04 webby has left the chat!", alice.expect(t))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(ioTimeout)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

// TestWebSocketClientDisconnect tests that closing the browser side is a departure.
func TestWebSocketClientDisconnect(t *testing.T) {
	srv, addr := startServer(t, testConfig())
	ts := startGateway(t, srv)

	alice := join(t, addr, "alice")

	ws, _, err := dialWS(t, ts, allowedOrigin)
	require.NoError(t, err)
	greeting, err := protocol.Encode(protocol.Chat{From: "webby"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, greeting))
	assert.Equal(t, "15:04 webby has joined the chat!", alice.expect(t))

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
	require.NoError(t, ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ioTimeout)))
	assert.Equal(t, "15:04 webby has left the chat!", alice.expect(t))
}
