// Package server implements the chat room: the shared Roster of members,
// admins and muted users, the Dispatcher that applies commands to it, and
// the Session that drives one connection.
//
// Connections arrive over raw TCP through Server.Serve, or over WebSocket
// through the HTTP gateway in handlers.go. Both carry the framed protocol
// from package protocol and share one room.
package server
