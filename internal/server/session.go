// Package server manages individual chat sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// State is the lifecycle stage of a Session.
type State int32

// Session states. Closed is terminal.
const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session represents one connected client. The read pump decodes and
// dispatches frames serially; the write pump is the only writer of the
// stream, so reply frames never interleave.
type Session struct {
	id          uuid.UUID
	stream      Stream
	addr        string
	connectedAt time.Time

	mu     sync.Mutex
	send   chan []byte
	closed bool

	state    atomic.Int32
	username string

	readTimeout  time.Duration
	writeTimeout time.Duration
	limiter      *rateLimiter

	roster     *Roster
	dispatcher *Dispatcher
	log        logrus.FieldLogger
	writerDone chan struct{}
}

// NewSession creates a Session over stream. It does nothing until Run.
func NewSession(stream Stream, addr string, roster *Roster, dispatcher *Dispatcher, cfg Config, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	id := uuid.New()
	queue := cfg.SendQueueSize
	if queue <= 0 {
		queue = defaultConfig().SendQueueSize
	}

	return &Session{
		id:           id,
		stream:       stream,
		addr:         addr,
		connectedAt:  time.Now(),
		send:         make(chan []byte, queue),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		limiter:      newRateLimiter(cfg.RateLimit, nil),
		roster:       roster,
		dispatcher:   dispatcher,
		log:          log.WithFields(logrus.Fields{"session": id, "addr": addr}),
		writerDone:   make(chan struct{}),
	}
}

// ID returns the session handle.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// RemoteAddr returns the client address the session was accepted from.
func (s *Session) RemoteAddr() string {
	return s.addr
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Deliver queues an encoded reply frame without blocking.
func (s *Session) Deliver(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops accepting frames. The write pump flushes what is queued and
// then closes the stream. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.send)
	return nil
}

// Run drives the session until the connection ends. The roster entry is
// released exactly once on the way out, whatever ended the session.
func (s *Session) Run() {
	s.log.Info("Client connected")
	go s.writePump()

	defer func() {
		s.release()
		<-s.writerDone
		s.state.Store(int32(StateClosed))
		s.log.WithField("duration", time.Since(s.connectedAt).Round(time.Millisecond)).Info("Session closed")
	}()

	s.readPump()
}

func (s *Session) readPump() {
	dec := protocol.NewDecoder(s.stream)
	for {
		if s.readTimeout > 0 {
			if err := s.stream.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
				s.log.WithError(err).Warn("Error setting read deadline")
				return
			}
		}

		frame, err := dec.Next()
		if err != nil {
			s.handleReadError(err)
			return
		}

		cmd, err := frame.Command()
		if err != nil {
			s.log.WithError(err).Warn("Rejected frame")
			return
		}

		if s.handle(cmd) {
			return
		}
	}
}

// handle processes one command and reports whether reading must stop.
func (s *Session) handle(cmd protocol.Command) bool {
	if s.State() == StateConnecting {
		return s.admit(cmd)
	}

	if cmd.Sender() != s.username {
		s.log.WithFields(logrus.Fields{"user": s.username, "claimed": cmd.Sender()}).Warn("Frame sender does not match session user")
		return true
	}

	if !s.limiter.allow() {
		s.log.WithField("user", s.username).Debug("Rate limit exceeded; discarding frame")
		s.notify(msgSlowDown)
		return false
	}

	return s.dispatcher.Dispatch(s.id, cmd)
}

func (s *Session) admit(cmd protocol.Command) bool {
	stop, err := s.dispatcher.Admit(s.id, s, cmd)
	if err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			s.notify(usernameTaken(cmd.Sender()))
		}
		s.log.WithField("user", cmd.Sender()).WithError(err).Warn("Handshake rejected")
		return true
	}

	s.username = cmd.Sender()
	s.state.Store(int32(StateActive))
	s.log.WithField("user", s.username).Info("Client joined")
	return stop
}

// notify writes straight to this session's queue, bypassing the roster.
func (s *Session) notify(text string) {
	frame, err := protocol.EncodeReply(text)
	if err != nil {
		return
	}
	s.Deliver(frame)
}

func (s *Session) handleReadError(err error) {
	switch {
	case isExpectedCloseError(err):
		s.log.Info("Client disconnected")
	case isTimeout(err):
		s.log.WithField("timeout", s.readTimeout).Info("Client timed out")
	case errors.Is(err, protocol.ErrMalformed):
		s.log.WithError(err).Warn("Malformed frame")
	default:
		s.log.WithError(err).Warn("Read error")
	}
}

// release unregisters the session, or just closes it when it never joined
// or was already removed by a kick or a failed send.
func (s *Session) release() {
	if !s.roster.Unregister(s.id) {
		_ = s.Close()
	}
}

func (s *Session) writePump() {
	defer close(s.writerDone)
	defer s.closeStream()

	for frame := range s.send {
		if s.writeTimeout > 0 {
			if err := s.stream.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				s.log.WithError(err).Warn("Error setting write deadline")
				s.release()
				return
			}
		}
		if _, err := s.stream.Write(frame); err != nil {
			if !isExpectedCloseError(err) {
				s.log.WithError(err).Warn("Error writing frame")
			}
			s.release()
			return
		}
	}
}

func (s *Session) closeStream() {
	if err := s.stream.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.WithError(err).Warn("Error closing connection")
	}
}
