// Package server implements the TCP accept loop and graceful shutdown for
// the chat room.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Server accepts chat connections and runs one Session per connection. All
// sessions, TCP or WebSocket, share one Roster.
type Server struct {
	cfg        Config
	roster     *Roster
	dispatcher *Dispatcher
	log        logrus.FieldLogger

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	sessions  map[*Session]struct{}
	closing   bool
	wg        sync.WaitGroup
}

// New creates a Server from a sanitized copy of cfg.
func New(cfg Config, log logrus.FieldLogger, opts ...RosterOption) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg = cfg.Sanitize()

	opts = append([]RosterOption{WithRosterLogger(log)}, opts...)
	roster := NewRoster(cfg.Admins, opts...)

	return &Server{
		cfg:        cfg,
		roster:     roster,
		dispatcher: NewDispatcher(roster, roster.now, log),
		log:        log,
		listeners:  make(map[net.Listener]struct{}),
		sessions:   make(map[*Session]struct{}),
	}
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Roster returns the shared roster.
func (s *Server) Roster() *Roster {
	return s.roster
}

// Dispatcher returns the command dispatcher.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// ListenAndServe listens on the configured TCP address and serves it.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it fails or Shutdown is called, in
// which case it returns ErrServerClosed. Temporary accept errors are retried
// with backoff.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	s.log.WithField("address", ln.Addr().String()).Info("Chat server listening")

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			s.log.WithError(err).Warnf("Accept error; retrying in %v", tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		if err := s.Accept(conn, conn.RemoteAddr().String()); err != nil {
			s.log.WithError(err).Debug("Connection refused")
		}
	}
}

// Accept starts a session over stream. It returns ErrServerClosed, after
// closing stream, once Shutdown has begun.
func (s *Server) Accept(stream Stream, addr string) error {
	sess := NewSession(stream, addr, s.roster, s.dispatcher, s.cfg, s.log)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = stream.Close()
		return ErrServerClosed
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.forget(sess)
		sess.Run()
	}()
	return nil
}

// Shutdown stops accepting connections, tells every member the server is
// going away and closes all sessions. It waits for the sessions to finish
// or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return s.wait(ctx)
	}
	s.closing = true
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.WithError(err).Warn("Error closing listener")
		}
	}
	pending := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		pending = append(pending, sess)
	}
	s.mu.Unlock()

	notice, _ := protocol.EncodeReply(msgShuttingDown)
	closed := s.roster.Close(notice)
	for _, sess := range pending {
		_ = sess.Close()
	}
	s.log.WithFields(logrus.Fields{"members": closed, "sessions": len(pending)}).Info("Shutting down chat server")

	return s.wait(ctx)
}

func (s *Server) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Chat server shutdown completed")
		return nil
	case <-ctx.Done():
		s.log.WithError(ctx.Err()).Warn("Chat server shutdown timed out")
		return ctx.Err()
	}
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.closing {
			return false
		}
		s.listeners[ln] = struct{}{}
		return true
	}
	delete(s.listeners, ln)
	return true
}

func (s *Server) forget(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
