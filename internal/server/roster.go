// Package server coordinates session registration, moderation state and
// message fan-out for the chat via the Roster type.
package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

type member struct {
	id       uuid.UUID
	name     string
	peer     Peer
	joinedAt time.Time
}

// Roster is the shared registry of connected sessions, admins and muted
// users. Every method is a single critical section; the collections are
// never handed out, only copies.
//
// Frames are queued to peers while the lock is held, so each recipient sees
// roster events in the order the roster applied them.
type Roster struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*member
	names    map[string]*member
	admins   []string
	adminSet map[string]struct{}
	muted    map[string]struct{}

	now func() time.Time
	log logrus.FieldLogger
}

// RosterOption customizes a Roster.
type RosterOption func(*Roster)

// WithClock overrides the clock used for chat line timestamps.
func WithClock(now func() time.Time) RosterOption {
	return func(r *Roster) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRosterLogger sets the logger used for roster events.
func WithRosterLogger(l logrus.FieldLogger) RosterOption {
	return func(r *Roster) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRoster creates a Roster seeded with the given admins. Duplicate and
// empty names are skipped; seed order is kept.
func NewRoster(admins []string, opts ...RosterOption) *Roster {
	r := &Roster{
		sessions: make(map[uuid.UUID]*member),
		names:    make(map[string]*member),
		adminSet: make(map[string]struct{}, len(admins)),
		muted:    make(map[string]struct{}),
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	for _, name := range admins {
		if _, dup := r.adminSet[name]; dup || name == "" {
			continue
		}
		r.adminSet[name] = struct{}{}
		r.admins = append(r.admins, name)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds username to the session handle.
func (r *Roster) Register(id uuid.UUID, name string, peer Peer) error {
	if err := protocol.ValidateUsername(name); err != nil {
		return err
	}
	if peer == nil {
		return errors.New("server: cannot register a nil peer")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.names[name]; ok {
		if m.id == id {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateUsername, name)
	}
	if m, ok := r.sessions[id]; ok {
		return fmt.Errorf("%w: %s is bound to %s", ErrAlreadyRegistered, id, m.name)
	}

	m := &member{id: id, name: name, peer: peer, joinedAt: r.now()}
	r.sessions[id] = m
	r.names[name] = m
	r.log.WithFields(logrus.Fields{"session": id, "user": name, "online": len(r.sessions)}).Info("Session registered")
	return nil
}

// Unregister removes the session from the roster and the muted set, closes
// it and tells everyone left that the user is gone. It reports whether the
// session was registered; a second call is a no-op.
func (r *Roster) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[id]
	if !ok {
		return false
	}
	r.removeLocked(m)
	r.announceLocked(departureLine(r.now(), m.name), uuid.Nil)
	return true
}

// Evict delivers notice to the named user and announcement to everyone,
// the user included, then removes and closes their session and announces the
// departure to the remaining sessions, in one step.
func (r *Roster) Evict(name string, notice, announcement []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.names[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	if !m.peer.Deliver(notice) {
		r.log.WithFields(logrus.Fields{"session": m.id, "user": name}).Debug("Eviction notice dropped")
	}
	r.broadcastLocked(announcement, uuid.Nil)
	if r.sessions[m.id] == m {
		r.removeLocked(m)
		r.announceLocked(departureLine(r.now(), m.name), uuid.Nil)
	}
	return nil
}

// Lookup returns the session handle bound to username.
func (r *Roster) Lookup(name string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.names[name]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.id, nil
}

// Username returns the username bound to the session handle.
func (r *Roster) Username(id uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return m.name, true
}

// IsAdmin reports whether username is in the admin list. Admins need not be connected.
func (r *Roster) IsAdmin(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.adminSet[name]
	return ok
}

// IsMuted reports whether username is muted.
func (r *Roster) IsMuted(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.muted[name]
	return ok
}

// Promote appends a connected user to the admin list.
func (r *Roster) Promote(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	if _, ok := r.adminSet[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyAdmin, name)
	}
	r.adminSet[name] = struct{}{}
	r.admins = append(r.admins, name)
	r.log.WithField("user", name).Info("User promoted")
	return nil
}

// Mute silences a connected user until they disconnect.
func (r *Roster) Mute(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	if _, ok := r.muted[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMuted, name)
	}
	r.muted[name] = struct{}{}
	r.log.WithField("user", name).Info("User muted")
	return nil
}

// Admins returns the admin list in the order admins were seeded or promoted.
func (r *Roster) Admins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.admins...)
}

// Muted returns the muted usernames, sorted.
func (r *Roster) Muted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.muted))
	for name := range r.muted {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Usernames returns the connected usernames, sorted.
func (r *Roster) Usernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of connected sessions.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Send queues frame for the named user.
func (r *Roster) Send(name string, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.names[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	return r.deliverLocked(m, frame)
}

// SendTo queues frame for the session handle.
func (r *Roster) SendTo(id uuid.UUID, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", ErrUnknownUser, id)
	}
	return r.deliverLocked(m, frame)
}

// Broadcast queues frame for every session except the one with handle
// except. Pass uuid.Nil to reach everyone.
func (r *Roster) Broadcast(frame []byte, except uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(frame, except)
}

// CanSpeak reports ErrNotMember or ErrMuted when the session may not send
// chat or private messages.
func (r *Roster) CanSpeak(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.speakerLocked(id)
	return err
}

// BroadcastFrom queues frame for everyone but the sending session, provided
// the sender is still registered and not muted.
func (r *Roster) BroadcastFrom(id uuid.UUID, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.speakerLocked(id)
	if err != nil {
		return err
	}
	r.broadcastLocked(frame, m.id)
	return nil
}

// SendFrom queues frame for the named user on behalf of the sending session,
// under the same conditions as BroadcastFrom.
func (r *Roster) SendFrom(id uuid.UUID, name string, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.speakerLocked(id); err != nil {
		return err
	}
	target, ok := r.names[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	return r.deliverLocked(target, frame)
}

// Close delivers notice to every session, then removes and closes them all
// without departure announcements. It returns the number of sessions closed.
func (r *Roster) Close(notice []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]*member, 0, len(r.sessions))
	for _, m := range r.sessions {
		members = append(members, m)
	}
	for _, m := range members {
		if notice != nil {
			m.peer.Deliver(notice)
		}
		r.removeLocked(m)
	}
	return len(members)
}

func (r *Roster) speakerLocked(id uuid.UUID) (*member, error) {
	m, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, id)
	}
	if _, muted := r.muted[m.name]; muted {
		return nil, fmt.Errorf("%w: %s", ErrMuted, m.name)
	}
	return m, nil
}

func (r *Roster) removeLocked(m *member) {
	delete(r.sessions, m.id)
	delete(r.names, m.name)
	delete(r.muted, m.name)
	if err := m.peer.Close(); err != nil && !isExpectedCloseError(err) {
		r.log.WithFields(logrus.Fields{"session": m.id, "user": m.name}).WithError(err).Warn("Error closing session")
	}
	r.log.WithFields(logrus.Fields{
		"session":   m.id,
		"user":      m.name,
		"connected": r.now().Sub(m.joinedAt).Round(time.Second),
		"online":    len(r.sessions),
	}).Info("Session unregistered")
}

func (r *Roster) deliverLocked(m *member, frame []byte) error {
	if m.peer.Deliver(frame) {
		return nil
	}
	r.dropLocked([]*member{m})
	return fmt.Errorf("%w: %s", ErrSendFailure, m.name)
}

func (r *Roster) broadcastLocked(frame []byte, except uuid.UUID) {
	var failed []*member
	for id, m := range r.sessions {
		if id == except {
			continue
		}
		if !m.peer.Deliver(frame) {
			failed = append(failed, m)
		}
	}
	r.dropLocked(failed)
}

// dropLocked treats a peer that could not take a frame as disconnected.
func (r *Roster) dropLocked(failed []*member) {
	for _, m := range failed {
		if r.sessions[m.id] != m {
			continue
		}
		r.log.WithFields(logrus.Fields{"session": m.id, "user": m.name}).Warn("Session removed after failed send")
		r.removeLocked(m)
		r.announceLocked(departureLine(r.now(), m.name), uuid.Nil)
	}
}

func (r *Roster) announceLocked(text string, except uuid.UUID) {
	frame, err := protocol.EncodeReply(text)
	if err != nil {
		r.log.WithError(err).Error("Cannot encode announcement")
		return
	}
	r.broadcastLocked(frame, except)
}
