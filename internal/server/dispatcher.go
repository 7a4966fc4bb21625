package server

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Dispatcher applies decoded commands to the Roster. It holds no state of its
// own; preconditions are checked before any mutation and rejections are
// answered to the sender only.
type Dispatcher struct {
	roster *Roster
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewDispatcher creates a Dispatcher over roster. A nil clock means time.Now.
func NewDispatcher(roster *Roster, now func() time.Time, log logrus.FieldLogger) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{roster: roster, now: now, log: log}
}

// Admit performs the handshake for the first frame of a session: it binds
// the username and, when the frame is a Chat, announces its body (or the
// default greeting) as the arrival. Any other first frame is dispatched
// without an announcement. The returned bool reports whether the session
// must stop reading.
func (d *Dispatcher) Admit(id uuid.UUID, peer Peer, cmd protocol.Command) (bool, error) {
	name := cmd.Sender()
	if err := d.roster.Register(id, name, peer); err != nil {
		return true, err
	}

	greeting, isChat := cmd.(protocol.Chat)
	if !isChat {
		return d.Dispatch(id, cmd), nil
	}

	body := greeting.Body
	if body == "" {
		body = defaultGreeting
	}
	who := speaker(name, d.roster.IsAdmin(name))
	frame, err := protocol.EncodeReply(chatLine(d.now(), who, body))
	if err != nil {
		frame, _ = protocol.EncodeReply(chatLine(d.now(), who, defaultGreeting))
	}
	d.roster.Broadcast(frame, id)
	return false, nil
}

// Dispatch handles one command from the session with handle id. The returned
// bool reports whether the session must stop reading. A session the roster
// no longer knows is told to stop without the command taking effect.
func (d *Dispatcher) Dispatch(id uuid.UUID, cmd protocol.Command) bool {
	log := d.log.WithFields(logrus.Fields{"session": id, "user": cmd.Sender(), "command": cmd.Code()})
	if _, ok := d.roster.Username(id); !ok {
		log.Debug("Dropping command from removed session")
		return true
	}
	log.Debug("Dispatching command")

	switch c := cmd.(type) {
	case protocol.Chat:
		return d.chat(id, c)
	case protocol.Promote:
		d.promote(id, c)
	case protocol.Kick:
		return d.kick(id, c)
	case protocol.Mute:
		d.mute(id, c)
	case protocol.PrivateMessage:
		return d.private(id, c)
	case protocol.Quit:
		d.roster.Unregister(id)
		return true
	case protocol.ViewAdmins:
		d.reply(id, adminList(d.roster.Admins()))
	default:
		log.Errorf("Unhandled command type %T", cmd)
	}
	return false
}

// chat broadcasts a chat line. The member and mute checks happen in the
// same roster step as the fan-out.
func (d *Dispatcher) chat(id uuid.UUID, c protocol.Chat) bool {
	line := chatLine(d.now(), speaker(c.From, d.roster.IsAdmin(c.From)), c.Body)
	frame, err := protocol.EncodeReply(line)
	if err != nil {
		return d.tooLong(id)
	}
	return d.refuse(id, d.roster.BroadcastFrom(id, frame))
}

func (d *Dispatcher) promote(id uuid.UUID, c protocol.Promote) {
	if !d.roster.IsAdmin(c.From) {
		d.reply(id, msgOnlyAdmins)
		return
	}
	if err := d.roster.Promote(c.Target); err != nil {
		d.rejectTarget(id, c.Target, err)
		return
	}
	d.send(c.Target, promotedBy(c.From))
	d.broadcast(promotedNotice(c.Target), uuid.Nil)
}

func (d *Dispatcher) kick(id uuid.UUID, c protocol.Kick) bool {
	if !d.roster.IsAdmin(c.From) {
		d.reply(id, msgOnlyAdmins)
		return false
	}
	notice, err := protocol.EncodeReply(msgKicked)
	if err != nil {
		d.log.WithError(err).Error("Cannot encode kick notice")
		return false
	}
	announcement, err := protocol.EncodeReply(kickedNotice(c.Target))
	if err != nil {
		d.reply(id, msgTooLong)
		return false
	}
	if err := d.roster.Evict(c.Target, notice, announcement); err != nil {
		d.rejectTarget(id, c.Target, err)
		return false
	}
	d.log.WithFields(logrus.Fields{"admin": c.From, "user": c.Target}).Info("User kicked")
	return c.Target == c.From
}

func (d *Dispatcher) mute(id uuid.UUID, c protocol.Mute) {
	if !d.roster.IsAdmin(c.From) {
		d.reply(id, msgOnlyAdmins)
		return
	}
	if err := d.roster.Mute(c.Target); err != nil {
		d.rejectTarget(id, c.Target, err)
		return
	}
	d.send(c.Target, mutedBy(c.From))
	d.broadcast(mutedNotice(c.Target), uuid.Nil)
}

func (d *Dispatcher) private(id uuid.UUID, c protocol.PrivateMessage) bool {
	frame, err := protocol.EncodeReply(privateLine(d.now(), c.From, c.Body))
	if err != nil {
		return d.tooLong(id)
	}
	err = d.roster.SendFrom(id, c.Target, frame)
	switch {
	case errors.Is(err, ErrUnknownUser):
		d.reply(id, userNotExist(c.Target))
	case errors.Is(err, ErrSendFailure):
		d.log.WithFields(logrus.Fields{"user": c.From, "target": c.Target}).WithError(err).Warn("Private message not delivered")
	default:
		return d.refuse(id, err)
	}
	return false
}

// refuse answers a BroadcastFrom or SendFrom rejection. A muted sender is
// told so; a removed sender must stop.
func (d *Dispatcher) refuse(id uuid.UUID, err error) bool {
	switch {
	case errors.Is(err, ErrNotMember):
		return true
	case errors.Is(err, ErrMuted):
		d.reply(id, msgMuted)
	}
	return false
}

// tooLong answers a line that does not fit a reply frame, unless the sender
// may not speak at all.
func (d *Dispatcher) tooLong(id uuid.UUID) bool {
	if err := d.roster.CanSpeak(id); err != nil {
		return d.refuse(id, err)
	}
	d.reply(id, msgTooLong)
	return false
}

func (d *Dispatcher) rejectTarget(id uuid.UUID, target string, err error) {
	switch {
	case errors.Is(err, ErrUnknownUser):
		d.reply(id, userNotExist(target))
	case errors.Is(err, ErrAlreadyAdmin):
		d.reply(id, alreadyAdmin(target))
	case errors.Is(err, ErrAlreadyMuted):
		d.reply(id, alreadyMuted(target))
	default:
		d.log.WithFields(logrus.Fields{"session": id, "target": target}).WithError(err).Error("Moderation command failed")
	}
}

// reply answers the sender only. A reply too large for one frame is
// replaced by a short notice.
func (d *Dispatcher) reply(id uuid.UUID, text string) {
	frame, err := protocol.EncodeReply(text)
	if err != nil {
		frame, _ = protocol.EncodeReply(msgTooLong)
	}
	if err := d.roster.SendTo(id, frame); err != nil && !errors.Is(err, ErrUnknownUser) {
		d.log.WithField("session", id).WithError(err).Debug("Reply not delivered")
	}
}

func (d *Dispatcher) send(name, text string) {
	frame, err := protocol.EncodeReply(text)
	if err != nil {
		d.log.WithError(err).Error("Cannot encode direct message")
		return
	}
	if err := d.roster.Send(name, frame); err != nil {
		d.log.WithField("user", name).WithError(err).Debug("Direct message not delivered")
	}
}

func (d *Dispatcher) broadcast(text string, except uuid.UUID) {
	frame, err := protocol.EncodeReply(text)
	if err != nil {
		d.log.WithError(err).Error("Cannot encode broadcast")
		return
	}
	d.roster.Broadcast(frame, except)
}
