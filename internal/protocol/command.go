package protocol

import (
	"fmt"
	"strings"
	"unicode"
)

// Command is a decoded unit of client intent. The set of implementations is
// closed: Chat, Promote, Kick, Mute, PrivateMessage, Quit and ViewAdmins.
type Command interface {
	// Sender returns the username the frame was sent as.
	Sender() string
	// Code returns the wire code of the command.
	Code() Code

	command()
}

// Chat is a message for everyone in the room.
type Chat struct {
	From string
	Body string
}

// Promote asks to grant Target admin rights.
type Promote struct {
	From   string
	Target string
}

// Kick asks to disconnect Target.
type Kick struct {
	From   string
	Target string
}

// Mute asks to silence Target.
type Mute struct {
	From   string
	Target string
}

// PrivateMessage is a message for Target only.
type PrivateMessage struct {
	From   string
	Target string
	Body   string
}

// Quit ends the sender's session.
type Quit struct {
	From string
}

// ViewAdmins asks for the admin list.
type ViewAdmins struct {
	From string
}

func (c Chat) Sender() string           { return c.From }
func (c Promote) Sender() string        { return c.From }
func (c Kick) Sender() string           { return c.From }
func (c Mute) Sender() string           { return c.From }
func (c PrivateMessage) Sender() string { return c.From }
func (c Quit) Sender() string           { return c.From }
func (c ViewAdmins) Sender() string     { return c.From }

func (Chat) Code() Code           { return CodeChat }
func (Promote) Code() Code        { return CodePromote }
func (Kick) Code() Code           { return CodeKick }
func (Mute) Code() Code           { return CodeMute }
func (PrivateMessage) Code() Code { return CodePrivate }
func (Quit) Code() Code           { return CodeQuit }
func (ViewAdmins) Code() Code     { return CodeViewAdmins }

func (Chat) command()           {}
func (Promote) command()        {}
func (Kick) command()           {}
func (Mute) command()           {}
func (PrivateMessage) command() {}
func (Quit) command()           {}
func (ViewAdmins) command()     {}

// ValidateUsername checks the username invariant: non-empty, at most
// MaxUsernameLen bytes, no leading '@' or '!', no space.
func ValidateUsername(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	case len(name) > MaxUsernameLen:
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrInvalidUsername, len(name), MaxUsernameLen)
	case name[0] == '@' || name[0] == '!':
		return fmt.Errorf("%w: %q starts with %q", ErrInvalidUsername, name, name[0])
	case strings.ContainsRune(name, ' '):
		return fmt.Errorf("%w: %q contains a space", ErrInvalidUsername, name)
	}
	return nil
}

// Command interprets the frame.
func (f Frame) Command() (Command, error) {
	if err := ValidateUsername(f.Username); err != nil {
		return nil, &DecodeError{Field: "username", Reason: "rejected", Err: err}
	}

	switch f.Code {
	case CodeChat:
		return Chat{From: f.Username, Body: f.Content}, nil
	case CodePromote:
		return Promote{From: f.Username, Target: strings.TrimSpace(f.Content)}, nil
	case CodeKick:
		return Kick{From: f.Username, Target: strings.TrimSpace(f.Content)}, nil
	case CodeMute:
		return Mute{From: f.Username, Target: strings.TrimSpace(f.Content)}, nil
	case CodePrivate:
		target, body, ok := splitPrivate(f.Content)
		if !ok {
			return nil, decodeErr("content", "private message needs a target and a body")
		}
		return PrivateMessage{From: f.Username, Target: target, Body: body}, nil
	case CodeQuit:
		return Quit{From: f.Username}, nil
	case CodeViewAdmins:
		return ViewAdmins{From: f.Username}, nil
	default:
		return nil, decodeErr("command code", fmt.Sprintf("unknown code %q", byte(f.Code)))
	}
}

// ToFrame converts a command back into its wire frame.
func ToFrame(c Command) Frame {
	f := Frame{Username: c.Sender(), Code: c.Code()}
	switch c := c.(type) {
	case Chat:
		f.Content = c.Body
	case Promote:
		f.Content = c.Target
	case Kick:
		f.Content = c.Target
	case Mute:
		f.Content = c.Target
	case PrivateMessage:
		f.Content = c.Target + " " + c.Body
	case Quit, ViewAdmins:
	}
	return f
}

// Encode serializes a command as a client frame.
func Encode(c Command) ([]byte, error) {
	return EncodeFrame(ToFrame(c))
}

// Decode decodes the first client frame in b as a command and returns the
// number of bytes consumed.
func Decode(b []byte) (Command, int, error) {
	f, n, err := DecodeFrame(b)
	if err != nil {
		return nil, 0, err
	}
	c, err := f.Command()
	if err != nil {
		return nil, 0, err
	}
	return c, n, nil
}

// splitPrivate splits "target body" on the first space after the target.
// The body is kept verbatim but must not be blank.
func splitPrivate(content string) (target, body string, ok bool) {
	content = strings.TrimLeftFunc(content, unicode.IsSpace)
	target, body, found := strings.Cut(content, " ")
	if !found || target == "" || strings.TrimSpace(body) == "" {
		return "", "", false
	}
	return target, body, true
}
