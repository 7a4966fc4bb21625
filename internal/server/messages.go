package server

import (
	"fmt"
	"strings"
	"time"
)

// Reply texts sent to a single session.
const (
	msgOnlyAdmins   = "Only admins can use this command"
	msgMuted        = "You are muted"
	msgKicked       = "You have been kicked from the chat!"
	msgTooLong      = "Message is too long"
	msgSlowDown     = "You are sending messages too fast"
	msgShuttingDown = "Server is shutting down"
	defaultGreeting = "has joined the chat!"
)

// clockFormat is the hour:minute stamp prefixed to chat lines.
const clockFormat = "15:04"

// speaker renders a username the way chat lines show it: admins get '@'.
func speaker(name string, admin bool) string {
	if admin {
		return "@" + name
	}
	return name
}

// chatLine is "HH:MM who body".
func chatLine(t time.Time, who, body string) string {
	return fmt.Sprintf("%s %s %s", t.Format(clockFormat), who, body)
}

// privateLine marks the sender with '!' so clients can tell it apart.
func privateLine(t time.Time, from, body string) string {
	return chatLine(t, "!"+from, body)
}

func departureLine(t time.Time, name string) string {
	return chatLine(t, name, "has left the chat!")
}

func userNotExist(name string) string {
	return fmt.Sprintf("User %s doesn't exist", name)
}

func alreadyAdmin(name string) string {
	return fmt.Sprintf("User %s is already an admin", name)
}

func alreadyMuted(name string) string {
	return fmt.Sprintf("User %s is already muted", name)
}

func usernameTaken(name string) string {
	return fmt.Sprintf("Username %s is already taken", name)
}

func promotedBy(admin string) string {
	return "You have been promoted by @" + admin
}

func mutedBy(admin string) string {
	return "You have been muted by @" + admin
}

func promotedNotice(name string) string {
	return name + " has been promoted!"
}

func mutedNotice(name string) string {
	return name + " has been muted!"
}

func kickedNotice(name string) string {
	return name + " has been kicked from the chat!"
}

func adminList(admins []string) string {
	var b strings.Builder
	b.WriteString("Managers List\n----------\n")
	for _, name := range admins {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	b.WriteString("----------\n")
	return b.String()
}
