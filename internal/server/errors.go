package server

import "errors"

var (
	// ErrDuplicateUsername is returned when a username is already bound to another live session.
	ErrDuplicateUsername = errors.New("server: username already taken")

	// ErrUnknownUser is returned when a moderation or delivery target is not connected.
	ErrUnknownUser = errors.New("server: unknown user")

	// ErrNotFound is returned by Lookup for usernames without a live session.
	ErrNotFound = errors.New("server: not found")

	// ErrAlreadyAdmin is returned when promoting a user who is already an admin.
	ErrAlreadyAdmin = errors.New("server: already admin")

	// ErrAlreadyMuted is returned when muting a user who is already muted.
	ErrAlreadyMuted = errors.New("server: already muted")

	// ErrMuted is returned when a muted user tries to speak.
	ErrMuted = errors.New("server: sender is muted")

	// ErrNotMember is returned when the sending session is no longer in the
	// roster, e.g. after a kick or a failed send.
	ErrNotMember = errors.New("server: session not registered")

	// ErrAlreadyRegistered is returned when a session handle is registered twice
	// under different usernames. Usernames never change once bound.
	ErrAlreadyRegistered = errors.New("server: session already registered")

	// ErrSendFailure is returned when a peer could not accept a frame. The peer
	// has been removed from the roster by the time the error is returned.
	ErrSendFailure = errors.New("server: send failed")

	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("server: closed")
)
