package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed matches every *DecodeError via errors.Is.
	ErrMalformed = errors.New("protocol: malformed frame")

	// ErrPayloadTooLarge is returned at encode time when a username or content
	// does not fit its fixed-width length field.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")

	// ErrInvalidUsername is returned for empty usernames, usernames longer than
	// MaxUsernameLen bytes, and usernames that collide with the '@'/'!'
	// annotations or contain a space.
	ErrInvalidUsername = errors.New("protocol: invalid username")
)

// DecodeError describes why a frame could not be decoded.
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: decode %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: decode %s: %s", e.Field, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrMalformed so callers can match the whole class.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}

func decodeErr(field, reason string) error {
	return &DecodeError{Field: field, Reason: reason}
}
