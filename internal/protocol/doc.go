// Package protocol implements the fixed-width, length-prefixed text framing
// spoken between chat clients and the server.
//
// A client frame carries the sender, a one-digit command code and a content
// payload:
//
//	NN username C NNN content
//
// where NN is the username length in bytes (two zero-padded ASCII digits),
// C is the command code ('1'..'7') and NNN is the content length in bytes
// (three zero-padded ASCII digits). Server replies are simpler:
//
//	NNN content
//
// Every frame is self-delimiting, so a reader never needs more than the
// header to know how many bytes follow.
package protocol
