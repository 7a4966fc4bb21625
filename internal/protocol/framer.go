package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// MaxUsernameLen is the largest username, in bytes, a two-digit length field can describe.
	MaxUsernameLen = 99
	// MaxContentLen is the largest content, in bytes, a three-digit length field can describe.
	MaxContentLen = 999

	usernameLenWidth = 2
	codeWidth        = 1
	contentLenWidth  = 3

	// MaxFrameSize is the size of the largest valid client frame.
	MaxFrameSize = usernameLenWidth + MaxUsernameLen + codeWidth + contentLenWidth + MaxContentLen
	// MaxReplySize is the size of the largest valid server reply.
	MaxReplySize = contentLenWidth + MaxContentLen
)

// Code is the one-digit command code of a client frame.
type Code byte

// Command codes as they appear on the wire.
const (
	CodeChat       Code = '1'
	CodePromote    Code = '2'
	CodeKick       Code = '3'
	CodeMute       Code = '4'
	CodePrivate    Code = '5'
	CodeQuit       Code = '6'
	CodeViewAdmins Code = '7'
)

// Valid reports whether c is one of the seven known command codes.
func (c Code) Valid() bool {
	return c >= CodeChat && c <= CodeViewAdmins
}

func (c Code) String() string {
	switch c {
	case CodeChat:
		return "chat"
	case CodePromote:
		return "promote"
	case CodeKick:
		return "kick"
	case CodeMute:
		return "mute"
	case CodePrivate:
		return "private"
	case CodeQuit:
		return "quit"
	case CodeViewAdmins:
		return "view-admins"
	default:
		return fmt.Sprintf("code(%q)", byte(c))
	}
}

// Frame is one client frame before it is interpreted as a Command.
type Frame struct {
	Username string
	Code     Code
	Content  string
}

// EncodeFrame serializes a client frame.
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Username) > MaxUsernameLen {
		return nil, fmt.Errorf("%w: username is %d bytes, limit is %d", ErrPayloadTooLarge, len(f.Username), MaxUsernameLen)
	}
	if len(f.Content) > MaxContentLen {
		return nil, fmt.Errorf("%w: content is %d bytes, limit is %d", ErrPayloadTooLarge, len(f.Content), MaxContentLen)
	}
	if !f.Code.Valid() {
		return nil, fmt.Errorf("protocol: cannot encode unknown command %s", f.Code)
	}

	buf := make([]byte, 0, usernameLenWidth+len(f.Username)+codeWidth+contentLenWidth+len(f.Content))
	buf = appendLength(buf, len(f.Username), usernameLenWidth)
	buf = append(buf, f.Username...)
	buf = append(buf, byte(f.Code))
	buf = appendLength(buf, len(f.Content), contentLenWidth)
	buf = append(buf, f.Content...)
	return buf, nil
}

// DecodeFrame decodes the first client frame in b and returns it together
// with the number of bytes consumed.
func DecodeFrame(b []byte) (Frame, int, error) {
	off := 0
	nameLen, err := parseLength(b, off, usernameLenWidth, "username length")
	if err != nil {
		return Frame{}, 0, err
	}
	off += usernameLenWidth

	name, err := parseText(b, off, nameLen, "username")
	if err != nil {
		return Frame{}, 0, err
	}
	off += nameLen

	if len(b) < off+codeWidth {
		return Frame{}, 0, decodeErr("command code", "truncated")
	}
	code := Code(b[off])
	if !code.Valid() {
		return Frame{}, 0, decodeErr("command code", fmt.Sprintf("unknown code %q", b[off]))
	}
	off += codeWidth

	contentLen, err := parseLength(b, off, contentLenWidth, "content length")
	if err != nil {
		return Frame{}, 0, err
	}
	off += contentLenWidth

	content, err := parseText(b, off, contentLen, "content")
	if err != nil {
		return Frame{}, 0, err
	}
	off += contentLen

	return Frame{Username: name, Code: code, Content: content}, off, nil
}

// EncodeReply serializes a server reply.
func EncodeReply(content string) ([]byte, error) {
	if len(content) > MaxContentLen {
		return nil, fmt.Errorf("%w: reply is %d bytes, limit is %d", ErrPayloadTooLarge, len(content), MaxContentLen)
	}
	buf := make([]byte, 0, contentLenWidth+len(content))
	buf = appendLength(buf, len(content), contentLenWidth)
	return append(buf, content...), nil
}

// DecodeReply decodes the first server reply in b and returns its content
// together with the number of bytes consumed.
func DecodeReply(b []byte) (string, int, error) {
	n, err := parseLength(b, 0, contentLenWidth, "content length")
	if err != nil {
		return "", 0, err
	}
	content, err := parseText(b, contentLenWidth, n, "content")
	if err != nil {
		return "", 0, err
	}
	return content, contentLenWidth + n, nil
}

// Decoder reads client frames from a byte stream, one frame per call.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufferedReader(r, MaxFrameSize)}
}

// Next reads the next frame. It returns io.EOF when the stream ends cleanly
// between frames and a *DecodeError when it ends inside one.
func (d *Decoder) Next() (Frame, error) {
	buf := make([]byte, 0, 64)

	buf, err := readField(d.r, buf, usernameLenWidth, "username length", true)
	if err != nil {
		return Frame{}, err
	}
	nameLen, err := parseLength(buf, 0, usernameLenWidth, "username length")
	if err != nil {
		return Frame{}, err
	}

	buf, err = readField(d.r, buf, nameLen+codeWidth+contentLenWidth, "frame header", false)
	if err != nil {
		return Frame{}, err
	}
	contentLen, err := parseLength(buf, len(buf)-contentLenWidth, contentLenWidth, "content length")
	if err != nil {
		return Frame{}, err
	}

	buf, err = readField(d.r, buf, contentLen, "content", false)
	if err != nil {
		return Frame{}, err
	}

	frame, _, err := DecodeFrame(buf)
	return frame, err
}

// ReplyReader reads server replies from a byte stream, one reply per call.
type ReplyReader struct {
	r *bufio.Reader
}

// NewReplyReader returns a ReplyReader reading from r.
func NewReplyReader(r io.Reader) *ReplyReader {
	return &ReplyReader{r: bufferedReader(r, MaxReplySize)}
}

// Next reads the next reply content.
func (rr *ReplyReader) Next() (string, error) {
	buf, err := readField(rr.r, make([]byte, 0, 64), contentLenWidth, "content length", true)
	if err != nil {
		return "", err
	}
	n, err := parseLength(buf, 0, contentLenWidth, "content length")
	if err != nil {
		return "", err
	}
	buf, err = readField(rr.r, buf, n, "content", false)
	if err != nil {
		return "", err
	}
	content, _, err := DecodeReply(buf)
	return content, err
}

func bufferedReader(r io.Reader, size int) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReaderSize(r, size)
}

// readField appends exactly n bytes from r to buf. A clean EOF is passed
// through only when first is set and nothing was read.
func readField(r io.Reader, buf []byte, n int, field string, first bool) ([]byte, error) {
	if n == 0 {
		return buf, nil
	}
	start := len(buf)
	buf = append(buf, make([]byte, n)...)
	read, err := io.ReadFull(r, buf[start:])
	if err == nil {
		return buf, nil
	}
	if errors.Is(err, io.EOF) && read == 0 && first {
		return nil, io.EOF
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, &DecodeError{Field: field, Reason: "truncated", Err: io.ErrUnexpectedEOF}
	}
	return nil, err
}

func appendLength(dst []byte, n, width int) []byte {
	return fmt.Appendf(dst, "%0*d", width, n)
}

func parseLength(b []byte, off, width int, field string) (int, error) {
	if len(b) < off+width {
		return 0, decodeErr(field, "truncated")
	}
	n := 0
	for _, c := range b[off : off+width] {
		if c < '0' || c > '9' {
			return 0, decodeErr(field, fmt.Sprintf("%q is not a %d-digit decimal", b[off:off+width], width))
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func parseText(b []byte, off, n int, field string) (string, error) {
	if len(b) < off+n {
		return "", decodeErr(field, fmt.Sprintf("declared %d bytes, %d available", n, len(b)-off))
	}
	text := b[off : off+n]
	if !utf8.Valid(text) {
		return "", decodeErr(field, "invalid UTF-8")
	}
	return string(text), nil
}
