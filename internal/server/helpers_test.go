package server

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// fixedTime formats as "15:04" under clockFormat.
var fixedTime = time.Date(2024, time.March, 9, 15, 4, 5, 0, time.UTC)

func fixedClock() time.Time {
	return fixedTime
}

// testLogger returns a logger that discards its output.
func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// fakePeer records delivered frames. A full peer refuses every frame.
type fakePeer struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func (p *fakePeer) Deliver(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full || p.closed {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// take decodes and clears the frames delivered so far.
func (p *fakePeer) take(t *testing.T) []string {
	t.Helper()
	p.mu.Lock()
	frames := p.frames
	p.frames = nil
	p.mu.Unlock()

	replies := make([]string, 0, len(frames))
	for _, frame := range frames {
		content, n, err := protocol.DecodeReply(frame)
		require.NoError(t, err)
		require.Equal(t, len(frame), n, "frame must hold exactly one reply")
		replies = append(replies, content)
	}
	return replies
}

func mustReply(t *testing.T, text string) []byte {
	t.Helper()
	frame, err := protocol.EncodeReply(text)
	require.NoError(t, err)
	return frame
}
