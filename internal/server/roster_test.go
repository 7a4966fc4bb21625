package server

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

type rosterFixture struct {
	roster *Roster
	ids    map[string]uuid.UUID
	peers  map[string]*fakePeer
}

func newRosterFixture(t *testing.T, admins []string, names ...string) *rosterFixture {
	t.Helper()
	f := &rosterFixture{
		roster: NewRoster(admins, WithClock(fixedClock), WithRosterLogger(testLogger())),
		ids:    make(map[string]uuid.UUID),
		peers:  make(map[string]*fakePeer),
	}
	for _, name := range names {
		f.add(t, name)
	}
	return f
}

func (f *rosterFixture) add(t *testing.T, name string) {
	t.Helper()
	id := uuid.New()
	peer := &fakePeer{}
	require.NoError(t, f.roster.Register(id, name, peer))
	f.ids[name] = id
	f.peers[name] = peer
}

// TestNewRosterKeepsSeedOrder tests that seeded admins keep their order and
// that duplicates and empty names are skipped.
func TestNewRosterKeepsSeedOrder(t *testing.T) {
	r := NewRoster([]string{"nadav", "", "liron", "nadav", "admin"})
	assert.Equal(t, []string{"nadav", "liron", "admin"}, r.Admins())
	assert.True(t, r.IsAdmin("liron"))
	assert.False(t, r.IsAdmin(""))
}

// TestRegisterRejectsDuplicateUsername tests that a username bound to a live
// session cannot be claimed by another session.
func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	f := newRosterFixture(t, nil, "alice")

	err := f.roster.Register(uuid.New(), "alice", &fakePeer{})
	require.ErrorIs(t, err, ErrDuplicateUsername)
	assert.Equal(t, 1, f.roster.Len())

	// Registering the same binding again is harmless.
	require.NoError(t, f.roster.Register(f.ids["alice"], "alice", f.peers["alice"]))

	err = f.roster.Register(f.ids["alice"], "bob", &fakePeer{})
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

// TestRegisterValidatesInput tests that invalid usernames and nil peers are refused.
func TestRegisterValidatesInput(t *testing.T) {
	r := NewRoster(nil, WithRosterLogger(testLogger()))

	for _, name := range []string{"", "@alice", "!bob", "two words"} {
		err := r.Register(uuid.New(), name, &fakePeer{})
		assert.ErrorIs(t, err, protocol.ErrInvalidUsername, "name %q", name)
	}
	assert.Error(t, r.Register(uuid.New(), "alice", nil))
	assert.Zero(t, r.Len())
}

// TestUnregisterIsIdempotent tests that unregistering announces the departure
// once and that a second call does nothing.
func TestUnregisterIsIdempotent(t *testing.T) {
	f := newRosterFixture(t, nil, "alice", "bob")

	require.True(t, f.roster.Unregister(f.ids["alice"]))
	assert.True(t, f.peers["alice"].isClosed())
	assert.Equal(t, []string{"15:04 alice has left the chat!"}, f.peers["bob"].take(t))

	assert.False(t, f.roster.Unregister(f.ids["alice"]))
	assert.Empty(t, f.peers["bob"].take(t))

	_, err := f.roster.Lookup("alice")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"bob"}, f.roster.Usernames())
}

// TestUnregisterClearsMute tests that a mute does not outlive the session.
func TestUnregisterClearsMute(t *testing.T) {
	f := newRosterFixture(t, nil, "alice", "bob")

	require.NoError(t, f.roster.Mute("bob"))
	require.True(t, f.roster.Unregister(f.ids["bob"]))
	assert.False(t, f.roster.IsMuted("bob"))

	f.add(t, "bob")
	assert.False(t, f.roster.IsMuted("bob"))
	assert.Empty(t, f.roster.Muted())
}

// TestPromote tests the promote preconditions and the resulting admin order.
func TestPromote(t *testing.T) {
	f := newRosterFixture(t, []string{"alice"}, "alice", "bob")

	require.ErrorIs(t, f.roster.Promote("dave"), ErrUnknownUser)
	require.NoError(t, f.roster.Promote("bob"))
	require.ErrorIs(t, f.roster.Promote("bob"), ErrAlreadyAdmin)
	require.ErrorIs(t, f.roster.Promote("alice"), ErrAlreadyAdmin)

	assert.Equal(t, []string{"alice", "bob"}, f.roster.Admins())
}

// TestPromoteConcurrentDuplicates tests that racing promotions of one user
// succeed exactly once and never duplicate the admin entry.
func TestPromoteConcurrentDuplicates(t *testing.T) {
	f := newRosterFixture(t, []string{"alice"}, "alice", "bob", "carol")

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			if err := f.roster.Promote(target); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrAlreadyAdmin)
			}
		}([]string{"bob", "carol"}[i%2])
	}
	wg.Wait()

	assert.Equal(t, 2, successes)
	admins := f.roster.Admins()
	require.Len(t, admins, 3)
	assert.Equal(t, "alice", admins[0])
	assert.ElementsMatch(t, []string{"bob", "carol"}, admins[1:])
}

// TestMute tests the mute preconditions.
func TestMute(t *testing.T) {
	f := newRosterFixture(t, nil, "alice", "bob")

	require.ErrorIs(t, f.roster.Mute("dave"), ErrUnknownUser)
	require.NoError(t, f.roster.Mute("bob"))
	require.ErrorIs(t, f.roster.Mute("bob"), ErrAlreadyMuted)

	assert.True(t, f.roster.IsMuted("bob"))
	assert.False(t, f.roster.IsMuted("alice"))
	assert.Equal(t, []string{"bob"}, f.roster.Muted())
}

// TestEvict tests that eviction delivers the notice and the kick
// announcement, removes the user from the sessions and the muted set in one
// step and then announces the departure.
func TestEvict(t *testing.T) {
	f := newRosterFixture(t, []string{"alice"}, "alice", "bob", "carol")
	require.NoError(t, f.roster.Mute("bob"))

	notice := mustReply(t, msgKicked)
	announcement := mustReply(t, kickedNotice("bob"))
	require.NoError(t, f.roster.Evict("bob", notice, announcement))

	assert.Equal(t, []string{msgKicked, "bob has been kicked from the chat!"}, f.peers["bob"].take(t))
	assert.True(t, f.peers["bob"].isClosed())
	for _, name := range []string{"alice", "carol"} {
		assert.Equal(t, []string{"bob has been kicked from the chat!", "15:04 bob has left the chat!"}, f.peers[name].take(t), name)
	}

	_, err := f.roster.Lookup("bob")
	require.ErrorIs(t, err, ErrNotFound)
	assert.False(t, f.roster.IsMuted("bob"))

	// The session's own teardown finds nothing left to remove.
	assert.False(t, f.roster.Unregister(f.ids["bob"]))
	assert.Empty(t, f.peers["alice"].take(t))

	require.ErrorIs(t, f.roster.Evict("bob", notice, announcement), ErrUnknownUser)
}

// TestBroadcastSendFailureEvictsOnlyTarget tests that a peer that cannot take
// a frame is removed and announced while everyone else keeps receiving.
func TestBroadcastSendFailureEvictsOnlyTarget(t *testing.T) {
	f := newRosterFixture(t, nil, "alice", "bob", "carol")
	f.peers["bob"].full = true

	f.roster.Broadcast(mustReply(t, "15:04 alice hi"), f.ids["alice"])

	assert.Equal(t, []string{"15:04 alice hi", "15:04 bob has left the chat!"}, f.peers["carol"].take(t))
	assert.Equal(t, []string{"15:04 bob has left the chat!"}, f.peers["alice"].take(t))
	assert.True(t, f.peers["bob"].isClosed())
	assert.Equal(t, []string{"alice", "carol"}, f.roster.Usernames())
}

// TestSendReportsFailure tests direct sends by name and by handle.
func TestSendReportsFailure(t *testing.T) {
	f := newRosterFixture(t, nil, "alice", "bob")

	require.NoError(t, f.roster.Send("bob", mustReply(t, "hello")))
	assert.Equal(t, []string{"hello"}, f.peers["bob"].take(t))

	require.ErrorIs(t, f.roster.Send("dave", mustReply(t, "hello")), ErrUnknownUser)
	require.ErrorIs(t, f.roster.SendTo(uuid.New(), mustReply(t, "hello")), ErrUnknownUser)

	f.peers["bob"].full = true
	require.ErrorIs(t, f.roster.Send("bob", mustReply(t, "hello")), ErrSendFailure)
	_, err := f.roster.Lookup("bob")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"15:04 bob has left the chat!"}, f.peers["alice"].take(t))
}

// TestUsernameByHandle tests the reverse lookup from handle to username.
func TestUsernameByHandle(t *testing.T) {
	f := newRosterFixture(t, nil, "alice")

	name, ok := f.roster.Username(f.ids["alice"])
	require.True(t, ok)
	assert.Equal(t, "alice", name)

	_, ok = f.roster.Username(uuid.New())
	assert.False(t, ok)
}

// TestCloseNotifiesEveryone tests that Close reaches every session without
// departure announcements.
func TestCloseNotifiesEveryone(t *testing.T) {
	f := newRosterFixture(t, nil, "alice", "bob")

	n := f.roster.Close(mustReply(t, msgShuttingDown))
	assert.Equal(t, 2, n)
	for _, name := range []string{"alice", "bob"} {
		assert.Equal(t, []string{msgShuttingDown}, f.peers[name].take(t), name)
		assert.True(t, f.peers[name].isClosed(), name)
	}
	assert.Zero(t, f.roster.Len())
}

// TestBroadcastFromChecksSender tests that the member and mute checks and
// the fan-out are one step.
func TestBroadcastFromChecksSender(t *testing.T) {
	f := newRosterFixture(t, nil, "alice", "bob", "carol")

	require.NoError(t, f.roster.BroadcastFrom(f.ids["bob"], mustReply(t, "15:04 bob hi")))
	assert.Empty(t, f.peers["bob"].take(t))
	assert.Equal(t, []string{"15:04 bob hi"}, f.peers["alice"].take(t))
	assert.Equal(t, []string{"15:04 bob hi"}, f.peers["carol"].take(t))

	require.NoError(t, f.roster.Mute("bob"))
	require.ErrorIs(t, f.roster.BroadcastFrom(f.ids["bob"], mustReply(t, "15:04 bob hi")), ErrMuted)
	require.ErrorIs(t, f.roster.CanSpeak(f.ids["bob"]), ErrMuted)
	assert.Empty(t, f.peers["alice"].take(t))

	require.True(t, f.roster.Unregister(f.ids["carol"]))
	f.peers["alice"].take(t)
	require.ErrorIs(t, f.roster.BroadcastFrom(f.ids["carol"], mustReply(t, "15:04 carol hi")), ErrNotMember)
	require.ErrorIs(t, f.roster.CanSpeak(f.ids["carol"]), ErrNotMember)
	assert.Empty(t, f.peers["alice"].take(t))
	assert.NoError(t, f.roster.CanSpeak(f.ids["alice"]))
}

// TestSendFromChecksSender tests direct sends on behalf of a session.
func TestSendFromChecksSender(t *testing.T) {
	f := newRosterFixture(t, nil, "alice", "bob")

	require.NoError(t, f.roster.SendFrom(f.ids["alice"], "bob", mustReply(t, "psst")))
	assert.Equal(t, []string{"psst"}, f.peers["bob"].take(t))

	require.ErrorIs(t, f.roster.SendFrom(f.ids["alice"], "dave", mustReply(t, "psst")), ErrUnknownUser)

	require.NoError(t, f.roster.Mute("alice"))
	require.ErrorIs(t, f.roster.SendFrom(f.ids["alice"], "bob", mustReply(t, "psst")), ErrMuted)
	require.ErrorIs(t, f.roster.SendFrom(uuid.New(), "bob", mustReply(t, "psst")), ErrNotMember)
	assert.Empty(t, f.peers["bob"].take(t))
}
