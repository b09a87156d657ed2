package main

import (
	"net"
	"testing"
	"time"

	"bken/server/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records every datagram Room.send would have put on the wire,
// keyed by destination address, so dispatch logic can be tested without a
// real socket.
type fakeConn struct {
	sent map[string][]wire.ServerMessage
}

func newFakeConn() *fakeConn { return &fakeConn{sent: make(map[string][]wire.ServerMessage)} }

func (f *fakeConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	msg, err := wire.DecodeServer(b)
	if err != nil {
		return 0, err
	}
	key := addr.String()
	f.sent[key] = append(f.sent[key], msg)
	return len(b), nil
}

func addrFor(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func newTestRoom() (*Room, *fakeConn) {
	r := NewRoom(time.Second, 5*time.Second)
	fc := newFakeConn()
	r.bind(fc)
	return r, fc
}

func TestConnectAssignsIDAndAnnounces(t *testing.T) {
	r, fc := newTestRoom()
	a1, a2 := addrFor(1), addrFor(2)

	r.handle(a1, wire.ClientMessage{Kind: wire.ClientConnect, Username: "alice"})
	require.Len(t, fc.sent[a1.String()], 1)
	assert.Equal(t, wire.ServerPong, fc.sent[a1.String()][0].Kind)

	r.handle(a2, wire.ClientMessage{Kind: wire.ClientConnect, Username: "bob"})

	// a2 gets Pong, then a Connected for the already-present alice.
	msgs := fc.sent[a2.String()]
	require.Len(t, msgs, 2)
	assert.Equal(t, wire.ServerPong, msgs[0].Kind)
	assert.Equal(t, wire.ServerConnected, msgs[1].Kind)
	assert.Equal(t, "alice", msgs[1].User.Username)

	// a1 is told that bob joined, but never re-told about itself.
	a1Connects := 0
	for _, m := range fc.sent[a1.String()] {
		if m.Kind == wire.ServerConnected {
			a1Connects++
			assert.Equal(t, "bob", m.User.Username)
		}
	}
	assert.Equal(t, 1, a1Connects)
}

func TestDuplicateConnectIsIgnored(t *testing.T) {
	r, fc := newTestRoom()
	a1 := addrFor(1)
	r.handle(a1, wire.ClientMessage{Kind: wire.ClientConnect, Username: "alice"})
	before := len(fc.sent[a1.String()])
	r.handle(a1, wire.ClientMessage{Kind: wire.ClientConnect, Username: "alice-again"})

	r.mu.RLock()
	n := len(r.users)
	u := r.users[a1.String()]
	r.mu.RUnlock()
	assert.Equal(t, 1, n)
	assert.Equal(t, "alice", u.Username) // original identity untouched

	// No new Pong/Connected was sent for the rejected reconnect.
	assert.Equal(t, before, len(fc.sent[a1.String()]))
}

func TestVoiceFanoutExcludesSender(t *testing.T) {
	r, fc := newTestRoom()
	a1, a2, a3 := addrFor(1), addrFor(2), addrFor(3)
	r.handle(a1, wire.ClientMessage{Kind: wire.ClientConnect, Username: "u1"})
	r.handle(a2, wire.ClientMessage{Kind: wire.ClientConnect, Username: "u2"})
	r.handle(a3, wire.ClientMessage{Kind: wire.ClientConnect, Username: "u3"})

	r.handle(a1, wire.ClientMessage{Kind: wire.ClientVoice, Seq: 1, Samples: []byte{0xAA}})

	for _, m := range fc.sent[a1.String()] {
		assert.NotEqual(t, wire.ServerVoice, m.Kind, "sender must not receive its own voice packet back")
	}

	found := false
	for _, m := range fc.sent[a2.String()] {
		if m.Kind == wire.ServerVoice {
			found = true
			assert.Equal(t, []byte{0xAA}, m.Samples)
		}
	}
	assert.True(t, found, "other peers must receive the voice packet")
}

func TestVoiceFromUnknownAddrIsDropped(t *testing.T) {
	r, fc := newTestRoom()
	ghost := addrFor(99)
	r.handle(ghost, wire.ClientMessage{Kind: wire.ClientVoice, Seq: 1, Samples: []byte{1}})
	assert.Empty(t, fc.sent[ghost.String()])
	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Empty(t, r.users)
}

func TestHeartbeatEvictsIdleUsers(t *testing.T) {
	r, fc := newTestRoom()
	a1, a2 := addrFor(1), addrFor(2)
	r.timeout = 0 // force immediate eviction regardless of touch time

	r.handle(a1, wire.ClientMessage{Kind: wire.ClientConnect, Username: "alice"})
	r.handle(a2, wire.ClientMessage{Kind: wire.ClientConnect, Username: "bob"})

	r.evictIdle()

	r.mu.RLock()
	n := len(r.users)
	r.mu.RUnlock()
	assert.Equal(t, 0, n)

	// Whichever user is evicted first gets broadcast to the other (still
	// present) user; the second eviction has nobody left to notify.
	disconnects := 0
	for _, msgs := range fc.sent {
		for _, m := range msgs {
			if m.Kind == wire.ServerDisconnected {
				disconnects++
			}
		}
	}
	assert.Equal(t, 1, disconnects)
}

func TestDisconnectBroadcastsToRemainingUsers(t *testing.T) {
	r, fc := newTestRoom()
	a1, a2 := addrFor(1), addrFor(2)
	r.handle(a1, wire.ClientMessage{Kind: wire.ClientConnect, Username: "alice"})
	r.handle(a2, wire.ClientMessage{Kind: wire.ClientConnect, Username: "bob"})

	r.handle(a1, wire.ClientMessage{Kind: wire.ClientDisconnect})

	found := false
	for _, m := range fc.sent[a2.String()] {
		if m.Kind == wire.ServerDisconnected && m.User.Username == "alice" {
			found = true
		}
	}
	assert.True(t, found)

	r.mu.RLock()
	_, stillThere := r.users[a1.String()]
	r.mu.RUnlock()
	assert.False(t, stillThere)
}
