package main

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"bken/server/internal/wire"

	"github.com/charmbracelet/log"
)

// User is a single connected peer, keyed by UDP address in the Room's table.
type User struct {
	ID         uint32
	Username   string
	Addr       *net.UDPAddr
	lastReply  atomic.Int64 // unix nanos, updated on every datagram received
}

func (u *User) touch() {
	u.lastReply.Store(time.Now().UnixNano())
}

func (u *User) idleSince() time.Duration {
	return time.Since(time.Unix(0, u.lastReply.Load()))
}

func (u *User) info() wire.UserInfo {
	return wire.UserInfo{ID: u.ID, Username: u.Username}
}

// sender abstracts the UDP socket so the dispatch logic is testable without a
// real network connection.
type sender interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Room is the single-threaded session manager: the UDP event loop is the
// only goroutine that ever mutates the user table. A RWMutex guards it
// because Stats() and the test bot's broadcasts read it from other
// goroutines.
type Room struct {
	mu    sync.RWMutex
	users map[string]*User // addr.String() -> user

	idCounter atomic.Uint32

	heartbeatInterval time.Duration
	timeout           time.Duration

	datagramsOut atomic.Uint64
	bytesOut     atomic.Uint64

	conn sender
}

// NewRoom constructs an empty Room. heartbeatInterval controls how often the
// event loop checks for idle users when no datagram has arrived; timeout is
// the idle duration after which a user is evicted.
func NewRoom(heartbeatInterval, timeout time.Duration) *Room {
	return &Room{
		users:             make(map[string]*User),
		heartbeatInterval: heartbeatInterval,
		timeout:           timeout,
	}
}

func (r *Room) bind(conn sender) { r.conn = conn }

func (r *Room) send(addr *net.UDPAddr, msg wire.ServerMessage) {
	buf, err := wire.EncodeServer(msg)
	if err != nil {
		log.Error("encode outbound message", "err", err)
		return
	}
	if _, err := r.conn.WriteToUDP(buf, addr); err != nil {
		log.Warn("send failed", "addr", addr, "err", err)
		return
	}
	r.datagramsOut.Add(1)
	r.bytesOut.Add(uint64(len(buf)))
}

// broadcast sends msg to every connected user except the one at ignore (nil
// to exclude nobody). A send failure to one peer is logged and does not
// prevent fanout to the rest (spec §4.11: never let one flaky peer break the
// room for everyone else).
func (r *Room) broadcast(msg wire.ServerMessage, ignore *net.UDPAddr) {
	r.mu.RLock()
	targets := make([]*net.UDPAddr, 0, len(r.users))
	for _, u := range r.users {
		if ignore != nil && u.Addr.String() == ignore.String() {
			continue
		}
		targets = append(targets, u.Addr)
	}
	r.mu.RUnlock()

	for _, addr := range targets {
		r.send(addr, msg)
	}
}

// handle dispatches a single decoded ClientMessage from addr. This is the
// exact dispatch table from spec §4.10: per (user-present?, message-kind).
func (r *Room) handle(addr *net.UDPAddr, msg wire.ClientMessage) {
	key := addr.String()

	r.mu.RLock()
	user := r.users[key]
	r.mu.RUnlock()

	if user != nil {
		user.touch()
	}

	switch msg.Kind {
	case wire.ClientConnect:
		if user != nil {
			log.Warn("connect from already-connected address, ignoring", "addr", addr)
			return
		}
		id := r.idCounter.Add(1)
		newUser := &User{ID: id, Username: msg.Username, Addr: addr}
		newUser.touch()

		r.send(addr, wire.ServerMessage{Kind: wire.ServerPong})

		// Tell the new arrival about everyone already present, then add them
		// and tell everyone else about the arrival.
		r.mu.Lock()
		existing := make([]wire.UserInfo, 0, len(r.users))
		for _, u := range r.users {
			existing = append(existing, u.info())
		}
		r.users[key] = newUser
		r.mu.Unlock()

		for _, info := range existing {
			r.send(addr, wire.ServerMessage{Kind: wire.ServerConnected, User: info})
		}
		r.broadcast(wire.ServerMessage{Kind: wire.ServerConnected, User: newUser.info()}, addr)
		log.Info("user connected", "id", id, "username", msg.Username, "addr", addr)

	case wire.ClientDisconnect:
		if user == nil {
			return
		}
		r.removeUser(key)
		r.broadcast(wire.ServerMessage{Kind: wire.ServerDisconnected, User: user.info()}, nil)
		log.Info("user disconnected", "id", user.ID, "username", user.Username)

	case wire.ClientPing:
		if user == nil {
			return
		}
		r.send(addr, wire.ServerMessage{Kind: wire.ServerPong})

	case wire.ClientVoice:
		if user == nil {
			return
		}
		r.broadcast(wire.ServerMessage{
			Kind:    wire.ServerVoice,
			Seq:     msg.Seq,
			PeerID:  user.ID,
			Samples: msg.Samples,
		}, addr)
	}
}

func (r *Room) removeUser(key string) {
	r.mu.Lock()
	delete(r.users, key)
	r.mu.Unlock()
}

// evictIdle drops every user whose last datagram is older than the room's
// timeout, broadcasting Disconnected for each (spec §4.10 heartbeat eviction,
// §8 Scenario 3).
func (r *Room) evictIdle() {
	r.mu.RLock()
	var stale []*User
	for _, u := range r.users {
		if u.idleSince() >= r.timeout {
			stale = append(stale, u)
		}
	}
	r.mu.RUnlock()

	for _, u := range stale {
		r.removeUser(u.Addr.String())
		r.broadcast(wire.ServerMessage{Kind: wire.ServerDisconnected, User: u.info()}, nil)
		log.Info("user timed out", "id", u.ID, "username", u.Username)
	}
}

// Stats reports connected-client count and cumulative fanout volume.
func (r *Room) Stats() (clients int, datagrams, bytesOut uint64) {
	r.mu.RLock()
	clients = len(r.users)
	r.mu.RUnlock()
	return clients, r.datagramsOut.Load(), r.bytesOut.Load()
}
