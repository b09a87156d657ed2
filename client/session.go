package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"client/internal/adapt"
	"client/internal/audioservice"
	"client/internal/codec"
	"client/internal/jitter"
	"client/internal/mixer"
	"client/internal/netstats"
	"client/internal/peerchan"
	"client/internal/wire"

	"github.com/charmbracelet/log"
)

// connectTimeout bounds the initial handshake. spec.md §9 notes an
// unbounded handshake wait as an open design hazard; this is the fix.
const connectTimeout = 3 * time.Second

// pingInterval drives a keepalive independent of VAD-gated voice traffic, so
// a peer that is connected but only listening (no Voice datagrams for
// longer than the server's idle timeout) is not evicted as if it had
// disconnected. Comfortably under the server's default 10s --timeout, with
// margin for a dropped datagram or two.
const pingInterval = 3 * time.Second

// jitterTick matches the fixed Opus frame duration this system always uses,
// so the reorder window releases at most one frame per sender per tick.
var jitterTick = time.Duration(codec.FrameDurationMs) * time.Millisecond

// adaptInterval is how often measured jitter/loss is reconsidered to retune
// the reorder window's depth. Frequent enough to react within a few
// seconds of changing conditions, infrequent enough that a brief blip
// doesn't cause needless churn.
const adaptInterval = 2 * time.Second

// PeerEvent is delivered to the UI layer (or, here, the CLI log) when a
// remote user connects or disconnects.
type PeerEvent struct {
	Connected bool
	User      wire.UserInfo
}

// Session owns the UDP socket to the relay, the outbound encoder pipeline,
// and the inbound peer mixer. One Session serves exactly one server
// connection for the process's lifetime.
type Session struct {
	conn     *net.UDPConn
	username string

	audio    *audioservice.Service
	mixer    *mixer.Mixer
	jitter   *jitter.Buffer
	netstats *netstats.Tracker

	events chan PeerEvent
}

// Connect dials addr over UDP, sends a Connect handshake, and waits up to
// connectTimeout for a Pong. Any other reply, or a timeout, is a
// HandshakeRejected-equivalent error.
func Connect(addr, username string, latency peerchan.Latency) (*Session, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: resolve %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("session: dial: %w", err)
	}

	connectMsg := wire.ClientMessage{Kind: wire.ClientConnect, Username: username}
	payload, err := wire.EncodeClient(connectMsg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: encode connect: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: send connect: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(connectTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: set deadline: %w", err)
	}
	buf := make([]byte, wire.PacketMaxSize)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: handshake timed out or failed: %w", err)
	}
	reply, err := wire.DecodeServer(buf[:n])
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: handshake: malformed reply: %w", err)
	}
	if reply.Kind != wire.ServerPong {
		conn.Close()
		return nil, fmt.Errorf("session: handshake rejected: unexpected reply kind %d", reply.Kind)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: clear deadline: %w", err)
	}

	mx := mixer.New(audioservice.SampleRate, audioservice.Channels, latency)
	s := &Session{
		conn:     conn,
		username: username,
		audio:    audioservice.New(mx),
		mixer:    mx,
		jitter:   jitter.New(adapt.DefaultJitterDepth),
		netstats: netstats.New(),
		events:   make(chan PeerEvent, 16),
	}
	log.Info("connected", "addr", addr, "username", username)
	return s, nil
}

// Events returns the channel of peer connect/disconnect notifications.
func (s *Session) Events() <-chan PeerEvent { return s.events }

// StartAudio opens the requested devices and begins capture/playback.
func (s *Session) StartAudio(inputDeviceID, outputDeviceID int) error {
	return s.audio.Start(inputDeviceID, outputDeviceID)
}

// Run drains inbound datagrams and outbound encoded mic frames until ctx is
// canceled or a fatal socket error occurs. It is meant to run in its own
// goroutine; Disconnect performs best-effort teardown independently.
func (s *Session) Run(ctx context.Context) error {
	recvErrs := make(chan error, 1)
	recvMsgs := make(chan wire.ServerMessage, 64)
	go s.recvLoop(ctx, recvMsgs, recvErrs)

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()
	jitterTicker := time.NewTicker(jitterTick)
	defer jitterTicker.Stop()
	adaptTicker := time.NewTicker(adaptInterval)
	defer adaptTicker.Stop()

	var seq wire.SeqNum
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-recvErrs:
			return err
		case <-pingTicker.C:
			if err := s.Ping(); err != nil {
				log.Warn("keepalive ping failed", "error", err)
			}
		case <-jitterTicker.C:
			s.releaseJitterFrames()
		case <-adaptTicker.C:
			s.adaptJitterDepth()
		case msg := <-recvMsgs:
			s.dispatch(msg)
		case frame := <-s.audio.OutFrames():
			voice := wire.ClientMessage{Kind: wire.ClientVoice, Seq: seq, Samples: frame}
			seq++
			payload, err := wire.EncodeClient(voice)
			if err != nil {
				log.Warn("encode voice failed", "error", err)
				continue
			}
			if _, err := s.conn.Write(payload); err != nil {
				log.Warn("send voice failed", "error", err)
			}
		}
	}
}

func (s *Session) recvLoop(ctx context.Context, out chan<- wire.ServerMessage, errs chan<- error) {
	buf := make([]byte, wire.PacketMaxSize)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			errs <- err
			return
		}
		n, err := s.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			errs <- err
			return
		}
		msg, err := wire.DecodeServer(buf[:n])
		if err != nil {
			log.Warn("dropping malformed datagram from server", "error", err)
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) dispatch(msg wire.ServerMessage) {
	switch msg.Kind {
	case wire.ServerPong:
		// Keepalive reply to our own Ping; nothing to do.
	case wire.ServerConnected:
		if err := s.mixer.AddPeer(msg.User.ID); err != nil {
			log.Warn("could not add peer to mixer", "peer_id", msg.User.ID, "error", err)
		}
		s.audio.PlayNotification(audioservice.SoundUserJoined)
		s.publish(PeerEvent{Connected: true, User: msg.User})
	case wire.ServerDisconnected:
		s.mixer.RemovePeer(msg.User.ID)
		s.audio.PlayNotification(audioservice.SoundUserLeft)
		s.publish(PeerEvent{Connected: false, User: msg.User})
	case wire.ServerVoice:
		s.netstats.Observe(msg.PeerID, uint16(msg.Seq))
		s.jitter.Push(msg.PeerID, uint16(msg.Seq), msg.Samples)
	default:
		log.Warn("unexpected message kind from server", "kind", msg.Kind)
	}
}

// releaseJitterFrames drains one reorder-window tick's worth of frames — at
// most one per active sender — and hands each to the mixer. A present frame
// decodes normally; a missing frame recovers via the next frame's in-band
// FEC data when available, falling back to packet-loss concealment when it
// isn't.
func (s *Session) releaseJitterFrames() {
	for _, f := range s.jitter.Pop() {
		var err error
		switch {
		case f.OpusData != nil:
			err = s.mixer.Push(f.SenderID, f.OpusData)
		case f.FECData != nil:
			err = s.mixer.PushFEC(f.SenderID, f.FECData)
		default:
			err = s.mixer.Push(f.SenderID, nil)
		}
		if err != nil {
			log.Warn("could not push jitter frame into mixer", "peer_id", f.SenderID, "error", err)
		}
	}
}

// adaptJitterDepth retunes the reorder window's depth from measured
// inter-arrival jitter and loss: a deteriorating connection raises the depth
// and a clean one lowers it. The new depth applies to sender streams primed
// after the change; a stream that is already playing keeps its buffering.
func (s *Session) adaptJitterDepth() {
	depth := adapt.TargetJitterDepth(s.netstats.JitterMs(), s.netstats.LossRate())
	if depth == s.jitter.Depth() {
		return
	}
	log.Debug("retuning jitter buffer depth", "depth", depth, "jitter_ms", s.netstats.JitterMs(), "loss_rate", s.netstats.LossRate())
	s.jitter.SetDepth(depth)
}

func (s *Session) publish(ev PeerEvent) {
	select {
	case s.events <- ev:
	default:
		log.Warn("peer event queue full, dropping event")
	}
}

// Ping sends a keepalive. The relay replies with Pong; Ping itself requires
// no response handling beyond what dispatch already does.
func (s *Session) Ping() error {
	payload, err := wire.EncodeClient(wire.ClientMessage{Kind: wire.ClientPing})
	if err != nil {
		return err
	}
	_, err = s.conn.Write(payload)
	return err
}

// Disconnect performs best-effort teardown: send a Disconnect datagram, stop
// audio, and close the socket. Errors sending the final datagram are logged,
// not returned — the peer will be reaped by heartbeat eviction regardless.
func (s *Session) Disconnect() {
	payload, err := wire.EncodeClient(wire.ClientMessage{Kind: wire.ClientDisconnect})
	if err == nil {
		if _, err := s.conn.Write(payload); err != nil {
			log.Warn("best-effort disconnect send failed", "error", err)
		}
	}
	s.audio.Stop()
	s.conn.Close()
}
